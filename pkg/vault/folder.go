package vault

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/pkg/models"
)

// CreateFolder creates name inside parent.
func (a *Adapter) CreateFolder(ctx context.Context, h Handler, parent, name string) error {
	parent = NormalizePath(parent)
	if parent == "" {
		parent = HomeFolder
	}
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("create folder: %w: folder name", ErrMissingArgument)
	}
	fc, ok := h.(FolderCreator)
	if !ok {
		return ErrFolderUnsupported
	}

	err := a.signer.Do(ctx, func(ctx context.Context) error {
		return fc.CreateFolders(ctx, parent, []string{name})
	})
	metrics.RecordOperation("mkdir", err == nil)
	if err != nil {
		return classify(fmt.Errorf("create folder %q: %w", name, err))
	}
	a.publish(ChangeEvent{Type: EventCreate, Path: parent + "/" + name, IsDir: true})
	return nil
}

// StorageStatus returns the storage plan of the handler's identity, or nil
// when it cannot be read.
func (a *Adapter) StorageStatus(ctx context.Context, h Handler) *models.PlanStatus {
	ps, ok := h.(PlanStatuser)
	if !ok {
		return nil
	}
	status, err := ps.PlanStatus(ctx)
	if err != nil {
		a.logger(ctx).Debug("plan status unavailable", zap.Error(err))
		return nil
	}
	return status
}

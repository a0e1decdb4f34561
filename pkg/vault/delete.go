package vault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/pkg/models"
)

const (
	aesKeySize = 32
	aesIVSize  = 16
)

func hasGhostPath(h Handler) bool {
	return has[FiletreeResolver](h) && has[FiletreeMsgBuilder](h) && has[MsgBroadcaster](h)
}

// signed runs fn under the signer lock. A declined signature stops the
// cascade it belongs to.
func (a *Adapter) signed(ctx context.Context, fn func(context.Context) error) error {
	err := a.signer.Do(ctx, fn)
	if IsUserRejected(err) {
		return fatal(err)
	}
	return err
}

func (a *Adapter) deleteTable(fullPath, name string, isDir bool, raw *models.Raw) []strategy[struct{}] {
	return []strategy[struct{}]{
		step("deleteTargets", has[TargetDeleter], func(ctx context.Context, h Handler) error {
			err := a.signer.Do(ctx, func(ctx context.Context) error {
				return h.(TargetDeleter).DeleteTargets(ctx, []string{name})
			})
			if err != nil && !isNotFoundSignal(err) {
				return fatal(err)
			}
			return err
		}),
		step("deleteContent", has[ContentDeleter], func(ctx context.Context, h Handler) error {
			if isDir {
				return errSkip
			}
			addr, ok := raw.ContentAddress()
			if !ok {
				return errSkip
			}
			if addr.Creator == "" {
				if p, ok := h.(AddressProvider); ok {
					addr.Creator, _ = p.Address(ctx)
				}
			}
			if addr.Creator == "" {
				return errSkip
			}
			pkg := models.FileDeletePackage{Creator: addr.Creator, Merkle: addr.Merkle, Start: addr.Start}
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(ContentDeleter).DeleteFile(ctx, pkg)
			})
		}),
		step("queueDelete", func(h Handler) bool {
			return has[QueuedDeleter](h) && has[QueueProcessor](h)
		}, func(ctx context.Context, h Handler) error {
			id, ok := raw.UniqueID()
			if !ok {
				return errSkip
			}
			return a.signed(ctx, func(ctx context.Context) error {
				if err := h.(QueuedDeleter).QueueDelete(ctx, id); err != nil {
					return err
				}
				return a.processWithResync(ctx, h, h.(QueueProcessor).ProcessQueue)
			})
		}),
		step("ghostReconcile", hasGhostPath, func(ctx context.Context, h Handler) error {
			return a.reconcileGhost(ctx, h, fullPath)
		}),
	}
}

// DeleteItem removes the file or folder at fullPath. raw, when known from a
// listing, enables content and identifier addressed deletes. Entries whose
// content is gone but whose filetree record remains are removed through
// the filetree directly.
func (a *Adapter) DeleteItem(ctx context.Context, h Handler, fullPath string, isDir bool, raw *models.Raw) error {
	fullPath = NormalizePath(fullPath)
	parent, name := SplitPath(fullPath)
	if name == "" {
		return fmt.Errorf("delete: %w: path", ErrMissingArgument)
	}
	if parent == "" {
		parent = HomeFolder
	}
	log := a.logger(ctx).With(zap.String("path", fullPath))

	if l, ok := h.(DirectoryLoader); ok {
		if err := l.LoadDirectory(ctx, parent); err != nil {
			log.Debug("could not switch into parent folder", zap.Error(err))
		}
	}

	res := runCascade(ctx, a, "delete", h, a.deleteTable(fullPath, name, isDir, raw))
	if res.ok() {
		metrics.RecordOperation("delete", true)
		a.publish(ChangeEvent{Type: EventDelete, Path: fullPath, IsDir: isDir})
		log.Debug("item deleted", zap.String("strategy", res.strategy))
		return nil
	}

	metrics.RecordOperation("delete", false)
	if res.fatal {
		return classify(fmt.Errorf("delete %q: %w", name, res.err))
	}
	log.Warn("every delete strategy failed", zap.Int("tried", res.tried), zap.Error(res.err))
	return &DeleteError{Name: name, Err: res.err}
}

// reconcileGhost removes a filetree entry without touching providers.
func (a *Adapter) reconcileGhost(ctx context.Context, h Handler, fullPath string) (err error) {
	defer func() {
		if !errors.Is(err, errSkip) {
			metrics.RecordGhostReconciliation(err == nil)
		}
	}()

	loc, err := h.(FiletreeResolver).ResolveFiletreeLocation(ctx, fullPath)
	if err != nil {
		return fmt.Errorf("resolve filetree location: %w", err)
	}
	if loc.ULID == "" || loc.ParentULID == "" {
		return fmt.Errorf("filetree location of %q is incomplete", fullPath)
	}

	bundle, err := newAESBundle()
	if err != nil {
		return err
	}
	pkg := models.FiletreeDeletePackage{
		Meta: models.NullMeta{Location: loc.ParentULID, RefIndex: loc.RefIndex, ULID: loc.ULID},
		AES:  bundle,
	}
	msgs, err := h.(FiletreeMsgBuilder).FiletreeDeleteMsgs(ctx, pkg)
	if err != nil {
		return fmt.Errorf("build filetree delete: %w", err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no filetree messages for %q", fullPath)
	}

	a.logger(ctx).Info("removing filetree entry with missing content", zap.String("path", fullPath), zap.String("ulid", loc.ULID))
	return a.signed(ctx, func(ctx context.Context) error {
		return h.(MsgBroadcaster).BroadcastAndMonitor(ctx, msgs)
	})
}

func newAESBundle() (models.AESBundle, error) {
	b := models.AESBundle{Key: make([]byte, aesKeySize), IV: make([]byte, aesIVSize)}
	if _, err := rand.Read(b.Key); err != nil {
		return models.AESBundle{}, fmt.Errorf("generate key: %w", err)
	}
	if _, err := rand.Read(b.IV); err != nil {
		return models.AESBundle{}, fmt.Errorf("generate iv: %w", err)
	}
	return b, nil
}

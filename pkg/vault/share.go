package vault

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/pkg/models"
)

// ShareResult names the strategy that changed access.
type ShareResult struct {
	Method string
}

// shareMeta returns the file metadata carried by raw, or asks the handler
// for it when raw has none.
func (a *Adapter) shareMeta(ctx context.Context, h Handler, path string, raw *models.Raw) *models.FileMeta {
	if raw != nil && raw.File != nil {
		return raw.File
	}
	g, ok := h.(FileMetaGetter)
	if !ok {
		return nil
	}
	m, err := g.FileMetaData(ctx, path)
	if err != nil {
		a.logger(ctx).Debug("file metadata unavailable", zap.String("path", path), zap.Error(err))
		return nil
	}
	return m
}

// shareULID resolves the file's identifier from raw or its metadata.
func (a *Adapter) shareULID(ctx context.Context, h Handler, path string, raw *models.Raw) (string, bool) {
	if id, ok := raw.UniqueID(); ok {
		return id, true
	}
	if m := a.shareMeta(ctx, h, path, raw); m != nil && m.ULID != "" {
		return m.ULID, true
	}
	return "", false
}

func (a *Adapter) grantTable(path, address string, raw *models.Raw) []strategy[struct{}] {
	return []strategy[struct{}]{
		step("grantViewerAccess", has[ViewerGranter], func(ctx context.Context, h Handler) error {
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(ViewerGranter).GrantViewerAccess(ctx, path, address)
			})
		}),
		step("shareFile", has[FileSharer], func(ctx context.Context, h Handler) error {
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(FileSharer).ShareFile(ctx, path, address)
			})
		}),
		step("addViewers", has[ViewerAdder], func(ctx context.Context, h Handler) error {
			id, ok := a.shareULID(ctx, h, path, raw)
			if !ok {
				return errSkip
			}
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(ViewerAdder).AddViewers(ctx, id, []string{address})
			})
		}),
	}
}

func (a *Adapter) revokeTable(path, address string, raw *models.Raw) []strategy[struct{}] {
	return []strategy[struct{}]{
		step("revokeViewerAccess", has[ViewerRevoker], func(ctx context.Context, h Handler) error {
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(ViewerRevoker).RevokeViewerAccess(ctx, path, address)
			})
		}),
		step("removeViewers", has[ViewerRemover], func(ctx context.Context, h Handler) error {
			id, ok := a.shareULID(ctx, h, path, raw)
			if !ok {
				return errSkip
			}
			return a.signed(ctx, func(ctx context.Context) error {
				return h.(ViewerRemover).RemoveViewers(ctx, id, []string{address})
			})
		}),
	}
}

// ShareFile grants address read access to the file at path.
func (a *Adapter) ShareFile(ctx context.Context, h Handler, path, address string, raw *models.Raw) (ShareResult, error) {
	return a.changeAccess(ctx, h, "share", EventShare, path, address, raw, a.grantTable, ErrShareUnsupported)
}

// UnshareFile revokes address's read access to the file at path.
func (a *Adapter) UnshareFile(ctx context.Context, h Handler, path, address string, raw *models.Raw) (ShareResult, error) {
	return a.changeAccess(ctx, h, "unshare", EventUnshare, path, address, raw, a.revokeTable, ErrUnshareUnsupported)
}

func (a *Adapter) changeAccess(
	ctx context.Context,
	h Handler,
	op, event, path, address string,
	raw *models.Raw,
	table func(path, address string, raw *models.Raw) []strategy[struct{}],
	unsupported error,
) (ShareResult, error) {
	path = NormalizePath(path)
	if path == "" || address == "" {
		return ShareResult{}, fmt.Errorf("%s: %w: path and address", op, ErrMissingArgument)
	}
	log := a.logger(ctx).With(zap.String("path", path), zap.String("viewer", address))

	res := runCascade(ctx, a, op, h, table(path, address, raw))
	if res.ok() {
		metrics.RecordOperation(op, true)
		a.publish(ChangeEvent{Type: event, Path: path, Target: address})
		log.Debug("viewer access changed", zap.String("strategy", res.strategy))
		return ShareResult{Method: res.strategy}, nil
	}

	metrics.RecordOperation(op, false)
	if res.err == nil {
		return ShareResult{}, unsupported
	}
	log.Warn("viewer access change failed", zap.Error(res.err))
	return ShareResult{}, classify(fmt.Errorf("%s %q: %w", op, path, res.err))
}

// GetFileViewers lists the addresses that can read the file. Any failure
// yields an empty list.
func (a *Adapter) GetFileViewers(ctx context.Context, h Handler, path string, raw *models.Raw) []string {
	path = NormalizePath(path)
	table := []strategy[[]string]{
		{
			name:   "listViewers",
			usable: has[ViewerLister],
			run: func(ctx context.Context, h Handler) ([]string, error) {
				id, ok := a.shareULID(ctx, h, path, raw)
				if !ok {
					return nil, errSkip
				}
				return h.(ViewerLister).ListViewers(ctx, id)
			},
		},
		{
			name:   "viewers",
			usable: has[PathViewerLister],
			run: func(ctx context.Context, h Handler) ([]string, error) {
				return h.(PathViewerLister).Viewers(ctx, path)
			},
		},
		{
			name:   "fileMeta",
			usable: func(h Handler) bool { return (raw != nil && raw.File != nil) || has[FileMetaGetter](h) },
			run: func(ctx context.Context, h Handler) ([]string, error) {
				m := a.shareMeta(ctx, h, path, raw)
				if m == nil {
					return nil, errSkip
				}
				return m.Viewers, nil
			},
		},
	}

	res := runCascade(ctx, a, "viewers", h, table)
	if !res.ok() || res.value == nil {
		return []string{}
	}
	return dedupe(res.value)
}

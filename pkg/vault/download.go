package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/pkg/models"
)

var errNoDownloadCapability = errors.New("storage handler cannot download files")

// DownloadFile fetches the bytes of the file at path. raw, when known from
// a listing, selects identifier-addressed and shared-item strategies. A nil
// tracker is replaced by a fresh one.
func (a *Adapter) DownloadFile(ctx context.Context, h Handler, path string, tracker *models.Tracker, raw *models.Raw) ([]byte, error) {
	path = NormalizePath(path)
	if tracker == nil {
		tracker = models.NewTracker()
	}
	log := a.logger(ctx).With(zap.String("path", path))

	poolReady := a.EnsureProviderPool(ctx, h)
	if !poolReady {
		log.Debug("provider pool unavailable, trying download anyway")
	}

	if raw.SharedToMe() {
		data, err := a.downloadShared(ctx, h, path, tracker, raw)
		if err != nil {
			metrics.RecordOperation("download", false)
			if !poolReady {
				return nil, fmt.Errorf("%w: %w", ErrNoProviders, err)
			}
			return nil, classify(err)
		}
		return a.downloaded(tracker, data), nil
	}

	table := []strategy[[]byte]{
		{
			name:   "ulid",
			usable: has[ULIDDownloader],
			run: func(ctx context.Context, h Handler) ([]byte, error) {
				id, ok := raw.UniqueID()
				if !ok {
					return nil, errSkip
				}
				req := models.ULIDDownload{ULID: id, Tracker: tracker}
				if p, ok := h.(AddressProvider); ok {
					req.UserAddress, _ = p.Address(ctx)
				}
				return h.(ULIDDownloader).DownloadByULID(ctx, req)
			},
		},
		{
			name:   "path",
			usable: has[PathDownloader],
			run: func(ctx context.Context, h Handler) ([]byte, error) {
				return h.(PathDownloader).DownloadFile(ctx, path, tracker)
			},
		},
	}

	res := runCascade(ctx, a, "download", h, table)
	if !res.ok() {
		metrics.RecordOperation("download", false)
		err := res.err
		if err == nil {
			err = errNoDownloadCapability
		}
		if !poolReady {
			return nil, fmt.Errorf("%w: %w", ErrNoProviders, err)
		}
		log.Warn("download failed", zap.Error(err))
		return nil, classify(fmt.Errorf("download %q: %w", path, err))
	}
	return a.downloaded(tracker, res.value), nil
}

func (a *Adapter) downloaded(tracker *models.Tracker, data []byte) []byte {
	tracker.SetRatio(1)
	metrics.RecordOperation("download", true)
	metrics.RecordDownload(int64(len(data)))
	return data
}

// downloadShared fetches an item from its owner's tree.
func (a *Adapter) downloadShared(ctx context.Context, h Handler, path string, tracker *models.Tracker, raw *models.Raw) ([]byte, error) {
	share := raw.Share
	owner := share.Owner
	_, name := SplitPath(path)
	if share.Name != "" {
		name = share.Name
	}
	fileULID := share.FileULID
	if fileULID == "" {
		fileULID, _ = raw.UniqueID()
	}

	byULID := func(id string) func(context.Context, Handler) ([]byte, error) {
		return func(ctx context.Context, h Handler) ([]byte, error) {
			if id == "" {
				return nil, errSkip
			}
			return h.(ULIDDownloader).DownloadByULID(ctx, models.ULIDDownload{ULID: id, UserAddress: owner, Tracker: tracker})
		}
	}

	table := []strategy[[]byte]{
		{name: "sharedFileULID", usable: has[ULIDDownloader], run: byULID(fileULID)},
		{name: "sharedRecordULID", usable: has[ULIDDownloader], run: byULID(share.RecordULID)},
		{
			name:   "externalPath",
			usable: has[ExternalDownloader],
			run: func(ctx context.Context, h Handler) ([]byte, error) {
				var last error
				for _, p := range sharedPathSpellings(share.Root, name) {
					data, err := h.(ExternalDownloader).DownloadExternalFile(ctx, owner, p, tracker)
					if err == nil {
						return data, nil
					}
					last = err
				}
				return nil, last
			},
		},
		{
			name: "primeThenULID",
			usable: func(h Handler) bool {
				return has[SharedMetaPrimer](h) && has[ULIDDownloader](h)
			},
			run: func(ctx context.Context, h Handler) ([]byte, error) {
				id := fileULID
				if id == "" {
					id = share.RecordULID
				}
				if id == "" {
					return nil, errSkip
				}
				if err := h.(SharedMetaPrimer).PrimeSharedMeta(ctx, owner, id); err != nil {
					return nil, err
				}
				return byULID(id)(ctx, h)
			},
		},
	}

	res := runCascade(ctx, a, "downloadShared", h, table)
	if res.ok() {
		return res.value, nil
	}
	err := res.err
	if err == nil {
		err = errNoDownloadCapability
	}
	return nil, &SharedDownloadError{Name: name, Owner: owner, Err: err}
}

// sharedPathSpellings lists the ways an owner's tree may address a shared
// file, most specific first.
func sharedPathSpellings(root, name string) []string {
	root = strings.Trim(NormalizePath(root), "/")
	if root == HomeFolder {
		root = ""
	}
	root = strings.TrimPrefix(root, HomeFolder+"/")

	var out []string
	home := HomeFolder + "/" + name
	if root != "" {
		out = append(out, root+"/"+name)
		home = HomeFolder + "/" + root + "/" + name
	}
	out = append(out, home, RootMarker+"/"+home, name)
	return dedupe(out)
}

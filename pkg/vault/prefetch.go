package vault

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/velthium/vestalia-network/internal/metrics"
	"github.com/velthium/vestalia-network/pkg/cache"
	"github.com/velthium/vestalia-network/pkg/models"
)

// DefaultPrefetchConcurrency bounds preview downloads.
const DefaultPrefetchConcurrency = 3

// Prefetcher fetches file previews with bounded concurrency. Requests wait
// for a slot in arrival order. Results are kept in an optional on-disk
// cache keyed by vault path.
type Prefetcher struct {
	adapter *Adapter
	handler Handler
	slots   *semaphore.Weighted
	cache   *cache.Cache
}

// FetchResult is one completed preview fetch.
type FetchResult struct {
	Path string
	Data []byte
	Err  error
}

// NewPrefetcher returns a prefetcher running at most limit downloads at
// once. c may be nil.
func NewPrefetcher(a *Adapter, h Handler, limit int, c *cache.Cache) *Prefetcher {
	if limit <= 0 {
		limit = DefaultPrefetchConcurrency
	}
	return &Prefetcher{
		adapter: a,
		handler: h,
		slots:   semaphore.NewWeighted(int64(limit)),
		cache:   c,
	}
}

// Fetch returns the bytes of the file at path, from cache when possible.
// ctx bounds the wait for a download slot.
func (p *Prefetcher) Fetch(ctx context.Context, path string, raw *models.Raw) ([]byte, error) {
	path = NormalizePath(path)
	if data, ok := p.cached(path); ok {
		return data, nil
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return p.download(ctx, path, raw)
}

func (p *Prefetcher) cached(path string) ([]byte, bool) {
	if p.cache == nil {
		return nil, false
	}
	data, ok := p.cache.Get(path)
	metrics.RecordPrefetchCache(ok)
	return data, ok
}

// download fetches path into the cache. The caller holds a slot, which is
// released on return.
func (p *Prefetcher) download(ctx context.Context, path string, raw *models.Raw) ([]byte, error) {
	metrics.AddPrefetchInFlight(1)
	defer func() {
		metrics.AddPrefetchInFlight(-1)
		p.slots.Release(1)
	}()

	data, err := p.adapter.DownloadFile(ctx, p.handler, path, nil, raw)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		if err := p.cache.Put(path, data); err != nil {
			p.adapter.logger(ctx).Debug("preview not cached", zap.String("path", path), zap.Error(err))
		}
	}
	return data, nil
}

// FetchAll fetches every file entry of dir. Folders are skipped. Slots are
// taken in entry order before each download starts. The channel is closed
// once all fetches finished.
func (p *Prefetcher) FetchAll(ctx context.Context, dir string, entries []models.Entry) <-chan FetchResult {
	dir = NormalizePath(dir)
	results := make(chan FetchResult, len(entries))

	go func() {
		defer close(results)
		var wg sync.WaitGroup
		for _, e := range entries {
			if e.IsDir {
				continue
			}
			full := e.Name
			if dir != "" {
				full = dir + "/" + e.Name
			}
			if data, ok := p.cached(full); ok {
				results <- FetchResult{Path: full, Data: data}
				continue
			}
			if err := p.slots.Acquire(ctx, 1); err != nil {
				results <- FetchResult{Path: full, Err: err}
				continue
			}
			wg.Add(1)
			go func(full string, raw *models.Raw) {
				defer wg.Done()
				data, err := p.download(ctx, full, raw)
				results <- FetchResult{Path: full, Data: data, Err: err}
			}(full, e.Raw)
		}
		wg.Wait()
	}()

	return results
}

// Invalidate drops cached previews affected by ev. It returns once the
// subscription channel closes.
func (p *Prefetcher) Invalidate(events <-chan ChangeEvent) {
	for ev := range events {
		if p.cache == nil {
			continue
		}
		switch ev.Type {
		case EventDelete, EventRename, EventCreate:
			p.cache.EvictPrefix(ev.Path)
		}
	}
}

// Package memory keeps provider content in process memory. Used by tests
// and throwaway devnets.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/velthium/vestalia-network/internal/storage"
)

// Backend implements storage.Backend over a map.
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{objects: make(map[string][]byte)}
}

func (b *Backend) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	b.mu.RLock()
	data, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("get %s: %w", key, storage.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("memory storage: read body: %w", err)
	}
	b.mu.Lock()
	b.objects[key] = data
	b.mu.Unlock()
	return nil
}

func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

func (b *Backend) ObjectExists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	_, ok := b.objects[key]
	b.mu.RUnlock()
	return ok, nil
}

func (b *Backend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) Type() string { return "memory" }

func (b *Backend) Close() error { return nil }

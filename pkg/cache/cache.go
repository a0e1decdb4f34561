// Package cache keeps previously fetched vault content on local disk so
// previews are not downloaded twice.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/velthium/vestalia-network/pkg/models"
)

// Cache is a size-bounded least-recently-used file cache. Keys are vault
// paths; files on disk are named by the key digest.
type Cache struct {
	dir     string
	maxSize int64

	mu      sync.RWMutex
	entries map[string]*models.CacheEntry
	size    int64
}

// New creates a cache rooted at dir.
func New(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		dir:     dir,
		maxSize: maxSize,
		entries: make(map[string]*models.CacheEntry),
	}, nil
}

func (c *Cache) fileFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

// Get returns the cached bytes for key.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		entry.LastAccess = time.Now()
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	data, err := os.ReadFile(entry.LocalPath)
	if err != nil {
		c.Evict(key)
		return nil, false
	}
	return data, true
}

// Put stores data under key, evicting the oldest unpinned entries to make
// room. Content is written to a temp file and renamed into place.
func (c *Cache) Put(key string, data []byte) error {
	size := int64(len(data))
	if size > c.maxSize {
		return fmt.Errorf("entry %q (%d bytes) exceeds cache size %d", key, size, c.maxSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.size -= old.Size
		delete(c.entries, key)
	}
	for c.size+size > c.maxSize {
		if !c.evictOldest() {
			break
		}
	}

	localPath := c.fileFor(key)
	tempPath := localPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("write content: %w", err)
	}
	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	c.entries[key] = &models.CacheEntry{
		Key:        key,
		LocalPath:  localPath,
		Size:       size,
		LastAccess: time.Now(),
	}
	c.size += size
	return nil
}

// Evict removes key from the cache. Pinned entries are refused.
func (c *Cache) Evict(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if entry.Pinned {
		return fmt.Errorf("cannot evict pinned entry: %s", key)
	}
	c.remove(key, entry)
	return nil
}

// EvictPrefix drops every entry at or below prefix, pinned or not. It is
// used when a path is deleted or renamed.
func (c *Cache) EvictPrefix(prefix string) int {
	prefix = strings.TrimSuffix(prefix, "/")
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, entry := range c.entries {
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			c.remove(key, entry)
			n++
		}
	}
	return n
}

// Pin keeps key from being evicted by size pressure.
func (c *Cache) Pin(key string) error {
	return c.setPinned(key, true)
}

// Unpin allows key to be evicted again.
func (c *Cache) Unpin(key string) error {
	return c.setPinned(key, false)
}

func (c *Cache) setPinned(key string, pinned bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return fmt.Errorf("not cached: %s", key)
	}
	entry.Pinned = pinned
	return nil
}

// evictOldest removes the least recently used unpinned entry.
// Must be called with lock held.
func (c *Cache) evictOldest() bool {
	var oldest *models.CacheEntry
	var oldestKey string

	for key, entry := range c.entries {
		if entry.Pinned {
			continue
		}
		if oldest == nil || entry.LastAccess.Before(oldest.LastAccess) {
			oldest = entry
			oldestKey = key
		}
	}
	if oldest == nil {
		return false
	}
	c.remove(oldestKey, oldest)
	return true
}

func (c *Cache) remove(key string, entry *models.CacheEntry) {
	os.Remove(entry.LocalPath)
	c.size -= entry.Size
	delete(c.entries, key)
}

// Stats returns the current size, the limit and the entry count.
func (c *Cache) Stats() (size, maxSize int64, count int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size, c.maxSize, len(c.entries)
}

// Contains reports whether key is cached.
func (c *Cache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Clear removes all unpinned entries and returns how many were dropped.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, entry := range c.entries {
		if entry.Pinned {
			continue
		}
		c.remove(key, entry)
		count++
	}
	return count
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

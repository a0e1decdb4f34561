// Package local stores provider content on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/logging"
	"github.com/velthium/vestalia-network/internal/storage"
)

// Config configures a local backend.
type Config struct {
	RootPath   string
	CreateDirs bool
}

// Backend implements storage.Backend on a directory tree.
type Backend struct {
	rootPath string
}

// New creates a local backend rooted at cfg.RootPath.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("local storage: root_path is required")
	}

	absPath, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("local storage: resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if err := os.MkdirAll(absPath, 0755); err != nil {
				return nil, fmt.Errorf("local storage: create root dir: %w", err)
			}
		} else {
			return nil, fmt.Errorf("local storage: stat root: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local storage: %s is not a directory", absPath)
	}

	logging.Debug("local provider backend ready", zap.String("root", absPath))
	return &Backend{rootPath: absPath}, nil
}

// resolvePath converts a key to an absolute path and rejects traversal.
func (b *Backend) resolvePath(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	full := filepath.Join(b.rootPath, cleaned)
	if !strings.HasPrefix(full, b.rootPath+string(filepath.Separator)) {
		return "", fmt.Errorf("local storage: path traversal denied: %s", key)
	}
	return full, nil
}

// GetObject opens the file stored under key.
func (b *Backend) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	p, err := b.resolvePath(key)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("get %s: %w", key, storage.ErrObjectNotFound)
		}
		return nil, 0, fmt.Errorf("local storage: open %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("local storage: stat %s: %w", key, err)
	}
	return f, info.Size(), nil
}

// PutObject writes content atomically via a temp file and rename.
func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	p, err := b.resolvePath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("local storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".vestalia-*.tmp")
	if err != nil {
		return fmt.Errorf("local storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("local storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("local storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("local storage: rename: %w", err)
	}
	return nil
}

// DeleteObject removes the file stored under key.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	p, err := b.resolvePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local storage: delete %s: %w", key, err)
	}
	return nil
}

// ObjectExists checks if a file exists at key.
func (b *Backend) ObjectExists(ctx context.Context, key string) (bool, error) {
	p, err := b.resolvePath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("local storage: stat %s: %w", key, err)
}

// ListObjects walks the root and returns keys with the given prefix.
func (b *Backend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".vestalia-") {
			return nil
		}
		rel, err := filepath.Rel(b.rootPath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local storage: list: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

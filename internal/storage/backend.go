// Package storage defines the content backend that devnet providers keep
// their objects in. Objects are addressed by content identifier.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by every backend for a missing key.
var ErrObjectNotFound = errors.New("storage: object not found")

// Backend is the interface that provider content backends must implement.
type Backend interface {
	// GetObject retrieves the object stored under key and its size.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// PutObject stores content under key, replacing any previous object.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// ListObjects returns the keys beginning with prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// Type returns the backend type identifier ("memory", "local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// ReadAll fetches a whole object.
func ReadAll(ctx context.Context, b Backend, key string) ([]byte, error) {
	rc, _, err := b.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

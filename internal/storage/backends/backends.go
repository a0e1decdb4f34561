// Package backends builds provider content backends from configuration.
package backends

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/velthium/vestalia-network/internal/config"
	"github.com/velthium/vestalia-network/internal/storage"
	"github.com/velthium/vestalia-network/internal/storage/local"
	"github.com/velthium/vestalia-network/internal/storage/memory"
	s3backend "github.com/velthium/vestalia-network/internal/storage/s3"
)

// New creates the content backend of one provider. Local backends get a
// subdirectory per provider; S3 backends share the bucket under a prefix.
func New(ctx context.Context, cfg *config.Config, provider string) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "memory":
		return memory.New(), nil
	case "local":
		return local.New(local.Config{
			RootPath:   filepath.Join(cfg.LocalStoragePath, provider),
			CreateDirs: true,
		})
	case "s3":
		return s3backend.NewBackend(ctx, s3backend.BackendConfig{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Prefix:    provider,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.StorageBackend)
	}
}

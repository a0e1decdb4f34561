// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the vault tooling configuration.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics endpoint used by serve-metrics
	MetricsAddr string

	// Identity the devnet handler signs as
	VaultAddress   string
	DevnetSecret   string
	DevnetBalance  int64
	PlanBytes      int64
	ProviderCount  int
	DevnetStateDir string

	// Ask on the terminal before every signature
	ConfirmSignatures bool

	// Provider content backend ("memory", "local" or "s3", default: "local")
	StorageBackend   string
	LocalStoragePath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Filetree index; empty keeps it in memory
	DatabaseURL string

	// Preview prefetch
	PrefetchConcurrency int
	CacheDir            string
	MaxCacheSize        int64
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "console"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		VaultAddress:        envOr("VAULT_ADDRESS", "jkl1devnetowner"),
		DevnetSecret:        envOr("DEVNET_SECRET", ""),
		DevnetBalance:       envInt64("DEVNET_BALANCE", 1_000_000),
		PlanBytes:           envInt64("PLAN_BYTES", 1<<30), // 1GB default
		ProviderCount:       envInt("PROVIDER_COUNT", 3),
		ConfirmSignatures:   envBool("CONFIRM_SIGNATURES", false),
		DevnetStateDir:      envOr("DEVNET_STATE_DIR", "./.vestalia"),
		StorageBackend:      envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath:    envOr("LOCAL_STORAGE_PATH", "./.vestalia/providers"),
		S3Endpoint:          envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:            envOr("S3_BUCKET", "vestalia"),
		S3AccessKey:         envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:         envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:            envOr("S3_REGION", "us-east-1"),
		S3UseSSL:            envBool("S3_USE_SSL", false),
		DatabaseURL:         envOr("DATABASE_URL", ""),
		PrefetchConcurrency: envInt("PREFETCH_CONCURRENCY", 3),
		CacheDir:            envOr("CACHE_DIR", "./.vestalia/cache"),
		MaxCacheSize:        envInt64("MAX_CACHE_SIZE", 256*1024*1024), // 256MB default
	}

	if cfg.DevnetSecret == "" {
		return nil, fmt.Errorf("DEVNET_SECRET is required")
	}
	if len(cfg.DevnetSecret) < 16 {
		return nil, fmt.Errorf("DEVNET_SECRET must be at least 16 bytes")
	}
	switch cfg.StorageBackend {
	case "memory", "local", "s3":
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	if cfg.ProviderCount < 1 {
		return nil, fmt.Errorf("PROVIDER_COUNT must be positive")
	}
	if cfg.PrefetchConcurrency < 1 {
		cfg.PrefetchConcurrency = 3
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

package backends

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/velthium/vestalia-network/internal/config"
	"github.com/velthium/vestalia-network/internal/storage"
)

func TestNew_LocalPerProvider(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{StorageBackend: "local", LocalStoragePath: root}

	b, err := New(context.Background(), cfg, "provider-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Type() != "local" {
		t.Errorf("Type = %q", b.Type())
	}
	ctx := context.Background()
	if err := b.PutObject(ctx, "bafk", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "provider-1", "bafk")); err != nil {
		t.Errorf("object not under the provider directory: %v", err)
	}
}

func TestNew_Memory(t *testing.T) {
	b, err := New(context.Background(), &config.Config{StorageBackend: "memory"}, "p")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var _ storage.Backend = b
	if b.Type() != "memory" {
		t.Errorf("Type = %q", b.Type())
	}
}

func TestNew_Unknown(t *testing.T) {
	if _, err := New(context.Background(), &config.Config{StorageBackend: "smb"}, "p"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

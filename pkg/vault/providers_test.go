package vault

import (
	"context"
	"errors"
	"testing"
)

func TestEnsureProviderPool_Idempotent(t *testing.T) {
	pool := &poolFake{available: []string{"p1", "p2"}, ips: []string{"https://p1", "https://p2"}}
	a := newTestAdapter()
	ctx := context.Background()

	if !a.EnsureProviderPool(ctx, pool) {
		t.Fatal("first EnsureProviderPool = false")
	}
	if !a.EnsureProviderPool(ctx, pool) {
		t.Fatal("second EnsureProviderPool = false")
	}
	if pool.lookups != 1 {
		t.Errorf("provider lookups = %d, want 1", pool.lookups)
	}
}

func TestEnsureProviderPool_Failures(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter()

	tests := []struct {
		name string
		h    Handler
	}{
		{"no capability", struct{}{}},
		{"no providers available", &poolFake{}},
		{"no addresses", &poolFake{available: []string{"p1"}}},
		{"load fails", &poolFake{available: []string{"p1"}, ips: []string{"x"}, loadErr: errors.New("refused")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if a.EnsureProviderPool(ctx, tt.h) {
				t.Error("EnsureProviderPool = true, want false")
			}
		})
	}
}

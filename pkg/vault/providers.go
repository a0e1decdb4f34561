package vault

import (
	"context"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/metrics"
)

// EnsureProviderPool makes sure h has storage providers loaded. An
// already loaded pool is reused without network calls. It reports false
// when no providers could be loaded; it never returns an error.
func (a *Adapter) EnsureProviderPool(ctx context.Context, h Handler) bool {
	pool, ok := h.(ProviderPool)
	if !ok {
		return false
	}
	if n := len(pool.Providers()); n > 0 {
		metrics.RecordProviderPoolLoad("cached", n)
		return true
	}

	log := a.logger(ctx)
	available, err := pool.AvailableProviders(ctx)
	if err != nil || len(available) == 0 {
		log.Debug("no available providers", zap.Error(err))
		metrics.RecordProviderPoolLoad("failed", 0)
		return false
	}
	ips, err := pool.FindProviderIPs(ctx, available)
	if err != nil || len(ips) == 0 {
		log.Debug("provider address lookup failed", zap.Error(err))
		metrics.RecordProviderPoolLoad("failed", 0)
		return false
	}
	if err := pool.LoadProviderPool(ctx, ips); err != nil {
		log.Debug("provider pool load failed", zap.Error(err))
		metrics.RecordProviderPoolLoad("failed", 0)
		return false
	}

	n := len(pool.Providers())
	if n == 0 {
		metrics.RecordProviderPoolLoad("failed", 0)
		return false
	}
	metrics.RecordProviderPoolLoad("loaded", n)
	log.Debug("provider pool loaded", zap.Int("providers", n))
	return true
}

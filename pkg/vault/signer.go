package vault

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/velthium/vestalia-network/internal/metrics"
)

// SignerLock serializes every operation that asks the wallet for a
// signature. Waiters are served in arrival order.
type SignerLock struct {
	sem *semaphore.Weighted
}

// NewSignerLock returns an unheld lock.
func NewSignerLock() *SignerLock {
	return &SignerLock{sem: semaphore.NewWeighted(1)}
}

var defaultSigner = NewSignerLock()

// DefaultSignerLock returns the process-wide lock shared by adapters that
// were not given their own.
func DefaultSignerLock() *SignerLock {
	return defaultSigner
}

// Do runs fn while holding the lock. The lock is released even if fn
// panics. ctx only bounds the wait.
func (l *SignerLock) Do(ctx context.Context, fn func(context.Context) error) error {
	metrics.AddSignerQueue(1)
	defer metrics.AddSignerQueue(-1)

	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	metrics.ObserveSignerWait(time.Since(start))

	held := time.Now()
	defer func() {
		metrics.ObserveSignerHold(time.Since(held))
		l.sem.Release(1)
	}()
	return fn(ctx)
}

// WithSignerLock runs fn under lock and returns its result.
func WithSignerLock[T any](ctx context.Context, lock *SignerLock, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := lock.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// SafeUpgradeSigner refreshes the handler's signer under the lock. It never
// fails the caller: a missing capability or any error yields false.
func (a *Adapter) SafeUpgradeSigner(ctx context.Context, h Handler) bool {
	if _, ok := h.(SignerUpgrader); !ok {
		return false
	}
	err := a.signer.Do(ctx, func(ctx context.Context) error {
		return a.upgradeSignerLocked(ctx, h)
	})
	return err == nil
}

// upgradeSignerLocked refreshes the signer; the caller holds the lock.
func (a *Adapter) upgradeSignerLocked(ctx context.Context, h Handler) error {
	up, ok := h.(SignerUpgrader)
	if !ok {
		return errSkip
	}
	err := up.UpgradeSigner(ctx)
	switch {
	case err == nil:
		return nil
	case IsUserRejected(err):
		a.logger(ctx).Debug("signer refresh declined by user", zap.Error(err))
	default:
		a.logger(ctx).Debug("signer refresh failed", zap.Error(err))
	}
	return err
}

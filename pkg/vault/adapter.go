// Package vault adapts storage SDK handles of varying shape to one stable
// set of vault operations: listing, transfer, delete, rename, sharing,
// folders and plan status.
//
// Handlers are opaque. Each operation walks an ordered table of strategies,
// runs the first usable one and falls through to the next when it fails
// with a recoverable error. Every wallet-signed call goes through a
// SignerLock so that concurrent operations never race on the account
// sequence.
package vault

import (
	"context"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/internal/logging"
	"github.com/velthium/vestalia-network/pkg/retry"
)

// Adapter runs vault operations against storage handlers.
type Adapter struct {
	signer *SignerLock
	log    *zap.Logger
	events *Events
	resync retry.Config
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSigner sets the lock that serializes signed calls. Adapters share
// DefaultSignerLock unless told otherwise.
func WithSigner(l *SignerLock) Option {
	return func(a *Adapter) { a.signer = l }
}

// WithLogger sets the adapter's logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// WithEvents publishes change events to b after successful mutations.
func WithEvents(b *Events) Option {
	return func(a *Adapter) { a.events = b }
}

// WithResync overrides the retry policy used after a sequence mismatch.
func WithResync(cfg retry.Config) Option {
	return func(a *Adapter) { a.resync = cfg }
}

// New returns an adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		signer: DefaultSignerLock(),
		resync: retry.Once(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logging.L()
	}
	return a
}

// Signer returns the adapter's signer lock.
func (a *Adapter) Signer() *SignerLock {
	return a.signer
}

// Events returns the change event broadcaster, or nil.
func (a *Adapter) Events() *Events {
	return a.events
}

func (a *Adapter) logger(ctx context.Context) *zap.Logger {
	return logging.WithContext(ctx, a.log)
}

func (a *Adapter) publish(ev ChangeEvent) {
	a.events.Publish(ev)
}

// Package devnet is an in-process stand-in for the decentralized storage
// network: a ledger that orders signed transactions per account, a
// filetree index and a set of content providers. StorageHandler exposes it
// through the capability interfaces of pkg/vault.
package devnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/velthium/vestalia-network/internal/storage"
	"github.com/velthium/vestalia-network/pkg/models"
)

// Approver stands in for the wallet prompt. Returning an error declines the
// signature.
type Approver func(signer string, msgs []models.Msg) error

// Network ties the ledger to its providers.
type Network struct {
	Ledger    *Ledger
	providers []*Provider

	mu      sync.RWMutex
	approve Approver
}

// NewNetwork assembles a network.
func NewNetwork(ledger *Ledger, providers ...*Provider) *Network {
	return &Network{Ledger: ledger, providers: providers}
}

// Open builds a network with one provider per content backend.
func Open(secret []byte, idx Index, stores ...storage.Backend) (*Network, error) {
	ledger, err := NewLedger(secret, idx)
	if err != nil {
		return nil, err
	}
	providers := make([]*Provider, len(stores))
	for i, st := range stores {
		name := fmt.Sprintf("provider-%d", i+1)
		providers[i] = NewProvider(name, fmt.Sprintf("https://%s.devnet:8443", name), st)
	}
	return NewNetwork(ledger, providers...), nil
}

// SetApprover installs the signature prompt; nil approves everything.
func (n *Network) SetApprover(fn Approver) {
	n.mu.Lock()
	n.approve = fn
	n.mu.Unlock()
}

func (n *Network) approved(signer string, msgs []models.Msg) error {
	n.mu.RLock()
	fn := n.approve
	n.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(signer, msgs)
}

// Providers returns every provider on the network.
func (n *Network) Providers() []*Provider {
	return append([]*Provider(nil), n.providers...)
}

// ProviderByIP finds a provider by address.
func (n *Network) ProviderByIP(ip string) (*Provider, bool) {
	for _, p := range n.providers {
		if p.IP == ip {
			return p, true
		}
	}
	return nil, false
}

// store writes content to every provider.
func (n *Network) store(ctx context.Context, merkle string, data []byte) error {
	if len(n.providers) == 0 {
		return errors.New("no providers on the network")
	}
	for _, p := range n.providers {
		if err := p.Put(ctx, merkle, data); err != nil {
			return err
		}
	}
	return nil
}

// stored reports whether any provider keeps merkle.
func (n *Network) stored(ctx context.Context, merkle string) bool {
	for _, p := range n.providers {
		if p.Has(ctx, merkle) {
			return true
		}
	}
	return false
}

// release drops content nobody references any more.
func (n *Network) release(ctx context.Context, merkle string) error {
	refs, err := n.Ledger.Index().FindByMerkle(ctx, merkle)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		return nil
	}
	for _, p := range n.providers {
		if err := p.Drop(ctx, merkle); err != nil {
			return err
		}
	}
	return nil
}

// Close releases provider backends and the index.
func (n *Network) Close() error {
	var errs []error
	for _, p := range n.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.Ledger.Index().Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index: %w", err))
	}
	return errors.Join(errs...)
}

func newULID() string {
	return ulid.Make().String()
}

package devnet

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/velthium/vestalia-network/internal/storage"
)

// Provider is a storage node keeping content by merkle identifier.
type Provider struct {
	Name  string
	IP    string
	store storage.Backend
}

// NewProvider wraps a content backend as a provider reachable at ip.
func NewProvider(name, ip string, store storage.Backend) *Provider {
	return &Provider{Name: name, IP: ip, store: store}
}

// Put stores data under its merkle identifier.
func (p *Provider) Put(ctx context.Context, merkle string, data []byte) error {
	if err := p.store.PutObject(ctx, merkle, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("provider %s: %w", p.Name, err)
	}
	return nil
}

// Get fetches content and checks it against merkle.
func (p *Provider) Get(ctx context.Context, merkle string) ([]byte, error) {
	data, err := storage.ReadAll(ctx, p.store, merkle)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Name, err)
	}
	got, err := ContentID(data)
	if err != nil {
		return nil, err
	}
	if got != merkle {
		return nil, fmt.Errorf("provider %s: content of %s is corrupt", p.Name, merkle)
	}
	return data, nil
}

// Has reports whether the provider keeps merkle.
func (p *Provider) Has(ctx context.Context, merkle string) bool {
	ok, err := p.store.ObjectExists(ctx, merkle)
	return err == nil && ok
}

// Drop removes content. Missing content is not an error.
func (p *Provider) Drop(ctx context.Context, merkle string) error {
	if err := p.store.DeleteObject(ctx, merkle); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("provider %s: %w", p.Name, err)
	}
	return nil
}

// Objects lists the merkles the provider keeps.
func (p *Provider) Objects(ctx context.Context) ([]string, error) {
	return p.store.ListObjects(ctx, "")
}

// Close releases the backend.
func (p *Provider) Close() error {
	return p.store.Close()
}

// ContentID returns the CIDv1 (raw codec, sha2-256) of data.
func ContentID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

func newFileKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate file key: %w", err)
	}
	return key, nil
}

// seal encrypts data for a private upload. The nonce is prepended.
func seal(key, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, data, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed content too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt content: %w", err)
	}
	return plain, nil
}

package devnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ErrNodeNotFound is returned when a filetree node does not exist.
var ErrNodeNotFound = errors.New("devnet: not found")

// Node is one filetree record. Folders have no content.
type Node struct {
	ULID       string    `json:"ulid"`
	ParentULID string    `json:"parent_ulid"`
	Owner      string    `json:"owner"`
	Name       string    `json:"name"`
	IsDir      bool      `json:"is_dir"`
	Size       int64     `json:"size"`
	Merkle     string    `json:"merkle,omitempty"`
	Start      int64     `json:"start,omitempty"`
	RefIndex   int       `json:"ref_index"`
	Key        []byte    `json:"key,omitempty"`
	Viewers    []string  `json:"viewers,omitempty"`
	ModTime    time.Time `json:"mod_time"`
}

// CanRead reports whether address may read the node's content.
func (n Node) CanRead(address string) bool {
	if n.Owner == address {
		return true
	}
	for _, v := range n.Viewers {
		if v == address {
			return true
		}
	}
	return false
}

// Index stores the filetree. Implementations must be safe for concurrent
// use.
type Index interface {
	Put(ctx context.Context, n Node) error
	Get(ctx context.Context, ulid string) (Node, error)
	// Root returns the owner's Home folder.
	Root(ctx context.Context, owner string) (Node, error)
	// Children returns the direct children ordered by RefIndex.
	Children(ctx context.Context, parentULID string) ([]Node, error)
	Delete(ctx context.Context, ulid string) error
	// SharedWith returns files listing viewer among their viewers.
	SharedWith(ctx context.Context, viewer string) ([]Node, error)
	// FindByMerkle returns the files referencing content.
	FindByMerkle(ctx context.Context, merkle string) ([]Node, error)
	Close() error
}

// MemIndex is an in-memory Index that can be snapshotted to JSON.
type MemIndex struct {
	mu    sync.RWMutex
	nodes map[string]Node
}

// NewMemIndex returns an empty index.
func NewMemIndex() *MemIndex {
	return &MemIndex{nodes: make(map[string]Node)}
}

func (m *MemIndex) Put(ctx context.Context, n Node) error {
	if n.ULID == "" {
		return fmt.Errorf("put node: empty ulid")
	}
	n.Viewers = append([]string(nil), n.Viewers...)
	m.mu.Lock()
	m.nodes[n.ULID] = n
	m.mu.Unlock()
	return nil
}

func (m *MemIndex) Get(ctx context.Context, ulid string) (Node, error) {
	m.mu.RLock()
	n, ok := m.nodes[ulid]
	m.mu.RUnlock()
	if !ok {
		return Node{}, fmt.Errorf("node %s: %w", ulid, ErrNodeNotFound)
	}
	n.Viewers = append([]string(nil), n.Viewers...)
	return n, nil
}

func (m *MemIndex) Root(ctx context.Context, owner string) (Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		if n.ParentULID == "" && n.Owner == owner {
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("root of %s: %w", owner, ErrNodeNotFound)
}

func (m *MemIndex) Children(ctx context.Context, parentULID string) ([]Node, error) {
	return m.filter(func(n Node) bool { return n.ParentULID == parentULID }), nil
}

func (m *MemIndex) Delete(ctx context.Context, ulid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[ulid]; !ok {
		return fmt.Errorf("node %s: %w", ulid, ErrNodeNotFound)
	}
	delete(m.nodes, ulid)
	return nil
}

func (m *MemIndex) SharedWith(ctx context.Context, viewer string) ([]Node, error) {
	return m.filter(func(n Node) bool {
		return !n.IsDir && n.Owner != viewer && n.CanRead(viewer)
	}), nil
}

func (m *MemIndex) FindByMerkle(ctx context.Context, merkle string) ([]Node, error) {
	return m.filter(func(n Node) bool { return !n.IsDir && n.Merkle == merkle }), nil
}

func (m *MemIndex) Close() error { return nil }

func (m *MemIndex) filter(keep func(Node) bool) []Node {
	m.mu.RLock()
	var out []Node
	for _, n := range m.nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	m.mu.RUnlock()
	sortNodes(out)
	return out
}

// Snapshot writes every node as JSON.
func (m *MemIndex) Snapshot(w io.Writer) error {
	m.mu.RLock()
	nodes := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	m.mu.RUnlock()
	sortNodes(nodes)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(nodes)
}

// Restore replaces the index content with a snapshot.
func (m *MemIndex) Restore(r io.Reader) error {
	var nodes []Node
	if err := json.NewDecoder(r).Decode(&nodes); err != nil {
		return fmt.Errorf("decode index snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[string]Node, len(nodes))
	for _, n := range nodes {
		m.nodes[n.ULID] = n
	}
	return nil
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].RefIndex != nodes[j].RefIndex {
			return nodes[i].RefIndex < nodes[j].RefIndex
		}
		return nodes[i].ULID < nodes[j].ULID
	})
}

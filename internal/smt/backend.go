package smt

import (
	"context"
	"slices"
	"sync"
)

// Leaf is one persisted key/value pair. In a commit, Deleted marks a key
// to remove.
type Leaf struct {
	Key     string
	Value   []byte
	Deleted bool
}

// Backend persists leaves and the sequence of committed roots.
//
// Commit must be atomic: either every leaf and the root are durable, or
// none are. Implementations: MemoryBackend and store.SMTBackend (SQLite).
type Backend interface {
	// Load returns every persisted leaf.
	Load(ctx context.Context) ([]Leaf, error)

	// Commit persists leaves in order (upserting by key, or removing
	// Deleted ones) and appends root to the root log.
	Commit(ctx context.Context, leaves []Leaf, root Hash) error

	// Roots returns the root log in commit order.
	Roots(ctx context.Context) ([]Hash, error)
}

// MemoryBackend keeps leaves in process memory.
type MemoryBackend struct {
	mu     sync.Mutex
	leaves map[string][]byte
	order  []string
	roots  []Hash

	// FailCommit, when set, is returned by Commit (for tests).
	FailCommit error
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{leaves: make(map[string][]byte)}
}

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context) ([]Leaf, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Leaf, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, Leaf{Key: k, Value: append([]byte(nil), b.leaves[k]...)})
	}
	return out, nil
}

// Commit implements Backend.
func (b *MemoryBackend) Commit(_ context.Context, leaves []Leaf, root Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailCommit != nil {
		return b.FailCommit
	}
	for _, l := range leaves {
		if l.Deleted {
			if _, ok := b.leaves[l.Key]; ok {
				delete(b.leaves, l.Key)
				b.order = slices.DeleteFunc(b.order, func(k string) bool { return k == l.Key })
			}
			continue
		}
		if _, ok := b.leaves[l.Key]; !ok {
			b.order = append(b.order, l.Key)
		}
		b.leaves[l.Key] = append([]byte(nil), l.Value...)
	}
	b.roots = append(b.roots, root)
	return nil
}

// Roots implements Backend.
func (b *MemoryBackend) Roots(_ context.Context) ([]Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Hash(nil), b.roots...), nil
}

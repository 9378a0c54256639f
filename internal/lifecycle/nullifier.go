package lifecycle

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/store"
)

// ComputeNullifier returns SHA256("nullifier" || register || txID).
func ComputeNullifier(register ids.RegisterID, txID string) ids.Nullifier {
	h := sha256.New()
	h.Write([]byte("nullifier"))
	h.Write(register[:])
	h.Write([]byte(txID))
	var n ids.Nullifier
	copy(n[:], h.Sum(nil))
	return n
}

// NullifierSet is the append-only set of spent nullifiers.
//
// Implementations: MemoryNullifiers and *store.Store.
type NullifierSet interface {
	// InsertNullifiers adds every record or none. It returns false, without
	// error, when any nullifier is already present.
	InsertNullifiers(ctx context.Context, recs []store.NullifierRecord) (bool, error)
	HasNullifier(ctx context.Context, n ids.Nullifier) (bool, error)
	Nullifiers(ctx context.Context) ([]ids.Nullifier, error)
}

// MemoryNullifiers is an in-process NullifierSet.
type MemoryNullifiers struct {
	mu    sync.Mutex
	set   map[ids.Nullifier]bool
	order []ids.Nullifier
}

// NewMemoryNullifiers returns an empty set.
func NewMemoryNullifiers() *MemoryNullifiers {
	return &MemoryNullifiers{set: make(map[ids.Nullifier]bool)}
}

// InsertNullifiers implements NullifierSet.
func (m *MemoryNullifiers) InsertNullifiers(_ context.Context, recs []store.NullifierRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := make(map[ids.Nullifier]bool, len(recs))
	for _, rec := range recs {
		if m.set[rec.Nullifier] || batch[rec.Nullifier] {
			return false, nil
		}
		batch[rec.Nullifier] = true
	}
	for _, rec := range recs {
		m.set[rec.Nullifier] = true
		m.order = append(m.order, rec.Nullifier)
	}
	return true, nil
}

// HasNullifier implements NullifierSet.
func (m *MemoryNullifiers) HasNullifier(_ context.Context, n ids.Nullifier) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set[n], nil
}

// Nullifiers implements NullifierSet.
func (m *MemoryNullifiers) Nullifiers(_ context.Context) ([]ids.Nullifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ids.Nullifier{}, m.order...), nil
}

package smt

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// Store is the domain-namespaced key/value store with a deterministic root.
//
// Thread-safety model:
//   - Value reads (Get, Has, Keys, DomainRoot) take a shared lock
//   - Writes and root/proof computation take the exclusive lock, so the
//     observable root sequence linearizes committed writes
//
// Every write is persisted through the Backend before it becomes visible.
type Store struct {
	mu      sync.RWMutex
	tree    *tree
	values  map[string][]byte
	backend Backend
}

// Op is one write in a batch. Delete removes Key and ignores Value.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// Open loads every leaf from backend and returns a ready Store.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	leaves, err := backend.Load(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "smt.open", err, "load leaves")
	}
	s := &Store{
		tree:    newTree(),
		values:  make(map[string][]byte, len(leaves)),
		backend: backend,
	}
	ls := make([]leaf, 0, len(leaves))
	for _, l := range leaves {
		s.values[l.Key] = l.Value
		ls = append(ls, leaf{path: PathOf(l.Key), valueHash: ValueHash(l.Value)})
	}
	s.tree.load(ls)
	slog.Debug("smt store opened", "leaves", len(leaves), "root", s.tree.rootHash().Hex())
	return s, nil
}

// NewMemory returns a Store over a fresh MemoryBackend.
func NewMemory() *Store {
	s, err := Open(context.Background(), NewMemoryBackend())
	if err != nil {
		// MemoryBackend.Load cannot fail.
		panic(err)
	}
	return s
}

// Put stores value under key. Writing the value already stored is a no-op
// that leaves the root (and the root log) unchanged.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return errs.New(errs.InvalidArgument, "smt.put", "key must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(ctx, key, value)
}

func (s *Store) putLocked(ctx context.Context, key string, value []byte) error {
	return s.applyLocked(ctx, "smt.put", []Op{{Key: key, Value: value}})
}

// Apply writes every op in one backend commit: either all of them become
// visible under a single new root or none do. Ops apply in order, so a key
// written twice keeps its last value. Ops that change nothing are skipped,
// and a batch that changes nothing leaves the root log untouched.
func (s *Store) Apply(ctx context.Context, ops []Op) error {
	const where = "smt.apply"
	for i, op := range ops {
		if op.Key == "" {
			return errs.New(errs.InvalidArgument, where, "key must not be empty").With("index", strconv.Itoa(i))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, where, ops)
}

func (s *Store) applyLocked(ctx context.Context, where string, ops []Op) error {
	// A caller that has given up must not have its write land later.
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.Timeout, where, err, "write abandoned")
	}
	type prior struct {
		path Hash
		hash Hash
		had  bool
	}
	var (
		leaves []Leaf
		undo   []prior
	)
	for _, op := range ops {
		path := PathOf(op.Key)
		prev, had := s.tree.leaves[path]
		if op.Delete {
			if !had {
				continue
			}
			s.tree.unset(path)
			leaves = append(leaves, Leaf{Key: op.Key, Deleted: true})
		} else {
			value := append([]byte{}, op.Value...)
			if !s.tree.set(path, ValueHash(value)) {
				continue
			}
			leaves = append(leaves, Leaf{Key: op.Key, Value: value})
		}
		undo = append(undo, prior{path: path, hash: prev, had: had})
	}
	if len(leaves) == 0 {
		return nil
	}

	root := s.tree.rootHash()
	if err := s.backend.Commit(ctx, leaves, root); err != nil {
		// Undo the tentative tree updates, newest first.
		for i := len(undo) - 1; i >= 0; i-- {
			if u := undo[i]; u.had {
				s.tree.set(u.path, u.hash)
			} else {
				s.tree.unset(u.path)
			}
		}
		return errs.Wrap(errs.IO, where, err, "commit leaves")
	}
	for _, l := range leaves {
		if l.Deleted {
			delete(s.values, l.Key)
		} else {
			s.values[l.Key] = l.Value
		}
	}

	slog.Debug("smt commit", "leaves", len(leaves), "root", root.Hex())
	return nil
}

// BatchStore applies ops in order and returns the keys stored. It stops at
// the first failure; earlier writes stay persisted.
func (s *Store) BatchStore(ctx context.Context, ops []Op) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.Key == "" {
			return stored, errs.New(errs.InvalidArgument, "smt.batch_store", "key must not be empty").
				With("index", strconv.Itoa(len(stored)))
		}
		if err := s.putLocked(ctx, op.Key, op.Value); err != nil {
			return stored, err
		}
		stored = append(stored, op.Key)
	}
	return stored, nil
}

// Get returns the value stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, errs.New(errs.NotFound, "smt.get", "key %q not found", key)
	}
	return append([]byte(nil), v...), nil
}

// Has reports whether key is stored.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// StateRoot returns the root over every stored key.
func (s *Store) StateRoot() Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.rootHash()
}

// Proof opens key against the current root. The proof shows inclusion if
// the key is stored and non-inclusion otherwise.
func (s *Store) Proof(key string) (*Proof, error) {
	if key == "" {
		return nil, errs.New(errs.InvalidArgument, "smt.proof", "key must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.proof(PathOf(key)), nil
}

// VerifyProof checks an opening of key against root. See the package
// function of the same name.
func (s *Store) VerifyProof(root Hash, key string, value []byte, p *Proof) bool {
	return VerifyProof(root, key, value, p)
}

// Keys returns every stored key with the given prefix, in byte order.
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// DomainRoot returns the root over only the keys in domain's namespace.
// Proofs from DomainProof verify against it, which allows disclosing one
// domain's state without the others.
func (s *Store) DomainRoot(domain ids.DomainID) Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rootFromLeaves(s.domainLeaves(domain))
}

// DomainProof opens key against DomainRoot(domain).
func (s *Store) DomainProof(domain ids.DomainID, key string) (*Proof, error) {
	if !ids.InDomain(key, domain) {
		return nil, errs.New(errs.InvalidArgument, "smt.domain_proof", "key %q is outside domain namespace %s", key, ids.NamespacePrefix(domain))
	}
	s.mu.RLock()
	ls := s.domainLeaves(domain)
	s.mu.RUnlock()
	sortLeaves(ls)
	return prove(ls, PathOf(key), nil), nil
}

func (s *Store) domainLeaves(domain ids.DomainID) []leaf {
	ns := ids.NamespacePrefix(domain)
	var out []leaf
	for k, v := range s.values {
		if ids.NamespaceOfKey(k) == ns {
			out = append(out, leaf{path: PathOf(k), valueHash: ValueHash(v)})
		}
	}
	return out
}

// RootHistory returns the persisted root log in commit order.
func (s *Store) RootHistory(ctx context.Context) ([]Hash, error) {
	roots, err := s.backend.Roots(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "smt.root_history", err, "load roots")
	}
	return roots, nil
}

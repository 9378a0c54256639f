package relationship

import (
	"log/slog"
	"sync"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// Filter selects relationships in List. Zero fields match everything.
type Filter struct {
	SourceDomain ids.DomainID
	TargetDomain ids.DomainID
	Kind         Kind

	// Predicate is a CEL expression; see Match.
	Predicate string
}

// Registry stores relationships keyed by content ID.
//
// All methods are safe for concurrent use. Get and List return copies.
type Registry struct {
	mu   sync.RWMutex
	rels map[ids.RelationshipID]*Relationship
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rels: make(map[ids.RelationshipID]*Relationship)}
}

func checkShape(op string, r *Relationship) error {
	switch {
	case r == nil:
		return errs.New(errs.InvalidArgument, op, "relationship is nil")
	case r.SourceDomain.IsZero() || r.TargetDomain.IsZero():
		return errs.New(errs.InvalidArgument, op, "relationship domains must be set")
	case r.SourceResource.IsZero() || r.TargetResource.IsZero():
		return errs.New(errs.InvalidArgument, op, "relationship resources must be set")
	case r.SourceDomain == r.TargetDomain:
		return errs.New(errs.InvalidArgument, op, "source and target domain must differ (both %s)", r.SourceDomain.Short())
	case !r.Kind.Known():
		return errs.New(errs.InvalidArgument, op, "unknown relationship kind %q", r.Kind)
	}
	return nil
}

// Add stores r under its content ID and returns the ID. A relationship
// whose endpoints share a domain is InvalidArgument; an existing ID is
// Conflict.
func (g *Registry) Add(r *Relationship) (ids.RelationshipID, error) {
	const op = "relationship.add"
	if err := checkShape(op, r); err != nil {
		return ids.RelationshipID{}, err
	}
	stored := r.Clone()
	stored.ID = stored.ComputeID()

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.rels[stored.ID]; exists {
		return ids.RelationshipID{}, errs.New(errs.Conflict, op, "relationship %s already registered", stored.ID.Short())
	}
	g.rels[stored.ID] = stored
	slog.Debug("relationship registered", "id", stored.ID.Short(), "kind", stored.Kind)
	return stored.ID, nil
}

// Remove deletes the relationship with id.
func (g *Registry) Remove(id ids.RelationshipID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rels[id]; !ok {
		return errs.New(errs.NotFound, "relationship.remove", "relationship %s not found", id.Short())
	}
	delete(g.rels, id)
	return nil
}

// Get returns a copy of the relationship with id.
func (g *Registry) Get(id ids.RelationshipID) (*Relationship, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rels[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "relationship.get", "relationship %s not found", id.Short())
	}
	return r.Clone(), nil
}

// Update replaces the mutable parts of an existing relationship
// (bidirectional flag and metadata). Endpoints and kind make up the ID and
// cannot change.
func (g *Registry) Update(r *Relationship) error {
	const op = "relationship.update"
	if err := checkShape(op, r); err != nil {
		return err
	}
	if r.ComputeID() != r.ID {
		return errs.New(errs.InvalidArgument, op, "relationship %s: identity fields cannot change", r.ID.Short())
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rels[r.ID]; !ok {
		return errs.New(errs.NotFound, op, "relationship %s not found", r.ID.Short())
	}
	g.rels[r.ID] = r.Clone()
	return nil
}

// Len returns the number of relationships.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rels)
}

// List returns copies of the relationships matching f, in ID byte order.
func (g *Registry) List(f Filter) ([]*Relationship, error) {
	if f.Predicate != "" {
		if _, err := compilePredicate(f.Predicate); err != nil {
			return nil, err
		}
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := []*Relationship{}
	for _, id := range ids.SortedKeys(g.rels) {
		r := g.rels[id]
		if !f.SourceDomain.IsZero() && r.SourceDomain != f.SourceDomain {
			continue
		}
		if !f.TargetDomain.IsZero() && r.TargetDomain != f.TargetDomain {
			continue
		}
		if f.Kind != "" && r.Kind != f.Kind {
			continue
		}
		if f.Predicate != "" {
			ok, err := Match(f.Predicate, r)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// All is List with an empty filter.
func (g *Registry) All() []*Relationship {
	out, _ := g.List(Filter{})
	return out
}

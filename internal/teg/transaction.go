package teg

import (
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// Transaction stages edits against a copy of a graph. Commit validates the
// copy and returns it; Rollback discards it. The base graph is never
// modified. Once committed or rolled back, every method returns
// InvalidState.
type Transaction struct {
	base      *Graph
	work      *Graph
	committed bool
	done      bool
}

// Begin starts a transaction on g.
func (g *Graph) Begin() *Transaction {
	return &Transaction{base: g, work: g.Clone()}
}

// IsCommitted reports whether Commit succeeded.
func (tx *Transaction) IsCommitted() bool { return tx.committed }

func (tx *Transaction) open(op string) error {
	if tx.done {
		return errs.New(errs.InvalidState, op, "transaction already resolved")
	}
	return nil
}

// AddEffect stages an effect. A zero ID is filled from the node content.
// Re-adding identical content is a no-op; the same id with different
// content is a Conflict.
func (tx *Transaction) AddEffect(e *EffectNode) (ids.EffectID, error) {
	const op = "teg.tx.add_effect"
	if err := tx.open(op); err != nil {
		return ids.EffectID{}, err
	}
	if err := checkEffect(op, e); err != nil {
		return ids.EffectID{}, err
	}
	for _, r := range e.ResourcesAccessed() {
		if _, ok := tx.work.Resources[r]; !ok {
			return ids.EffectID{}, errs.New(errs.NotFound, op, "effect %q accesses unknown resource %s", e.Name, r.Short())
		}
	}
	node := e.Clone()
	if node.ID.IsZero() {
		node.ID = node.contentID()
	}
	if prev, ok := tx.work.Effects[node.ID]; ok {
		if prev.contentID() != node.contentID() {
			return ids.EffectID{}, errs.New(errs.Conflict, op, "effect %s already present with different content", node.ID.Short())
		}
		return node.ID, nil
	}
	tx.work.Effects[node.ID] = node
	tx.work.Domains[node.Domain] = struct{}{}
	return node.ID, nil
}

// AddResource stages a resource with the same identity rules as AddEffect.
func (tx *Transaction) AddResource(r *ResourceNode) (ids.ResourceID, error) {
	const op = "teg.tx.add_resource"
	if err := tx.open(op); err != nil {
		return ids.ResourceID{}, err
	}
	if err := checkResource(op, r); err != nil {
		return ids.ResourceID{}, err
	}
	node := r.Clone()
	if node.ID.IsZero() {
		node.ID = node.contentID()
	}
	if prev, ok := tx.work.Resources[node.ID]; ok {
		if prev.contentID() != node.contentID() {
			return ids.ResourceID{}, errs.New(errs.Conflict, op, "resource %s already present with different content", node.ID.Short())
		}
		return node.ID, nil
	}
	tx.work.Resources[node.ID] = node
	tx.work.Domains[node.Domain] = struct{}{}
	return node.ID, nil
}

// UpdateEffect replaces the content of an existing effect, keeping its id.
func (tx *Transaction) UpdateEffect(e *EffectNode) error {
	const op = "teg.tx.update_effect"
	if err := tx.open(op); err != nil {
		return err
	}
	if _, ok := tx.work.Effects[e.ID]; !ok {
		return errs.New(errs.NotFound, op, "effect %s not found", e.ID.Short())
	}
	if err := checkEffect(op, e); err != nil {
		return err
	}
	for _, r := range e.ResourcesAccessed() {
		if _, ok := tx.work.Resources[r]; !ok {
			return errs.New(errs.NotFound, op, "effect %q accesses unknown resource %s", e.Name, r.Short())
		}
	}
	tx.work.Effects[e.ID] = e.Clone()
	tx.work.Domains[e.Domain] = struct{}{}
	return nil
}

// UpdateResource replaces the content of an existing resource, keeping its id.
func (tx *Transaction) UpdateResource(r *ResourceNode) error {
	const op = "teg.tx.update_resource"
	if err := tx.open(op); err != nil {
		return err
	}
	if _, ok := tx.work.Resources[r.ID]; !ok {
		return errs.New(errs.NotFound, op, "resource %s not found", r.ID.Short())
	}
	if err := checkResource(op, r); err != nil {
		return err
	}
	tx.work.Resources[r.ID] = r.Clone()
	tx.work.Domains[r.Domain] = struct{}{}
	return nil
}

// RemoveEffect removes an effect along with its edges, constraints, and
// capability authorizations.
func (tx *Transaction) RemoveEffect(id ids.EffectID) error {
	const op = "teg.tx.remove_effect"
	if err := tx.open(op); err != nil {
		return err
	}
	if _, ok := tx.work.Effects[id]; !ok {
		return errs.New(errs.NotFound, op, "effect %s not found", id.Short())
	}
	delete(tx.work.Effects, id)
	delete(tx.work.CapabilityAuthorizations, id)
	for e := range tx.work.Dependencies {
		if e.From == id || e.To == id {
			delete(tx.work.Dependencies, e)
		}
	}
	for e := range tx.work.Continuations {
		if e.From == id || e.To == id {
			delete(tx.work.Continuations, e)
		}
	}
	for c := range tx.work.TemporalConstraints {
		if c.Source == id || c.Target == id {
			delete(tx.work.TemporalConstraints, c)
		}
	}
	return nil
}

// RemoveResource removes a resource along with accesses to it and its
// relationships.
func (tx *Transaction) RemoveResource(id ids.ResourceID) error {
	const op = "teg.tx.remove_resource"
	if err := tx.open(op); err != nil {
		return err
	}
	if _, ok := tx.work.Resources[id]; !ok {
		return errs.New(errs.NotFound, op, "resource %s not found", id.Short())
	}
	delete(tx.work.Resources, id)
	for _, e := range tx.work.Effects {
		if _, ok := e.Accesses[id]; ok {
			delete(e.Accesses, id)
		}
	}
	for rel := range tx.work.ResourceRelationships {
		if rel.From == id || rel.To == id {
			delete(tx.work.ResourceRelationships, rel)
		}
	}
	return nil
}

// AddDependency records that to cannot execute until from has.
func (tx *Transaction) AddDependency(from, to ids.EffectID) error {
	const op = "teg.tx.add_dependency"
	if err := tx.edgeEndpoints(op, from, to); err != nil {
		return err
	}
	if from == to {
		return errs.New(errs.InvalidArgument, op, "effect %s cannot depend on itself", from.Short())
	}
	tx.work.Dependencies[Edge{From: from, To: to}] = struct{}{}
	return nil
}

// AddContinuation records a continuation edge. A nil condition makes it
// unconditional.
func (tx *Transaction) AddContinuation(from, to ids.EffectID, cond *Condition) error {
	const op = "teg.tx.add_continuation"
	if err := tx.edgeEndpoints(op, from, to); err != nil {
		return err
	}
	if cond != nil {
		if _, err := compileCondition(cond.Expr); err != nil {
			return err
		}
	}
	tx.work.Continuations[Edge{From: from, To: to}] = cond
	return nil
}

// AddResourceRelationship links two resources.
func (tx *Transaction) AddResourceRelationship(from, to ids.ResourceID, kind string) error {
	const op = "teg.tx.add_relationship"
	if err := tx.open(op); err != nil {
		return err
	}
	for _, id := range []ids.ResourceID{from, to} {
		if _, ok := tx.work.Resources[id]; !ok {
			return errs.New(errs.NotFound, op, "resource %s not found", id.Short())
		}
	}
	if kind == "" {
		return errs.New(errs.InvalidArgument, op, "relationship kind must not be empty")
	}
	tx.work.ResourceRelationships[ResourceRelationship{From: from, To: to, Kind: kind}] = struct{}{}
	return nil
}

// AddTemporalConstraint orders two effects.
func (tx *Transaction) AddTemporalConstraint(c TemporalConstraint) error {
	const op = "teg.tx.add_constraint"
	if err := tx.edgeEndpoints(op, c.Source, c.Target); err != nil {
		return err
	}
	if c.Kind >= numConstraintKinds {
		return errs.New(errs.InvalidArgument, op, "unknown constraint kind %d", c.Kind)
	}
	if c.Kind == Within && c.Min > c.Max {
		return errs.New(errs.InvalidArgument, op, "window min %s exceeds max %s", c.Min, c.Max)
	}
	tx.work.TemporalConstraints[c] = struct{}{}
	return nil
}

// AuthorizeCapability grants caps to an effect.
func (tx *Transaction) AuthorizeCapability(id ids.EffectID, caps ...string) error {
	const op = "teg.tx.authorize"
	if err := tx.open(op); err != nil {
		return err
	}
	if _, ok := tx.work.Effects[id]; !ok {
		return errs.New(errs.NotFound, op, "effect %s not found", id.Short())
	}
	merged := append(append([]string{}, tx.work.CapabilityAuthorizations[id]...), caps...)
	tx.work.CapabilityAuthorizations[id] = normalizeCaps(merged)
	return nil
}

// SetMetadata sets a graph-level metadata entry.
func (tx *Transaction) SetMetadata(key, val string) error {
	if err := tx.open("teg.tx.set_metadata"); err != nil {
		return err
	}
	tx.work.Metadata[key] = val
	return nil
}

// Commit derives capabilities, validates the staged graph, and returns it.
// A validation failure leaves the transaction open.
func (tx *Transaction) Commit() (*Graph, error) {
	const op = "teg.tx.commit"
	if err := tx.open(op); err != nil {
		return nil, err
	}
	tx.work.deriveCapabilities()
	if err := tx.work.Validate(); err != nil {
		return nil, err
	}
	tx.done, tx.committed = true, true
	return tx.work, nil
}

// Rollback discards staged edits and returns the base graph.
func (tx *Transaction) Rollback() (*Graph, error) {
	if err := tx.open("teg.tx.rollback"); err != nil {
		return nil, err
	}
	tx.done = true
	tx.work = nil
	return tx.base, nil
}

func (tx *Transaction) edgeEndpoints(op string, from, to ids.EffectID) error {
	if err := tx.open(op); err != nil {
		return err
	}
	for _, id := range []ids.EffectID{from, to} {
		if _, ok := tx.work.Effects[id]; !ok {
			return errs.New(errs.NotFound, op, "effect %s not found", id.Short())
		}
	}
	return nil
}

func checkEffect(op string, e *EffectNode) error {
	switch {
	case e == nil:
		return errs.New(errs.InvalidArgument, op, "effect must not be nil")
	case e.Name == "":
		return errs.New(errs.InvalidArgument, op, "effect name must not be empty")
	case e.EffectType == "":
		return errs.New(errs.InvalidArgument, op, "effect %q has no type", e.Name)
	case e.Domain.IsZero():
		return errs.New(errs.InvalidArgument, op, "effect %q has no domain", e.Name)
	}
	return nil
}

func checkResource(op string, r *ResourceNode) error {
	switch {
	case r == nil:
		return errs.New(errs.InvalidArgument, op, "resource must not be nil")
	case r.Name == "":
		return errs.New(errs.InvalidArgument, op, "resource name must not be empty")
	case r.ResourceType == "":
		return errs.New(errs.InvalidArgument, op, "resource %q has no type", r.Name)
	case r.Domain.IsZero():
		return errs.New(errs.InvalidArgument, op, "resource %q has no domain", r.Name)
	}
	return nil
}

package teg

import (
	"bytes"
	"errors"
	"slices"
	"time"

	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

var errNotObject = errors.New("expected object")

// Graph is a temporal effect graph. Nodes are held by value in keyed
// collections and edges reference nodes by id, so a Graph has a single
// owner and no cross-links.
//
// A Graph is not safe for concurrent mutation. Transactions work on their
// own copy.
type Graph struct {
	Effects   map[ids.EffectID]*EffectNode
	Resources map[ids.ResourceID]*ResourceNode

	Dependencies map[Edge]struct{}

	// Continuations map each edge to its condition; nil means unconditional.
	Continuations map[Edge]*Condition

	ResourceRelationships map[ResourceRelationship]struct{}
	TemporalConstraints   map[TemporalConstraint]struct{}

	// CapabilityAuthorizations lists the capabilities granted to each effect.
	CapabilityAuthorizations map[ids.EffectID][]string

	Domains  map[ids.DomainID]struct{}
	Metadata map[string]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		Effects:                  make(map[ids.EffectID]*EffectNode),
		Resources:                make(map[ids.ResourceID]*ResourceNode),
		Dependencies:             make(map[Edge]struct{}),
		Continuations:            make(map[Edge]*Condition),
		ResourceRelationships:    make(map[ResourceRelationship]struct{}),
		TemporalConstraints:      make(map[TemporalConstraint]struct{}),
		CapabilityAuthorizations: make(map[ids.EffectID][]string),
		Domains:                  make(map[ids.DomainID]struct{}),
		Metadata:                 make(map[string]string),
	}
}

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	out := New()
	for id, e := range g.Effects {
		out.Effects[id] = e.Clone()
	}
	for id, r := range g.Resources {
		out.Resources[id] = r.Clone()
	}
	for e := range g.Dependencies {
		out.Dependencies[e] = struct{}{}
	}
	for e, c := range g.Continuations {
		out.Continuations[e] = c
	}
	for r := range g.ResourceRelationships {
		out.ResourceRelationships[r] = struct{}{}
	}
	for c := range g.TemporalConstraints {
		out.TemporalConstraints[c] = struct{}{}
	}
	for id, caps := range g.CapabilityAuthorizations {
		out.CapabilityAuthorizations[id] = slices.Clone(caps)
	}
	for d := range g.Domains {
		out.Domains[d] = struct{}{}
	}
	for k, v := range g.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// EffectByName returns the effect with the given name.
func (g *Graph) EffectByName(name string) (*EffectNode, bool) {
	for _, e := range g.Effects {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// ResourceByName returns the resource with the given name.
func (g *Graph) ResourceByName(name string) (*ResourceNode, bool) {
	for _, r := range g.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// EffectIDs returns every effect id in byte order.
func (g *Graph) EffectIDs() []ids.EffectID {
	return ids.SortedKeys(g.Effects)
}

// ResourceIDs returns every resource id in byte order.
func (g *Graph) ResourceIDs() []ids.ResourceID {
	return ids.SortedKeys(g.Resources)
}

// DependencyEdges returns the dependency edges in (from, to) order.
func (g *Graph) DependencyEdges() []Edge {
	return sortedSet(g.Dependencies, compareEdges)
}

// ContinuationEdges returns the continuation edges in (from, to) order.
func (g *Graph) ContinuationEdges() []Edge {
	out := make([]Edge, 0, len(g.Continuations))
	for e := range g.Continuations {
		out = append(out, e)
	}
	slices.SortFunc(out, compareEdges)
	return out
}

// DomainIDs returns the graph's domain set in byte order.
func (g *Graph) DomainIDs() []ids.DomainID {
	return ids.SortedKeys(g.Domains)
}

// DependenciesOf returns the effects that must complete before id.
func (g *Graph) DependenciesOf(id ids.EffectID) []ids.EffectID {
	var out []ids.EffectID
	for e := range g.Dependencies {
		if e.To == id {
			out = append(out, e.From)
		}
	}
	ids.Sort(out)
	return out
}

// Validate checks referential integrity: every edge endpoint, access,
// relationship, constraint, and capability authorization names a node in
// the graph, and every node's domain is in the domain set. Dependency
// edges must be acyclic.
func (g *Graph) Validate() error {
	const where = "teg.validate"
	missingEffect := func(what string, id ids.EffectID) error {
		return errs.New(errs.ValidationFailed, where, "%s references unknown effect %s", what, id.Short())
	}
	for _, id := range g.EffectIDs() {
		e := g.Effects[id]
		if e.ID != id {
			return errs.New(errs.ValidationFailed, where, "effect %s stored under %s", e.ID.Short(), id.Short())
		}
		if _, ok := g.Domains[e.Domain]; !ok {
			return errs.New(errs.ValidationFailed, where, "effect %q domain %s not in graph domains", e.Name, e.Domain.Short())
		}
		for _, r := range e.ResourcesAccessed() {
			if _, ok := g.Resources[r]; !ok {
				return errs.New(errs.ValidationFailed, where, "effect %q accesses unknown resource %s", e.Name, r.Short())
			}
		}
	}
	for _, id := range g.ResourceIDs() {
		r := g.Resources[id]
		if r.ID != id {
			return errs.New(errs.ValidationFailed, where, "resource %s stored under %s", r.ID.Short(), id.Short())
		}
		if _, ok := g.Domains[r.Domain]; !ok {
			return errs.New(errs.ValidationFailed, where, "resource %q domain %s not in graph domains", r.Name, r.Domain.Short())
		}
	}
	for _, e := range g.DependencyEdges() {
		if !g.hasEffect(e.From) {
			return missingEffect("dependency", e.From)
		}
		if !g.hasEffect(e.To) {
			return missingEffect("dependency", e.To)
		}
	}
	for _, e := range g.ContinuationEdges() {
		if !g.hasEffect(e.From) {
			return missingEffect("continuation", e.From)
		}
		if !g.hasEffect(e.To) {
			return missingEffect("continuation", e.To)
		}
	}
	for _, rel := range sortedSet(g.ResourceRelationships, compareRelationships) {
		for _, r := range []ids.ResourceID{rel.From, rel.To} {
			if _, ok := g.Resources[r]; !ok {
				return errs.New(errs.ValidationFailed, where, "relationship %q references unknown resource %s", rel.Kind, r.Short())
			}
		}
	}
	for _, c := range sortedSet(g.TemporalConstraints, compareConstraints) {
		if !g.hasEffect(c.Source) {
			return missingEffect("temporal constraint", c.Source)
		}
		if !g.hasEffect(c.Target) {
			return missingEffect("temporal constraint", c.Target)
		}
	}
	for _, id := range ids.SortedKeys(g.CapabilityAuthorizations) {
		if !g.hasEffect(id) {
			return missingEffect("capability authorization", id)
		}
	}
	return checkDependencyCycles(g)
}

func (g *Graph) hasEffect(id ids.EffectID) bool {
	_, ok := g.Effects[id]
	return ok
}

// Equal reports whether a and b have identical canonical encodings.
func Equal(a, b *Graph) bool {
	return bytes.Equal(codec.Marshal(a), codec.Marshal(b))
}

// EncodeTo implements codec.Marshaler. Every collection is written in byte
// order of its keys.
func (g *Graph) EncodeTo(e *codec.Encoder) {
	effects := g.EffectIDs()
	e.WriteLen(len(effects))
	for _, id := range effects {
		e.Write(g.Effects[id])
	}
	resources := g.ResourceIDs()
	e.WriteLen(len(resources))
	for _, id := range resources {
		e.Write(g.Resources[id])
	}
	deps := g.DependencyEdges()
	e.WriteLen(len(deps))
	for _, d := range deps {
		e.Write(d)
	}
	conts := g.ContinuationEdges()
	e.WriteLen(len(conts))
	for _, c := range conts {
		e.Write(c)
		cond := g.Continuations[c]
		e.WriteOption(cond != nil)
		if cond != nil {
			e.WriteString(cond.Expr)
		}
	}
	rels := sortedSet(g.ResourceRelationships, compareRelationships)
	e.WriteLen(len(rels))
	for _, r := range rels {
		e.Write(r.From)
		e.Write(r.To)
		e.WriteString(r.Kind)
	}
	cons := sortedSet(g.TemporalConstraints, compareConstraints)
	e.WriteLen(len(cons))
	for _, c := range cons {
		c.encode(e)
	}
	authz := ids.SortedKeys(g.CapabilityAuthorizations)
	e.WriteLen(len(authz))
	for _, id := range authz {
		e.Write(id)
		e.WriteStrings(g.CapabilityAuthorizations[id])
	}
	domains := g.DomainIDs()
	e.WriteLen(len(domains))
	for _, d := range domains {
		e.Write(d)
	}
	e.WriteMap(g.Metadata)
}

// DecodeFrom implements codec.Unmarshaler.
func (g *Graph) DecodeFrom(d *codec.Decoder) error {
	*g = *New()
	n, err := d.ReadLen(ids.Size)
	if err != nil {
		return codec.Errorf("graph", err)
	}
	for i := 0; i < n; i++ {
		node := &EffectNode{}
		if err := d.Read(node); err != nil {
			return codec.Errorf("graph", err)
		}
		g.Effects[node.ID] = node
	}
	if n, err = d.ReadLen(ids.Size); err != nil {
		return codec.Errorf("graph", err)
	}
	for i := 0; i < n; i++ {
		node := &ResourceNode{}
		if err := d.Read(node); err != nil {
			return codec.Errorf("graph", err)
		}
		g.Resources[node.ID] = node
	}
	if n, err = d.ReadLen(2 * ids.Size); err != nil {
		return codec.Errorf("graph", err)
	}
	for i := 0; i < n; i++ {
		var edge Edge
		if err := d.Read(&edge); err != nil {
			return codec.Errorf("graph", err)
		}
		g.Dependencies[edge] = struct{}{}
	}
	if n, err = d.ReadLen(2*ids.Size + 1); err != nil {
		return codec.Errorf("graph", err)
	}
	for i := 0; i < n; i++ {
		var edge Edge
		if err := d.Read(&edge); err != nil {
			return codec.Errorf("graph", err)
		}
		present, err := d.ReadOption()
		if err != nil {
			return codec.Errorf("graph", err)
		}
		var cond *Condition
		if present {
			src, err := d.ReadString()
			if err != nil {
				return codec.Errorf("graph", err)
			}
			cond = &Condition{Expr: src}
		}
		g.Continuations[edge] = cond
	}
	if n, err = d.ReadLen(2*ids.Size + 8); err != nil {
		return codec.Errorf("graph", err)
	}
	for i := 0; i < n; i++ {
		var rel ResourceRelationship
		if err := d.Read(&rel.From); err != nil {
			return codec.Errorf("graph", err)
		}
		if err := d.Read(&rel.To); err != nil {
			return codec.Errorf("graph", err)
		}
		if rel.Kind, err = d.ReadString(); err != nil {
			return codec.Errorf("graph", err)
		}
		g.ResourceRelationships[rel] = struct{}{}
	}
	if n, err = d.ReadLen(2*ids.Size + 17); err != nil {
		return codec.Errorf("graph", err)
	}
	for i := 0; i < n; i++ {
		var c TemporalConstraint
		if err := d.Read(&c.Source); err != nil {
			return codec.Errorf("graph", err)
		}
		if err := d.Read(&c.Target); err != nil {
			return codec.Errorf("graph", err)
		}
		kind, err := d.ReadVariant(uint8(numConstraintKinds))
		if err != nil {
			return codec.Errorf("graph", err)
		}
		c.Kind = ConstraintKind(kind)
		lo, err := d.ReadI64()
		if err != nil {
			return codec.Errorf("graph", err)
		}
		hi, err := d.ReadI64()
		if err != nil {
			return codec.Errorf("graph", err)
		}
		c.Min, c.Max = time.Duration(lo), time.Duration(hi)
		g.TemporalConstraints[c] = struct{}{}
	}
	if n, err = d.ReadLen(ids.Size + 8); err != nil {
		return codec.Errorf("graph", err)
	}
	for i := 0; i < n; i++ {
		var id ids.EffectID
		if err := d.Read(&id); err != nil {
			return codec.Errorf("graph", err)
		}
		caps, err := d.ReadStrings()
		if err != nil {
			return codec.Errorf("graph", err)
		}
		g.CapabilityAuthorizations[id] = caps
	}
	if n, err = d.ReadLen(ids.Size); err != nil {
		return codec.Errorf("graph", err)
	}
	for i := 0; i < n; i++ {
		var dom ids.DomainID
		if err := d.Read(&dom); err != nil {
			return codec.Errorf("graph", err)
		}
		g.Domains[dom] = struct{}{}
	}
	if g.Metadata, err = d.ReadMap(); err != nil {
		return codec.Errorf("graph", err)
	}
	return nil
}

func sortedSet[T comparable](set map[T]struct{}, cmp func(a, b T) int) []T {
	out := make([]T, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.SortFunc(out, cmp)
	return out
}

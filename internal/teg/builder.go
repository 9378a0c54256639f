package teg

import (
	"time"

	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

// Builder assembles a Graph. Nodes are named while building; edges refer
// to names and are resolved to content-hash ids by Build.
//
// Errors are collected and the first one is returned from Build.
//
// Example:
//
//	g, err := teg.NewBuilder().
//		Resource("r1").Type("t1").Domain(d1).Add().
//		Effect("e1").Type(teg.EffectWrite).Domain(d1).Access("r1", teg.AccessWrite).Add().
//		Effect("e2").Type(teg.EffectRead).Domain(d1).Add().
//		DependsOn("e2", "e1").
//		Build()
type Builder struct {
	effects     map[string]*effectDraft
	effectOrder []string
	resources   map[string]*ResourceNode
	deps        [][2]string
	conts       []contDraft
	rels        []relDraft
	constraints []constraintDraft
	authz       map[string][]string
	metadata    map[string]string
	err         error
}

type effectDraft struct {
	node     *EffectNode
	accesses map[string]AccessMode
}

type contDraft struct {
	from, to, cond string
}

type relDraft struct {
	from, to, kind string
}

type constraintDraft struct {
	source, target string
	kind           ConstraintKind
	min, max       time.Duration
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		effects:   make(map[string]*effectDraft),
		resources: make(map[string]*ResourceNode),
		authz:     make(map[string][]string),
		metadata:  make(map[string]string),
	}
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = errs.New(errs.InvalidArgument, "teg.build", format, args...)
	}
}

// EffectBuilder configures one effect node.
type EffectBuilder struct {
	b     *Builder
	draft *effectDraft
}

// Effect starts an effect named name.
func (b *Builder) Effect(name string) *EffectBuilder {
	return &EffectBuilder{b: b, draft: &effectDraft{
		node:     &EffectNode{Name: name},
		accesses: make(map[string]AccessMode),
	}}
}

func (eb *EffectBuilder) Type(effectType string) *EffectBuilder {
	eb.draft.node.EffectType = effectType
	return eb
}

func (eb *EffectBuilder) Domain(d ids.DomainID) *EffectBuilder {
	eb.draft.node.Domain = d
	return eb
}

// Param sets one parameter.
func (eb *EffectBuilder) Param(key string, v value.Value) *EffectBuilder {
	if eb.draft.node.Parameters == nil {
		eb.draft.node.Parameters = value.Object{}
	}
	eb.draft.node.Parameters[key] = v
	return eb
}

// RequireCapability sets the effect's explicit capability.
func (eb *EffectBuilder) RequireCapability(capability string) *EffectBuilder {
	eb.draft.node.Capability = capability
	return eb
}

// Access declares that the effect touches the resource named resource.
func (eb *EffectBuilder) Access(resource string, mode AccessMode) *EffectBuilder {
	eb.draft.accesses[resource] = mode
	return eb
}

func (eb *EffectBuilder) ReturnType(t string) *EffectBuilder {
	eb.draft.node.ReturnType = t
	return eb
}

func (eb *EffectBuilder) Metadata(key, val string) *EffectBuilder {
	if eb.draft.node.Metadata == nil {
		eb.draft.node.Metadata = make(map[string]string)
	}
	eb.draft.node.Metadata[key] = val
	return eb
}

// Add records the effect. Adding a content-equal effect under an existing
// name is a no-op; different content under the same name is an error.
func (eb *EffectBuilder) Add() *Builder {
	b, n := eb.b, eb.draft.node
	switch {
	case n.Name == "":
		b.fail("effect name must not be empty")
		return b
	case n.EffectType == "":
		b.fail("effect %q has no type", n.Name)
		return b
	case n.Domain.IsZero():
		b.fail("effect %q has no domain", n.Name)
		return b
	}
	if prev, ok := b.effects[n.Name]; ok {
		if !sameEffectDraft(prev, eb.draft) {
			b.fail("effect %q added twice with different content", n.Name)
		}
		return b
	}
	b.effects[n.Name] = eb.draft
	b.effectOrder = append(b.effectOrder, n.Name)
	return b
}

func sameEffectDraft(a, b *effectDraft) bool {
	if len(a.accesses) != len(b.accesses) {
		return false
	}
	for k, m := range a.accesses {
		if bm, ok := b.accesses[k]; !ok || bm != m {
			return false
		}
	}
	enc := func(n *EffectNode) string {
		return string(codec.ContentView(codec.Func(n.encodeContent)))
	}
	return enc(a.node) == enc(b.node)
}

// ResourceBuilder configures one resource node.
type ResourceBuilder struct {
	b    *Builder
	node *ResourceNode
}

// Resource starts a resource named name.
func (b *Builder) Resource(name string) *ResourceBuilder {
	return &ResourceBuilder{b: b, node: &ResourceNode{Name: name}}
}

func (rb *ResourceBuilder) Type(resourceType string) *ResourceBuilder {
	rb.node.ResourceType = resourceType
	return rb
}

func (rb *ResourceBuilder) Domain(d ids.DomainID) *ResourceBuilder {
	rb.node.Domain = d
	return rb
}

func (rb *ResourceBuilder) State(v value.Value) *ResourceBuilder {
	rb.node.State = v
	return rb
}

func (rb *ResourceBuilder) Metadata(key, val string) *ResourceBuilder {
	if rb.node.Metadata == nil {
		rb.node.Metadata = make(map[string]string)
	}
	rb.node.Metadata[key] = val
	return rb
}

// Add records the resource with the same duplicate rules as effects.
func (rb *ResourceBuilder) Add() *Builder {
	b, n := rb.b, rb.node
	switch {
	case n.Name == "":
		b.fail("resource name must not be empty")
		return b
	case n.ResourceType == "":
		b.fail("resource %q has no type", n.Name)
		return b
	case n.Domain.IsZero():
		b.fail("resource %q has no domain", n.Name)
		return b
	}
	if prev, ok := b.resources[n.Name]; ok {
		if prev.contentID() != n.contentID() {
			b.fail("resource %q added twice with different content", n.Name)
		}
		return b
	}
	b.resources[n.Name] = n
	return b
}

// DependsOn records that dependent cannot execute until dependency has.
func (b *Builder) DependsOn(dependent, dependency string) *Builder {
	b.deps = append(b.deps, [2]string{dependency, dependent})
	return b
}

// ContinuesTo records a continuation from one effect to another. An empty
// condition makes the edge unconditional.
func (b *Builder) ContinuesTo(from, to, condition string) *Builder {
	b.conts = append(b.conts, contDraft{from: from, to: to, cond: condition})
	return b
}

// RelatesTo links two resources with a relationship kind.
func (b *Builder) RelatesTo(from, to, kind string) *Builder {
	b.rels = append(b.rels, relDraft{from: from, to: to, kind: kind})
	return b
}

// TemporalConstraint orders two effects in time.
func (b *Builder) TemporalConstraint(source, target string, kind ConstraintKind, min, max time.Duration) *Builder {
	b.constraints = append(b.constraints, constraintDraft{source, target, kind, min, max})
	return b
}

// AuthorizeCapability grants capabilities to an effect.
func (b *Builder) AuthorizeCapability(effect string, caps ...string) *Builder {
	b.authz[effect] = append(b.authz[effect], caps...)
	return b
}

// Metadata sets a graph-level metadata entry.
func (b *Builder) Metadata(key, val string) *Builder {
	b.metadata[key] = val
	return b
}

// Build resolves names, assigns content-hash ids, derives required
// capabilities, and checks referential integrity.
func (b *Builder) Build() (*Graph, error) {
	const where = "teg.build"
	if b.err != nil {
		return nil, b.err
	}
	g := New()

	resourceIDs := make(map[string]ids.ResourceID, len(b.resources))
	for name, r := range b.resources {
		node := r.Clone()
		node.ID = node.contentID()
		g.Resources[node.ID] = node
		g.Domains[node.Domain] = struct{}{}
		resourceIDs[name] = node.ID
	}

	effectIDs := make(map[string]ids.EffectID, len(b.effects))
	for _, name := range b.effectOrder {
		draft := b.effects[name]
		node := draft.node.Clone()
		node.Accesses = make(map[ids.ResourceID]AccessMode, len(draft.accesses))
		for rname, mode := range draft.accesses {
			rid, ok := resourceIDs[rname]
			if !ok {
				return nil, errs.New(errs.ValidationFailed, where, "effect %q accesses unknown resource %q", name, rname)
			}
			node.Accesses[rid] = mode
		}
		node.ID = node.contentID()
		g.Effects[node.ID] = node
		g.Domains[node.Domain] = struct{}{}
		effectIDs[name] = node.ID
	}

	effect := func(name string) (ids.EffectID, error) {
		id, ok := effectIDs[name]
		if !ok {
			return ids.EffectID{}, errs.New(errs.ValidationFailed, where, "unknown effect %q", name)
		}
		return id, nil
	}
	edge := func(from, to string) (Edge, error) {
		f, err := effect(from)
		if err != nil {
			return Edge{}, err
		}
		t, err := effect(to)
		if err != nil {
			return Edge{}, err
		}
		return Edge{From: f, To: t}, nil
	}

	for _, d := range b.deps {
		e, err := edge(d[0], d[1])
		if err != nil {
			return nil, err
		}
		g.Dependencies[e] = struct{}{}
	}
	for _, c := range b.conts {
		e, err := edge(c.from, c.to)
		if err != nil {
			return nil, err
		}
		var cond *Condition
		if c.cond != "" {
			if cond, err = NewCondition(c.cond); err != nil {
				return nil, err
			}
		}
		g.Continuations[e] = cond
	}
	for _, r := range b.rels {
		from, ok := resourceIDs[r.from]
		if !ok {
			return nil, errs.New(errs.ValidationFailed, where, "unknown resource %q", r.from)
		}
		to, ok := resourceIDs[r.to]
		if !ok {
			return nil, errs.New(errs.ValidationFailed, where, "unknown resource %q", r.to)
		}
		g.ResourceRelationships[ResourceRelationship{From: from, To: to, Kind: r.kind}] = struct{}{}
	}
	for _, c := range b.constraints {
		e, err := edge(c.source, c.target)
		if err != nil {
			return nil, err
		}
		g.TemporalConstraints[TemporalConstraint{Source: e.From, Target: e.To, Kind: c.kind, Min: c.min, Max: c.max}] = struct{}{}
	}
	for name, caps := range b.authz {
		id, err := effect(name)
		if err != nil {
			return nil, err
		}
		g.CapabilityAuthorizations[id] = normalizeCaps(caps)
	}
	for k, v := range b.metadata {
		g.Metadata[k] = v
	}

	g.deriveCapabilities()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

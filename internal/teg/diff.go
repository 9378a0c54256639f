package teg

import (
	"slices"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// Diff lists what changed between two graphs. Every slice is sorted, so
// Diff(a, b) is deterministic and Diff(b, a) is its Reverse.
//
// A node present in both graphs under the same id with different content
// is modified. A continuation whose condition changed appears in both
// RemovedContinuations and AddedContinuations.
type Diff struct {
	AddedEffects    []ids.EffectID
	RemovedEffects  []ids.EffectID
	ModifiedEffects []ids.EffectID

	AddedResources    []ids.ResourceID
	RemovedResources  []ids.ResourceID
	ModifiedResources []ids.ResourceID

	AddedDependencies   []Edge
	RemovedDependencies []Edge

	AddedContinuations   []Edge
	RemovedContinuations []Edge

	AddedRelationships   []ResourceRelationship
	RemovedRelationships []ResourceRelationship

	AddedConstraints   []TemporalConstraint
	RemovedConstraints []TemporalConstraint
}

// IsEmpty reports whether the diff has no entries.
func (d Diff) IsEmpty() bool {
	return len(d.AddedEffects) == 0 && len(d.RemovedEffects) == 0 && len(d.ModifiedEffects) == 0 &&
		len(d.AddedResources) == 0 && len(d.RemovedResources) == 0 && len(d.ModifiedResources) == 0 &&
		len(d.AddedDependencies) == 0 && len(d.RemovedDependencies) == 0 &&
		len(d.AddedContinuations) == 0 && len(d.RemovedContinuations) == 0 &&
		len(d.AddedRelationships) == 0 && len(d.RemovedRelationships) == 0 &&
		len(d.AddedConstraints) == 0 && len(d.RemovedConstraints) == 0
}

// Reverse returns the diff that undoes d.
func (d Diff) Reverse() Diff {
	return Diff{
		AddedEffects:         d.RemovedEffects,
		RemovedEffects:       d.AddedEffects,
		ModifiedEffects:      d.ModifiedEffects,
		AddedResources:       d.RemovedResources,
		RemovedResources:     d.AddedResources,
		ModifiedResources:    d.ModifiedResources,
		AddedDependencies:    d.RemovedDependencies,
		RemovedDependencies:  d.AddedDependencies,
		AddedContinuations:   d.RemovedContinuations,
		RemovedContinuations: d.AddedContinuations,
		AddedRelationships:   d.RemovedRelationships,
		RemovedRelationships: d.AddedRelationships,
		AddedConstraints:     d.RemovedConstraints,
		RemovedConstraints:   d.AddedConstraints,
	}
}

// Compare returns the changes that turn a into b.
func Compare(a, b *Graph) Diff {
	var d Diff
	d.AddedEffects, d.RemovedEffects, d.ModifiedEffects = diffNodes(a.Effects, b.Effects,
		func(x, y *EffectNode) bool { return x.contentID() == y.contentID() })
	d.AddedResources, d.RemovedResources, d.ModifiedResources = diffNodes(a.Resources, b.Resources,
		func(x, y *ResourceNode) bool { return x.contentID() == y.contentID() })
	d.AddedDependencies, d.RemovedDependencies = diffSets(a.Dependencies, b.Dependencies, compareEdges)
	d.AddedContinuations, d.RemovedContinuations = diffContinuations(a.Continuations, b.Continuations)
	d.AddedRelationships, d.RemovedRelationships = diffSets(a.ResourceRelationships, b.ResourceRelationships, compareRelationships)
	d.AddedConstraints, d.RemovedConstraints = diffSets(a.TemporalConstraints, b.TemporalConstraints, compareConstraints)
	return d
}

func diffNodes[K ids.Kind, N any](a, b map[ids.ID[K]]N, same func(x, y N) bool) (added, removed, modified []ids.ID[K]) {
	added, removed, modified = []ids.ID[K]{}, []ids.ID[K]{}, []ids.ID[K]{}
	for _, id := range ids.SortedKeys(b) {
		prev, ok := a[id]
		switch {
		case !ok:
			added = append(added, id)
		case !same(prev, b[id]):
			modified = append(modified, id)
		}
	}
	for _, id := range ids.SortedKeys(a) {
		if _, ok := b[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed, modified
}

func diffSets[T comparable](a, b map[T]struct{}, cmp func(x, y T) int) (added, removed []T) {
	added, removed = []T{}, []T{}
	for v := range b {
		if _, ok := a[v]; !ok {
			added = append(added, v)
		}
	}
	for v := range a {
		if _, ok := b[v]; !ok {
			removed = append(removed, v)
		}
	}
	slices.SortFunc(added, cmp)
	slices.SortFunc(removed, cmp)
	return added, removed
}

func diffContinuations(a, b map[Edge]*Condition) (added, removed []Edge) {
	added, removed = []Edge{}, []Edge{}
	for e, cond := range b {
		prev, ok := a[e]
		if !ok {
			added = append(added, e)
			continue
		}
		if !sameCondition(prev, cond) {
			added = append(added, e)
			removed = append(removed, e)
		}
	}
	for e := range a {
		if _, ok := b[e]; !ok {
			removed = append(removed, e)
		}
	}
	slices.SortFunc(added, compareEdges)
	slices.SortFunc(removed, compareEdges)
	return added, removed
}

func sameCondition(a, b *Condition) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Expr == b.Expr
}

// Apply replays d, computed as Compare(base, target), on a copy of base.
// Node contents and continuation conditions are read from target, as are
// capability authorizations, domains, and metadata. Apply(a, Compare(a, b), b)
// equals b.
func Apply(base *Graph, d Diff, target *Graph) (*Graph, error) {
	const op = "teg.apply"
	tx := base.Begin()
	for _, id := range d.RemovedEffects {
		if err := tx.RemoveEffect(id); err != nil {
			return nil, err
		}
	}
	for _, id := range d.RemovedResources {
		if err := tx.RemoveResource(id); err != nil {
			return nil, err
		}
	}
	work := tx.work
	for _, id := range append(slices.Clone(d.AddedResources), d.ModifiedResources...) {
		r, ok := target.Resources[id]
		if !ok {
			return nil, errs.New(errs.NotFound, op, "resource %s missing from target", id.Short())
		}
		work.Resources[id] = r.Clone()
	}
	for _, id := range append(slices.Clone(d.AddedEffects), d.ModifiedEffects...) {
		e, ok := target.Effects[id]
		if !ok {
			return nil, errs.New(errs.NotFound, op, "effect %s missing from target", id.Short())
		}
		work.Effects[id] = e.Clone()
	}
	for _, e := range d.RemovedDependencies {
		delete(work.Dependencies, e)
	}
	for _, e := range d.AddedDependencies {
		work.Dependencies[e] = struct{}{}
	}
	for _, e := range d.RemovedContinuations {
		delete(work.Continuations, e)
	}
	for _, e := range d.AddedContinuations {
		cond, ok := target.Continuations[e]
		if !ok {
			return nil, errs.New(errs.NotFound, op, "continuation %s -> %s missing from target", e.From.Short(), e.To.Short())
		}
		work.Continuations[e] = cond
	}
	for _, r := range d.RemovedRelationships {
		delete(work.ResourceRelationships, r)
	}
	for _, r := range d.AddedRelationships {
		work.ResourceRelationships[r] = struct{}{}
	}
	for _, c := range d.RemovedConstraints {
		delete(work.TemporalConstraints, c)
	}
	for _, c := range d.AddedConstraints {
		work.TemporalConstraints[c] = struct{}{}
	}

	work.CapabilityAuthorizations = make(map[ids.EffectID][]string)
	for id, caps := range target.CapabilityAuthorizations {
		if _, ok := work.Effects[id]; ok {
			work.CapabilityAuthorizations[id] = slices.Clone(caps)
		}
	}
	work.Domains = make(map[ids.DomainID]struct{}, len(target.Domains))
	for dom := range target.Domains {
		work.Domains[dom] = struct{}{}
	}
	work.Metadata = cloneMap(target.Metadata)
	if work.Metadata == nil {
		work.Metadata = make(map[string]string)
	}
	return tx.Commit()
}

// Merge unions other into a copy of base. On id collisions other's node
// contents and continuation conditions win; every other collection is a
// union. A merge that closes a dependency cycle fails validation.
func Merge(base, other *Graph) (*Graph, error) {
	out := base.Clone()
	for id, e := range other.Effects {
		out.Effects[id] = e.Clone()
	}
	for id, r := range other.Resources {
		out.Resources[id] = r.Clone()
	}
	for e := range other.Dependencies {
		out.Dependencies[e] = struct{}{}
	}
	for e, c := range other.Continuations {
		out.Continuations[e] = c
	}
	for r := range other.ResourceRelationships {
		out.ResourceRelationships[r] = struct{}{}
	}
	for c := range other.TemporalConstraints {
		out.TemporalConstraints[c] = struct{}{}
	}
	for id, caps := range other.CapabilityAuthorizations {
		merged := append(slices.Clone(out.CapabilityAuthorizations[id]), caps...)
		out.CapabilityAuthorizations[id] = normalizeCaps(merged)
	}
	for d := range other.Domains {
		out.Domains[d] = struct{}{}
	}
	for k, v := range other.Metadata {
		out.Metadata[k] = v
	}
	out.deriveCapabilities()
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

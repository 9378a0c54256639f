package teg

import (
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// ExtractOptions selects which edge kinds ExtractSubgraph follows.
type ExtractOptions struct {
	// Dependencies pulls in every effect the selection transitively
	// depends on.
	Dependencies bool
	// Continuations pulls in every effect reachable by continuation edges.
	Continuations bool
	// Resources keeps the resources accessed by included effects.
	Resources bool
}

// ExtractSubgraph returns the closure of roots under the edge kinds chosen
// in opts. Edges, relationships, constraints, and authorizations are kept
// only when all their endpoints are included. Without opts.Resources the
// included effects lose their access entries.
func ExtractSubgraph(g *Graph, roots []ids.EffectID, opts ExtractOptions) (*Graph, error) {
	included := make(map[ids.EffectID]struct{}, len(roots))
	queue := make([]ids.EffectID, 0, len(roots))
	for _, id := range roots {
		if _, ok := g.Effects[id]; !ok {
			return nil, errs.New(errs.NotFound, "teg.extract", "effect %s not found", id.Short())
		}
		if _, seen := included[id]; !seen {
			included[id] = struct{}{}
			queue = append(queue, id)
		}
	}

	deps := g.DependencyEdges()
	conts := g.ContinuationEdges()
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visit := func(id ids.EffectID) {
			if _, seen := included[id]; !seen {
				included[id] = struct{}{}
				queue = append(queue, id)
			}
		}
		if opts.Dependencies {
			for _, e := range deps {
				if e.To == cur {
					visit(e.From)
				}
			}
		}
		if opts.Continuations {
			for _, e := range conts {
				if e.From == cur {
					visit(e.To)
				}
			}
		}
	}

	return project(g, func(e *EffectNode) bool {
		_, ok := included[e.ID]
		return ok
	}, func(r *ResourceNode, accessed bool) bool {
		return opts.Resources && accessed
	}, opts.Dependencies, opts.Continuations), nil
}

// FilterByDomain keeps only the effects and resources living in domain d
// and the edges between them.
func FilterByDomain(g *Graph, d ids.DomainID) *Graph {
	out := project(g, func(e *EffectNode) bool {
		return e.Domain == d
	}, func(r *ResourceNode, _ bool) bool {
		return r.Domain == d
	}, true, true)
	out.Domains = map[ids.DomainID]struct{}{d: {}}
	return out
}

// project copies the effects selected by keepEffect and the resources
// selected by keepResource into a new graph. keepResource is told whether
// any kept effect accesses the resource.
func project(g *Graph, keepEffect func(*EffectNode) bool, keepResource func(*ResourceNode, bool) bool, withDeps, withConts bool) *Graph {
	out := New()
	accessed := make(map[ids.ResourceID]bool)
	for id, e := range g.Effects {
		if !keepEffect(e) {
			continue
		}
		out.Effects[id] = e.Clone()
		out.Domains[e.Domain] = struct{}{}
		for r := range e.Accesses {
			accessed[r] = true
		}
	}
	for id, r := range g.Resources {
		if keepResource(r, accessed[id]) {
			out.Resources[id] = r.Clone()
			out.Domains[r.Domain] = struct{}{}
		}
	}
	for _, e := range out.Effects {
		for r := range e.Accesses {
			if _, ok := out.Resources[r]; !ok {
				delete(e.Accesses, r)
			}
		}
	}
	both := func(e Edge) bool { return out.hasEffect(e.From) && out.hasEffect(e.To) }
	if withDeps {
		for e := range g.Dependencies {
			if both(e) {
				out.Dependencies[e] = struct{}{}
			}
		}
	}
	if withConts {
		for e, c := range g.Continuations {
			if both(e) {
				out.Continuations[e] = c
			}
		}
	}
	for rel := range g.ResourceRelationships {
		_, from := out.Resources[rel.From]
		_, to := out.Resources[rel.To]
		if from && to {
			out.ResourceRelationships[rel] = struct{}{}
		}
	}
	for c := range g.TemporalConstraints {
		if out.hasEffect(c.Source) && out.hasEffect(c.Target) {
			out.TemporalConstraints[c] = struct{}{}
		}
	}
	for id, caps := range g.CapabilityAuthorizations {
		if out.hasEffect(id) {
			out.CapabilityAuthorizations[id] = append([]string(nil), caps...)
		}
	}
	for k, v := range g.Metadata {
		out.Metadata[k] = v
	}
	out.deriveCapabilities()
	return out
}

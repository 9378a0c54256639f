package teg

import (
	"fmt"
	"strings"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// CycleWarning reports a cycle among continuation edges.
//
// Continuation cycles are warnings, not errors, because they may be
// intentional:
//   - Retry loops guarded by a condition
//   - Polling effects that continue to themselves until a predicate holds
type CycleWarning struct {
	Path    []string `json:"path"` // effect names: ["a", "b", "a"]
	Message string   `json:"message"`
}

// adjacency maps an effect to its successors in byte order.
type adjacency map[ids.EffectID][]ids.EffectID

func buildAdjacency(g *Graph, edges []Edge) adjacency {
	adj := make(adjacency, len(g.Effects))
	for _, id := range g.EffectIDs() {
		adj[id] = []ids.EffectID{}
	}
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	return adj
}

// AnalyzeCycles finds strongly connected components among continuation
// edges (Tarjan's algorithm) and reports each one with more than one
// effect, or a self-loop, as a warning. An acyclic graph returns an empty
// list.
func AnalyzeCycles(g *Graph) []CycleWarning {
	adj := buildAdjacency(g, g.ContinuationEdges())
	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(g.EffectIDs(), adj) {
		if len(scc) > 1 || hasSelfLoop(scc[0], adj) {
			path := reconstructCyclePath(scc, adj)
			names := make([]string, len(path))
			for i, id := range path {
				names[i] = g.Effects[id].Name
			}
			warnings = append(warnings, CycleWarning{
				Path:    names,
				Message: fmt.Sprintf("continuation cycle: %s", strings.Join(names, " -> ")),
			})
		}
	}
	return warnings
}

// checkDependencyCycles rejects dependency cycles, which can never execute.
func checkDependencyCycles(g *Graph) error {
	adj := buildAdjacency(g, g.DependencyEdges())
	for _, scc := range tarjanSCC(g.EffectIDs(), adj) {
		if len(scc) > 1 || hasSelfLoop(scc[0], adj) {
			path := reconstructCyclePath(scc, adj)
			names := make([]string, len(path))
			for i, id := range path {
				names[i] = g.Effects[id].Name
			}
			return errs.New(errs.ValidationFailed, "teg.validate", "dependency cycle: %s", strings.Join(names, " -> "))
		}
	}
	return nil
}

func hasSelfLoop(node ids.EffectID, adj adjacency) bool {
	for _, n := range adj[node] {
		if n == node {
			return true
		}
	}
	return false
}

// tarjanSCC returns the strongly connected components of adj, visiting
// roots in the given order so output is deterministic.
func tarjanSCC(order []ids.EffectID, adj adjacency) [][]ids.EffectID {
	var (
		index   = 0
		stack   []ids.EffectID
		indices = make(map[ids.EffectID]int)
		lowlink = make(map[ids.EffectID]int)
		onStack = make(map[ids.EffectID]bool)
		sccs    [][]ids.EffectID
	)

	var strongConnect func(ids.EffectID)
	strongConnect = func(v ids.EffectID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []ids.EffectID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			ids.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// reconstructCyclePath walks edges inside scc from its first member until
// it returns to the start.
func reconstructCyclePath(scc []ids.EffectID, adj adjacency) []ids.EffectID {
	members := make(map[ids.EffectID]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := scc[0]
	current := start
	path := []ids.EffectID{current}
	visited := make(map[ids.EffectID]bool)
	for {
		visited[current] = true
		var next ids.EffectID
		found := false
		for _, n := range adj[current] {
			if members[n] && (!visited[n] || n == start) {
				next, found = n, true
				break
			}
		}
		if !found {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}

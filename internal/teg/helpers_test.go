package teg

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/ids"
)

var (
	d1 = ids.DomainFromName("D1")
	d2 = ids.DomainFromName("D2")
)

// baseGraph is e1, e2 in D1 and resource r1 of type t1 in D1, with e1
// writing r1 and e2 depending on e1.
func baseGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewBuilder().
		Resource("r1").Type("t1").Domain(d1).Add().
		Effect("e1").Type(EffectWrite).Domain(d1).Access("r1", AccessWrite).Add().
		Effect("e2").Type(EffectRead).Domain(d1).Access("r1", AccessRead).Add().
		DependsOn("e2", "e1").
		Build()
	require.NoError(t, err)
	return g
}

func effectID(t *testing.T, g *Graph, name string) ids.EffectID {
	t.Helper()
	e, ok := g.EffectByName(name)
	require.True(t, ok, "effect %q", name)
	return e.ID
}

func resourceID(t *testing.T, g *Graph, name string) ids.ResourceID {
	t.Helper()
	r, ok := g.ResourceByName(name)
	require.True(t, ok, "resource %q", name)
	return r.ID
}

func effectNames(g *Graph) []string {
	names := []string{}
	for _, id := range g.EffectIDs() {
		names = append(names, g.Effects[id].Name)
	}
	slices.Sort(names)
	return names
}

func resourceNames(g *Graph) []string {
	names := []string{}
	for _, id := range g.ResourceIDs() {
		names = append(names, g.Resources[id].Name)
	}
	slices.Sort(names)
	return names
}

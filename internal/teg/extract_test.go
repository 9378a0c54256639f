package teg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/smt"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

// chainGraph: a -> b (dependency), b => c (continuation), c => d in D2,
// with a writing r1 and d reading r2.
func chainGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewBuilder().
		Resource("r1").Type("t1").Domain(d1).Add().
		Resource("r2").Type("t2").Domain(d2).Add().
		Effect("a").Type(EffectWrite).Domain(d1).Access("r1", AccessWrite).Add().
		Effect("b").Type(EffectCall).Domain(d1).Add().
		Effect("c").Type(EffectCall).Domain(d1).Param("amount", value.Int(50)).Add().
		Effect("d").Type(EffectRead).Domain(d2).Access("r2", AccessRead).Add().
		DependsOn("b", "a").
		ContinuesTo("b", "c", "").
		ContinuesTo("c", "d", "amount > 10").
		RelatesTo("r1", "r2", "bridge").
		Build()
	require.NoError(t, err)
	return g
}

func TestExtractSubgraph(t *testing.T) {
	g := chainGraph(t)
	b := effectID(t, g, "b")

	tests := []struct {
		name      string
		opts      ExtractOptions
		effects   []string
		resources []string
	}{
		{"root only", ExtractOptions{}, []string{"b"}, []string{}},
		{"dependencies", ExtractOptions{Dependencies: true}, []string{"a", "b"}, []string{}},
		{"continuations", ExtractOptions{Continuations: true}, []string{"b", "c", "d"}, []string{}},
		{"everything", ExtractOptions{Dependencies: true, Continuations: true, Resources: true},
			[]string{"a", "b", "c", "d"}, []string{"r1", "r2"}},
		{"dependencies with resources", ExtractOptions{Dependencies: true, Resources: true},
			[]string{"a", "b"}, []string{"r1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := ExtractSubgraph(g, []ids.EffectID{b}, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.effects, effectNames(sub))
			assert.Equal(t, tt.resources, resourceNames(sub))
			require.NoError(t, sub.Validate())
		})
	}

	t.Run("resources dropped prune accesses", func(t *testing.T) {
		sub, err := ExtractSubgraph(g, []ids.EffectID{effectID(t, g, "a")}, ExtractOptions{})
		require.NoError(t, err)
		assert.Empty(t, sub.Effects[effectID(t, g, "a")].Accesses)
	})

	t.Run("everything keeps relationships", func(t *testing.T) {
		sub, err := ExtractSubgraph(g, []ids.EffectID{b}, ExtractOptions{true, true, true})
		require.NoError(t, err)
		assert.True(t, Equal(g, sub))
	})

	t.Run("unknown root", func(t *testing.T) {
		_, err := ExtractSubgraph(g, []ids.EffectID{{1}}, ExtractOptions{})
		assert.Equal(t, errs.NotFound, errs.KindOf(err))
	})
}

func TestFilterByDomain(t *testing.T) {
	g := chainGraph(t)

	one := FilterByDomain(g, d1)
	assert.Equal(t, []string{"a", "b", "c"}, effectNames(one))
	assert.Equal(t, []string{"r1"}, resourceNames(one))
	assert.Equal(t, []ids.DomainID{d1}, one.DomainIDs())
	assert.Len(t, one.DependencyEdges(), 1)
	assert.Len(t, one.ContinuationEdges(), 1)
	assert.Empty(t, one.ResourceRelationships)
	require.NoError(t, one.Validate())

	two := FilterByDomain(g, d2)
	assert.Equal(t, []string{"d"}, effectNames(two))
	assert.Empty(t, two.ContinuationEdges())
	require.NoError(t, two.Validate())
}

func TestEligibleContinuations(t *testing.T) {
	g := chainGraph(t)
	b, c, d := effectID(t, g, "b"), effectID(t, g, "c"), effectID(t, g, "d")

	next, err := g.EligibleContinuations(b, nil)
	require.NoError(t, err)
	assert.Equal(t, []ids.EffectID{c}, next)

	next, err = g.EligibleContinuations(c, nil)
	require.NoError(t, err)
	assert.Equal(t, []ids.EffectID{d}, next)

	next, err = g.EligibleContinuations(c, map[string]any{"amount": 5})
	require.NoError(t, err)
	assert.Empty(t, next)

	_, err = g.EligibleContinuations(ids.EffectID{3}, nil)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestConditionEvaluate(t *testing.T) {
	cond, err := NewCondition(`status == "ok" && retries < 3`)
	require.NoError(t, err)

	ok, err := cond.Evaluate(value.NewObject(value.O("status", value.String("ok"))), map[string]any{"retries": 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.Evaluate(value.NewObject(value.O("status", value.String("failed"))), map[string]any{"retries": 1})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = NewCondition("")
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
	_, err = NewCondition("status ==")
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
}

func TestAnalyzeCycles(t *testing.T) {
	g := chainGraph(t)
	assert.Empty(t, AnalyzeCycles(g))

	tx := g.Begin()
	require.NoError(t, tx.AddContinuation(effectID(t, g, "d"), effectID(t, g, "b"), nil))
	looped, err := tx.Commit()
	require.NoError(t, err)

	warnings := AnalyzeCycles(looped)
	require.Len(t, warnings, 1)
	assert.Len(t, warnings[0].Path, 4)
	assert.Equal(t, warnings[0].Path[0], warnings[0].Path[3])
	assert.ElementsMatch(t, []string{"b", "c", "d"}, warnings[0].Path[:3])
	assert.Contains(t, warnings[0].Message, "continuation cycle")
}

func TestPersist(t *testing.T) {
	ctx := context.Background()
	g := chainGraph(t)
	tx := g.Begin()
	require.NoError(t, tx.AddTemporalConstraint(TemporalConstraint{
		Source: effectID(t, g, "a"), Target: effectID(t, g, "b"), Kind: Before,
	}))
	g, err := tx.Commit()
	require.NoError(t, err)

	s := smt.NewMemory()
	keys, err := Persist(ctx, s, g)
	require.NoError(t, err)
	assert.Len(t, keys, 4+2+1)
	assert.Equal(t, 7, s.Len())
	assert.NotEqual(t, smt.Hash{}, s.DomainRoot(d1))
	assert.NotEqual(t, smt.Hash{}, s.DomainRoot(d2))

	a := g.Effects[effectID(t, g, "a")]
	back, err := LoadEffect(s, d1, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, back)

	r2 := g.Resources[resourceID(t, g, "r2")]
	rb, err := LoadResource(s, d2, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, r2.Name, rb.Name)

	_, err = LoadResource(s, d1, r2.ID)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

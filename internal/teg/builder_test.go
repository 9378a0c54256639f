package teg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/codec"
	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

func TestBuildAssignsContentIDs(t *testing.T) {
	g := baseGraph(t)

	require.Len(t, g.Effects, 2)
	require.Len(t, g.Resources, 1)
	for id, e := range g.Effects {
		assert.Equal(t, e.contentID(), id, "effect %q", e.Name)
	}
	for id, r := range g.Resources {
		assert.Equal(t, r.contentID(), id, "resource %q", r.Name)
	}
	assert.Equal(t, []ids.DomainID{d1}, g.DomainIDs())

	e1, e2 := effectID(t, g, "e1"), effectID(t, g, "e2")
	assert.Equal(t, []Edge{{From: e1, To: e2}}, g.DependencyEdges())
	assert.Equal(t, []string{"t1.write"}, g.Effects[e1].RequiredCapabilities)
	assert.Equal(t, []string{"t1.read"}, g.Effects[e2].RequiredCapabilities)
}

func TestBuildIsDeterministic(t *testing.T) {
	a, b := baseGraph(t), baseGraph(t)
	assert.True(t, Equal(a, b))
	assert.Equal(t, codec.Marshal(a), codec.Marshal(b))
}

func TestBuildDuplicateAdds(t *testing.T) {
	t.Run("content equal is idempotent", func(t *testing.T) {
		g, err := NewBuilder().
			Effect("e1").Type(EffectCall).Domain(d1).Param("n", value.Int(1)).Add().
			Effect("e1").Type(EffectCall).Domain(d1).Param("n", value.Int(1)).Add().
			Resource("r1").Type("t1").Domain(d1).Add().
			Resource("r1").Type("t1").Domain(d1).Add().
			Build()
		require.NoError(t, err)
		assert.Len(t, g.Effects, 1)
		assert.Len(t, g.Resources, 1)
	})

	t.Run("conflicting effect", func(t *testing.T) {
		_, err := NewBuilder().
			Effect("e1").Type(EffectCall).Domain(d1).Add().
			Effect("e1").Type(EffectRead).Domain(d1).Add().
			Build()
		assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
	})

	t.Run("conflicting resource", func(t *testing.T) {
		_, err := NewBuilder().
			Resource("r1").Type("t1").Domain(d1).Add().
			Resource("r1").Type("t2").Domain(d1).Add().
			Build()
		assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))
	})
}

func TestBuildRejects(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
		kind  errs.Kind
	}{
		{
			name:  "missing type",
			build: func() *Builder { return NewBuilder().Effect("e1").Domain(d1).Add() },
			kind:  errs.InvalidArgument,
		},
		{
			name:  "missing domain",
			build: func() *Builder { return NewBuilder().Resource("r1").Type("t1").Add() },
			kind:  errs.InvalidArgument,
		},
		{
			name: "unknown dependency",
			build: func() *Builder {
				return NewBuilder().Effect("e1").Type(EffectCall).Domain(d1).Add().DependsOn("e1", "ghost")
			},
			kind: errs.ValidationFailed,
		},
		{
			name: "unknown accessed resource",
			build: func() *Builder {
				return NewBuilder().Effect("e1").Type(EffectRead).Domain(d1).Access("ghost", AccessRead).Add()
			},
			kind: errs.ValidationFailed,
		},
		{
			name: "unknown relationship endpoint",
			build: func() *Builder {
				return NewBuilder().Resource("r1").Type("t1").Domain(d1).Add().RelatesTo("r1", "ghost", "owns")
			},
			kind: errs.ValidationFailed,
		},
		{
			name: "dependency cycle",
			build: func() *Builder {
				return NewBuilder().
					Effect("a").Type(EffectCall).Domain(d1).Add().
					Effect("b").Type(EffectCall).Domain(d1).Add().
					DependsOn("a", "b").
					DependsOn("b", "a")
			},
			kind: errs.ValidationFailed,
		},
		{
			name: "bad condition",
			build: func() *Builder {
				return NewBuilder().
					Effect("a").Type(EffectCall).Domain(d1).Add().
					Effect("b").Type(EffectCall).Domain(d1).Add().
					ContinuesTo("a", "b", "amount >")
			},
			kind: errs.InvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
		})
	}
}

func TestBuildFullGraph(t *testing.T) {
	g, err := NewBuilder().
		Resource("vault").Type("token").Domain(d1).State(value.NewObject(value.O("balance", value.Int(100)))).Add().
		Resource("mirror").Type("token").Domain(d2).Add().
		Effect("withdraw").Type(EffectTransfer).Domain(d1).
		Param("amount", value.Int(40)).
		RequireCapability("vault.admin").
		Access("vault", AccessWrite).
		ReturnType("receipt").
		Metadata("owner", "alice").
		Add().
		Effect("notify").Type(EffectCall).Domain(d2).Access("mirror", AccessRead).Add().
		ContinuesTo("withdraw", "notify", "amount > 10").
		RelatesTo("vault", "mirror", "mirror").
		TemporalConstraint("withdraw", "notify", Within, time.Second, time.Minute).
		AuthorizeCapability("withdraw", "token.transfer", "vault.admin").
		Metadata("program", "demo").
		Build()
	require.NoError(t, err)

	w := g.Effects[effectID(t, g, "withdraw")]
	assert.Equal(t, []string{"token.transfer", "vault.admin"}, w.RequiredCapabilities)
	assert.Empty(t, g.MissingCapabilities(w.ID))

	n := effectID(t, g, "notify")
	assert.Equal(t, []string{"token.call"}, g.MissingCapabilities(n))

	assert.Len(t, g.ResourceRelationships, 1)
	assert.Len(t, g.TemporalConstraints, 1)
	assert.Len(t, g.DomainIDs(), 2)
	assert.Equal(t, "demo", g.Metadata["program"])

	// Canonical round trip.
	var back Graph
	require.NoError(t, codec.Unmarshal(codec.Marshal(g), &back))
	assert.True(t, Equal(g, &back))
	assert.Equal(t, "amount > 10", back.Continuations[Edge{From: w.ID, To: n}].Expr)
	assert.Equal(t, value.Int(40), back.Effects[w.ID].Parameters["amount"])
}

func TestDecodeRejectsTruncatedGraph(t *testing.T) {
	data := codec.Marshal(baseGraph(t))
	var g Graph
	err := codec.Unmarshal(data[:len(data)-3], &g)
	require.Error(t, err)
	assert.Equal(t, errs.Serialization, errs.KindOf(err))
}

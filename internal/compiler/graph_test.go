package compiler

import (
	"testing"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/teg"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

const transferGraph = `
	graph: transfer: {
		resources: {
			alice: {type: "account", domain: "D1", state: {balance: 100, tags: ["a"]}}
			bob: {type: "account", domain: "D1", state: {balance: 0}, metadata: {owner: "bob"}}
		}
		effects: {
			debit: {
				type: "write"
				domain: "D1"
				access: {alice: "write"}
				params: {amount: 10, memo: "rent"}
				capability: "transfer"
			}
			credit: {
				type: "write"
				domain: "D1"
				access: {bob: "write"}
				params: {amount: 10}
				after: ["debit"]
			}
			notify: {type: "call", domain: "D1", return_type: "bool", metadata: {channel: "email"}}
		}
		continuations: [{from: "credit", to: "notify", when: "params.amount > 0"}]
		constraints: [{source: "debit", target: "credit", kind: "within", min: "0s", max: "5s"}]
	}
`

func compileGraph(t *testing.T, src, path string) (*teg.Graph, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileGraph(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileGraphTransfer(t *testing.T) {
	g, err := compileGraph(t, transferGraph, "graph.transfer")
	require.NoError(t, err)

	assert.Equal(t, "transfer", g.Metadata["name"])
	assert.Len(t, g.Effects, 3)
	assert.Len(t, g.Resources, 2)
	assert.Len(t, g.Domains, 1)

	debit, ok := g.EffectByName("debit")
	require.True(t, ok)
	credit, ok := g.EffectByName("credit")
	require.True(t, ok)
	notify, ok := g.EffectByName("notify")
	require.True(t, ok)
	alice, ok := g.ResourceByName("alice")
	require.True(t, ok)

	assert.Equal(t, "write", debit.EffectType)
	assert.Equal(t, value.Int(10), debit.Parameters["amount"])
	assert.Equal(t, value.String("rent"), debit.Parameters["memo"])
	assert.Equal(t, teg.AccessWrite, debit.Accesses[alice.ID])
	assert.Equal(t, "transfer", debit.Capability)
	assert.Equal(t, "bool", notify.ReturnType)
	assert.Equal(t, "email", notify.Metadata["channel"])

	assert.True(t, value.Equal(value.NewObject(
		value.O("balance", value.Int(100)),
		value.O("tags", value.Array{value.String("a")}),
	), alice.State))

	assert.Equal(t, []teg.Edge{{From: debit.ID, To: credit.ID}}, g.DependencyEdges())
	cond, ok := g.Continuations[teg.Edge{From: credit.ID, To: notify.ID}]
	require.True(t, ok)
	assert.Equal(t, "params.amount > 0", cond.Expr)
	assert.Contains(t, g.TemporalConstraints, teg.TemporalConstraint{
		Source: debit.ID, Target: credit.ID, Kind: teg.Within, Min: 0, Max: 5 * time.Second,
	})
}

func TestCompileGraphIsDeterministic(t *testing.T) {
	a, err := compileGraph(t, transferGraph, "graph.transfer")
	require.NoError(t, err)
	b, err := compileGraph(t, transferGraph, "graph.transfer")
	require.NoError(t, err)
	assert.True(t, teg.Equal(a, b))
}

func TestCompileGraphErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no effects", `resources: {}`, "at least one effect is required"},
		{"empty effects", `effects: {}`, "at least one effect is required"},
		{"missing type", `effects: e: {domain: "D1"}`, "effects.e.type: type is required"},
		{"float param", `effects: e: {type: "call", domain: "D1", params: {x: 1.5}}`, "float values are forbidden"},
		{"nested float", `resources: r: {type: "t", domain: "D1", state: {x: [1.5]}}, effects: e: {type: "call", domain: "D1"}`, "floats are not allowed"},
		{"bad access", `resources: r: {type: "t", domain: "D1"}, effects: e: {type: "write", domain: "D1", access: {r: "append"}}`, `unknown access mode "append"`},
		{"bad condition", `effects: {a: {type: "call", domain: "D1"}, b: {type: "call", domain: "D1"}}, continuations: [{from: "a", to: "b", when: "params.x >"}]`, "continuations.when"},
		{"bad constraint kind", `effects: {a: {type: "call", domain: "D1"}, b: {type: "call", domain: "D1"}}, constraints: [{source: "a", target: "b", kind: "during"}]`, `unknown constraint kind "during"`},
		{"bad duration", `effects: {a: {type: "call", domain: "D1"}, b: {type: "call", domain: "D1"}}, constraints: [{source: "a", target: "b", kind: "before", max: "later"}]`, `invalid duration "later"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileGraph(t, "graph: bad: {"+tt.body+"}", "graph.bad")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileGraphUnknownReferences(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"dependency", `effects: a: {type: "call", domain: "D1", after: ["ghost"]}`},
		{"resource", `effects: a: {type: "read", domain: "D1", access: {ghost: "read"}}`},
		{"continuation", `effects: a: {type: "call", domain: "D1"}, continuations: [{from: "a", to: "ghost"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileGraph(t, "graph: bad: {"+tt.body+"}", "graph.bad")
			require.Error(t, err)
			assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))
			assert.Contains(t, err.Error(), "ghost")
		})
	}
}

func TestCompileGraphRejectsDependencyCycle(t *testing.T) {
	_, err := compileGraph(t, `
		graph: loop: effects: {
			a: {type: "call", domain: "D1", after: ["b"]}
			b: {type: "call", domain: "D1", after: ["a"]}
		}
	`, "graph.loop")
	require.Error(t, err)
}

package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

func lookup(t *testing.T, src, path string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return v.LookupPath(cue.ParsePath(path))
}

func TestCompileSeed(t *testing.T) {
	decl, err := CompileSeed(lookup(t, `
		state: alice: {domain: "D1", resource: "R_src", data: {balance: 100, owner: "alice"}}
	`, "state.alice"))
	require.NoError(t, err)

	d1 := ids.DomainFromName("D1")
	assert.Equal(t, "alice", decl.Name)
	assert.Equal(t, d1, decl.Domain)
	assert.Equal(t, ids.ResourceFromName(d1, "R_src"), decl.Resource)
	want, err := value.FromNative(map[string]any{"balance": int64(100), "owner": "alice"})
	require.NoError(t, err)
	assert.True(t, value.Equal(want, decl.Data), "got %v", decl.Data)
}

func TestCompileSeedErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"missing data", `state: s: {domain: "D1", resource: "R"}`, "data"},
		{"missing domain", `state: s: {resource: "R", data: {}}`, "domain"},
		{"float data", `state: s: {domain: "D1", resource: "R", data: {x: 0.5}}`, "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSeed(lookup(t, tt.src, "state.s"))
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileRule(t *testing.T) {
	rule, err := CompileRule(lookup(t, `
		rule: gold: {
			expr: "metadata[\"tier\"] == \"gold\""
			message: "only gold relationships sync"
			level: "moderate"
		}
	`, "rule.gold"))
	require.NoError(t, err)
	assert.Equal(t, "gold", rule.Name)
	assert.Equal(t, "only gold relationships sync", rule.Message)
	assert.Equal(t, relationship.Moderate, rule.MinLevel)

	rule, err = CompileRule(lookup(t, `rule: any: {expr: "true", message: "m"}`, "rule.any"))
	require.NoError(t, err)
	assert.Equal(t, relationship.Permissive, rule.MinLevel)
}

func TestCompileRuleErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"bad level", `rule: r: {expr: "true", message: "m", level: "lenient"}`, "level"},
		{"does not compile", `rule: r: {expr: "kind ==", message: "m"}`, "expr"},
		{"unknown variable", `rule: r: {expr: "nope == 1", message: "m"}`, "expr"},
		{"missing message", `rule: r: {expr: "true"}`, "message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileRule(lookup(t, tt.src, "rule.r"))
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/lifecycle_authorization.yaml")
	require.NoError(t, err)

	assert.Equal(t, "lifecycle_authorization", s.Name)
	require.Len(t, s.Steps, 4)
	assert.Equal(t, "0xBBB", s.Steps[1].Initiator)
	assert.Equal(t, "UNAUTHORIZED", s.Steps[1].Expect.Error)
	assert.Equal(t, "0xBBB", s.Steps[2].Recipient)
	require.Len(t, s.Assertions, 3)
	assert.Equal(t, AssertFinalState, s.Assertions[0].Type)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: typo
description: misspelled field
stepz: []
`), 0o644))
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenarioValidation(t *testing.T) {
	create := `
  - op: create
    register: r
    owner: "0xAAA"
    domain: D1
`
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "description: d\nsteps:" + create, "name is required"},
		{"no description", "name: n\nsteps:" + create, "description is required"},
		{"no steps", "name: n\ndescription: d\n", "steps list is required"},
		{"unknown op", "name: n\ndescription: d\nsteps:\n  - op: mint\n    register: r\n", `unknown op "mint"`},
		{"create without owner", "name: n\ndescription: d\nsteps:\n  - op: create\n    register: r\n    domain: D1\n", "create requires owner and domain"},
		{"undeclared register", "name: n\ndescription: d\nsteps:\n  - op: lock\n    register: r\n    initiator: a\n", `register "r" is not created`},
		{"missing initiator", "name: n\ndescription: d\nsteps:" + create + "  - op: lock\n    register: r\n", "initiator is required"},
		{"transfer recipient", "name: n\ndescription: d\nsteps:" + create + "  - op: transfer\n    register: r\n    initiator: a\n", "transfer requires recipient"},
		{"consume tx", "name: n\ndescription: d\nsteps:" + create + "  - op: consume\n    register: r\n    initiator: a\n", "consume requires tx_id"},
		{"bad error kind", "name: n\ndescription: d\nsteps:" + create + "    expect: {error: OOPS}\n", `unknown error kind "OOPS"`},
		{"bad state", "name: n\ndescription: d\nsteps:" + create + "    expect: {state: melted}\n", "unknown register state"},
		{"bad assertion", "name: n\ndescription: d\nsteps:" + create + "assertions:\n  - type: trace_contains\n", `unknown assertion type "trace_contains"`},
		{"assertion register", "name: n\ndescription: d\nsteps:" + create + "assertions:\n  - type: final_state\n    register: q\n    state: active\n", `unknown register "q"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

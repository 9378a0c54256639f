package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidDeclarations(t *testing.T) {
	dir := writeDecls(t, mirrorDecls)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ All declarations valid (1 relationships, 0 graphs, level moderate)")
}

func TestValidateValidDeclarationsJSON(t *testing.T) {
	dir := writeDecls(t, mirrorDecls)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())

	var result ValidationResult
	decodeData(t, buf.String(), &result)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.Relationships)
	assert.Empty(t, result.Findings)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/directory/path"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005") // ErrCodeNotFound
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E003")
	assert.Contains(t, buf.String(), "no CUE files found")
}

func TestValidateCompileErrors(t *testing.T) {
	dir := writeDecls(t, `
package decls

relationship: broken: {
	kind: "mirror"
	source: {domain: "D1", resource: ""}
	target: {domain: "D2", resource: "B"}
}

relationship: weird: {
	kind: "teleport"
	source: {domain: "D1", resource: "A"}
	target: {domain: "D2", resource: "B"}
}
`)
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result ValidationResult
	decodeData(t, buf.String(), &result)
	assert.False(t, result.Valid)
	codes := map[string]bool{}
	for _, f := range result.Findings {
		codes[f.Code] = true
		assert.Equal(t, "error", f.Severity)
		assert.Positive(t, f.Line)
	}
	assert.True(t, codes[ErrCodeEndpoint], "findings: %+v", result.Findings)
	assert.True(t, codes[ErrCodeRelKind], "findings: %+v", result.Findings)
}

func TestValidateLevels(t *testing.T) {
	// A mirror without a sync block is a warning at moderate and an error
	// at strict.
	dir := writeDecls(t, `
package decls

relationship: lazy: {
	kind: "mirror"
	source: {domain: "D1", resource: "A"}
	target: {domain: "D2", resource: "B"}
}
`)
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"permissive", false},
		{"strict", true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			cmd := NewValidateCommand(&RootOptions{Format: "text"})
			cmd.SetOut(buf)
			cmd.SetArgs([]string{"--level", tt.level, dir})
			err := cmd.Execute()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, buf.String(), "E120")
				assert.Contains(t, buf.String(), "✗ 1 error(s)")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateRejectsUnknownLevel(t *testing.T) {
	dir := writeDecls(t, mirrorDecls)
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--level", "lenient", dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateDeclaredRules(t *testing.T) {
	dir := writeDecls(t, mirrorDecls+`
rule: silver_only: {
	expr: "metadata[\"tier\"] == \"silver\""
	message: "only silver relationships are allowed"
}
`)
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "only silver relationships are allowed")
}

func TestValidateGraphCycleWarning(t *testing.T) {
	dir := writeDecls(t, `
package decls

graph: loop: {
	effects: {
		poll: {type: "call", domain: "D1"}
		wait: {type: "call", domain: "D1"}
	}
	continuations: [
		{from: "poll", to: "wait"},
		{from: "wait", to: "poll"},
	]
}
`)
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())

	var result ValidationResult
	decodeData(t, buf.String(), &result)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.Graphs)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, ErrCodeCycle, result.Findings[0].Code)
	assert.Equal(t, "warning", result.Findings[0].Severity)
	assert.Equal(t, "graph.loop", result.Findings[0].Declaration)
}

func TestValidateFloatRejection(t *testing.T) {
	dir := writeDecls(t, `
package decls

state: price: {domain: "D1", resource: "P", data: {amount: 1.5}}
`)
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	require.Error(t, cmd.Execute())

	var resp struct {
		Data ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Findings)
	assert.Equal(t, ErrCodeInvalidType, resp.Data.Findings[0].Code)
	assert.Contains(t, resp.Data.Findings[0].Message, "floats are not allowed")
}

func TestValidateVerboseOutput(t *testing.T) {
	dir := writeDecls(t, mirrorDecls)

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(stdoutBuf)
	cmd.SetErr(stderrBuf) // Verbose output goes to stderr
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())

	verboseOutput := stderrBuf.String()
	assert.Contains(t, verboseOutput, "Found 1 CUE file(s)")
	assert.Contains(t, verboseOutput, "Validating relationship: balance_mirror")
}

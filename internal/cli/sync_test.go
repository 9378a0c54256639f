package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
	"github.com/timewave-computer/causality-sub006/internal/store"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

func runSyncJSON(t *testing.T, ws, dir string) (SyncReport, error) {
	t.Helper()
	out, err := runCLI(t, "--workspace", ws, "--format", "json", "sync", dir)
	if err != nil {
		return SyncReport{}, err
	}
	var report SyncReport
	decodeData(t, out, &report)
	return report, nil
}

// resourceData reads a resource's data from the workspace database.
func resourceData(t *testing.T, ws, domain, resource string) (value.Value, bool) {
	t.Helper()
	st, err := store.Open(filepath.Join(ws, "causality.db"))
	require.NoError(t, err)
	defer st.Close()
	tree, err := st.OpenTree(context.Background())
	require.NoError(t, err)

	d := ids.DomainFromName(domain)
	rs, ok, err := relationship.NewResourceStore(tree).State(d, ids.ResourceFromName(d, resource))
	require.NoError(t, err)
	return rs.Data, ok
}

func TestSyncMirror(t *testing.T) {
	ws := t.TempDir()
	dir := writeDecls(t, mirrorDecls)

	report, err := runSyncJSON(t, ws, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, 1, report.Seeded)
	require.Len(t, report.Relationships, 1)
	row := report.Relationships[0]
	assert.Equal(t, "balance_mirror", row.Name)
	assert.Equal(t, "success", row.Status)
	assert.Equal(t, relationship.ActionCreated, row.Detail)
	assert.Equal(t, 1, row.Attempts)

	got, ok := resourceData(t, ws, "D2", "R_tgt")
	require.True(t, ok)
	want, err := value.FromNative(map[string]any{"balance": int64(100)})
	require.NoError(t, err)
	assert.True(t, value.Equal(want, got), "got %v", got)

	// Unchanged seeds are not rewritten and the mirror has nothing to do.
	again, err := runSyncJSON(t, ws, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Seeded)
	require.Len(t, again.Relationships, 1)
	assert.Equal(t, relationship.ActionNoop, again.Relationships[0].Detail)
	assert.Equal(t, report.Root, again.Root)
}

func TestSyncText(t *testing.T) {
	out, err := runCLI(t, "--workspace", t.TempDir(), "sync", writeDecls(t, mirrorDecls))
	require.NoError(t, err)
	assert.Contains(t, out, "RELATIONSHIP")
	assert.Contains(t, out, "balance_mirror")
	assert.Contains(t, out, "success")
}

func TestSyncDerivedScript(t *testing.T) {
	ws := t.TempDir()
	dir := writeDecls(t, mirrorDecls+`
relationship: doubled: {
	kind: "derived"
	source: {domain: "D1", resource: "R_src"}
	target: {domain: "D3", resource: "R_double"}
	sync: {mode: "one_time"}
	script: "return { double: source.balance * 2 };"
}
`)
	report, err := runSyncJSON(t, ws, dir)
	require.NoError(t, err)
	require.Len(t, report.Relationships, 2)
	for _, row := range report.Relationships {
		assert.Equal(t, "success", row.Status, "row %+v", row)
	}

	got, ok := resourceData(t, ws, "D3", "R_double")
	require.True(t, ok)
	want, err := value.FromNative(map[string]any{"double": int64(200)})
	require.NoError(t, err)
	assert.True(t, value.Equal(want, got), "got %v", got)
}

func TestSyncPersistsGraphs(t *testing.T) {
	ws := t.TempDir()
	dir := writeDecls(t, mirrorDecls+`
graph: transfer: {
	effects: {
		debit: {type: "transfer", domain: "D1"}
		credit: {type: "transfer", domain: "D2"}
	}
	continuations: [{from: "debit", to: "credit"}]
}
`)
	report, err := runSyncJSON(t, ws, dir)
	require.NoError(t, err)
	assert.Positive(t, report.GraphKeys)

	out, err := runCLI(t, "--workspace", ws, "--format", "json", "state", "keys", "--domain", "D1")
	require.NoError(t, err)
	var keys []string
	decodeData(t, out, &keys)
	assert.Greater(t, len(keys), 1, "expected graph keys next to the seeded resource")
}

func TestSyncMissingSourceRetries(t *testing.T) {
	dir := writeDecls(t, `
package decls

relationship: orphan: {
	kind: "mirror"
	source: {domain: "D1", resource: "nowhere"}
	target: {domain: "D2", resource: "B"}
	sync: {mode: "one_time"}
}
`)
	out, err := runCLI(t, "--workspace", t.TempDir(), "--format", "json", "sync", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var report SyncReport
	decodeData(t, out, &report)
	require.Len(t, report.Relationships, 1)
	assert.Equal(t, "retrying", report.Relationships[0].Status)
	assert.NotEmpty(t, report.Relationships[0].Detail)
}

func TestSyncBadDeclarations(t *testing.T) {
	_, err := runCLI(t, "--workspace", t.TempDir(), "sync", "/nonexistent/decls")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeDecls writes one CUE file into a fresh directory and returns it.
func writeDecls(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "decls.cue"), []byte(src), 0o644))
	return dir
}

func decodeResponse(t *testing.T, buf *bytes.Buffer) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), "output: %s", buf.String())
	return resp
}

// decodeData unmarshals the data of a JSON success response into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	require.Equal(t, "ok", resp.Status, "output: %s", out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

const mirrorDecls = `
package decls

state: balance: {domain: "D1", resource: "R_src", data: {balance: 100}}

relationship: balance_mirror: {
	kind: "mirror"
	source: {domain: "D1", resource: "R_src"}
	target: {domain: "D2", resource: "R_tgt"}
	sync: {mode: "periodic", interval: "60s"}
	metadata: {tier: "gold"}
}
`

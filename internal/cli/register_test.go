package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub006/internal/ids"
)

func createRegister(t *testing.T, ws, owner, domain, contents string) RegisterView {
	t.Helper()
	out, err := runCLI(t, "--workspace", ws, "--format", "json", "--secret", "s3cret",
		"register", "create", "--owner", owner, "--domain", domain, "--contents", contents)
	require.NoError(t, err, "output: %s", out)
	var v RegisterView
	decodeData(t, out, &v)
	return v
}

func TestRegisterCreateAndShow(t *testing.T) {
	ws := t.TempDir()
	created := createRegister(t, ws, "0xAAA", "D1", "hello")

	assert.Equal(t, "0xAAA", created.Owner)
	assert.Equal(t, "active", created.State)
	assert.Equal(t, "bytes", created.Kind)
	assert.Equal(t, uint64(1), created.Epoch)
	assert.Equal(t, 1, created.History)
	assert.Equal(t, ids.DomainFromName("D1").Hex(), created.Domain)

	// A new process sees the register through the persisted tree.
	out, err := runCLI(t, "--workspace", ws, "--format", "json", "register", "show", created.ID)
	require.NoError(t, err)
	var shown RegisterView
	decodeData(t, out, &shown)
	assert.Equal(t, created, shown)
}

func TestRegisterCreateTextPrintsID(t *testing.T) {
	ws := t.TempDir()
	out, err := runCLI(t, "--workspace", ws, "register", "create", "--owner", "0xAAA", "--domain", "D1", "--contents", "x")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	_, err = ids.Parse[ids.RegisterKind](id)
	assert.NoError(t, err)
}

func TestRegisterCreateDuplicateFails(t *testing.T) {
	ws := t.TempDir()
	createRegister(t, ws, "0xAAA", "D1", "same")

	out, err := runCLI(t, "--workspace", ws, "--format", "json", "--secret", "s3cret",
		"register", "create", "--owner", "0xAAA", "--domain", "D1", "--contents", "same")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"status":"error"`)
}

func TestRegisterCreateRequiresOwnerAndDomain(t *testing.T) {
	_, err := runCLI(t, "--workspace", t.TempDir(), "register", "create", "--owner", "0xAAA")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRegisterShowErrors(t *testing.T) {
	ws := t.TempDir()

	_, err := runCLI(t, "--workspace", ws, "register", "show", "not-hex")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	missing := ids.RegisterID{1}.Hex()
	out, err := runCLI(t, "--workspace", ws, "--format", "json", "register", "show", missing)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "NOT_FOUND")
}

func TestRegisterList(t *testing.T) {
	ws := t.TempDir()
	createRegister(t, ws, "0xAAA", "D1", "a")
	createRegister(t, ws, "0xAAA", "D2", "b")
	createRegister(t, ws, "0xBBB", "D1", "c")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"all", nil, 3},
		{"by owner", []string{"--owner", "0xAAA"}, 2},
		{"by domain", []string{"--domain", "D1"}, 2},
		{"owner and domain", []string{"--owner", "0xAAA", "--domain", "D2"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--workspace", ws, "--format", "json", "register", "list"}, tt.args...)
			out, err := runCLI(t, args...)
			require.NoError(t, err)
			var views []RegisterView
			decodeData(t, out, &views)
			assert.Len(t, views, tt.want)
		})
	}

	out, err := runCLI(t, "--workspace", ws, "register", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "0xBBB")
	assert.Contains(t, out, "OWNER")
}

func TestWorkspaceConfigStorePath(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "causality.yml"), []byte("store:\n  path: data/state.db\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(ws, "data"), 0o755))

	createRegister(t, ws, "0xAAA", "D1", "hello")
	assert.FileExists(t, filepath.Join(ws, "data", "state.db"))
	assert.NoFileExists(t, filepath.Join(ws, "causality.db"))
}

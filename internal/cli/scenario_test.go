package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../harness/testdata/scenarios"

func runScenarioJSON(t *testing.T, args ...string) (ScenarioReport, error) {
	t.Helper()
	out, err := runCLI(t, append([]string{"--format", "json", "scenario"}, args...)...)
	var report ScenarioReport
	decodeData(t, out, &report)
	return report, err
}

func TestScenarioRunsDirectory(t *testing.T) {
	report, err := runScenarioJSON(t, scenarioDir)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Passed)
	for _, s := range report.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
		assert.Positive(t, s.Steps)
	}
}

func TestScenarioMatchesCheckedInGoldens(t *testing.T) {
	report, err := runScenarioJSON(t, "--golden", "../harness/testdata/golden", scenarioDir)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed)
}

func TestScenarioFilter(t *testing.T) {
	report, err := runScenarioJSON(t, "--filter", "lifecycle_*", scenarioDir)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "lifecycle_authorization", report.Scenarios[0].Name)
}

func TestScenarioGoldenUpdate(t *testing.T) {
	golden := filepath.Join(t.TempDir(), "golden")
	file := filepath.Join(scenarioDir, "register_create_update_consume.yaml")

	// Without a golden file the scenario fails.
	report, err := runScenarioJSON(t, "--golden", golden, file)
	require.Error(t, err)
	require.Len(t, report.Scenarios, 1)
	assert.Contains(t, report.Scenarios[0].Errors[0], "--update")

	_, err = runScenarioJSON(t, "--golden", golden, "--update", file)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(golden, "register_create_update_consume.golden"))

	report, err = runScenarioJSON(t, "--golden", golden, file)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Passed)
}

func TestScenarioFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wrong.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`name: wrong_expectation
description: A fresh register is never consumed.
steps:
  - op: create
    register: r
    owner: "0xAAA"
    domain: D1
    contents: hello
    expect: {state: consumed}
`), 0o644))

	out, err := runCLI(t, "scenario", file)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
	assert.Contains(t, out, "wrong_expectation")
}

func TestScenarioMissingPath(t *testing.T) {
	_, err := runCLI(t, "scenario", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repoScenarios = "../../testdata/scenarios"

func runTestCommand(t *testing.T, args ...string) (TestResult, int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(t.Context(), append([]string{"--format", "json", "test"}, args...), &stdout, &stderr)

	var result TestResult
	if stdout.Len() > 0 {
		var resp struct {
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.NewDecoder(&stdout).Decode(&resp))
		require.NoError(t, json.Unmarshal(resp.Data, &result))
	}
	return result, code, stderr.String()
}

func copyScenario(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join(repoScenarios, name+".yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))
	return dir
}

func TestTestCommand_RepositoryScenarios(t *testing.T) {
	result, code, stderr := runTestCommand(t, repoScenarios)
	require.Equal(t, ExitSuccess, code, stderr)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
	assert.Zero(t, result.Failed)
	require.Len(t, result.Scenarios, 2)
	assert.Equal(t, "water_dimer", result.Scenarios[0].Name)
	assert.Equal(t, "water_dimer_failure", result.Scenarios[1].Name)
}

func TestTestCommand_Filter(t *testing.T) {
	result, code, stderr := runTestCommand(t, repoScenarios, "--filter", "*_failure")
	require.Equal(t, ExitSuccess, code, stderr)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "water_dimer_failure", result.Scenarios[0].Name)
}

func TestTestCommand_UpdateThenDetectMismatch(t *testing.T) {
	dir := copyScenario(t, "water_dimer")
	golden := filepath.Join(dir, "golden", "water_dimer.golden")

	_, code, stderr := runTestCommand(t, dir, "--update")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, mustRead(t, filepath.Join(repoScenarios, "golden", "water_dimer.golden")), mustRead(t, golden))

	require.NoError(t, os.WriteFile(golden, []byte("stale\n"), 0o644))
	result, code, _ := runTestCommand(t, dir)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Scenarios, 1)
	assert.Contains(t, result.Scenarios[0].Errors[0], "does not match golden file")
}

func TestTestCommand_FailingAssertion(t *testing.T) {
	dir := t.TempDir()
	scenario := `
name: wrong
description: "Asserts the wrong energy"
model: {method: hf, basis: sto-3g}
fragments: [1]
configurations:
  - tag: he
    xyz: |
      1

      He 0 0 0
energies:
  "1": -2.5
assertions:
  - type: subset_energy
    configuration: cfg-0001
    subset: "1"
    value: -2.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(scenario), 0o644))

	result, code, _ := runTestCommand(t, dir)
	assert.Equal(t, ExitFailure, code)
	require.Len(t, result.Scenarios, 1)
	assert.False(t, result.Scenarios[0].Pass)
	assert.Contains(t, result.Scenarios[0].Errors[0], "subset_energy")
}

func TestTestCommand_MissingDirectory(t *testing.T) {
	_, code, stderr := runTestCommand(t, filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "scenarios directory not found")
}

func TestTestResult_String(t *testing.T) {
	assert.Equal(t, "No scenarios found.", TestResult{}.String())

	r := TestResult{
		Scenarios: []ScenarioResult{{Name: "a", Pass: true}, {Name: "b", Errors: []string{"boom"}}},
		Passed:    1, Failed: 1, Total: 2,
	}
	assert.Equal(t, "✓ a\n✗ b\n  boom\n\n1 passed, 1 failed, 2 total", r.String())
}

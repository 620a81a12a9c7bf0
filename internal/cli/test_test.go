package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/harness"
)

const passingScenario = `name: counter_passes
description: counts to five
run_id: cli-scenario
cue: |
  rule: count: {
    id:     1
    when:   "n < 5"
    then:   "GET_SYMBOL R0, n\nLOAD_NUM R1, 1\nADD R0, R1, R0\nSET_SYMBOL n, R0"
    writes: ["n"]
  }
variables:
  n: 0
assertions:
  - type: fixpoint
  - type: final_state
    expect:
      n: 5
`

const failingScenario = `name: counter_fails
description: expects the wrong final value
cue: |
  rule: count: {
    id:     1
    when:   "n < 5"
    then:   "GET_SYMBOL R0, n\nLOAD_NUM R1, 1\nADD R0, R1, R0\nSET_SYMBOL n, R0"
    writes: ["n"]
  }
variables:
  n: 0
assertions:
  - type: final_state
    expect:
      n: 9
`

// scenarioDir writes the named scenarios into a fresh directory.
func scenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

type testResponse struct {
	Status string              `json:"status"`
	Data   harness.SuiteResult `json:"data"`
	Error  *CLIError           `json:"error"`
}

func TestTest_AllPass(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"counter.yaml": passingScenario})

	out, _, err := runRoot("test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ counter_passes")
	assert.Contains(t, out, "Results: 1 passed, 0 failed, 1 total")
}

func TestTest_Failure(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"a.yaml": passingScenario,
		"b.yaml": failingScenario,
	})

	out, _, err := runRoot("--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp testResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "counter_fails", resp.Data.Scenarios[1].Name)
	assert.NotEmpty(t, resp.Data.Scenarios[1].Errors)
}

func TestTest_Filter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"pass.yaml": passingScenario,
		"fail.yaml": failingScenario,
	})

	out, _, err := runRoot("test", "--filter", "pass*", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "counter_fails")
}

func TestTest_NoScenarios(t *testing.T) {
	out, _, err := runRoot("test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTest_GoldenUpdateThenCompare(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"counter.yaml": passingScenario})
	golden := filepath.Join(dir, "golden", "counter_passes.golden")

	_, _, err := runRoot("test", "--update", dir)
	require.NoError(t, err)
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"counter_passes"`)
	assert.Contains(t, string(data), `"run_id":"cli-scenario"`)

	_, _, err = runRoot("test", "--golden", dir)
	require.NoError(t, err, "trace matches the golden file just written")

	require.NoError(t, os.WriteFile(golden, []byte(`{"stale":true}`), 0o644))
	out, _, err := runRoot("test", "--golden", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "golden mismatch")
	assert.Contains(t, out, "0 passed, 1 failed")
}

func TestTest_GoldenMissingIsSkipped(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"counter.yaml": passingScenario})

	_, _, err := runRoot("test", "--golden", dir)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "golden", "counter_passes.golden"))
}

func TestTest_CommandErrors(t *testing.T) {
	_, _, err := runRoot("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")

	_, _, err = runRoot("test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")

	dir := scenarioDir(t, map[string]string{"counter.yaml": passingScenario})
	_, _, err = runRoot("test", "--filter", "[", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

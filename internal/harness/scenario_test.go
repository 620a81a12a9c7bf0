package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes a scenario file plus a rules directory beside it.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "r.cue"),
		[]byte("package r\nrule: r: { id: 1, when: \"false\" }\n"), 0644))

	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
rules: rules
variables:
  n: 0
  tags: [a, b]
cycles: 5
run_id: fixed-run
assertions:
  - type: trace_count
    rule: r
    count: 0
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "rules"), scenario.Rules)
	assert.Equal(t, 0, scenario.Variables["n"])
	assert.Equal(t, []any{"a", "b"}, scenario.Variables["tags"])
	assert.Equal(t, 5, scenario.Cycles)
	assert.Equal(t, "fixed-run", scenario.RunID)
	require.Len(t, scenario.Assertions, 1)
	require.NotNil(t, scenario.Assertions[0].Count)
	assert.Equal(t, 0, *scenario.Assertions[0].Count)
}

func TestLoadScenario_InlineConfig(t *testing.T) {
	path := writeScenario(t, `
name: with_config
description: inline config
rules: rules
config:
  guard:
    recursion_limit: 7
  engine:
    refraction: true
assertions:
  - type: fixpoint
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	require.NotNil(t, scenario.Config)
	assert.Equal(t, 7, scenario.Config.Guard.RecursionLimit)
	assert.True(t, scenario.Config.Engine.Refraction)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nrules: rules\nassertions: [{type: fixpoint}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nrules: rules\nassertions: [{type: fixpoint}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no rules",
			content: "name: n\ndescription: d\nassertions: [{type: fixpoint}]\n",
			wantErr: "one of rules or cue is required",
		},
		{
			name:    "rules and cue",
			content: "name: n\ndescription: d\nrules: rules\ncue: 'x: 1'\nassertions: [{type: fixpoint}]\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "rules directory missing",
			content: "name: n\ndescription: d\nrules: nowhere\nassertions: [{type: fixpoint}]\n",
			wantErr: "rules directory not found",
		},
		{
			name:    "config file missing",
			content: "name: n\ndescription: d\nrules: rules\nconfig_file: kern.yaml\nassertions: [{type: fixpoint}]\n",
			wantErr: "config file not found",
		},
		{
			name:    "negative cycles",
			content: "name: n\ndescription: d\nrules: rules\ncycles: -1\nassertions: [{type: fixpoint}]\n",
			wantErr: "cycles must be >= 0",
		},
		{
			name:    "no assertions",
			content: "name: n\ndescription: d\nrules: rules\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown assertion type",
			content: "name: n\ndescription: d\nrules: rules\nassertions: [{type: bogus}]\n",
			wantErr: `unknown assertion type "bogus"`,
		},
		{
			name:    "trace_count without count",
			content: "name: n\ndescription: d\nrules: rules\nassertions: [{type: trace_count, rule: r}]\n",
			wantErr: "trace_count requires count",
		},
		{
			name:    "trace_count negative",
			content: "name: n\ndescription: d\nrules: rules\nassertions: [{type: trace_count, rule: r, count: -1}]\n",
			wantErr: "trace_count requires count",
		},
		{
			name:    "trace_order with one rule",
			content: "name: n\ndescription: d\nrules: rules\nassertions: [{type: trace_order, rules: [r]}]\n",
			wantErr: "at least 2 rules",
		},
		{
			name:    "history without attribute",
			content: "name: n\ndescription: d\nrules: rules\nassertions: [{type: history}]\n",
			wantErr: "history requires attribute",
		},
		{
			name:    "final_state without expect",
			content: "name: n\ndescription: d\nrules: rules\nassertions: [{type: final_state}]\n",
			wantErr: "final_state requires expect",
		},
		{
			name:    "unknown field",
			content: "name: n\ndescription: d\nrules: rules\nassertion: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "unknown config field",
			content: "name: n\ndescription: d\nrules: rules\nconfig: {guard: {recursion: 3}}\nassertions: [{type: fixpoint}]\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "malformed yaml",
			content: "name: [unclosed\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	path := writeScenario(t, "name: n\ndescription: d\nrules: rules\nassertions: [{type: fixpoint}]\n")
	base := filepath.Dir(path)

	// Scenario lives elsewhere; rules resolve against base.
	other := filepath.Join(t.TempDir(), "moved.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(other, data, 0644))

	scenario, err := LoadScenarioWithBasePath(other, base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "rules"), scenario.Rules)
}

func TestLoadScenario_AbsoluteRulesPath(t *testing.T) {
	path := writeScenario(t, "name: n\ndescription: d\nrules: rules\nassertions: [{type: fixpoint}]\n")
	abs := filepath.Join(filepath.Dir(path), "rules")

	content := "name: n\ndescription: d\nrules: " + abs + "\nassertions: [{type: fixpoint}]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scenario, err := LoadScenarioWithBasePath(path, "/somewhere/else")
	require.NoError(t, err)
	assert.Equal(t, abs, scenario.Rules)
}

func TestAssertionConstants(t *testing.T) {
	assert.Equal(t, "fixpoint", AssertFixpoint)
	assert.Equal(t, "halt", AssertHalt)
	assert.Equal(t, "trace_contains", AssertTraceContains)
	assert.Equal(t, "trace_order", AssertTraceOrder)
	assert.Equal(t, "trace_count", AssertTraceCount)
	assert.Equal(t, "final_state", AssertFinalState)
	assert.Equal(t, "history", AssertHistory)
	assert.Equal(t, "graph_nodes", AssertGraphNodes)
	assert.Equal(t, "replay", AssertReplay)
}

func TestLoadExampleScenarios(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, p := range paths {
		t.Run(filepath.Base(p), func(t *testing.T) {
			_, err := LoadScenario(p)
			assert.NoError(t, err)
		})
	}
}

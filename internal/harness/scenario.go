package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kern/internal/config"
)

// Scenario defines a conformance test scenario.
// Scenarios load a rule set, seed variables, run the engine and assert on
// the resulting trace, resolution history and final state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules is a directory holding the CUE rule set.
	// Relative paths are resolved against the scenario file location.
	Rules string `yaml:"rules,omitempty"`

	// CUE is an inline rule set, used instead of Rules.
	CUE string `yaml:"cue,omitempty"`

	// Variables seed the active context after the rule set's own
	// variables; entries here win.
	Variables map[string]any `yaml:"variables,omitempty"`

	// Config is an inline engine configuration. Defaults fill the rest;
	// environment overrides are never applied.
	Config *config.Config `yaml:"config,omitempty"`

	// ConfigFile is a configuration file, used instead of Config.
	ConfigFile string `yaml:"config_file,omitempty"`

	// Cycles bounds the run. 0 runs to fixpoint or halt.
	Cycles int `yaml:"cycles,omitempty"`

	// RunID is a fixed run id for deterministic golden traces.
	// If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Assertions validate the run.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates the trace, history or final state.
//
// Rules are named by rule name or by decimal id.
type Assertion struct {
	// Type specifies the assertion type:
	// - "fixpoint": The run reached fixpoint
	// - "halt": The run halted, optionally with Reason, Class and Rule
	// - "trace_contains": Rule fired at least once (in Cycle, if set)
	// - "trace_order": Rules fired for the first time in this order
	// - "trace_count": Rule fired exactly Count times
	// - "final_state": Variables hold the Expect values (subset match)
	// - "history": A resolution entry matches Attribute, Kind, Strategy, Winner
	// - "graph_nodes": The graph holds Count nodes (of Kind, if set)
	// - "replay": Re-executing the stored run reproduces it exactly
	Type string `yaml:"type"`

	Rule  string   `yaml:"rule,omitempty"`
	Rules []string `yaml:"rules,omitempty"`
	Cycle int64    `yaml:"cycle,omitempty"`
	Count *int     `yaml:"count,omitempty"`

	Reason string `yaml:"reason,omitempty"`
	Class  string `yaml:"class,omitempty"`

	Expect map[string]any `yaml:"expect,omitempty"`

	Attribute string `yaml:"attribute,omitempty"`
	Kind      string `yaml:"kind,omitempty"`
	Strategy  string `yaml:"strategy,omitempty"`
	Winner    string `yaml:"winner,omitempty"`
}

// Assertion type constants.
const (
	AssertFixpoint      = "fixpoint"
	AssertHalt          = "halt"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertHistory       = "history"
	AssertGraphNodes    = "graph_nodes"
	AssertReplay        = "replay"
)

// LoadScenario reads and parses a scenario YAML file.
// Relative rule and config paths are resolved against the file's
// directory. Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving rule and config paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve paths relative to base path BEFORE validation
	scenario.Rules = resolvePath(scenario.Rules, basePath)
	scenario.ConfigFile = resolvePath(scenario.ConfigFile, basePath)

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML without validating paths.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

func resolvePath(p, base string) string {
	if p == "" || filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Rules == "" && s.CUE == "":
		return fmt.Errorf("one of rules or cue is required")
	case s.Rules != "" && s.CUE != "":
		return fmt.Errorf("rules and cue are mutually exclusive")
	}
	if s.Rules != "" {
		if _, err := os.Stat(s.Rules); os.IsNotExist(err) {
			return fmt.Errorf("rules directory not found: %s", s.Rules)
		}
	}

	if s.Config != nil && s.ConfigFile != "" {
		return fmt.Errorf("config and config_file are mutually exclusive")
	}
	if s.ConfigFile != "" {
		if _, err := os.Stat(s.ConfigFile); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", s.ConfigFile)
		}
	}

	if s.Cycles < 0 {
		return fmt.Errorf("cycles must be >= 0, got %d", s.Cycles)
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}

	return nil
}

// validateAssertion checks the fields each assertion type needs.
func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertFixpoint, AssertHalt, AssertReplay:
		return nil
	case AssertTraceContains:
		if a.Rule == "" {
			return fmt.Errorf("trace_contains requires rule")
		}
	case AssertTraceOrder:
		if len(a.Rules) < 2 {
			return fmt.Errorf("trace_order requires at least 2 rules")
		}
	case AssertTraceCount:
		if a.Rule == "" {
			return fmt.Errorf("trace_count requires rule")
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("trace_count requires count >= 0")
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("final_state requires expect")
		}
	case AssertHistory:
		if a.Attribute == "" {
			return fmt.Errorf("history requires attribute")
		}
	case AssertGraphNodes:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("graph_nodes requires count >= 0")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kern/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
// Hashes are left out; the replay assertion covers them.
type TraceSnapshot struct {
	ScenarioName string
	RunID        string
	Result       *Result
}

// toCanonical converts a TraceSnapshot to an ir.Object for canonical JSON
// serialization.
func (s *TraceSnapshot) toCanonical() ir.Object {
	trace := make(ir.Vec, len(s.Result.Trace))
	for i, ev := range s.Result.Trace {
		trace[i] = ev.Object()
	}
	history := make(ir.Vec, len(s.Result.History))
	for i, h := range s.Result.History {
		history[i] = h.Object()
	}

	out := ir.Object{
		"scenario_name": ir.Sym(s.ScenarioName),
		"run_id":        ir.Sym(s.RunID),
		"trace":         trace,
		"history":       history,
		"final_vars":    s.Result.Vars,
		"fixpoint":      ir.Bool(s.Result.Run.Fixpoint),
	}
	if s.Result.Graph != nil {
		out["graph"] = s.Result.Graph.Snapshot()
	}
	if h := s.Result.Halt(); h != nil {
		out["halt"] = ir.Object{
			"reason": ir.Sym(h.Reason),
			"class":  ir.Sym(h.Class),
			"rule":   ir.Int(h.RuleID),
			"cycle":  ir.Int(h.Cycle),
		}
	}
	return out
}

// MarshalGolden renders the result of a scenario as canonical JSON.
func MarshalGolden(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		RunID:        result.RunID,
		Result:       result,
	}
	return ir.MarshalCanonical(snapshot.toCanonical())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalGolden(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}

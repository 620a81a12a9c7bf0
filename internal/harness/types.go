package harness

import (
	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// RunID is the engine run id.
	RunID string `json:"run_id"`

	// Run is the engine's report of the run.
	Run engine.RunResult `json:"-"`

	// Trace contains every trace event of the run in seq order.
	Trace []engine.TraceEvent `json:"trace"`

	// History contains the conflict resolution history.
	History []engine.HistoryEntry `json:"history"`

	// Vars is the final active context.
	Vars ir.Object `json:"vars"`

	// Graph is the final execution graph.
	Graph *graph.Graph `json:"-"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// ruleIDs resolves rule names used in assertions.
	ruleIDs map[string]ir.RuleID
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []engine.TraceEvent{},
		History: []engine.HistoryEntry{},
		Vars:    ir.Object{},
		Errors:  []string{},
		ruleIDs: map[string]ir.RuleID{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Halt returns the run's halt, nil if it reached fixpoint or stopped at
// the cycle bound.
func (r *Result) Halt() *engine.HaltError { return r.Run.Halt }

// Fired returns the rule ids of every fired trace event, in seq order.
func (r *Result) Fired() []ir.RuleID {
	var out []ir.RuleID
	for _, ev := range r.Trace {
		if ev.Kind == engine.TraceFired {
			out = append(out, ev.RuleID)
		}
	}
	return out
}

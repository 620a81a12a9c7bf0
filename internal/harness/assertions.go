package harness

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string              // Assertion type for categorization
	Expected string              // Human-readable expected outcome
	Actual   string              // Human-readable actual outcome
	Trace    []engine.TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	// Firings only; the full trace is in the golden file
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFirings:\n")
		for _, ev := range e.Trace {
			if ev.Kind == engine.TraceFired {
				fmt.Fprintf(&buf, "  [%d] cycle %d rule %d\n", ev.Seq, ev.Cycle, ev.RuleID)
			}
		}
	}

	return buf.String()
}

// AssertionContext provides the store and replay configuration for
// assertions that need more than the in-memory result.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context

	// ReplayOptions returns fresh engine options for re-execution.
	ReplayOptions func() ([]engine.Option, error)
}

// resolveRule maps a rule name or decimal id to its id.
func (r *Result) resolveRule(ref string) (ir.RuleID, error) {
	if id, ok := r.ruleIDs[ref]; ok {
		return id, nil
	}
	n, err := strconv.ParseUint(ref, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("unknown rule %q", ref)
	}
	return ir.RuleID(n), nil
}

// assertFixpoint checks that the run reached fixpoint.
func assertFixpoint(result *Result) error {
	if result.Run.Fixpoint {
		return nil
	}
	actual := fmt.Sprintf("stopped after %d cycles without fixpoint", result.Run.Cycles)
	if h := result.Halt(); h != nil {
		actual = h.Error()
	}
	return &AssertionError{
		Type:     AssertFixpoint,
		Expected: "run reaches fixpoint",
		Actual:   actual,
		Trace:    result.Trace,
	}
}

// assertHalt checks that the run halted, and with the given reason, class
// and rule when those are set.
func assertHalt(result *Result, assertion Assertion) error {
	h := result.Halt()
	if h == nil {
		return &AssertionError{
			Type:     AssertHalt,
			Expected: "run halts",
			Actual:   fmt.Sprintf("no halt (fixpoint=%t)", result.Run.Fixpoint),
			Trace:    result.Trace,
		}
	}

	var problems []string
	if assertion.Reason != "" && h.Reason != assertion.Reason {
		problems = append(problems, fmt.Sprintf("reason %s, want %s", h.Reason, assertion.Reason))
	}
	if assertion.Class != "" && string(h.Class) != assertion.Class {
		problems = append(problems, fmt.Sprintf("class %s, want %s", h.Class, assertion.Class))
	}
	if assertion.Rule != "" {
		want, err := result.resolveRule(assertion.Rule)
		if err != nil {
			return err
		}
		if h.RuleID != want {
			problems = append(problems, fmt.Sprintf("rule %d, want %d", h.RuleID, want))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertHalt,
		Expected: fmt.Sprintf("halt reason=%q class=%q rule=%q", assertion.Reason, assertion.Class, assertion.Rule),
		Actual:   strings.Join(problems, "; "),
		Trace:    result.Trace,
	}
}

// assertTraceContains checks that the rule fired, in the given cycle when
// one is set.
func assertTraceContains(result *Result, assertion Assertion) error {
	id, err := result.resolveRule(assertion.Rule)
	if err != nil {
		return err
	}
	for _, ev := range result.Trace {
		if ev.Kind == engine.TraceFired && ev.RuleID == id &&
			(assertion.Cycle == 0 || ev.Cycle == assertion.Cycle) {
			return nil
		}
	}

	expected := fmt.Sprintf("rule %s fired", assertion.Rule)
	if assertion.Cycle != 0 {
		expected += fmt.Sprintf(" in cycle %d", assertion.Cycle)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "no matching firing",
		Trace:    result.Trace,
	}
}

// assertTraceOrder checks that the rules first fired in the given order.
//
// Algorithm:
// 1. Find the first firing of each rule
// 2. Verify all rules fired
// 3. Verify positions are strictly increasing
func assertTraceOrder(result *Result, assertion Assertion) error {
	ids := make([]ir.RuleID, len(assertion.Rules))
	for i, ref := range assertion.Rules {
		id, err := result.resolveRule(ref)
		if err != nil {
			return err
		}
		ids[i] = id
	}

	// Step 1: first firing position of each rule, 1-indexed
	positions := make(map[ir.RuleID]int)
	for i, ev := range result.Trace {
		if ev.Kind == engine.TraceFired && positions[ev.RuleID] == 0 {
			positions[ev.RuleID] = i + 1
		}
	}

	// Step 2: all rules fired
	for i, id := range ids {
		if positions[id] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all rules fired: %v", assertion.Rules),
				Actual:   fmt.Sprintf("rule %s never fired", assertion.Rules[i]),
				Trace:    result.Trace,
			}
		}
	}

	// Step 3: order
	for i := 1; i < len(ids); i++ {
		prev, curr := ids[i-1], ids[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("rules in order: %v", assertion.Rules),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					assertion.Rules[i-1], positions[prev], assertion.Rules[i], positions[curr]),
				Trace: result.Trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that the rule fired exactly Count times.
func assertTraceCount(result *Result, assertion Assertion) error {
	id, err := result.resolveRule(assertion.Rule)
	if err != nil {
		return err
	}

	count := 0
	for _, ev := range result.Trace {
		if ev.Kind == engine.TraceFired && ev.RuleID == id {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d firings of %s", *assertion.Count, assertion.Rule),
			Actual:   fmt.Sprintf("%d firings", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFinalState checks the final variables using subset semantics.
//
// A finished run is checked against the final state the store recorded,
// an unfinished one against the engine's live context.
func assertFinalState(actx *AssertionContext, result *Result, assertion Assertion) error {
	vars := result.Vars
	source := "engine"
	if actx != nil && actx.Store != nil {
		run, err := actx.Store.GetRun(actx.Ctx, result.RunID)
		if err != nil {
			return fmt.Errorf("final_state: %w", err)
		}
		if run.Finished() {
			vars, source = run.FinalVars, "store"
		}
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var problems []string
	for _, k := range keys {
		want, err := ir.FromGo(assertion.Expect[k])
		if err != nil {
			return fmt.Errorf("final_state: expect %s: %w", k, err)
		}
		got, ok := vars[k]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s unset", k))
		case !ir.Equal(got, want):
			problems = append(problems, fmt.Sprintf("%s = %s, want %s", k, ir.Format(got), ir.Format(want)))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s variables match %v", source, assertion.Expect),
		Actual:   strings.Join(problems, "; "),
		Trace:    result.Trace,
	}
}

// assertHistory checks that a resolution entry for the attribute matches
// every set field.
func assertHistory(result *Result, assertion Assertion) error {
	var winner ir.RuleID
	if assertion.Winner != "" {
		id, err := result.resolveRule(assertion.Winner)
		if err != nil {
			return err
		}
		winner = id
	}

	for _, h := range result.History {
		if h.Attribute != assertion.Attribute {
			continue
		}
		if assertion.Kind != "" && string(h.Kind) != assertion.Kind {
			continue
		}
		if assertion.Strategy != "" && h.Strategy != assertion.Strategy {
			continue
		}
		if winner != 0 && h.Winner != winner {
			continue
		}
		return nil
	}

	var seen []string
	for _, h := range result.History {
		if h.Attribute == assertion.Attribute {
			seen = append(seen, fmt.Sprintf("%s/%s winner=%d", h.Kind, h.Strategy, h.Winner))
		}
	}
	return &AssertionError{
		Type: AssertHistory,
		Expected: fmt.Sprintf("history entry attribute=%s kind=%q strategy=%q winner=%q",
			assertion.Attribute, assertion.Kind, assertion.Strategy, assertion.Winner),
		Actual: fmt.Sprintf("entries for %s: %v", assertion.Attribute, seen),
		Trace:  result.Trace,
	}
}

// assertGraphNodes checks the number of graph nodes, of one kind if set.
func assertGraphNodes(result *Result, assertion Assertion) error {
	if result.Graph == nil {
		return fmt.Errorf("graph_nodes: no graph")
	}
	count := result.Graph.Len()
	desc := "nodes"
	if assertion.Kind != "" {
		kind, err := graph.ParseNodeKind(assertion.Kind)
		if err != nil {
			return fmt.Errorf("graph_nodes: %w", err)
		}
		count = len(result.Graph.NodesOfKind(kind))
		desc = kind.String() + " nodes"
	}
	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertGraphNodes,
			Expected: fmt.Sprintf("%d %s", *assertion.Count, desc),
			Actual:   fmt.Sprintf("%d %s", count, desc),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertReplay re-executes the stored run and checks it is identical.
func assertReplay(actx *AssertionContext, result *Result) error {
	var opts []engine.Option
	if actx.ReplayOptions != nil {
		var err error
		if opts, err = actx.ReplayOptions(); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}
	rr, err := actx.Store.Replay(actx.Ctx, result.RunID, opts...)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if rr.Identical {
		return nil
	}
	actual := fmt.Sprintf("diverged at seq %d", rr.Divergence)
	if rr.Divergence == 0 {
		actual = "hashes or trace lengths differ"
	}
	return &AssertionError{
		Type:     AssertReplay,
		Expected: "identical re-execution",
		Actual:   actual,
		Trace:    result.Trace,
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state and replay
// assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFixpoint:
			err = assertFixpoint(result)
		case AssertHalt:
			err = assertHalt(result, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		case AssertFinalState:
			err = assertFinalState(actx, result, assertion)
		case AssertHistory:
			err = assertHistory(result, assertion)
		case AssertGraphNodes:
			err = assertGraphNodes(result, assertion)
		case AssertReplay:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: replay requires database context", i)
			} else {
				err = assertReplay(actx, result)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

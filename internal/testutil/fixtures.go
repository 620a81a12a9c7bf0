package testutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
)

// CounterRule returns a rule that increments attr by one while attr is
// below limit. It reaches fixpoint after limit firings from zero.
func CounterRule(id ir.RuleID, attr string, limit int64) ir.RuleSpec {
	return ir.RuleSpec{
		ID:   id,
		Name: "count_" + attr,
		When: fmt.Sprintf("%s < %d", attr, limit),
		Then: fmt.Sprintf(
			"GET_SYMBOL R0, %[1]s\nLOAD_NUM R1, 1\nADD R0, R1, R0\nSET_SYMBOL %[1]s, R0", attr),
		Writes: []string{attr},
	}
}

// SetRule returns a rule that stores val in attr when when holds.
func SetRule(id ir.RuleID, priority, when, attr string, val int64) ir.RuleSpec {
	return ir.RuleSpec{
		ID:       id,
		Name:     fmt.Sprintf("set_%s_%d", attr, val),
		Priority: priority,
		When:     when,
		Then:     fmt.Sprintf("LOAD_NUM R0, %d\nSET_SYMBOL %s, R0", val, attr),
		Writes:   []string{attr},
	}
}

// NewEngine builds an engine with a fixed run id, registers specs and sets
// vars. opts are applied after the run id generator.
func NewEngine(t testing.TB, vars ir.Object, specs []ir.RuleSpec, opts ...engine.Option) *engine.Engine {
	t.Helper()

	base := []engine.Option{engine.WithRunIDGenerator(NewFixedRunIDGenerator(""))}
	e, err := engine.New(append(base, opts...)...)
	require.NoError(t, err)

	_, err = e.Register(specs...)
	require.NoError(t, err)
	for _, k := range vars.SortedKeys() {
		e.SetVar(k, vars[k])
	}
	return e
}

package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/ir"
)

// TestAnalyzeCycles_Empty tests that empty input produces no warnings.
func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(nil))
	assert.NotNil(t, AnalyzeCycles(nil))
}

// TestAnalyzeCycles_DAG tests that a chain of rules produces no warnings.
func TestAnalyzeCycles_DAG(t *testing.T) {
	rules := []ir.RuleSpec{
		{ID: 1, Name: "seed", When: "start == 1", Writes: []string{"a"}},
		{ID: 2, Name: "double", When: "a > 0", Writes: []string{"b"}},
		{ID: 3, Name: "report", When: "b > 0", Writes: []string{"c"}},
	}
	assert.Empty(t, AnalyzeCycles(rules))
}

// TestAnalyzeCycles_SelfLoop tests a rule that writes what its condition reads.
func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	rules := []ir.RuleSpec{
		{ID: 1, Name: "bump", When: "n < 3", Writes: []string{"n"}},
	}

	warnings := AnalyzeCycles(rules)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"1(bump)", "1(bump)"}, warnings[0].Path)
	assert.Equal(t, []ir.RuleID{1}, warnings[0].Rules)
	assert.Equal(t, []string{"n"}, warnings[0].Attributes)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "Self-triggering")
}

// TestAnalyzeCycles_TwoRuleCycle tests rules that feed each other.
func TestAnalyzeCycles_TwoRuleCycle(t *testing.T) {
	rules := []ir.RuleSpec{
		{ID: 2, Name: "pong", When: "b > 0", Writes: []string{"a"}},
		{ID: 1, Name: "ping", When: "a > 0", Writes: []string{"b"}},
	}

	warnings := AnalyzeCycles(rules)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"1(ping)", "2(pong)", "1(ping)"}, warnings[0].Path)
	assert.Equal(t, []ir.RuleID{1, 2}, warnings[0].Rules)
	assert.Equal(t, []string{"a", "b"}, warnings[0].Attributes)
	assert.Equal(t, "Potential cycle detected: 1(ping) → 2(pong) → 1(ping) (via a, b)", warnings[0].Message)
}

// TestAnalyzeCycles_ThreeRuleCycle tests a longer cycle with an exit branch.
func TestAnalyzeCycles_ThreeRuleCycle(t *testing.T) {
	rules := []ir.RuleSpec{
		{ID: 1, When: "c > 0", Writes: []string{"a"}},
		{ID: 2, When: "a > 0", Writes: []string{"b", "out"}},
		{ID: 3, When: "b > 0", Writes: []string{"c"}},
		{ID: 4, When: "out > 0", Writes: []string{"done"}},
	}

	warnings := AnalyzeCycles(rules)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"1", "2", "3", "1"}, warnings[0].Path)
	assert.Equal(t, []ir.RuleID{1, 2, 3}, warnings[0].Rules)
	assert.Equal(t, []string{"a", "b", "c"}, warnings[0].Attributes)
}

// TestAnalyzeCycles_GraphWrites tests that graph writers feed node patterns.
func TestAnalyzeCycles_GraphWrites(t *testing.T) {
	rules := []ir.RuleSpec{
		{ID: 1, Name: "grow", When: "?n:Op", Writes: []string{"graph"}},
		{ID: 2, Name: "count", When: "total < 10", Writes: []string{"total"}},
	}

	warnings := AnalyzeCycles(rules)
	require.Len(t, warnings, 2)
	assert.Equal(t, []ir.RuleID{1}, warnings[0].Rules)
	assert.Equal(t, []string{"graph"}, warnings[0].Attributes)
	assert.Equal(t, []ir.RuleID{2}, warnings[1].Rules)
}

// TestAnalyzeCycles_DeclaredReads tests that declared reads count as edges.
func TestAnalyzeCycles_DeclaredReads(t *testing.T) {
	rules := []ir.RuleSpec{
		{ID: 1, When: "true", Reads: []string{"x"}, Writes: []string{"x"}},
	}

	warnings := AnalyzeCycles(rules)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"x"}, warnings[0].Attributes)
}

// TestAnalyzeCycles_UnparsableCondition tests that a broken condition
// contributes only its declared reads.
func TestAnalyzeCycles_UnparsableCondition(t *testing.T) {
	rules := []ir.RuleSpec{
		{ID: 1, When: "(y > 0", Writes: []string{"y"}},
	}
	assert.Empty(t, AnalyzeCycles(rules))
}

// TestAnalyzeCycles_Deterministic tests that input order does not matter.
func TestAnalyzeCycles_Deterministic(t *testing.T) {
	forward := []ir.RuleSpec{
		{ID: 1, Name: "ping", When: "a > 0", Writes: []string{"b"}},
		{ID: 2, Name: "pong", When: "b > 0", Writes: []string{"a"}},
		{ID: 3, Name: "bump", When: "n < 3", Writes: []string{"n"}},
	}
	reversed := []ir.RuleSpec{forward[2], forward[1], forward[0]}

	first := AnalyzeCycles(forward)
	require.Len(t, first, 2)
	for range 10 {
		assert.Equal(t, first, AnalyzeCycles(forward))
		assert.Equal(t, first, AnalyzeCycles(reversed))
	}
	assert.Equal(t, []ir.RuleID{1, 2}, first[0].Rules)
	assert.Equal(t, []ir.RuleID{3}, first[1].Rules)
}

package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

func compileString(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return v
}

func TestCompileRuleBasic(t *testing.T) {
	v := compileString(t, `
		rule: bump: {
			id:              1
			priority:        "High"
			when:            "n < 3"
			then:            "GET_SYMBOL R0, n\nLOAD_NUM R1, 1\nADD R0, R1, R0\nSET_SYMBOL n, R0"
			reads:           ["limit"]
			writes:          ["n"]
			recursion_limit: 5
			depends_on:      [2, 3]
		}
	`)

	spec, err := CompileRule(v.LookupPath(cue.ParsePath("rule.bump")))
	require.NoError(t, err)

	assert.Equal(t, ir.RuleSpec{
		ID:             1,
		Name:           "bump",
		Priority:       "High",
		When:           "n < 3",
		Then:           "GET_SYMBOL R0, n\nLOAD_NUM R1, 1\nADD R0, R1, R0\nSET_SYMBOL n, R0",
		Reads:          []string{"limit"},
		Writes:         []string{"n"},
		RecursionLimit: 5,
		DependsOn:      []ir.RuleID{2, 3},
	}, *spec)
}

func TestCompileRuleQuotedLabelAndNameOverride(t *testing.T) {
	v := compileString(t, `
		rule: "flag-high": { id: 2, when: "true" }
		rule: other: { id: 3, name: "renamed", when: "true" }
	`)

	spec, err := CompileRule(v.LookupPath(cue.MakePath(cue.Str("rule"), cue.Str("flag-high"))))
	require.NoError(t, err)
	assert.Equal(t, "flag-high", spec.Name)

	spec, err = CompileRule(v.LookupPath(cue.ParsePath("rule.other")))
	require.NoError(t, err)
	assert.Equal(t, "renamed", spec.Name)
}

func TestCompileRuleIntegerPriority(t *testing.T) {
	v := compileString(t, `rule: r: { id: 1, priority: 150, when: "true" }`)

	spec, err := CompileRule(v.LookupPath(cue.ParsePath("rule.r")))
	require.NoError(t, err)
	assert.Equal(t, "150", spec.Priority)
}

func TestCompileRuleErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"missing when", `rule: r: { id: 1 }`, "when"},
		{"unknown field", `rule: r: { id: 1, when: "true", prio: 3 }`, "prio"},
		{"float priority", `rule: r: { id: 1, priority: 1.5, when: "true" }`, "priority"},
		{"bool priority", `rule: r: { id: 1, priority: true, when: "true" }`, "priority"},
		{"zero id", `rule: r: { id: 0, when: "true" }`, "id"},
		{"float id", `rule: r: { id: 1.0, when: "true" }`, "id"},
		{"negative recursion limit", `rule: r: { id: 1, when: "true", recursion_limit: -1 }`, "recursion_limit"},
		{"when not a string", `rule: r: { id: 1, when: 3 }`, "when"},
		{"writes not a list", `rule: r: { id: 1, when: "true", writes: "n" }`, "writes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := compileString(t, tt.src)
			_, err := CompileRule(v.LookupPath(cue.ParsePath("rule.r")))
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "want CompileError, got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
			assert.Equal(t, ir.ClassValidation, ir.ClassOf(err))
		})
	}
}

func TestCompileRuleSet(t *testing.T) {
	v := compileString(t, `
		rule: bump: {
			id:     1
			when:   "n < 3"
			then:   "GET_SYMBOL R0, n\nLOAD_NUM R1, 1\nADD R0, R1, R0\nSET_SYMBOL n, R0"
			writes: ["n"]
		}
		rule: "flag-high": {
			id:       2
			priority: "High"
			when:     "n == 1"
			writes:   ["flag"]
		}
		strategies: { "*": "override", flag: "ignore" }
		variables: {
			n:      0
			name:   "x"
			on:     true
			list:   [1, 2]
			nested: { a: null }
		}
	`)

	rs, err := CompileRuleSet(v)
	require.NoError(t, err)

	require.Len(t, rs.Rules, 2)
	assert.Equal(t, ir.RuleID(1), rs.Rules[0].ID)
	assert.Equal(t, "flag-high", rs.Rules[1].Name)
	assert.Equal(t, map[string]string{"*": "override", "flag": "ignore"}, rs.Strategies)
	assert.Equal(t, ir.Object{
		"n":      ir.Int(0),
		"name":   ir.Sym("x"),
		"on":     ir.Bool(true),
		"list":   ir.Vec{ir.Int(1), ir.Int(2)},
		"nested": ir.Object{"a": ir.Null{}},
	}, rs.Variables)
	assert.Empty(t, rs.Graph)

	hash, err := rs.Hash()
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}

func TestCompileRuleSetAssignsMissingIDs(t *testing.T) {
	v := compileString(t, `
		rule: a: { when: "true" }
		rule: b: { id: 5, when: "true" }
		rule: c: { when: "true" }
	`)

	rs, err := CompileRuleSet(v)
	require.NoError(t, err)

	var got []string
	var ids []ir.RuleID
	for _, r := range rs.Rules {
		got = append(got, r.Name)
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, got, "rules come back in id order")
	assert.Equal(t, []ir.RuleID{5, 6, 7}, ids)
}

func TestCompileRuleSetGraphFixture(t *testing.T) {
	v := compileString(t, `
		graph: {
			nodes: [
				{kind: "Op", label: "sum", attrs: {cost: 2}},
				{kind: "io", label: "out"},
			]
			edges: [{from: 1, to: 2}]
		}
	`)

	rs, err := CompileRuleSet(v)
	require.NoError(t, err)

	want := graph.New()
	_, err = want.AddNode(graph.KindOp, "sum", ir.Object{"cost": ir.Int(2)})
	require.NoError(t, err)
	_, err = want.AddNode(graph.KindIo, "out", nil)
	require.NoError(t, err)
	require.NoError(t, want.Connect(1, 2, graph.EdgeData))

	assert.Equal(t, want.Snapshot(), rs.Graph)

	restored, err := graph.Restore(rs.Graph)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Len())
}

func TestCompileRuleSetErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{"float variable", `variables: { x: 1.5 }`, "float"},
		{"variables not a struct", `variables: [1]`, "variables must be a struct"},
		{"unknown node kind", `graph: nodes: [{kind: "Widget"}]`, "unknown node kind"},
		{"node without kind", `graph: nodes: [{label: "x"}]`, "node kind is required"},
		{"edge to missing node", `graph: { nodes: [{kind: "Op"}], edges: [{from: 1, to: 9}] }`, "graph.edges[0]"},
		{"strategy not a string", `strategies: { x: 1 }`, "strategies.x"},
		{"bad rule", `rule: r: { id: 1 }`, "rule r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileRuleSet(compileString(t, tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "when", Message: "when is required"}
	assert.Equal(t, "when: when is required", err.Error())
}

package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/kern/internal/ir"
)

var testCatalog = Catalog{
	"trace_events": {
		Columns:  []string{"run_id", "seq", "cycle", "kind", "rule_id"},
		OrderKey: []string{"seq"},
	},
	"run_rules": {
		Columns:  []string{"run_id", "rule_id", "name"},
		OrderKey: []string{"rule_id"},
	},
	"unordered": {
		Columns: []string{"x"},
	},
}

func TestValidate_Valid(t *testing.T) {
	tests := []struct {
		name  string
		query Query
	}{
		{"plain select", Select{From: "trace_events", Columns: []string{"seq", "kind"}}},
		{"filtered", Select{
			From:    "trace_events",
			Columns: []string{"seq"},
			Filter: And{Predicates: []Predicate{
				Equals{Field: "run_id", Value: ir.Sym("r1")},
				Compare{Field: "cycle", Op: OpGe, Value: ir.Int(2)},
				In{Field: "kind", Values: []ir.Value{ir.Sym("fired"), ir.Sym("write")}},
			}},
			Limit: 10,
		}},
		{"join", Join{
			Left:  Select{From: "trace_events", Columns: []string{"seq"}},
			Right: Select{From: "run_rules", Columns: []string{"name"}, Filter: Equals{Field: "name", Value: ir.Sym("a")}},
			On: And{Predicates: []Predicate{
				ColumnEquals{Left: "trace_events.run_id", Right: "run_rules.run_id"},
				ColumnEquals{Left: "trace_events.rule_id", Right: "run_rules.rule_id"},
			}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.query, testCatalog)
			assert.True(t, res.Valid, "%v", res.Problems)
			assert.Empty(t, res.Problems)
			assert.NoError(t, res.Err())
		})
	}
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		problem string
	}{
		{"nil", nil, "nil query"},
		{"unknown table", Select{From: "users", Columns: []string{"id"}}, `unknown table "users"`},
		{"no order key", Select{From: "unordered", Columns: []string{"x"}}, "no order key"},
		{"no columns", Select{From: "trace_events"}, "lists no columns"},
		{"unknown column", Select{From: "trace_events", Columns: []string{"secret"}}, "unknown column trace_events.secret"},
		{"negative limit", Select{From: "trace_events", Columns: []string{"seq"}, Limit: -1}, "negative limit"},
		{"null literal", Select{
			From: "trace_events", Columns: []string{"seq"},
			Filter: Equals{Field: "kind", Value: ir.Null{}},
		}, "compared to NULL"},
		{"vector literal", Select{
			From: "trace_events", Columns: []string{"seq"},
			Filter: Equals{Field: "kind", Value: ir.Vec{}},
		}, "only scalars"},
		{"bad operator", Select{
			From: "trace_events", Columns: []string{"seq"},
			Filter: Compare{Field: "cycle", Op: "LIKE", Value: ir.Int(1)},
		}, "unknown operator"},
		{"empty in", Select{
			From: "trace_events", Columns: []string{"seq"},
			Filter: In{Field: "kind"},
		}, "IN with no values"},
		{"column equals outside join", Select{
			From: "trace_events", Columns: []string{"seq"},
			Filter: ColumnEquals{Left: "trace_events.seq", Right: "trace_events.cycle"},
		}, "outside a join"},
		{"join without on", Join{
			Left:  Select{From: "trace_events", Columns: []string{"seq"}},
			Right: Select{From: "run_rules", Columns: []string{"name"}},
		}, "no ON condition"},
		{"join foreign table", Join{
			Left:  Select{From: "trace_events", Columns: []string{"seq"}},
			Right: Select{From: "run_rules", Columns: []string{"name"}},
			On:    ColumnEquals{Left: "trace_events.run_id", Right: "runs.id"},
		}, "outside the query"},
		{"join unqualified", Join{
			Left:  Select{From: "trace_events", Columns: []string{"seq"}},
			Right: Select{From: "run_rules", Columns: []string{"name"}},
			On:    ColumnEquals{Left: "run_id", Right: "run_rules.run_id"},
		}, "must be qualified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.query, testCatalog)
			assert.False(t, res.Valid)
			if assert.NotEmpty(t, res.Problems) {
				assert.Contains(t, res.Problems[0], tt.problem)
			}
			assert.Error(t, res.Err())
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	res := Validate(Select{
		From:    "trace_events",
		Columns: []string{"nope", "seq", "also_nope"},
		Filter:  Equals{Field: "missing", Value: ir.Null{}},
	}, testCatalog)

	assert.Len(t, res.Problems, 4)
}

func TestCompareOp_Valid(t *testing.T) {
	for _, op := range []CompareOp{OpLt, OpLe, OpGt, OpGe, OpNe} {
		assert.True(t, op.Valid(), op)
	}
	assert.False(t, CompareOp("=").Valid())
}

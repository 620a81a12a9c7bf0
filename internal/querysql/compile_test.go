package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/queryir"
)

var testCatalog = queryir.Catalog{
	"trace_events": {
		Columns:  []string{"run_id", "seq", "cycle", "kind", "rule_id", "attr"},
		OrderKey: []string{"run_id", "seq"},
	},
	"run_rules": {
		Columns:  []string{"run_id", "rule_id", "name"},
		OrderKey: []string{"run_id", "rule_id"},
	},
}

func TestCompile_Select(t *testing.T) {
	c := NewSQLCompiler(testCatalog)

	sql, params, err := c.Compile(queryir.Select{
		From:    "trace_events",
		Columns: []string{"seq", "kind"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT seq, kind FROM trace_events ORDER BY run_id ASC, seq ASC", sql)
	assert.Empty(t, params)
}

func TestCompile_SelectWithFilterAndLimit(t *testing.T) {
	c := NewSQLCompiler(testCatalog)

	sql, params, err := c.Compile(queryir.Select{
		From:    "trace_events",
		Columns: []string{"seq"},
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Field: "run_id", Value: ir.Sym("run-1")},
			queryir.Compare{Field: "cycle", Op: queryir.OpGe, Value: ir.Int(2)},
			queryir.In{Field: "kind", Values: []ir.Value{ir.Sym("fired"), ir.Sym("halt")}},
		}},
		Limit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT seq FROM trace_events WHERE (run_id = ? AND cycle >= ? AND kind IN (?, ?)) ORDER BY run_id ASC, seq ASC LIMIT ?",
		sql)
	assert.Equal(t, []any{"run-1", int64(2), "fired", "halt", int64(10)}, params)
}

func TestCompile_SinglePredicateAndIsUnwrapped(t *testing.T) {
	c := NewSQLCompiler(testCatalog)

	sql, params, err := c.Compile(queryir.Select{
		From:    "trace_events",
		Columns: []string{"seq"},
		Filter:  queryir.And{Predicates: []queryir.Predicate{queryir.Equals{Field: "rule_id", Value: ir.Int(3)}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT seq FROM trace_events WHERE rule_id = ? ORDER BY run_id ASC, seq ASC", sql)
	assert.Equal(t, []any{int64(3)}, params)
}

func TestCompile_Join(t *testing.T) {
	c := NewSQLCompiler(testCatalog)

	sql, params, err := c.Compile(queryir.Join{
		Left: queryir.Select{
			From:    "trace_events",
			Columns: []string{"seq", "kind"},
			Filter:  queryir.Equals{Field: "run_id", Value: ir.Sym("run-1")},
			Limit:   5,
		},
		Right: queryir.Select{
			From:    "run_rules",
			Columns: []string{"name"},
			Filter:  queryir.Equals{Field: "name", Value: ir.Sym("bump")},
		},
		On: queryir.And{Predicates: []queryir.Predicate{
			queryir.ColumnEquals{Left: "trace_events.run_id", Right: "run_rules.run_id"},
			queryir.ColumnEquals{Left: "trace_events.rule_id", Right: "run_rules.rule_id"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT trace_events.seq, trace_events.kind, run_rules.name"+
			" FROM trace_events INNER JOIN run_rules"+
			" ON (trace_events.run_id = run_rules.run_id AND trace_events.rule_id = run_rules.rule_id)"+
			" WHERE trace_events.run_id = ? AND run_rules.name = ?"+
			" ORDER BY trace_events.run_id ASC, trace_events.seq ASC LIMIT ?",
		sql)
	assert.Equal(t, []any{"run-1", "bump", int64(5)}, params)
}

func TestCompile_ParamConversion(t *testing.T) {
	c := NewSQLCompiler(testCatalog)

	_, params, err := c.Compile(queryir.Select{
		From:    "trace_events",
		Columns: []string{"seq"},
		Filter: queryir.In{Field: "attr", Values: []ir.Value{
			ir.Sym("x"), ir.Int(-4), ir.Bool(true), ir.Ref(7),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", int64(-4), true, "#7"}, params)
}

func TestCompile_ValuesNeverInterpolated(t *testing.T) {
	c := NewSQLCompiler(testCatalog)

	sql, params, err := c.Compile(queryir.Select{
		From:    "trace_events",
		Columns: []string{"seq"},
		Filter:  queryir.Equals{Field: "attr", Value: ir.Sym("'; DROP TABLE runs; --")},
	})
	require.NoError(t, err)
	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, []any{"'; DROP TABLE runs; --"}, params)
}

func TestCompile_RejectsInvalidQuery(t *testing.T) {
	c := NewSQLCompiler(testCatalog)

	_, _, err := c.Compile(queryir.Select{From: "runs", Columns: []string{"id"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown table "runs"`)

	_, _, err = c.Compile(queryir.Select{
		From:    "trace_events",
		Columns: []string{"seq"},
		Filter:  queryir.Equals{Field: "attr", Value: ir.Vec{ir.Int(1)}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only scalars")
}

func TestCompile_Deterministic(t *testing.T) {
	c := NewSQLCompiler(testCatalog)
	q := queryir.Select{
		From:    "trace_events",
		Columns: []string{"seq", "kind"},
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Field: "run_id", Value: ir.Sym("r")},
			queryir.Compare{Field: "seq", Op: queryir.OpGt, Value: ir.Int(4)},
		}},
	}

	sql1, params1, err := c.Compile(q)
	require.NoError(t, err)
	sql2, params2, err := c.Compile(q)
	require.NoError(t, err)
	assert.Equal(t, sql1, sql2)
	assert.Equal(t, params1, params2)
}

// Package querysql compiles queryir queries to parameterized SQLite SQL.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/queryir"
)

// SQLCompiler compiles queries over the tables of a catalog.
//
// CRITICAL: every query ends in ORDER BY the table's unique key.
// CRITICAL: values are always ? parameters, never interpolated.
// Identifiers come from the query; run queryir.Validate against the same
// catalog first.
type SQLCompiler struct {
	Catalog queryir.Catalog
}

// NewSQLCompiler creates a compiler for catalog.
func NewSQLCompiler(catalog queryir.Catalog) *SQLCompiler {
	return &SQLCompiler{Catalog: catalog}
}

// Compile converts a query to (sql, params).
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if res := queryir.Validate(q, c.Catalog); !res.Valid {
		return "", nil, res.Err()
	}
	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case queryir.Join:
		return c.compileJoin(query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(q.Columns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(q.From)

	var params []any
	if q.Filter != nil {
		where, p, err := c.compilePredicate(q.Filter, "")
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
		params = p
	}

	sb.WriteString(" ORDER BY ")
	sb.WriteString(c.orderKey(q.From, ""))
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, int64(q.Limit))
	}
	return sb.String(), params, nil
}

// compileJoin qualifies both sides' columns and filters with their table
// names and orders by the left table's key.
func (c *SQLCompiler) compileJoin(j queryir.Join) (string, []any, error) {
	cols := make([]string, 0, len(j.Left.Columns)+len(j.Right.Columns))
	for _, col := range j.Left.Columns {
		cols = append(cols, j.Left.From+"."+col)
	}
	for _, col := range j.Right.Columns {
		cols = append(cols, j.Right.From+"."+col)
	}

	on, params, err := c.compilePredicate(j.On, "")
	if err != nil {
		return "", nil, fmt.Errorf("compile join ON: %w", err)
	}

	var where []string
	for _, side := range []queryir.Select{j.Left, j.Right} {
		if side.Filter == nil {
			continue
		}
		sql, p, err := c.compilePredicate(side.Filter, side.From)
		if err != nil {
			return "", nil, fmt.Errorf("compile %s filter: %w", side.From, err)
		}
		where = append(where, sql)
		params = append(params, p...)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s INNER JOIN %s ON %s",
		strings.Join(cols, ", "), j.Left.From, j.Right.From, on)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY " + c.orderKey(j.Left.From, j.Left.From)
	if j.Left.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, int64(j.Left.Limit))
	}
	return sql, params, nil
}

// orderKey renders the table's unique key, optionally qualified.
func (c *SQLCompiler) orderKey(table, qualifier string) string {
	keys := c.Catalog[table].OrderKey
	parts := make([]string, len(keys))
	for i, k := range keys {
		if qualifier != "" {
			k = qualifier + "." + k
		}
		parts[i] = k + " ASC"
	}
	return strings.Join(parts, ", ")
}

// compilePredicate renders p. Unqualified fields are prefixed with
// qualifier when it is non-empty.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate, qualifier string) (string, []any, error) {
	field := func(f string) string {
		if qualifier != "" && !strings.Contains(f, ".") {
			return qualifier + "." + f
		}
		return f
	}

	switch pred := p.(type) {
	case queryir.Equals:
		param, err := valueToParam(pred.Value)
		if err != nil {
			return "", nil, err
		}
		return field(pred.Field) + " = ?", []any{param}, nil
	case queryir.Compare:
		param, err := valueToParam(pred.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s %s ?", field(pred.Field), pred.Op), []any{param}, nil
	case queryir.In:
		params := make([]any, len(pred.Values))
		marks := make([]string, len(pred.Values))
		for i, v := range pred.Values {
			param, err := valueToParam(v)
			if err != nil {
				return "", nil, err
			}
			params[i], marks[i] = param, "?"
		}
		return fmt.Sprintf("%s IN (%s)", field(pred.Field), strings.Join(marks, ", ")), params, nil
	case queryir.ColumnEquals:
		return pred.Left + " = " + pred.Right, nil, nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, sub := range pred.Predicates {
			sql, p, err := c.compilePredicate(sub, qualifier)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, p...)
		}
		if len(parts) == 1 {
			return parts[0], params, nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// valueToParam converts a scalar ir.Value to a driver parameter. Refs are
// stored in their "#n" text form.
func valueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.Sym:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Bool:
		return bool(val), nil
	case ir.Ref:
		return val.String(), nil
	default:
		return nil, fmt.Errorf("%T cannot be used as a SQL parameter", v)
	}
}

package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/kern/internal/ir"
)

// ValidationResult lists every problem found in a query.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid bool

	// Problems are human-readable descriptions, in traversal order.
	Problems []string
}

// Err returns the problems as one error, nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("invalid query: %s", strings.Join(r.Problems, "; "))
}

// Validate checks a query against a catalog.
//
// Rules:
//  1. Tables must be in the catalog and declare an order key
//  2. Columns, filter fields and join columns must exist
//  3. Column lists are explicit (no SELECT *)
//  4. Literal values are scalars; NULL never matches in SQL, so it is
//     rejected rather than silently returning nothing
//  5. ColumnEquals is only meaningful in Join.On
//
// Validate is a pure function with no side effects.
func Validate(q Query, catalog Catalog) ValidationResult {
	v := &validator{catalog: catalog, problems: []string{}}
	v.validateQuery(q)
	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

type validator struct {
	catalog  Catalog
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.addProblem("nil query")
	case Select:
		v.validateSelect(query)
	case Join:
		v.validateJoin(query)
	default:
		v.addProblem("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	t, ok := v.catalog[sel.From]
	if !ok {
		v.addProblem("unknown table %q", sel.From)
		return
	}
	if len(t.OrderKey) == 0 {
		v.addProblem("table %q has no order key", sel.From)
	}
	if len(sel.Columns) == 0 {
		v.addProblem("select from %q lists no columns", sel.From)
	}
	for _, col := range sel.Columns {
		if !v.catalog.HasColumn(sel.From, col) {
			v.addProblem("unknown column %s.%s", sel.From, col)
		}
	}
	if sel.Limit < 0 {
		v.addProblem("negative limit %d", sel.Limit)
	}
	if sel.Filter != nil {
		v.validatePredicate(sel.Filter, []string{sel.From}, false)
	}
}

func (v *validator) validateJoin(j Join) {
	v.validateSelect(j.Left)
	v.validateSelect(j.Right)
	if j.On == nil {
		v.addProblem("join of %q and %q has no ON condition", j.Left.From, j.Right.From)
		return
	}
	v.validatePredicate(j.On, []string{j.Left.From, j.Right.From}, true)
}

// validatePredicate checks p against tables. Unqualified fields refer to
// tables[0].
func (v *validator) validatePredicate(p Predicate, tables []string, inJoin bool) {
	switch pred := p.(type) {
	case Equals:
		v.validateField(pred.Field, tables)
		v.validateLiteral(pred.Field, pred.Value)
	case Compare:
		v.validateField(pred.Field, tables)
		if !pred.Op.Valid() {
			v.addProblem("field %s: unknown operator %q", pred.Field, pred.Op)
		}
		v.validateLiteral(pred.Field, pred.Value)
	case In:
		v.validateField(pred.Field, tables)
		if len(pred.Values) == 0 {
			v.addProblem("field %s: IN with no values", pred.Field)
		}
		for _, val := range pred.Values {
			v.validateLiteral(pred.Field, val)
		}
	case ColumnEquals:
		if !inJoin {
			v.addProblem("column comparison %s = %s outside a join", pred.Left, pred.Right)
			return
		}
		v.validateQualified(pred.Left, tables)
		v.validateQualified(pred.Right, tables)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub, tables, inJoin)
		}
	default:
		v.addProblem("unknown predicate type %T", p)
	}
}

func (v *validator) validateField(field string, tables []string) {
	if strings.Contains(field, ".") {
		v.validateQualified(field, tables)
		return
	}
	if !v.catalog.HasColumn(tables[0], field) {
		v.addProblem("unknown column %s.%s", tables[0], field)
	}
}

func (v *validator) validateQualified(ref string, tables []string) {
	table, col, ok := strings.Cut(ref, ".")
	if !ok {
		v.addProblem("column %q must be qualified as table.column", ref)
		return
	}
	for _, t := range tables {
		if t == table {
			if !v.catalog.HasColumn(table, col) {
				v.addProblem("unknown column %s", ref)
			}
			return
		}
	}
	v.addProblem("column %s refers to a table outside the query", ref)
}

func (v *validator) validateLiteral(field string, val ir.Value) {
	switch val.(type) {
	case ir.Int, ir.Bool, ir.Sym, ir.Ref:
	case nil, ir.Null:
		v.addProblem("field %s compared to NULL", field)
	default:
		v.addProblem("field %s compared to a %s; only scalars are allowed", field, val.Kind())
	}
}

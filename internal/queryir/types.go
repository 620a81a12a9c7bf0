package queryir

import "github.com/roach88/kern/internal/ir"

// Query is an abstract read.
//
// This is a sealed interface; only Select and Join implement it.
type Query interface {
	queryNode()
}

// Predicate is a filter condition.
//
// This is a sealed interface; only the predicate types of this package
// implement it.
type Predicate interface {
	predicateNode()
}

// Select reads columns of one table.
//
// Semantics:
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <key> LIMIT <limit>
//
// Example:
//
//	Select{
//	  From:    "trace_events",
//	  Columns: []string{"seq", "kind", "rule_id"},
//	  Filter: And{Predicates: []Predicate{
//	    Equals{Field: "run_id", Value: ir.Sym("0193...")},
//	    Compare{Field: "cycle", Op: OpGe, Value: ir.Int(2)},
//	  }},
//	}
type Select struct {
	From    string    // table name
	Columns []string  // explicit column list, never empty
	Filter  Predicate // nil = no filter
	Limit   int       // 0 = unlimited
}

func (Select) queryNode() {}

// Join combines two selects with an inner join. Columns and filters of
// both sides are qualified with their table names by the backend; the
// result is ordered by the left table's key.
type Join struct {
	Left  Select
	Right Select
	On    Predicate // usually ColumnEquals; required
}

func (Join) queryNode() {}

// Equals filters rows where Field equals a literal value.
type Equals struct {
	Field string
	Value ir.Value
}

func (Equals) predicateNode() {}

// CompareOp is an ordering operator for Compare.
type CompareOp string

const (
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
	OpNe CompareOp = "<>"
)

// Valid reports whether op is a known operator.
func (op CompareOp) Valid() bool {
	switch op {
	case OpLt, OpLe, OpGt, OpGe, OpNe:
		return true
	}
	return false
}

// Compare filters rows by an ordering comparison against a literal.
type Compare struct {
	Field string
	Op    CompareOp
	Value ir.Value
}

func (Compare) predicateNode() {}

// In filters rows whose Field equals any of Values.
type In struct {
	Field  string
	Values []ir.Value
}

func (In) predicateNode() {}

// ColumnEquals relates two columns, typically in Join.On. Both sides are
// written "table.column".
type ColumnEquals struct {
	Left  string
	Right string
}

func (ColumnEquals) predicateNode() {}

// And requires all predicates. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Table describes one queryable table.
type Table struct {
	Columns []string
	// OrderKey is the unique key results are ordered by, e.g. "seq".
	OrderKey []string
}

// Catalog lists the tables a backend may read.
type Catalog map[string]Table

// HasColumn reports whether table has column.
func (c Catalog) HasColumn(table, column string) bool {
	t, ok := c[table]
	if !ok {
		return false
	}
	for _, col := range t.Columns {
		if col == column {
			return true
		}
	}
	return false
}

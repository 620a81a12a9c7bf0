// Package queryir is the abstract query representation used to read
// persisted runs: trace events, resolution history and rule snapshots.
//
// ARCHITECTURE:
//
// Callers describe what they want as a Query tree; a backend compiles it:
//
//	[store.TraceQuery] → [Query IR] → [querysql] → SQLite
//
// The store never concatenates user input into SQL. Every filter value
// travels as an ir.Value and becomes a bound parameter in the backend.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed with marker methods, so backends can
// switch over them exhaustively:
//
//	switch q := query.(type) {
//	case Select:
//	case Join:
//	}
//
// CRITICAL PATTERNS:
//
// Deterministic Results:
// Backends must order every result by the table's unique key (seq for
// trace and history tables). Validate rejects queries over tables whose
// order key is unknown.
//
// Identifiers From a Catalog:
// Table and column names are checked against a Catalog before compiling.
// Only values are parameterized, so identifiers must be known-safe.
package queryir

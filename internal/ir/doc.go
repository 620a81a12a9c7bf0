// Package ir provides the shared data model of the KERN execution core.
//
// This package contains value types, rule definitions, canonical
// serialization and error classification. All other internal packages
// import ir; ir imports nothing internal, so it stays the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Object iteration always goes through SortedKeys
//   - All JSON tags use snake_case
//   - Logical sequence numbers only, never wall-clock timestamps
package ir

// Package store provides SQLite-backed durable storage for KERN run logs.
//
// The store is an append-only log with:
//   - Runs: one row per engine run, with its final status and hashes
//   - Run Rules: the rule snapshot a run was started with
//   - Trace Events: the run's trace, one row per event
//   - Resolution History: conflict resolutions, drops, merges and aborts
//
// Store implements engine.Sink, so an engine built WithSink(store)
// persists every cycle as it completes.
//
// # Critical Patterns
//
// Logical Identity and Time
//   - All ordering uses seq INTEGER (logical clock) and run ordinals, NEVER timestamps
//   - Enables deterministic replay regardless of wall time
//
// Deterministic Query Results
//   - Trace and history reads are compiled from the query IR
//   - Every query ends in ORDER BY run_id, seq
//
// One Transaction Per Cycle
//   - AppendCycle writes a cycle's events and history atomically
//   - A crash leaves a prefix of whole cycles; FindIncompleteRuns lists them
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Values are stored as canonical JSON (internal/ir) so stored traces hash
// identically to in-memory ones.
package store

// Package engine implements the KERN rule engine.
//
// The engine matches rule conditions against an execution graph and the
// VM's active context, orders the matched rules, resolves write conflicts
// and runs each rule's bytecode actions on the VM until nothing matches.
//
// ARCHITECTURE:
//
// One cycle:
//  1. Matching: every rule's condition is evaluated (cached per rule)
//  2. The recursion guard rejects rules over their ceilings; a rejection
//     halts the run
//  3. Resolving: rules are sorted by (score desc, id asc); attributes
//     declared by several scheduled rules are resolved by strategy
//  4. Executing: actions run once per binding set in that fixed order;
//     writes pass the write gate
//  5. Merge contributions are folded and committed
//
// A cycle in which no rule matches is the fixpoint and ends the run.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Trace events are stamped with the monotonic seq from Clock.Next().
// Wall-clock time never orders or appears in anything a run records.
//
// Deterministic Scheduling:
// Rules are enumerated in id order and sorted with a total comparator
// every cycle. Graph patterns enumerate nodes in creation order. No map
// iteration order, randomness or concurrency reaches the schedule.
//
// Replay:
// Two runs of the same rule set over the same variables and graph produce
// the same trace, history and StateHash. The store keeps the rule set
// hash with every run so a replay can prove it executed the same rules.
//
// Halts:
// Every failure during a run surfaces as *HaltError with a reason code,
// an ir.ErrorClass, the offending rule and instruction address and the
// cycle. State written before the halt is kept; there is no rollback.
package engine

// Package vm implements the KERN register virtual machine.
//
// The VM executes fixed-width bytecode over sixteen general registers
// (R0..R15) plus the CTX, ERR, PC and FLAG special registers of the
// active execution context.
//
// Execution is a fetch-decode-execute loop. Every instruction passes the
// safety checks in a fixed order before it runs:
//
//  1. opcode validity (and operand encodings such as comparator or kind)
//  2. register bounds
//  3. memory bounds (jump targets, table indices, stack, heap)
//  4. sandbox policy (external functions and IO channels)
//  5. step budget
//
// The first failing check wins and is fatal. A few runtime faults are
// recoverable (division by zero, missing variable): they only set ERR
// and execution continues with the next instruction.
//
// INVARIANTS:
//   - PC is in bounds until HALT, RETURN_RULE or a fatal error
//   - Memory regions never exceed their configured capacity; a failed
//     reservation leaves every region unchanged
//   - Context ids are never reused; a destroyed context is unusable
//   - LOAD and STORE reach only heap allocations owned by the active
//     context; a clone starts with none
//   - A sandbox call slot is used only when the call actually runs
//
// The VM never imports the rule engine. Graph mutation, nested rule calls
// and variable writes go through the GraphHost, RuleHost and WriteHook
// seams, which the engine implements.
package vm

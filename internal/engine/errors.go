package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/vm"
)

// RuntimeError represents an error detected by the rule engine.
//
// Runtime errors include:
//   - Undefined symbols in conditions
//   - Recursion guard ceilings (per-rule, per-cycle, call depth, cycles)
//   - Error-strategy conflicts and undeclared writes
//   - Invalid rule definitions at registration
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RuleID identifies the offending rule, when there is one.
	RuleID ir.RuleID

	// Attribute names the contended or undeclared attribute.
	Attribute string

	// Rules lists every rule involved, e.g. all contenders of a conflict.
	Rules []ir.RuleID

	// Cycle is the cycle the error happened in. Zero at registration.
	Cycle int64
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUndefinedSymbol: a condition read a variable or binding that
	// does not exist.
	ErrCodeUndefinedSymbol RuntimeErrorCode = "UNDEFINED_SYMBOL"

	// ErrCodeRecursionLimit: a rule exceeded its lifetime invocation limit.
	ErrCodeRecursionLimit RuntimeErrorCode = "RECURSION_LIMIT_EXCEEDED"

	// ErrCodeCycleInvocations: a rule exceeded its per-cycle invocation limit.
	ErrCodeCycleInvocations RuntimeErrorCode = "CYCLE_INVOCATION_LIMIT_EXCEEDED"

	// ErrCodeCallDepth: nested rule calls exceeded the call-stack ceiling.
	ErrCodeCallDepth RuntimeErrorCode = "CALL_DEPTH_EXCEEDED"

	// ErrCodeMaxCycles: the run did not reach fixpoint within the cycle limit.
	ErrCodeMaxCycles RuntimeErrorCode = "MAX_CYCLES_EXCEEDED"

	// ErrCodeConflict: an Error-strategy attribute had several writers.
	ErrCodeConflict RuntimeErrorCode = "CONFLICT"

	// ErrCodeUndeclaredWrite: an action wrote outside its write-set.
	ErrCodeUndeclaredWrite RuntimeErrorCode = "UNDECLARED_WRITE"

	// ErrCodeMergeFailed: a merge combinator rejected its inputs.
	ErrCodeMergeFailed RuntimeErrorCode = "MERGE_FAILED"

	// ErrCodeInvalidRule: a rule definition failed to compile.
	ErrCodeInvalidRule RuntimeErrorCode = "INVALID_RULE"

	// ErrCodeInvalidPriority: a priority is not a level name or in 0..1000.
	ErrCodeInvalidPriority RuntimeErrorCode = "INVALID_PRIORITY"

	// ErrCodeDuplicateRule: two rules share an id.
	ErrCodeDuplicateRule RuntimeErrorCode = "DUPLICATE_RULE"

	// ErrCodeRuleIDOrder: an explicit id is below an id registered earlier.
	ErrCodeRuleIDOrder RuntimeErrorCode = "RULE_ID_NOT_MONOTONIC"

	// ErrCodeUnknownRule: CALL_RULE or CHECK_CONDITION named no rule.
	ErrCodeUnknownRule RuntimeErrorCode = "UNKNOWN_RULE"

	// ErrCodeUnknownStrategy: a strategy or merge function name is unknown.
	ErrCodeUnknownStrategy RuntimeErrorCode = "UNKNOWN_STRATEGY"

	// ErrCodeCancelled: the caller's context ended the run between cycles.
	ErrCodeCancelled RuntimeErrorCode = "CANCELLED"
)

var runtimeClasses = map[RuntimeErrorCode]ir.ErrorClass{
	ErrCodeUndefinedSymbol:  ir.ClassContext,
	ErrCodeRecursionLimit:   ir.ClassControl,
	ErrCodeCycleInvocations: ir.ClassControl,
	ErrCodeCallDepth:        ir.ClassControl,
	ErrCodeMaxCycles:        ir.ClassControl,
	ErrCodeConflict:         ir.ClassRuntime,
	ErrCodeUndeclaredWrite:  ir.ClassRuntime,
	ErrCodeMergeFailed:      ir.ClassRuntime,
	ErrCodeInvalidRule:      ir.ClassValidation,
	ErrCodeInvalidPriority:  ir.ClassValidation,
	ErrCodeDuplicateRule:    ir.ClassValidation,
	ErrCodeRuleIDOrder:      ir.ClassValidation,
	ErrCodeUnknownRule:      ir.ClassValidation,
	ErrCodeUnknownStrategy:  ir.ClassValidation,
	ErrCodeCancelled:        ir.ClassControl,
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.Attribute != "" && e.RuleID != 0:
		return fmt.Sprintf("%s: %s (rule=%d, attribute=%s)", e.Code, e.Message, e.RuleID, e.Attribute)
	case e.Attribute != "":
		return fmt.Sprintf("%s: %s (attribute=%s)", e.Code, e.Message, e.Attribute)
	case e.RuleID != 0:
		return fmt.Sprintf("%s: %s (rule=%d)", e.Code, e.Message, e.RuleID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Class implements ir.Classified.
func (e *RuntimeError) Class() ir.ErrorClass {
	if c, ok := runtimeClasses[e.Code]; ok {
		return c
	}
	return ir.ClassUnknown
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUndefinedSymbol returns true if a condition read a missing symbol.
// Uses errors.As to handle wrapped errors.
func IsUndefinedSymbol(err error) bool { return hasCode(err, ErrCodeUndefinedSymbol) }

// IsRecursionError returns true for any recursion guard ceiling.
func IsRecursionError(err error) bool {
	var re *RuntimeError
	if !errors.As(err, &re) {
		return false
	}
	switch re.Code {
	case ErrCodeRecursionLimit, ErrCodeCycleInvocations, ErrCodeCallDepth, ErrCodeMaxCycles:
		return true
	}
	return false
}

// IsConflictError returns true if an Error-strategy conflict aborted a cycle.
func IsConflictError(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsUndeclaredWrite returns true if an action wrote outside its write-set.
func IsUndeclaredWrite(err error) bool { return hasCode(err, ErrCodeUndeclaredWrite) }

// NewConflictError creates a RuntimeError for an Error-strategy conflict.
func NewConflictError(cycle int64, attribute string, rules []ir.RuleID) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeConflict,
		Message:   fmt.Sprintf("rules %v all write %q", rules, attribute),
		Attribute: attribute,
		Rules:     rules,
		Cycle:     cycle,
	}
}

// ParseError reports a malformed condition.
type ParseError struct {
	Pos     int
	Source  string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("condition %q: offset %d: %s", e.Source, e.Pos, e.Message)
}

// Class implements ir.Classified.
func (e *ParseError) Class() ir.ErrorClass { return ir.ClassValidation }

// IsParseError returns true if err is a condition syntax error.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// HaltError is the terminal error of a run. Every halt reports what went
// wrong, its classification, where it happened and the cycle.
//
// No rollback happens on halt: state committed by earlier cycles, and by
// actions of the halting cycle that already ran, is kept.
type HaltError struct {
	// Reason is the error code, e.g. RECURSION_LIMIT_EXCEEDED or
	// MEMORY_LIMIT_EXCEEDED.
	Reason string

	// Class classifies Cause.
	Class ir.ErrorClass

	// RuleID is the offending rule, zero when no rule was involved.
	RuleID ir.RuleID

	// PC is the offending instruction address, -1 outside the VM.
	PC int

	// Cycle is the cycle that halted.
	Cycle int64

	// Cause is the underlying error.
	Cause error
}

func (e *HaltError) Error() string {
	loc := fmt.Sprintf("cycle %d", e.Cycle)
	if e.RuleID != 0 {
		loc += fmt.Sprintf(", rule %d", e.RuleID)
	}
	if e.PC >= 0 {
		loc += fmt.Sprintf(", pc %d", e.PC)
	}
	return fmt.Sprintf("halted (%s, %s) at %s: %v", e.Reason, e.Class, loc, e.Cause)
}

func (e *HaltError) Unwrap() error { return e.Cause }

// IsHalt returns true if err is a run halt.
func IsHalt(err error) bool {
	var he *HaltError
	return errors.As(err, &he)
}

// AsHalt extracts the HaltError from err's chain.
func AsHalt(err error) (*HaltError, bool) {
	var he *HaltError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// newHalt classifies cause and fills in the location fields.
func newHalt(cause error, rule ir.RuleID, cycle int64) *HaltError {
	h := &HaltError{
		Reason: "ERROR",
		Class:  ir.ClassOf(cause),
		RuleID: rule,
		PC:     -1,
		Cycle:  cycle,
		Cause:  cause,
	}
	var re *RuntimeError
	var ve *vm.Error
	switch {
	case errors.As(cause, &ve):
		h.Reason = string(ve.Code)
		h.PC = ve.PC
		// Host failures wrap the real reason, e.g. an undeclared write or a
		// fault inside a rule started by CALL_RULE.
		for ve.Code == vm.ErrHostFailure && ve.Err != nil {
			var inner *vm.Error
			if errors.As(ve.Err, &inner) {
				ve = inner
				h.Reason = string(ve.Code)
				continue
			}
			if errors.As(ve.Err, &re) {
				h.Reason = string(re.Code)
			}
			break
		}
	case errors.As(cause, &re):
		h.Reason = string(re.Code)
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		h.Reason = string(ErrCodeCancelled)
		h.Class = ir.ClassControl
	}
	if re != nil && re.RuleID != 0 && h.RuleID == 0 {
		h.RuleID = re.RuleID
	}
	return h
}

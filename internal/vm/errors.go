package vm

import (
	"errors"
	"fmt"

	"github.com/roach88/kern/internal/bytecode"
	"github.com/roach88/kern/internal/ir"
)

// ErrorCode identifies a VM failure.
type ErrorCode string

// Validation errors: the instruction itself is malformed.
const (
	ErrInvalidOpcode   ErrorCode = "INVALID_OPCODE"
	ErrInvalidOperand  ErrorCode = "INVALID_OPERAND"
	ErrInvalidRegister ErrorCode = "INVALID_REGISTER"
	ErrInvalidPC       ErrorCode = "INVALID_PC"
	ErrInvalidHandle   ErrorCode = "INVALID_HANDLE"
)

// Runtime errors.
const (
	ErrDivisionByZero ErrorCode = "DIVISION_BY_ZERO"
	ErrStackOverflow  ErrorCode = "STACK_OVERFLOW"
	ErrStackUnderflow ErrorCode = "STACK_UNDERFLOW"
	ErrMemoryBounds   ErrorCode = "MEMORY_BOUNDS"
	ErrMemoryLimit    ErrorCode = "MEMORY_LIMIT_EXCEEDED"
	ErrTypeMismatch   ErrorCode = "TYPE_MISMATCH"
	ErrHostFailure    ErrorCode = "HOST_FAILURE"
	ErrNoHost         ErrorCode = "NO_HOST"
	ErrUnknownExtern  ErrorCode = "UNKNOWN_EXTERN"
	ErrThrown         ErrorCode = "THROWN"
)

// Control errors: a budget ran out.
const (
	ErrStepLimit       ErrorCode = "STEP_LIMIT_EXCEEDED"
	ErrLoopLimit       ErrorCode = "LOOP_LIMIT_EXCEEDED"
	ErrInvocationLimit ErrorCode = "RULE_INVOCATION_LIMIT_EXCEEDED"
)

// Context errors.
const (
	ErrInvalidContext   ErrorCode = "INVALID_CONTEXT"
	ErrVariableNotFound ErrorCode = "VARIABLE_NOT_FOUND"
)

// Security errors.
const (
	ErrFunctionDenied ErrorCode = "FUNCTION_NOT_ALLOWED"
	ErrChannelDenied  ErrorCode = "CHANNEL_NOT_ALLOWED"
	ErrCallLimit      ErrorCode = "CALL_LIMIT_EXCEEDED"
)

type codeInfo struct {
	class       ir.ErrorClass
	number      uint16 // value placed in ERR
	recoverable bool
}

var codes = map[ErrorCode]codeInfo{
	ErrDivisionByZero:   {ir.ClassRuntime, 1, true},
	ErrVariableNotFound: {ir.ClassContext, 2, true},

	ErrInvalidOpcode:   {ir.ClassValidation, 10, false},
	ErrInvalidOperand:  {ir.ClassValidation, 11, false},
	ErrInvalidRegister: {ir.ClassValidation, 12, false},
	ErrInvalidPC:       {ir.ClassValidation, 13, false},
	ErrInvalidHandle:   {ir.ClassValidation, 14, false},

	ErrStackOverflow:  {ir.ClassRuntime, 20, false},
	ErrStackUnderflow: {ir.ClassRuntime, 21, false},
	ErrMemoryBounds:   {ir.ClassRuntime, 22, false},
	ErrMemoryLimit:    {ir.ClassRuntime, 23, false},
	ErrTypeMismatch:   {ir.ClassRuntime, 24, false},
	ErrHostFailure:    {ir.ClassRuntime, 25, false},
	ErrNoHost:         {ir.ClassRuntime, 26, false},
	ErrUnknownExtern:  {ir.ClassRuntime, 27, false},
	ErrThrown:         {ir.ClassRuntime, 28, false},

	ErrStepLimit:       {ir.ClassControl, 30, false},
	ErrLoopLimit:       {ir.ClassControl, 31, false},
	ErrInvocationLimit: {ir.ClassControl, 32, false},

	ErrInvalidContext: {ir.ClassContext, 40, false},

	ErrFunctionDenied: {ir.ClassSecurity, 50, false},
	ErrChannelDenied:  {ir.ClassSecurity, 51, false},
	ErrCallLimit:      {ir.ClassSecurity, 52, false},
}

// Number returns the value the VM stores in ERR for this code.
func (c ErrorCode) Number() uint16 { return codes[c].number }

// Error is a VM failure with the location it happened at.
type Error struct {
	Code    ErrorCode
	PC      int
	Op      bytecode.Opcode
	Context uint32
	Message string
	Err     error

	located bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] pc=%d op=%s: %s", e.Code, e.PC, e.Op, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Class implements ir.Classified. Host failures report the class of the
// underlying error when it has one.
func (e *Error) Class() ir.ErrorClass {
	if e.Code == ErrHostFailure && e.Err != nil {
		if c := ir.ClassOf(e.Err); c != ir.ClassUnknown {
			return c
		}
	}
	if info, ok := codes[e.Code]; ok {
		return info.class
	}
	return ir.ClassUnknown
}

// Recoverable reports whether the fault only sets ERR.
func (e *Error) Recoverable() bool {
	return codes[e.Code].recoverable
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func hostError(err error, format string, args ...any) *Error {
	return &Error{Code: ErrHostFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the VM error code in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsMemoryLimitError reports whether err is a region capacity failure.
func IsMemoryLimitError(err error) bool {
	return CodeOf(err) == ErrMemoryLimit
}

// IsSecurityError reports whether err is a sandbox violation.
func IsSecurityError(err error) bool {
	var e *Error
	return errors.As(err, &e) && codes[e.Code].class == ir.ClassSecurity
}

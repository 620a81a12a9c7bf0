package ir

import "errors"

// ErrorClass partitions every failure the execution core can report.
type ErrorClass string

const (
	// ClassValidation covers malformed input: bad opcodes, registers,
	// operands, rule definitions or undefined symbols.
	ClassValidation ErrorClass = "validation"

	// ClassRuntime covers faults while executing well-formed code.
	ClassRuntime ErrorClass = "runtime"

	// ClassControl covers exhausted budgets: steps, loops, recursion, cycles.
	ClassControl ErrorClass = "control"

	// ClassContext covers invalid context references and missing variables.
	ClassContext ErrorClass = "context"

	// ClassSecurity covers sandbox policy violations.
	ClassSecurity ErrorClass = "security"

	// ClassUnknown is returned for errors that carry no classification.
	ClassUnknown ErrorClass = "unknown"
)

// Classified is implemented by errors that know their class.
type Classified interface {
	error
	Class() ErrorClass
}

// ClassOf returns the class of the first Classified error in err's chain.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var c Classified
	if errors.As(err, &c) {
		return c.Class()
	}
	return ClassUnknown
}

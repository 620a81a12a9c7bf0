package bytecode

import (
	"errors"
	"fmt"

	"github.com/roach88/kern/internal/ir"
)

// AsmError reports an assembly failure at a source line.
type AsmError struct {
	Line    int
	Text    string
	Message string
}

func (e *AsmError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("line %d: %s (in %q)", e.Line, e.Message, e.Text)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Class implements ir.Classified.
func (e *AsmError) Class() ir.ErrorClass { return ir.ClassValidation }

// DecodeError reports a malformed module file.
type DecodeError struct {
	Offset  int
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at byte %d: %s", e.Offset, e.Message)
}

// Class implements ir.Classified.
func (e *DecodeError) Class() ir.ErrorClass { return ir.ClassValidation }

// IsAsmError reports whether err is an assembly error.
func IsAsmError(err error) bool {
	var e *AsmError
	return errors.As(err, &e)
}

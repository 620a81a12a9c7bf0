package graph

import (
	"errors"
	"fmt"

	"github.com/roach88/kern/internal/ir"
)

// Error codes.
const (
	ErrCodeNodeNotFound = "NODE_NOT_FOUND"
	ErrCodeInvalidKind  = "INVALID_KIND"
	ErrCodeSelfMerge    = "SELF_MERGE"
)

// Error is a graph mutation failure.
type Error struct {
	Code    string
	NodeID  NodeID
	Message string
}

func (e *Error) Error() string {
	if e.NodeID != 0 {
		return fmt.Sprintf("[%s] node %d: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Class implements ir.Classified.
func (e *Error) Class() ir.ErrorClass {
	if e.Code == ErrCodeInvalidKind {
		return ir.ClassValidation
	}
	return ir.ClassRuntime
}

func notFound(id NodeID) error {
	return &Error{Code: ErrCodeNodeNotFound, NodeID: id, Message: "node not found"}
}

// IsNodeNotFound reports whether err is a missing-node error.
func IsNodeNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrCodeNodeNotFound
}

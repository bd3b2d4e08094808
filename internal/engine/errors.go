package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind int

const (
	// KindInfrastructure indicates DuckDB/system errors.
	KindInfrastructure Kind = iota
	// KindInputNotFound indicates that a load pattern matched no files.
	KindInputNotFound
	// KindSchema indicates a reference to a column the table does not have.
	KindSchema
	// KindWrite indicates the output could not be written. Always fatal for a run.
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindInputNotFound:
		return "input_not_found"
	case KindSchema:
		return "schema"
	case KindWrite:
		return "write"
	default:
		return "infrastructure"
	}
}

var (
	// ErrNoInputData is returned by Load when the pattern matches no files.
	ErrNoInputData = errors.New("no input data")
	// ErrUnknownColumn is returned when an operation names a missing column.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrViewNotRegistered is returned by View for names never registered.
	ErrViewNotRegistered = errors.New("view not registered")
)

// Error wraps engine failures with kind and operation.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain.
// Errors not produced by the engine report KindInfrastructure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

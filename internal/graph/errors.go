package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrCompile is the umbrella for every compilation failure.
	ErrCompile = errors.New("compile failed")

	ErrMalformedModel      = errors.New("malformed model")
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrExecution reports a failure while running a compiled plan.
	ErrExecution = errors.New("execution failed")
)

// CompileError carries the failure kind (one of ErrMalformedModel,
// ErrShapeMismatch, ErrUnsupportedOperator) alongside ErrCompile, so callers
// can match either.
type CompileError struct {
	Kind error
	Msg  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
}

func (e *CompileError) Unwrap() []error {
	return []error{ErrCompile, e.Kind}
}

func compileErr(kind error, format string, args ...any) error {
	return &CompileError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// asCompileErr keeps an existing CompileError and classifies anything else
// as kind.
func asCompileErr(kind error, err error, context string) error {
	var ce *CompileError
	if errors.As(err, &ce) {
		return &CompileError{Kind: ce.Kind, Msg: context + ": " + ce.Msg}
	}
	return &CompileError{Kind: kind, Msg: context + ": " + err.Error()}
}

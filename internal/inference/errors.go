package inference

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotInitialized = errors.New("model not initialized")
	ErrInputShape          = errors.New("input shape mismatch")
	ErrExecution           = errors.New("execution failed")
)

// InputShapeError reports an observation of the wrong length.
type InputShapeError struct {
	Expected int
	Got      int
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("Expected %d input values, got %d", e.Expected, e.Got)
}

func (e *InputShapeError) Unwrap() error { return ErrInputShape }

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/samcharles93/tradepolicy/internal/action"
	"github.com/samcharles93/tradepolicy/internal/graph"
	"github.com/samcharles93/tradepolicy/internal/inference"
	"github.com/samcharles93/tradepolicy/internal/ledger"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps an engine error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, inference.ErrInputShape):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, inference.ErrModelNotInitialized):
		return http.StatusConflict, "model_not_initialized"
	case errors.Is(err, graph.ErrCompile):
		return http.StatusUnprocessableEntity, "compilation_error"
	case errors.Is(err, ledger.ErrIngestion):
		return http.StatusServiceUnavailable, "ingestion_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable_error"
	case errors.Is(err, action.ErrInvalidActionIndex), errors.Is(err, action.ErrNoOutput):
		return http.StatusInternalServerError, "decode_error"
	case errors.Is(err, inference.ErrExecution), errors.Is(err, graph.ErrExecution):
		return http.StatusInternalServerError, "execution_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

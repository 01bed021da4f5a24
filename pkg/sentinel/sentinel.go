// Package sentinel defines the error taxonomy shared by the Torvus workflows.
//
// Stores and services return these values (usually wrapped with fmt.Errorf and %w)
// and route handlers translate them into HTTP statuses with HTTPStatus.
package sentinel

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrSelfApproval    = errors.New("requester cannot approve their own request")
	ErrAlreadyDecided  = errors.New("approver has already decided on this request")
	ErrInvalidState    = errors.New("invalid state")
	ErrConflict        = errors.New("conflict")
)

// StateError reports a transition attempted against a request whose current
// status does not allow it. Status is re-read from the store.
type StateError struct {
	Status string
	Op     string
}

func (e *StateError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("request is %s", e.Status)
	}
	return fmt.Sprintf("cannot %s request in status %s", e.Op, e.Status)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// NewStateError returns a *StateError for the given operation and status.
func NewStateError(op, status string) error {
	return &StateError{Op: op, Status: status}
}

// Invalid wraps ErrInvalidInput with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an error to the status code route handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSelfApproval),
		errors.Is(err, ErrAlreadyDecided),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Code is a stable machine-readable name for err, used in JSON error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSelfApproval):
		return "self_approval"
	case errors.Is(err, ErrAlreadyDecided):
		return "already_decided"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure
	UnauthorizedError struct {
		Message string
	}

	// ForbiddenError indicates authorization failure
	ForbiddenError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string     { return e.Message }
func (e *ValidationError) Error() string   { return e.Message }
func (e *UnauthorizedError) Error() string { return e.Message }
func (e *ForbiddenError) Error() string    { return e.Message }

func (e *NotFoundError) StatusCode() int     { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int   { return http.StatusBadRequest }
func (e *UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }
func (e *ForbiddenError) StatusCode() int    { return http.StatusForbidden }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Turn pipeline errors. Each wraps its cause so callers can unwrap to the
// provider or driver error; the stage tells the boundary which step failed.
type (
	// GuardrailError is a failure of the scope classification check.
	GuardrailError struct {
		Err error
	}

	// SideTaskError is a failure of an auxiliary computation
	// (background extraction, follow-up questions).
	SideTaskError struct {
		Task string
		Err  error
	}

	// StreamingError is a failure of the primary agent stream.
	StreamingError struct {
		Err error
	}

	// StorageError is a fault in the durable turn store.
	StorageError struct {
		Op  string
		Err error
	}
)

func (e *GuardrailError) Error() string { return fmt.Sprintf("guardrail: %v", e.Err) }
func (e *GuardrailError) Unwrap() error { return e.Err }

func (e *SideTaskError) Error() string { return fmt.Sprintf("side task %s: %v", e.Task, e.Err) }
func (e *SideTaskError) Unwrap() error { return e.Err }

func (e *StreamingError) Error() string { return fmt.Sprintf("streaming: %v", e.Err) }
func (e *StreamingError) Unwrap() error { return e.Err }

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// StatusCode implements HTTPError. Storage faults surface as 503 so load
// balancers can route around an unhealthy database.
func (e *StorageError) StatusCode() int { return http.StatusServiceUnavailable }

// NewStorageError wraps err as a StorageError for operation op.
// Returns nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

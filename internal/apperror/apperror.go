// Package apperror defines the domain errors shared by the service, repository
// and handler layers.
//
// Every error that crosses a layer boundary is an *AppError wrapping one of the
// sentinels below. Handlers branch on the sentinel with errors.Is and never on
// the underlying cause:
//
//	ErrMalformedRequest → 400
//	ErrValidation       → 400
//	ErrPersistence      → 500
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrValidation       = errors.New("validation error")
	ErrPersistence      = errors.New("persistence failed")
)

// Validation reasons.
const (
	ReasonMissing   = "missing"
	ReasonMalformed = "malformed"
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message, safe to show to clients
	Field   string // Optional: field(s) causing the error, comma separated
	Reason  string // Optional: ReasonMissing or ReasonMalformed for validation errors
	Kind    string // Optional: persistence failure kind, for logs only
	Cause   error  // Optional: underlying error, for logs only
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Malformed reports a request body that could not be read as a submission.
func Malformed(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrMalformedRequest,
		Message: message,
		Cause:   cause,
	}
}

// MissingFields reports one or more required fields that were absent or empty.
func MissingFields(fields ...string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: fmt.Sprintf("missing required field(s): %s", strings.Join(fields, ", ")),
		Field:   strings.Join(fields, ","),
		Reason:  ReasonMissing,
	}
}

// MalformedField reports a field that is present but not acceptable.
func MalformedField(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Reason:  ReasonMalformed,
	}
}

// PersistenceFailed collapses any storage error into the single opaque
// persistence signal. kind and cause are kept for logging; Message never
// carries driver detail.
func PersistenceFailed(kind string, cause error) *AppError {
	return &AppError{
		Err:     ErrPersistence,
		Message: "failed to save subscription",
		Kind:    kind,
		Cause:   cause,
	}
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrTransient marks a fetch failure worth retrying.
	ErrTransient = errors.New("transient fetch failure")
	// ErrMalformedPayload marks a response that could not be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
	ErrInvalidURL       = errors.New("invalid thread url")
	ErrNoURLColumn      = errors.New("input has no url column")
	ErrBatchCancelled   = errors.New("batch cancelled")
	ErrInvalidOption    = errors.New("invalid option")
)

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	return &transientError{err: err}
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// FetchError is returned once a URL has used up its retry budget.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: gave up after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Message is the last failure's description, as shown in an error row.
func (e *FetchError) Message() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

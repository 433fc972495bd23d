package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when an operation runs before setup completed.
	ErrNotInitialized = errors.New("memory service not initialized")
	// ErrNotFound is returned for missing ids and missing relationship endpoints.
	ErrNotFound = errors.New("memory not found")
	// ErrBackendUnavailable is returned when a storage service failed to start.
	ErrBackendUnavailable = errors.New("memory backend unavailable")
	// ErrEmbedding marks a failed or timed out embedding request.
	ErrEmbedding = errors.New("embedding failed")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("invalid memory input")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError wraps ErrNotFound with the missing id.
func NotFoundError(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for unknown job or segment identifiers.
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned when a transition or edit is not legal for the
// job's current status.
var ErrInvalidState = errors.New("invalid state")

// ErrMissingArtifact is returned when final assembly finds a gap in the
// ordered combined artifacts.
var ErrMissingArtifact = errors.New("missing artifact")

// ValidationError rejects malformed input synchronously, before any state
// change.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) ValidationError {
	return ValidationError{Message: fmt.Sprintf(format, args...)}
}

// GenerationError reports a failed processor sub-step. It is recorded on the
// segment before the enclosing run halts.
type GenerationError struct {
	Step string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

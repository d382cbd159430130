package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrUnknownReference    = errors.New("unknown reference")
	ErrProvider            = errors.New("provider call failed")
	ErrConcurrencyConflict = errors.New("concurrent mutation")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrBelowMinimum        = errors.New("amount below minimum")
)

// ValidationError is a missing or malformed user-supplied field. Question is
// the clarifying prompt sent back to the user.
type ValidationError struct {
	Field    string
	Question string
	// Cause optionally narrows the failure, e.g. ErrBelowMinimum.
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s", e.Field)
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrValidation, e.Cause}
	}
	return []error{ErrValidation}
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, question string) *ValidationError {
	return &ValidationError{Field: field, Question: question}
}

// ProviderError wraps a failed call to an external collaborator.
type ProviderError struct {
	Provider string
	Op       string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }

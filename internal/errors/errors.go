// Package errors provides the consolidated error definitions for warden.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
// - A ValidationErrors collector for multi-field validation
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Validation errors - surfaced to the caller verbatim, never retried.
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidRiskLevel = errors.New("risk_level must be one of high/medium/low")
	ErrInvalidTimestamp = errors.New("timestamp is not a valid RFC 3339 time")
	ErrInvalidDate      = errors.New("date must be formatted as YYYY-MM-DD")
	ErrBatchEmpty       = errors.New("batch contains no events")
	ErrBatchTooLarge    = errors.New("batch exceeds the maximum size")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Flush errors - recovered internally by requeueing, never surfaced to
	// the submitter.
	ErrFlushFailed = errors.New("flush to store failed")

	// Query errors - always propagated; a failed query is never reported as
	// an empty result.
	ErrQueryFailed = errors.New("store query failed")

	// State errors
	ErrNotRunning  = errors.New("service not running")
	ErrRunning     = errors.New("service already running")
	ErrStoreClosed = errors.New("store is closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidRiskLevel) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrBatchEmpty) ||
		errors.Is(err, ErrBatchTooLarge) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsQueryFailure returns true if err is a query failure.
func IsQueryFailure(err error) bool {
	return errors.Is(err, ErrQueryFailed)
}

// IsStateError returns true if err is a lifecycle state error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrNotRunning) ||
		errors.Is(err, ErrRunning) ||
		errors.Is(err, ErrStoreClosed)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewQueryFailure wraps a store error as a query failure.
func NewQueryFailure(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrQueryFailed)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}

// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrLimitReached    = errors.New("limit reached")
	ErrForbidden       = errors.New("forbidden")
	ErrAlreadyApplied  = errors.New("already applied")
	ErrStateTransition = errors.New("invalid state transition")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrTimeout                = errors.New("operation timeout")
	ErrServiceUnavailable     = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "quiz", "points", "enrollment"
	Op      string // Operation that failed, e.g., "Submit", "Award"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Content errors. Content is owned by the CRUD layer and may disappear
// after facts referencing it were produced.
var (
	ErrCourseNotFound = NewDomainError("content", "Find", ErrNotFound, "course not found")
	ErrLessonNotFound = NewDomainError("content", "Find", ErrNotFound, "lesson not found")
	ErrQuizNotFound   = NewDomainError("content", "Find", ErrNotFound, "quiz not found")
)

// Quiz domain errors
var (
	ErrNotEnrolled             = NewDomainError("quiz", "Admit", ErrForbidden, "student is not enrolled in the quiz's course")
	ErrAttemptsExhausted       = NewDomainError("quiz", "Admit", ErrLimitReached, "maximum attempts reached for this quiz")
	ErrAttemptAlreadySubmitted = NewDomainError("quiz", "Submit", ErrAlreadyApplied, "attempt already submitted")
	ErrAttemptNotFound         = NewDomainError("quiz", "Find", ErrNotFound, "attempt not found")
	ErrAttemptOwnership        = NewDomainError("quiz", "Submit", ErrForbidden, "attempt belongs to another student or quiz")
)

// Enrollment domain errors
var (
	ErrEnrollmentNotFound = NewDomainError("enrollment", "Find", ErrNotFound, "enrollment not found")
	ErrLessonNotInCourse  = NewDomainError("enrollment", "Track", ErrInvalidInput, "lesson does not belong to the course")
)

// Points domain errors
var (
	ErrInvalidTransactionType = NewDomainError("points", "Validate", ErrInvalidInput, "invalid transaction type")
	ErrZeroPoints             = NewDomainError("points", "Validate", ErrValueOutOfRange, "transaction points cannot be zero")
)

// Storage errors
var (
	ErrTransientStorage = NewDomainError("storage", "Write", ErrConcurrentModification, "transient storage conflict")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}

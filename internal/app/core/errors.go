// Package core defines the error taxonomy shared by all application services.
//
// Errors fall into four kinds: validation (bad input, detected before any
// I/O), not-found (a referenced entity does not exist), conflict (a business
// rule was violated), and forbidden (the caller's role does not permit the
// operation). Infrastructure errors from stores are propagated unchanged and
// match none of the kind helpers.
package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by all not-found errors.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is wrapped by all validation errors.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is wrapped by all business-rule violations.
	ErrConflict = errors.New("conflict")
	// ErrForbidden is wrapped by all authorization denials.
	ErrForbidden = errors.New("forbidden")
)

// NotFoundError reports a missing entity, naming its kind and identifier.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError builds a NotFoundError for the given resource and id.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError reports malformed or missing input for a named field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// RequiredError is a ValidationError for an absent required field.
func RequiredError(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

// ConflictError reports a business-rule violation on an entity.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", e.Resource, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError builds a ConflictError.
func NewConflictError(resource, id, reason string) *ConflictError {
	return &ConflictError{Resource: resource, ID: id, Reason: reason}
}

// AccessDeniedError reports an operation the executing role may not perform.
type AccessDeniedError struct {
	Operation string
	Role      string
	Reason    string
}

func (e *AccessDeniedError) Error() string {
	msg := fmt.Sprintf("access denied to %s for role %s", e.Operation, e.Role)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *AccessDeniedError) Unwrap() error { return ErrForbidden }

// NewAccessDeniedError builds an AccessDeniedError.
func NewAccessDeniedError(operation, role, reason string) *AccessDeniedError {
	return &AccessDeniedError{Operation: operation, Role: role, Reason: reason}
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidationError reports whether err is a validation error.
func IsValidationError(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsConflict reports whether err is a business-rule violation.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsForbidden reports whether err is an authorization denial.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

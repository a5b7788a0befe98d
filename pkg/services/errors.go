// Package services provides the application layer between the HTTP surface
// and persistence: workflow lifecycle rules and definition validation.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired = errors.New("workflow name is required")
	ErrUnknownTriggerType   = errors.New("unknown trigger type")

	// ErrWorkflowInvalid is returned when activation is attempted on a
	// definition with blocking validation errors (422 Unprocessable Entity).
	ErrWorkflowInvalid = errors.New("workflow definition has validation errors")

	// ErrInvalidTransition is returned for status changes the lifecycle does
	// not allow (409 Conflict).
	ErrInvalidTransition = errors.New("invalid workflow status transition")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrUnknownTriggerType)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found by the given identifier.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrEnrollmentExists indicates the (workflow, contact) pair already has
	// an active enrollment.
	ErrEnrollmentExists = errors.New("active enrollment already exists")

	// ErrStaleEnrollment indicates a compare-and-swap transition found the
	// enrollment in a different state than expected.
	ErrStaleEnrollment = errors.New("enrollment state changed since read")

	// ErrWorkItemNotFound indicates a work item was not found or is not in a
	// claimable state.
	ErrWorkItemNotFound = errors.New("work item not found")
)

// EnrollmentError wraps enrollment-related errors with operation context.
type EnrollmentError struct {
	Op           string // Operation being performed (e.g. "TransitionStep")
	EnrollmentID string
	Err          error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates a new enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{
		Op:           op,
		EnrollmentID: enrollmentID,
		Err:          err,
	}
}

// WorkflowError wraps workflow-related errors with operation context.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsEnrollmentNotFound checks if an error indicates an enrollment was not found.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

// IsStaleEnrollment checks if an error indicates a lost compare-and-swap.
func IsStaleEnrollment(err error) bool {
	return errors.Is(err, ErrStaleEnrollment)
}

// IsEnrollmentExists checks if an error indicates the contact already has an
// active enrollment in the workflow.
func IsEnrollmentExists(err error) bool {
	return errors.Is(err, ErrEnrollmentExists)
}

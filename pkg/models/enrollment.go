package models

import "time"

// EnrollmentStatus represents the lifecycle state of one contact's run
// through one workflow.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusExited    EnrollmentStatus = "exited"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
)

// Enrollment is one contact's run through one workflow. Terminal states
// (completed, exited, failed) are final: no scheduled work executes against
// them even if a stale work item is still queued.
type Enrollment struct {
	ID            string           `json:"id"          validate:"required"`
	WorkflowID    string           `json:"workflow_id" validate:"required"`
	ContactID     string           `json:"contact_id"  validate:"required"`
	Status        EnrollmentStatus `json:"status"`
	CurrentStepID string           `json:"current_step_id"`
	Context       map[string]any   `json:"context,omitempty"` // Trigger-time data snapshot
	EnrolledAt    time.Time        `json:"enrolled_at"`
	NextActionAt  *time.Time       `json:"next_action_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
}

// IsTerminal reports whether the enrollment reached a final state.
func (e *Enrollment) IsTerminal() bool {
	switch e.Status {
	case EnrollmentStatusCompleted, EnrollmentStatusExited, EnrollmentStatusFailed:
		return true
	default:
		return false
	}
}

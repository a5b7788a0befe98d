package models

import "time"

// WorkItemStatus represents the queue state of a scheduled work item.
type WorkItemStatus string

const (
	WorkItemStatusPending WorkItemStatus = "pending"
	WorkItemStatusLeased  WorkItemStatus = "leased"
	WorkItemStatusDone    WorkItemStatus = "done"
	WorkItemStatusFailed  WorkItemStatus = "failed"
)

// WorkItem is a durable (enrollment, due-time) pair representing pending
// future work. It records the step it was created for so a dispatch against
// an enrollment that has already moved on can be rejected.
type WorkItem struct {
	ID           string         `json:"id"`
	EnrollmentID string         `json:"enrollment_id" validate:"required"`
	StepID       string         `json:"step_id"       validate:"required"`
	DueAt        time.Time      `json:"due_at"`
	Attempts     int            `json:"attempts"`
	Status       WorkItemStatus `json:"status"`
	LeaseExpires *time.Time     `json:"lease_expires,omitempty"`
	LeasedBy     string         `json:"leased_by,omitempty"`
}

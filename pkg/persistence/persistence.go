// Package persistence provides the data storage abstraction for workflows,
// enrollments, and the scheduled work queue.
package persistence

import (
	"context"
	"time"

	"github.com/beaconcrm/journey/pkg/models"
)

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// ActiveWorkflowsByTrigger returns active workflows whose trigger type
	// matches. Used by the trigger dispatcher on every business event.
	ActiveWorkflowsByTrigger(ctx context.Context, trigger models.TriggerType) ([]*models.Workflow, error)
}

// EnrollmentRepository stores enrollments. State transitions are
// compare-and-swap operations: the caller names the state it believes the
// enrollment is in, and ErrStaleEnrollment comes back when that no longer
// holds. This is the property that makes duplicate dispatch harmless.
type EnrollmentRepository interface {
	// CreateEnrollment persists a new enrollment. Returns
	// ErrEnrollmentExists when the (workflow, contact) pair already has an
	// active enrollment.
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error

	EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error)

	// TransitionStep moves an active enrollment from one current step to
	// another, updating the next-action timestamp.
	TransitionStep(ctx context.Context, id, fromStepID, toStepID string, nextActionAt *time.Time) error

	// TransitionStatus moves an enrollment between lifecycle states. The
	// reason is persisted for operator visibility on failures.
	TransitionStatus(ctx context.Context, id string, from, to models.EnrollmentStatus, reason string) error
}

// QueueStats are aggregate work-item counts by state, exposed for
// operational visibility only.
type QueueStats struct {
	Pending int `json:"pending"`
	Leased  int `json:"leased"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// Queue is the durable, time-ordered work queue behind the scheduler. An
// enrollment has at most one outstanding item at a time; Schedule is an
// upsert against that slot.
type Queue interface {
	// Schedule creates or replaces the pending item for an enrollment.
	Schedule(ctx context.Context, enrollmentID, stepID string, dueAt time.Time) error

	// ClaimDue atomically claims up to limit items with dueAt <= now,
	// marking them leased by worker until the lease expires. Claimed items
	// are invisible to other pollers for the duration of the lease.
	ClaimDue(ctx context.Context, now time.Time, limit int, worker string, lease time.Duration) ([]*models.WorkItem, error)

	// Complete marks a claimed item done. The resolution applies only while
	// the claim still holds: if Schedule repurposed the enrollment's item
	// for a successor step since the claim, the item is left alone and nil
	// is returned.
	Complete(ctx context.Context, item *models.WorkItem) error

	// Retry returns a claimed item to pending with an incremented attempt
	// counter and a new due time. Same claim guard as Complete.
	Retry(ctx context.Context, item *models.WorkItem, dueAt time.Time) error

	// Fail marks a claimed item permanently failed. Same claim guard as
	// Complete.
	Fail(ctx context.Context, item *models.WorkItem) error

	// CancelByEnrollment removes any outstanding item for an enrollment.
	CancelByEnrollment(ctx context.Context, enrollmentID string) error

	Stats(ctx context.Context) (QueueStats, error)
}

// Persistence aggregates the storage concerns behind one connection
// lifecycle.
type Persistence interface {
	WorkflowRepository
	EnrollmentRepository
	Queue

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

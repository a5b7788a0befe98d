// Package memory provides an in-memory persistence implementation, used in
// tests and local development. All operations are guarded by a single mutex;
// the claim and transition methods give the same atomicity guarantees the
// SQL implementation gets from row locking.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/google/uuid"
)

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	mu          sync.Mutex
	workflows   map[string]*models.Workflow
	enrollments map[string]*models.Enrollment
	items       map[string]*models.WorkItem
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:   make(map[string]*models.Workflow),
		enrollments: make(map[string]*models.Enrollment),
		items:       make(map[string]*models.WorkItem),
	}
}

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

// SaveWorkflow stores or replaces a workflow definition.
func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *workflow
	p.workflows[workflow.ID] = &copied

	return nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	workflow, ok := p.workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
	}

	copied := *workflow

	return &copied, nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workflows[id]; !ok {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	delete(p.workflows, id)

	return nil
}

func (p *Persistence) ActiveWorkflowsByTrigger(_ context.Context, trigger models.TriggerType) ([]*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	matches := make([]*models.Workflow, 0)

	for _, workflow := range p.workflows {
		if workflow.Status == models.WorkflowStatusActive && workflow.TriggerType == trigger {
			copied := *workflow
			matches = append(matches, &copied)
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	return matches, nil
}

// CreateEnrollment persists a new enrollment, enforcing the at-most-one
// active enrollment per (workflow, contact) invariant.
func (p *Persistence) CreateEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.enrollments {
		if existing.WorkflowID == enrollment.WorkflowID &&
			existing.ContactID == enrollment.ContactID &&
			existing.Status == models.EnrollmentStatusActive {
			return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, persistence.ErrEnrollmentExists)
		}
	}

	copied := *enrollment
	p.enrollments[enrollment.ID] = &copied

	return nil
}

func (p *Persistence) EnrollmentByID(_ context.Context, id string) (*models.Enrollment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	enrollment, ok := p.enrollments[id]
	if !ok {
		return nil, persistence.NewEnrollmentError("EnrollmentByID", id, persistence.ErrEnrollmentNotFound)
	}

	copied := *enrollment

	return &copied, nil
}

func (p *Persistence) TransitionStep(_ context.Context, id, fromStepID, toStepID string, nextActionAt *time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	enrollment, ok := p.enrollments[id]
	if !ok {
		return persistence.NewEnrollmentError("TransitionStep", id, persistence.ErrEnrollmentNotFound)
	}

	if enrollment.Status != models.EnrollmentStatusActive || enrollment.CurrentStepID != fromStepID {
		return persistence.NewEnrollmentError("TransitionStep", id, persistence.ErrStaleEnrollment)
	}

	enrollment.CurrentStepID = toStepID
	enrollment.NextActionAt = nextActionAt

	return nil
}

func (p *Persistence) TransitionStatus(_ context.Context, id string, from, to models.EnrollmentStatus, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	enrollment, ok := p.enrollments[id]
	if !ok {
		return persistence.NewEnrollmentError("TransitionStatus", id, persistence.ErrEnrollmentNotFound)
	}

	if enrollment.Status != from {
		return persistence.NewEnrollmentError("TransitionStatus", id, persistence.ErrStaleEnrollment)
	}

	enrollment.Status = to
	enrollment.NextActionAt = nil

	if reason != "" {
		enrollment.FailureReason = reason
	}

	if enrollment.IsTerminal() {
		now := time.Now().UTC()
		enrollment.CompletedAt = &now
	}

	return nil
}

// Schedule upserts the single outstanding item for an enrollment.
func (p *Persistence) Schedule(_ context.Context, enrollmentID, stepID string, dueAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, item := range p.items {
		if item.EnrollmentID == enrollmentID &&
			(item.Status == models.WorkItemStatusPending || item.Status == models.WorkItemStatusLeased) {
			item.StepID = stepID
			item.DueAt = dueAt
			item.Status = models.WorkItemStatusPending
			item.Attempts = 0
			item.LeaseExpires = nil
			item.LeasedBy = ""

			return nil
		}
	}

	item := &models.WorkItem{
		ID:           uuid.New().String(),
		EnrollmentID: enrollmentID,
		StepID:       stepID,
		DueAt:        dueAt,
		Status:       models.WorkItemStatusPending,
	}
	p.items[item.ID] = item

	return nil
}

func (p *Persistence) ClaimDue(_ context.Context, now time.Time, limit int, worker string, lease time.Duration) ([]*models.WorkItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	due := make([]*models.WorkItem, 0)

	for _, item := range p.items {
		claimable := item.Status == models.WorkItemStatusPending ||
			(item.Status == models.WorkItemStatusLeased && item.LeaseExpires != nil && item.LeaseExpires.Before(now))

		if claimable && !item.DueAt.After(now) {
			due = append(due, item)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*models.WorkItem, 0, len(due))

	for _, item := range due {
		expires := now.Add(lease)
		item.Status = models.WorkItemStatusLeased
		item.LeaseExpires = &expires
		item.LeasedBy = worker

		copied := *item
		claimed = append(claimed, &copied)
	}

	return claimed, nil
}

func (p *Persistence) Complete(_ context.Context, item *models.WorkItem) error {
	return p.resolve(item, models.WorkItemStatusDone)
}

func (p *Persistence) Fail(_ context.Context, item *models.WorkItem) error {
	return p.resolve(item, models.WorkItemStatusFailed)
}

// resolve finishes a claimed item only while the claim still holds. When
// Schedule has repurposed the enrollment's item for a successor step the
// resolution is a no-op: the successor must stay claimable.
func (p *Persistence) resolve(claim *models.WorkItem, status models.WorkItemStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.itemByID(claim.ID)
	if !ok || item.Status != models.WorkItemStatusLeased || item.StepID != claim.StepID {
		return nil
	}

	item.Status = status
	item.LeaseExpires = nil
	item.LeasedBy = ""

	return nil
}

func (p *Persistence) Retry(_ context.Context, claim *models.WorkItem, dueAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.itemByID(claim.ID)
	if !ok || item.Status != models.WorkItemStatusLeased || item.StepID != claim.StepID {
		return nil
	}

	item.Status = models.WorkItemStatusPending
	item.Attempts++
	item.DueAt = dueAt
	item.LeaseExpires = nil
	item.LeasedBy = ""

	return nil
}

func (p *Persistence) CancelByEnrollment(_ context.Context, enrollmentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, item := range p.items {
		if item.EnrollmentID == enrollmentID &&
			(item.Status == models.WorkItemStatusPending || item.Status == models.WorkItemStatusLeased) {
			delete(p.items, id)
		}
	}

	return nil
}

func (p *Persistence) Stats(_ context.Context) (persistence.QueueStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stats persistence.QueueStats

	for _, item := range p.items {
		switch item.Status {
		case models.WorkItemStatusPending:
			stats.Pending++
		case models.WorkItemStatusLeased:
			stats.Leased++
		case models.WorkItemStatusDone:
			stats.Done++
		case models.WorkItemStatusFailed:
			stats.Failed++
		}
	}

	return stats, nil
}

func (p *Persistence) itemByID(id string) (*models.WorkItem, bool) {
	for _, item := range p.items {
		if item.ID == id {
			return item, true
		}
	}

	return nil, false
}

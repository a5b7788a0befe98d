package services

import (
	"context"
	"fmt"
	"time"

	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/beaconcrm/journey/pkg/validation"
	"github.com/google/uuid"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// Workflow implements workflow lifecycle rules: drafts may be saved with
// validation errors, but only definitions free of blocking errors can go
// active.
type Workflow struct {
	persistence persistence.Persistence
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create saves a new workflow as a draft. Drafts may carry validation
// errors; they only block activation.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	err := w.checkBasics(workflow)
	if err != nil {
		return nil, err
	}

	workflow.ID = uuid.New().String()
	workflow.Status = models.WorkflowStatusDraft
	workflow.CreatedAt = time.Now().UTC()

	err = w.persistence.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

// Update replaces the definition of an existing workflow. The status is
// kept; enrollments in flight resolve their next step against the updated
// graph, and runs sitting on a removed step fail when they next execute.
func (w *Workflow) Update(ctx context.Context, id string, workflow *models.Workflow) (*models.Workflow, error) {
	err := w.checkBasics(workflow)
	if err != nil {
		return nil, err
	}

	existing, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow.ID = existing.ID
	workflow.Status = existing.Status
	workflow.CreatedAt = existing.CreatedAt

	err = w.persistence.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

// FetchByID returns a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowByID(ctx, id)
}

// Delete removes a workflow.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	return w.persistence.DeleteWorkflow(ctx, id)
}

// Validate runs the definition validator against a stored workflow.
func (w *Workflow) Validate(ctx context.Context, id string) (validation.Result, error) {
	workflow, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return validation.Result{}, err
	}

	return validation.Validate(workflow.Steps), nil
}

// Activate validates the definition and moves the workflow to active.
// Warnings do not block activation; errors do.
func (w *Workflow) Activate(ctx context.Context, id string) (*models.Workflow, validation.Result, error) {
	workflow, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, validation.Result{}, err
	}

	result := validation.Validate(workflow.Steps)
	if !result.Valid {
		return nil, result, &ServiceError{Op: "Activate", Err: ErrWorkflowInvalid}
	}

	workflow.Status = models.WorkflowStatusActive

	err = w.persistence.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, result, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, result, nil
}

// Pause stops new enrollments into an active workflow. Existing enrollments
// keep running.
func (w *Workflow) Pause(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusActive {
		return nil, &ServiceError{
			Op:      "Pause",
			Message: fmt.Sprintf("cannot pause a %s workflow", workflow.Status),
			Err:     ErrInvalidTransition,
		}
	}

	workflow.Status = models.WorkflowStatusPaused

	err = w.persistence.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

// Resume moves a paused workflow back to active, re-checking validity.
func (w *Workflow) Resume(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusPaused {
		return nil, &ServiceError{
			Op:      "Resume",
			Message: fmt.Sprintf("cannot resume a %s workflow", workflow.Status),
			Err:     ErrInvalidTransition,
		}
	}

	result := validation.Validate(workflow.Steps)
	if !result.Valid {
		return nil, &ServiceError{Op: "Resume", Err: ErrWorkflowInvalid}
	}

	workflow.Status = models.WorkflowStatusActive

	err = w.persistence.SaveWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

func (w *Workflow) checkBasics(workflow *models.Workflow) error {
	if workflow == nil {
		return &ServiceError{Op: "Save", Err: ErrWorkflowNil}
	}

	if workflow.Name == "" {
		return &ServiceError{Op: "Save", Err: ErrWorkflowNameRequired}
	}

	switch workflow.TriggerType {
	case models.TriggerWelcome, models.TriggerAbandonedCart, models.TriggerOrderConfirmation,
		models.TriggerShipping, models.TriggerCustom:
		return nil
	default:
		return &ServiceError{
			Op:      "Save",
			Message: fmt.Sprintf("trigger type %q", workflow.TriggerType),
			Err:     ErrUnknownTriggerType,
		}
	}
}

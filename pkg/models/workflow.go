// Package models defines the core domain models for marketing automation workflows.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, accepts no enrollments
	WorkflowStatusActive WorkflowStatus = "active" // Enrollable and executable
	WorkflowStatusPaused WorkflowStatus = "paused" // Accepts no new enrollments, existing ones may exit
)

// TriggerType is the business event that causes new enrollments.
type TriggerType string

const (
	TriggerWelcome           TriggerType = "welcome"
	TriggerAbandonedCart     TriggerType = "abandoned_cart"
	TriggerOrderConfirmation TriggerType = "order_confirmation"
	TriggerShipping          TriggerType = "shipping"
	TriggerCustom            TriggerType = "custom"
)

// Workflow represents a named automation graph triggered by a business event.
type Workflow struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	Name        string         `json:"name"         validate:"required,min=3"`
	TriggerType TriggerType    `json:"trigger_type" validate:"required"`
	Status      WorkflowStatus `json:"status"       validate:"required"`
	Steps       []*Step        `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TriggerStep returns the workflow's trigger step, or nil if none exists.
func (w *Workflow) TriggerStep() *Step {
	for _, step := range w.Steps {
		if step.Type == StepTypeTrigger {
			return step
		}
	}

	return nil
}

// StepByID resolves a step by its id. Steps reference each other by id
// strings, never by embedded pointers, so cycles are representable.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	for _, step := range w.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// Successors returns the ids of the steps reachable in one hop from step:
// the linear next pointer, or both branch edges for condition steps.
func (w *Workflow) Successors(step *Step) []string {
	if step == nil {
		return nil
	}

	if step.Type == StepTypeCondition {
		ids := make([]string, 0, 2)
		if step.TrueBranch != nil && *step.TrueBranch != "" {
			ids = append(ids, *step.TrueBranch)
		}

		if step.FalseBranch != nil && *step.FalseBranch != "" {
			ids = append(ids, *step.FalseBranch)
		}

		return ids
	}

	if step.Next != nil && *step.Next != "" {
		return []string{*step.Next}
	}

	return nil
}

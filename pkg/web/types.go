// Package web provides the HTTP surface: workflow management endpoints and
// the trigger intake endpoint.
package web

import "github.com/beaconcrm/journey/pkg/models"

// SaveWorkflowRequest represents the request body for creating or replacing
// a workflow definition. Steps arrive in the flat interchange shape and are
// decoded into the config union by step type.
type SaveWorkflowRequest struct {
	Name        string             `json:"name"         validate:"required,min=3"`
	OrgID       string             `json:"org_id"`
	TriggerType models.TriggerType `json:"trigger_type" validate:"required"`
	Steps       []*models.Step     `json:"steps"`
}

// TriggerEventRequest represents the intake body for a fired business event.
type TriggerEventRequest struct {
	ContactID string         `json:"contact_id" validate:"required"`
	Data      map[string]any `json:"data,omitempty"`
}

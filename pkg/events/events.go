// Package events defines the event types published on the bus: trigger
// intake and enrollment lifecycle notifications.
package events

import (
	"time"

	"github.com/beaconcrm/journey/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic is the bus topic all journey events travel on.
const Topic = "journey.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Trigger intake.
	TriggerFiredEvent EventType = "trigger.fired"

	// Enrollment lifecycle events.
	EnrollmentCreatedEvent   EventType = "enrollment.created"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentFailedEvent    EventType = "enrollment.failed"
	EnrollmentExitedEvent    EventType = "enrollment.exited"

	// Side-effect notifications.
	EmailSentEvent     EventType = "email.sent"
	WebhookCalledEvent EventType = "webhook.called"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TriggerFired carries one business event (new subscriber, cart abandoned,
// order placed, ...) into the trigger dispatcher. Origin is irrelevant.
type TriggerFired struct {
	BaseEvent

	TriggerType models.TriggerType `json:"trigger_type"`
	ContactID   string             `json:"contact_id"`
	TriggerData map[string]any     `json:"trigger_data,omitempty"`
}

func (e TriggerFired) GetType() EventType {
	return TriggerFiredEvent
}

type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	ContactID    string `json:"contact_id"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	ContactID    string `json:"contact_id"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	ContactID    string `json:"contact_id"`
	Reason       string `json:"reason"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedEvent
}

type EnrollmentExited struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	ContactID    string `json:"contact_id"`
}

func (e EnrollmentExited) GetType() EventType {
	return EnrollmentExitedEvent
}

type EmailSent struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	StepID       string `json:"step_id"`
	ContactID    string `json:"contact_id"`
	MessageID    string `json:"message_id,omitempty"`
}

func (e EmailSent) GetType() EventType {
	return EmailSentEvent
}

type WebhookCalled struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	StepID       string `json:"step_id"`
	URL          string `json:"url"`
	StatusCode   int    `json:"status_code"`
}

func (e WebhookCalled) GetType() EventType {
	return WebhookCalledEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

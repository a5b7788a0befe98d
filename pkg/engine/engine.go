// Package engine owns enrollment state transitions: it executes one due
// step at a time, performs or schedules its side effect, and persists the
// move to the successor. All expected failure kinds resolve to a state
// transition; only unexpected errors (store unavailable, programming
// errors) escape to the scheduler's dispatch loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beaconcrm/journey/pkg/eventbus"
	"github.com/beaconcrm/journey/pkg/events"
	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/beaconcrm/journey/pkg/protocol"
	"github.com/beaconcrm/journey/pkg/template"
	"k8s.io/utils/clock"
)

// Config carries the engine's collaborators. Store and Queue are required;
// Bus may be nil when lifecycle events are not wanted; Clock defaults to the
// real clock.
type Config struct {
	Store    persistence.Persistence
	Queue    persistence.Queue
	Delivery protocol.Delivery
	Webhooks protocol.WebhookCaller
	Contacts protocol.ContactStore
	Bus      eventbus.EventPublisher
	Clock    clock.PassiveClock
	Logger   *slog.Logger
}

// Engine advances enrollments through their workflow graphs.
type Engine struct {
	store    persistence.Persistence
	queue    persistence.Queue
	delivery protocol.Delivery
	webhooks protocol.WebhookCaller
	contacts protocol.ContactStore
	bus      eventbus.EventPublisher
	clock    clock.PassiveClock
	logger   *slog.Logger
}

// New creates an engine from config.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		store:    cfg.Store,
		queue:    cfg.Queue,
		delivery: cfg.Delivery,
		webhooks: cfg.Webhooks,
		contacts: cfg.Contacts,
		bus:      cfg.Bus,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("module", "engine"),
	}
}

// Advance executes the step a due work item was created for.
//
// Return contract with the scheduler: nil means the item is finished
// (including the cases where the enrollment failed permanently or the item
// was stale); a protocol.TransientError means retry with backoff; anything
// else is unexpected and the item stays leased for redelivery.
func (e *Engine) Advance(ctx context.Context, item *models.WorkItem) error {
	logger := e.logger.With(
		"enrollment_id", item.EnrollmentID,
		"step_id", item.StepID,
		"attempt", item.Attempts,
	)

	enrollment, err := e.store.EnrollmentByID(ctx, item.EnrollmentID)
	if err != nil {
		if persistence.IsEnrollmentNotFound(err) {
			logger.Warn("Work item references missing enrollment, dropping")

			return nil
		}

		return fmt.Errorf("failed to load enrollment %s: %w", item.EnrollmentID, err)
	}

	// Idempotence guard: the item names the step it was created for. A
	// duplicate or stale dispatch must not execute the side effect again.
	if enrollment.IsTerminal() {
		logger.Debug("Refusing work item for terminal enrollment", "status", enrollment.Status)

		return nil
	}

	if enrollment.CurrentStepID != item.StepID {
		// The enrollment moved on but this item still came up, which means
		// the successor was never scheduled (a crash between the step
		// transition and Schedule). Re-scheduling the current step converges
		// either way: Schedule upserts the enrollment's single live item.
		logger.Warn("Stale work item for active enrollment, re-scheduling current step",
			"current_step", enrollment.CurrentStepID)

		dueAt := e.clock.Now().UTC()
		if enrollment.NextActionAt != nil {
			dueAt = *enrollment.NextActionAt
		}

		if err := e.queue.Schedule(ctx, enrollment.ID, enrollment.CurrentStepID, dueAt); err != nil {
			return fmt.Errorf("failed to re-schedule step %s: %w", enrollment.CurrentStepID, err)
		}

		return nil
	}

	workflow, err := e.store.WorkflowByID(ctx, enrollment.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return e.failEnrollment(ctx, enrollment, "workflow no longer exists")
		}

		return fmt.Errorf("failed to load workflow %s: %w", enrollment.WorkflowID, err)
	}

	step, ok := workflow.StepByID(enrollment.CurrentStepID)
	if !ok {
		return e.failEnrollment(ctx, enrollment, fmt.Sprintf("step %s no longer exists", enrollment.CurrentStepID))
	}

	logger.Info("Executing step", "workflow_id", workflow.ID, "step_type", step.Type)

	return e.executeStep(ctx, workflow, enrollment, step)
}

func (e *Engine) executeStep(ctx context.Context, workflow *models.Workflow, enrollment *models.Enrollment, step *models.Step) error {
	switch config := step.Config.(type) {
	case models.TriggerConfig:
		// Enrollment entry point; the business event already happened.
		return e.advance(ctx, workflow, enrollment, step, step.Next)
	case models.DelayConfig:
		// The work item fired at expiry; the wait is over.
		return e.advance(ctx, workflow, enrollment, step, step.Next)
	case models.EmailConfig:
		return e.sendEmail(ctx, workflow, enrollment, step, config)
	case models.ConditionConfig:
		return e.branch(ctx, workflow, enrollment, step, config)
	case models.TagConfig:
		return e.applyTag(ctx, workflow, enrollment, step, config)
	case models.FieldConfig:
		return e.updateField(ctx, workflow, enrollment, step, config)
	case models.WebhookConfig:
		return e.callWebhook(ctx, workflow, enrollment, step, config)
	default:
		return e.failEnrollment(ctx, enrollment, fmt.Sprintf("step %s has no executable configuration", step.ID))
	}
}

func (e *Engine) sendEmail(ctx context.Context, workflow *models.Workflow, enrollment *models.Enrollment, step *models.Step, config models.EmailConfig) error {
	address, err := e.recipientAddress(ctx, enrollment.ContactID)
	if err != nil {
		return e.failEnrollment(ctx, enrollment, err.Error())
	}

	fields, err := e.contacts.Fields(ctx, enrollment.ContactID)
	if err != nil {
		return protocol.Transient(fmt.Errorf("failed to load contact fields: %w", err))
	}

	data := template.Data(fields, enrollment.Context)

	msg := protocol.Message{
		To:        address,
		FromEmail: config.FromEmail,
		FromName:  config.FromName,
	}

	if config.TemplateID != "" {
		msg.TemplateID = config.TemplateID
		msg.Variables = data
	} else {
		subject, err := template.Render(config.Subject, data)
		if err != nil {
			return e.failEnrollment(ctx, enrollment, fmt.Sprintf("invalid email subject template: %v", err))
		}

		content, err := template.Render(config.Content, data)
		if err != nil {
			return e.failEnrollment(ctx, enrollment, fmt.Sprintf("invalid email content template: %v", err))
		}

		msg.Subject = subject
		msg.HTMLBody = content
	}

	result, err := e.delivery.Send(ctx, msg)
	if err != nil {
		if protocol.IsTransient(err) {
			return err
		}

		// Permanent delivery failure: invalid address and the like.
		return e.failEnrollment(ctx, enrollment, fmt.Sprintf("email delivery failed: %v", err))
	}

	e.publish(ctx, enrollment.ID, events.EmailSent{
		BaseEvent:    events.NewBaseEvent(events.EmailSentEvent, workflow.ID),
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		ContactID:    enrollment.ContactID,
		MessageID:    result.MessageID,
	})

	return e.advance(ctx, workflow, enrollment, step, step.Next)
}

func (e *Engine) branch(ctx context.Context, workflow *models.Workflow, enrollment *models.Enrollment, step *models.Step, config models.ConditionConfig) error {
	outcome := true

	for _, condition := range config.Conditions {
		actual := e.resolveField(ctx, enrollment, condition.Field)

		holds, err := condition.Evaluate(actual)
		if err != nil {
			return e.failEnrollment(ctx, enrollment, fmt.Sprintf("condition on %s: %v", condition.Field, err))
		}

		if !holds {
			outcome = false

			break
		}
	}

	next := step.TrueBranch
	if !outcome {
		next = step.FalseBranch
	}

	// A missing branch on the taken side is an implicit fall-through to end.
	return e.advance(ctx, workflow, enrollment, step, next)
}

func (e *Engine) applyTag(ctx context.Context, workflow *models.Workflow, enrollment *models.Enrollment, step *models.Step, config models.TagConfig) error {
	var err error

	if step.Type == models.StepTypeRemoveTag {
		err = e.contacts.RemoveTag(ctx, enrollment.ContactID, config.Tag)
	} else {
		err = e.contacts.AddTag(ctx, enrollment.ContactID, config.Tag)
	}

	if err != nil {
		return protocol.Transient(fmt.Errorf("failed to update tags for contact %s: %w", enrollment.ContactID, err))
	}

	return e.advance(ctx, workflow, enrollment, step, step.Next)
}

func (e *Engine) updateField(ctx context.Context, workflow *models.Workflow, enrollment *models.Enrollment, step *models.Step, config models.FieldConfig) error {
	err := e.contacts.SetField(ctx, enrollment.ContactID, config.Field, config.Value)
	if err != nil {
		return protocol.Transient(fmt.Errorf("failed to update field %s for contact %s: %w", config.Field, enrollment.ContactID, err))
	}

	return e.advance(ctx, workflow, enrollment, step, step.Next)
}

func (e *Engine) callWebhook(ctx context.Context, workflow *models.Workflow, enrollment *models.Enrollment, step *models.Step, config models.WebhookConfig) error {
	payload := map[string]any{
		"enrollment_id": enrollment.ID,
		"workflow_id":   workflow.ID,
		"contact_id":    enrollment.ContactID,
		"context":       enrollment.Context,
	}

	result, err := e.webhooks.Call(ctx, config.URL, config.Method, config.Headers, payload)
	if err != nil {
		// The call never completed: network failure, always retryable.
		return protocol.Transient(fmt.Errorf("webhook call to %s failed: %w", config.URL, err))
	}

	switch {
	case result.StatusCode >= 200 && result.StatusCode < 300:
		// Delivered.
	case result.StatusCode >= 500 || result.StatusCode == 429:
		return protocol.Transient(fmt.Errorf("webhook %s returned status %d", config.URL, result.StatusCode))
	default:
		return e.failEnrollment(ctx, enrollment, fmt.Sprintf("webhook %s rejected the call with status %d", config.URL, result.StatusCode))
	}

	e.publish(ctx, enrollment.ID, events.WebhookCalled{
		BaseEvent:    events.NewBaseEvent(events.WebhookCalledEvent, workflow.ID),
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		URL:          config.URL,
		StatusCode:   result.StatusCode,
	})

	return e.advance(ctx, workflow, enrollment, step, step.Next)
}

// advance moves the enrollment to the successor step and schedules its work
// item: immediately for effect steps, at expiry for delays. A nil or empty
// successor completes the enrollment.
func (e *Engine) advance(ctx context.Context, workflow *models.Workflow, enrollment *models.Enrollment, step *models.Step, nextID *string) error {
	if nextID == nil || *nextID == "" {
		return e.complete(ctx, workflow, enrollment)
	}

	next, ok := workflow.StepByID(*nextID)
	if !ok {
		return e.failEnrollment(ctx, enrollment, fmt.Sprintf("successor step %s not found", *nextID))
	}

	dueAt := e.clock.Now().UTC()
	if delay, isDelay := next.Config.(models.DelayConfig); isDelay {
		dueAt = dueAt.Add(delay.Wait())
	}

	err := e.store.TransitionStep(ctx, enrollment.ID, step.ID, next.ID, &dueAt)
	if err != nil {
		if persistence.IsStaleEnrollment(err) {
			e.logger.Debug("Enrollment moved concurrently, dropping advance",
				"enrollment_id", enrollment.ID, "step_id", step.ID)

			return nil
		}

		return fmt.Errorf("failed to transition enrollment %s: %w", enrollment.ID, err)
	}

	err = e.queue.Schedule(ctx, enrollment.ID, next.ID, dueAt)
	if err != nil {
		return fmt.Errorf("failed to schedule step %s for enrollment %s: %w", next.ID, enrollment.ID, err)
	}

	return nil
}

func (e *Engine) complete(ctx context.Context, workflow *models.Workflow, enrollment *models.Enrollment) error {
	err := e.store.TransitionStatus(ctx, enrollment.ID, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted, "")
	if err != nil {
		if persistence.IsStaleEnrollment(err) {
			return nil
		}

		return fmt.Errorf("failed to complete enrollment %s: %w", enrollment.ID, err)
	}

	e.publish(ctx, enrollment.ID, events.EnrollmentCompleted{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCompletedEvent, workflow.ID),
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
	})

	e.logger.Info("Enrollment completed", "enrollment_id", enrollment.ID, "workflow_id", workflow.ID)

	return nil
}

func (e *Engine) failEnrollment(ctx context.Context, enrollment *models.Enrollment, reason string) error {
	err := e.store.TransitionStatus(ctx, enrollment.ID, models.EnrollmentStatusActive, models.EnrollmentStatusFailed, reason)
	if err != nil {
		if persistence.IsStaleEnrollment(err) {
			return nil
		}

		return fmt.Errorf("failed to mark enrollment %s failed: %w", enrollment.ID, err)
	}

	e.publish(ctx, enrollment.ID, events.EnrollmentFailed{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentFailedEvent, enrollment.WorkflowID),
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		Reason:       reason,
	})

	e.logger.Warn("Enrollment failed", "enrollment_id", enrollment.ID, "reason", reason)

	return nil
}

// FailEnrollment marks an enrollment permanently failed. Used by the
// scheduler when an item exhausts its retry budget.
func (e *Engine) FailEnrollment(ctx context.Context, enrollmentID, reason string) error {
	enrollment, err := e.store.EnrollmentByID(ctx, enrollmentID)
	if err != nil {
		if persistence.IsEnrollmentNotFound(err) {
			return nil
		}

		return err
	}

	if enrollment.IsTerminal() {
		return nil
	}

	return e.failEnrollment(ctx, enrollment, reason)
}

// ExitWorkflow is the manual cancellation path: it atomically marks the
// enrollment exited and cancels any outstanding work item. A racing dispatch
// loses the compare-and-swap and is rejected by the idempotence guard.
func (e *Engine) ExitWorkflow(ctx context.Context, enrollmentID string) error {
	enrollment, err := e.store.EnrollmentByID(ctx, enrollmentID)
	if err != nil {
		return err
	}

	if enrollment.IsTerminal() {
		return nil
	}

	err = e.store.TransitionStatus(ctx, enrollmentID, models.EnrollmentStatusActive, models.EnrollmentStatusExited, "")
	if err != nil {
		if persistence.IsStaleEnrollment(err) {
			return nil
		}

		return fmt.Errorf("failed to exit enrollment %s: %w", enrollmentID, err)
	}

	err = e.queue.CancelByEnrollment(ctx, enrollmentID)
	if err != nil {
		return fmt.Errorf("failed to cancel pending work for enrollment %s: %w", enrollmentID, err)
	}

	e.publish(ctx, enrollmentID, events.EnrollmentExited{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentExitedEvent, enrollment.WorkflowID),
		EnrollmentID: enrollmentID,
		ContactID:    enrollment.ContactID,
	})

	e.logger.Info("Enrollment exited", "enrollment_id", enrollmentID)

	return nil
}

// resolveField resolves a condition field from the live contact record,
// falling back to the enrollment's trigger-time context snapshot.
func (e *Engine) resolveField(ctx context.Context, enrollment *models.Enrollment, path string) any {
	if e.contacts != nil {
		value, err := e.contacts.GetField(ctx, enrollment.ContactID, path)
		if err == nil && value != nil {
			return value
		}
	}

	return lookupPath(enrollment.Context, path)
}

func (e *Engine) recipientAddress(ctx context.Context, contactID string) (string, error) {
	value, err := e.contacts.GetField(ctx, contactID, "email")
	if err != nil || value == nil {
		return "", fmt.Errorf("contact %s has no email address", contactID)
	}

	address, ok := value.(string)
	if !ok || address == "" {
		return "", fmt.Errorf("contact %s has no email address", contactID)
	}

	return address, nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	err := e.bus.Publish(ctx, key, event)
	if err != nil {
		e.logger.Error("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// lookupPath resolves a dot-separated path in a context map, accepting both
// flat keys ("order.count") and nested maps.
func lookupPath(data map[string]any, path string) any {
	if data == nil {
		return nil
	}

	if value, ok := data[path]; ok {
		return value
	}

	parts := strings.Split(path, ".")
	current := any(data)

	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}

		current, ok = node[part]
		if !ok {
			return nil
		}
	}

	return current
}

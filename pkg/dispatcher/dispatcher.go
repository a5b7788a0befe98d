// Package dispatcher turns business events into enrollments. For each
// trigger fired it finds the active workflows listening on that trigger
// type and enrolls the contact into each, skipping contacts that already
// have an active run.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/beaconcrm/journey/pkg/eventbus"
	"github.com/beaconcrm/journey/pkg/events"
	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// ErrWorkflowNotActive is returned when enrolling into a draft or paused
// workflow is attempted.
var ErrWorkflowNotActive = fmt.Errorf("workflow is not active")

// ErrNoTriggerStep is returned when a workflow has no trigger step to start
// the enrollment from.
var ErrNoTriggerStep = fmt.Errorf("workflow has no trigger step")

// Dispatcher enrolls contacts into workflows when their trigger fires.
type Dispatcher struct {
	store  persistence.Persistence
	queue  persistence.Queue
	bus    eventbus.EventPublisher
	clock  clock.PassiveClock
	logger *slog.Logger
}

// Config carries the dispatcher's collaborators. Bus may be nil; Clock
// defaults to the real clock.
type Config struct {
	Store  persistence.Persistence
	Queue  persistence.Queue
	Bus    eventbus.EventPublisher
	Clock  clock.PassiveClock
	Logger *slog.Logger
}

// New creates a dispatcher from config.
func New(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Dispatcher{
		store:  cfg.Store,
		queue:  cfg.Queue,
		bus:    cfg.Bus,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("module", "dispatcher"),
	}
}

// TriggerWorkflows enrolls the contact into every active workflow listening
// on the fired trigger type. One workflow failing to enroll does not stop
// the others; the first error is reported after all were attempted.
func (d *Dispatcher) TriggerWorkflows(ctx context.Context, event events.TriggerFired) error {
	logger := d.logger.With(
		"trigger_type", event.TriggerType,
		"contact_id", event.ContactID,
	)

	workflows, err := d.store.ActiveWorkflowsByTrigger(ctx, event.TriggerType)
	if err != nil {
		return fmt.Errorf("failed to find workflows for trigger %s: %w", event.TriggerType, err)
	}

	if len(workflows) == 0 {
		logger.Debug("No active workflows for trigger")

		return nil
	}

	var firstErr error

	enrolled := 0

	for _, workflow := range workflows {
		_, err := d.EnrollContact(ctx, workflow, event.ContactID, event.TriggerData)
		if err != nil {
			if persistence.IsEnrollmentExists(err) {
				logger.Debug("Contact already enrolled, skipping", "workflow_id", workflow.ID)

				continue
			}

			logger.Error("Failed to enroll contact", "workflow_id", workflow.ID, "error", err)

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		enrolled++
	}

	logger.Info("Trigger dispatched", "workflows", len(workflows), "enrolled", enrolled)

	return firstErr
}

// EnrollContact creates an enrollment positioned at the workflow's trigger
// step and schedules it for immediate execution. The trigger data becomes
// the enrollment's context snapshot.
func (d *Dispatcher) EnrollContact(ctx context.Context, workflow *models.Workflow, contactID string, triggerData map[string]any) (*models.Enrollment, error) {
	if workflow.Status != models.WorkflowStatusActive {
		return nil, fmt.Errorf("workflow %s: %w", workflow.ID, ErrWorkflowNotActive)
	}

	trigger := workflow.TriggerStep()
	if trigger == nil {
		return nil, fmt.Errorf("workflow %s: %w", workflow.ID, ErrNoTriggerStep)
	}

	now := d.clock.Now().UTC()

	enrollment := &models.Enrollment{
		ID:            uuid.New().String(),
		WorkflowID:    workflow.ID,
		ContactID:     contactID,
		Status:        models.EnrollmentStatusActive,
		CurrentStepID: trigger.ID,
		Context:       triggerData,
		EnrolledAt:    now,
		NextActionAt:  &now,
	}

	err := d.store.CreateEnrollment(ctx, enrollment)
	if err != nil {
		return nil, err
	}

	err = d.queue.Schedule(ctx, enrollment.ID, trigger.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule enrollment %s: %w", enrollment.ID, err)
	}

	d.publish(ctx, enrollment.ID, events.EnrollmentCreated{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCreatedEvent, workflow.ID),
		EnrollmentID: enrollment.ID,
		ContactID:    contactID,
	})

	d.logger.Info("Contact enrolled",
		"enrollment_id", enrollment.ID,
		"workflow_id", workflow.ID,
		"contact_id", contactID)

	return enrollment, nil
}

func (d *Dispatcher) publish(ctx context.Context, key string, event eventbus.Event) {
	if d.bus == nil {
		return
	}

	err := d.bus.Publish(ctx, key, event)
	if err != nil {
		d.logger.Error("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// Package schedule provides a cron-driven trigger source: recurring
// campaigns fire trigger events on a schedule instead of waiting for an
// inbound business event.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/beaconcrm/journey/pkg/eventbus"
	"github.com/beaconcrm/journey/pkg/events"
	"github.com/beaconcrm/journey/pkg/models"
	"github.com/robfig/cron/v3"
)

// Entry is one recurring trigger: a cron expression and the event it fires.
type Entry struct {
	Spec        string
	TriggerType models.TriggerType
	ContactID   string
	Data        map[string]any
}

// Source fires trigger events on cron schedules.
type Source struct {
	bus     eventbus.EventPublisher
	logger  *slog.Logger
	cron    *cron.Cron
	entries []Entry
}

// NewSource creates a schedule source with the given entries.
func NewSource(bus eventbus.EventPublisher, logger *slog.Logger, entries []Entry) *Source {
	return &Source{
		bus:     bus,
		logger:  logger.With("module", "schedule_source"),
		cron:    cron.New(),
		entries: entries,
	}
}

// Start registers all entries and runs the cron loop until the context is
// cancelled.
func (s *Source) Start(ctx context.Context) error {
	for _, entry := range s.entries {
		_, err := s.cron.AddFunc(entry.Spec, s.fire(ctx, entry))
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", entry.Spec, err)
		}

		s.logger.Info("Registered schedule",
			"spec", entry.Spec,
			"trigger_type", entry.TriggerType)
	}

	s.cron.Start()

	<-ctx.Done()

	// Let in-flight jobs finish.
	<-s.cron.Stop().Done()

	s.logger.Info("Schedule source stopped")

	return ctx.Err()
}

func (s *Source) fire(ctx context.Context, entry Entry) func() {
	return func() {
		event := events.TriggerFired{
			BaseEvent:   events.NewBaseEvent(events.TriggerFiredEvent, ""),
			TriggerType: entry.TriggerType,
			ContactID:   entry.ContactID,
			TriggerData: entry.Data,
		}

		err := s.bus.Publish(ctx, entry.ContactID, event)
		if err != nil {
			s.logger.Error("Failed to publish scheduled trigger",
				"trigger_type", entry.TriggerType,
				"error", err)

			return
		}

		s.logger.Info("Scheduled trigger fired", "trigger_type", entry.TriggerType)
	}
}

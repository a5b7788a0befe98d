package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/beaconcrm/journey/pkg/channels/gochannel"
	"github.com/beaconcrm/journey/pkg/events"
	"github.com/beaconcrm/journey/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestPublishAndSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.TriggerFired, 1)

	err := bus.Handle(events.TriggerFiredEvent, func(_ context.Context, event any) error {
		fired, ok := event.(*events.TriggerFired)
		require.True(t, ok)

		received <- fired

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	sent := events.TriggerFired{
		BaseEvent:   events.NewBaseEvent(events.TriggerFiredEvent, "wf-1"),
		TriggerType: models.TriggerWelcome,
		ContactID:   "c-1",
		TriggerData: map[string]any{"source": "signup-form"},
	}

	require.NoError(t, bus.Publish(ctx, sent.ContactID, sent))

	select {
	case fired := <-received:
		assert.Equal(t, models.TriggerWelcome, fired.TriggerType)
		assert.Equal(t, "c-1", fired.ContactID)
		assert.Equal(t, "signup-form", fired.TriggerData["source"])
		assert.Equal(t, sent.ID, fired.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeIgnoresUnhandledEventTypes(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.EnrollmentCreated, 1)

	err := bus.Handle(events.EnrollmentCreatedEvent, func(_ context.Context, event any) error {
		created, ok := event.(*events.EnrollmentCreated)
		require.True(t, ok)

		received <- created

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler for this one; it must be acked and dropped.
	require.NoError(t, bus.Publish(ctx, "c-1", events.EmailSent{
		BaseEvent: events.NewBaseEvent(events.EmailSentEvent, "wf-1"),
	}))

	require.NoError(t, bus.Publish(ctx, "c-1", events.EnrollmentCreated{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCreatedEvent, "wf-1"),
		EnrollmentID: "enr-1",
		ContactID:    "c-1",
	}))

	select {
	case created := <-received:
		assert.Equal(t, "enr-1", created.EnrollmentID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestGenerateIDIsUnique(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}

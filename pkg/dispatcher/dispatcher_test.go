package dispatcher

import (
	"testing"
	"time"

	"github.com/beaconcrm/journey/pkg/events"
	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func ref(id string) *string { return &id }

func activeWorkflow(id string, trigger models.TriggerType) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		Name:        "Workflow " + id,
		TriggerType: trigger,
		Status:      models.WorkflowStatusActive,
		Steps: []*models.Step{
			{ID: "trigger", Type: models.StepTypeTrigger, Config: models.TriggerConfig{Event: "signup"}, Next: ref("email")},
			{ID: "email", Type: models.StepTypeSendEmail, Config: models.EmailConfig{Subject: "Hi", Content: "Hi"}},
		},
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *memory.Persistence, *clocktesting.FakePassiveClock) {
	t.Helper()

	store := memory.NewPersistence()
	fakeClock := clocktesting.NewFakePassiveClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	d := New(Config{
		Store: store,
		Queue: store,
		Clock: fakeClock,
	})

	return d, store, fakeClock
}

func TestEnrollContactSchedulesTriggerStep(t *testing.T) {
	d, store, fakeClock := newTestDispatcher(t)
	workflow := activeWorkflow("wf-1", models.TriggerWelcome)

	ctx := t.Context()

	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	enrollment, err := d.EnrollContact(ctx, workflow, "c-1", map[string]any{"source": "signup-form"})
	require.NoError(t, err)

	assert.Equal(t, "wf-1", enrollment.WorkflowID)
	assert.Equal(t, "c-1", enrollment.ContactID)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, "trigger", enrollment.CurrentStepID)
	assert.Equal(t, "signup-form", enrollment.Context["source"])

	items, err := store.ClaimDue(ctx, fakeClock.Now(), 10, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, enrollment.ID, items[0].EnrollmentID)
	assert.Equal(t, "trigger", items[0].StepID)
}

func TestEnrollContactRejectsInactiveWorkflows(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	for _, status := range []models.WorkflowStatus{models.WorkflowStatusDraft, models.WorkflowStatusPaused} {
		workflow := activeWorkflow("wf-1", models.TriggerWelcome)
		workflow.Status = status

		_, err := d.EnrollContact(t.Context(), workflow, "c-1", nil)
		require.ErrorIs(t, err, ErrWorkflowNotActive)
	}
}

func TestEnrollContactRejectsWorkflowsWithoutTrigger(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	workflow := activeWorkflow("wf-1", models.TriggerWelcome)
	workflow.Steps = workflow.Steps[1:]

	_, err := d.EnrollContact(t.Context(), workflow, "c-1", nil)
	require.ErrorIs(t, err, ErrNoTriggerStep)
}

func TestTriggerWorkflowsEnrollsIntoAllMatches(t *testing.T) {
	d, store, fakeClock := newTestDispatcher(t)

	ctx := t.Context()

	require.NoError(t, store.SaveWorkflow(ctx, activeWorkflow("wf-1", models.TriggerWelcome)))
	require.NoError(t, store.SaveWorkflow(ctx, activeWorkflow("wf-2", models.TriggerWelcome)))
	require.NoError(t, store.SaveWorkflow(ctx, activeWorkflow("wf-other", models.TriggerShipping)))

	paused := activeWorkflow("wf-paused", models.TriggerWelcome)
	paused.Status = models.WorkflowStatusPaused
	require.NoError(t, store.SaveWorkflow(ctx, paused))

	err := d.TriggerWorkflows(ctx, events.TriggerFired{
		TriggerType: models.TriggerWelcome,
		ContactID:   "c-1",
	})
	require.NoError(t, err)

	items, err := store.ClaimDue(ctx, fakeClock.Now(), 10, "w1", time.Minute)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestTriggerWorkflowsSkipsExistingEnrollments(t *testing.T) {
	d, store, fakeClock := newTestDispatcher(t)

	ctx := t.Context()

	require.NoError(t, store.SaveWorkflow(ctx, activeWorkflow("wf-1", models.TriggerWelcome)))

	event := events.TriggerFired{TriggerType: models.TriggerWelcome, ContactID: "c-1"}

	require.NoError(t, d.TriggerWorkflows(ctx, event))

	// The same trigger firing again must not create a second run.
	require.NoError(t, d.TriggerWorkflows(ctx, event))

	items, err := store.ClaimDue(ctx, fakeClock.Now(), 10, "w1", time.Minute)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestTriggerWorkflowsWithNoMatchesIsNoOp(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	err := d.TriggerWorkflows(t.Context(), events.TriggerFired{
		TriggerType: models.TriggerAbandonedCart,
		ContactID:   "c-1",
	})
	require.NoError(t, err)
}

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence/memory"
	"github.com/beaconcrm/journey/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type fakeDelivery struct {
	sent []protocol.Message
	err  error
}

func (d *fakeDelivery) Send(_ context.Context, msg protocol.Message) (protocol.DeliveryResult, error) {
	if d.err != nil {
		return protocol.DeliveryResult{}, d.err
	}

	d.sent = append(d.sent, msg)

	return protocol.DeliveryResult{MessageID: "msg-1"}, nil
}

type fakeWebhooks struct {
	calls  int
	status int
	err    error
}

func (w *fakeWebhooks) Call(_ context.Context, _, _ string, _ map[string]string, _ map[string]any) (protocol.WebhookResult, error) {
	w.calls++

	if w.err != nil {
		return protocol.WebhookResult{}, w.err
	}

	return protocol.WebhookResult{StatusCode: w.status}, nil
}

type fakeContacts struct {
	fields map[string]map[string]any
	tags   map[string][]string
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{
		fields: make(map[string]map[string]any),
		tags:   make(map[string][]string),
	}
}

func (c *fakeContacts) set(contactID, path string, value any) {
	if c.fields[contactID] == nil {
		c.fields[contactID] = make(map[string]any)
	}

	c.fields[contactID][path] = value
}

func (c *fakeContacts) GetField(_ context.Context, contactID, path string) (any, error) {
	return c.fields[contactID][path], nil
}

func (c *fakeContacts) SetField(_ context.Context, contactID, path string, value any) error {
	c.set(contactID, path, value)

	return nil
}

func (c *fakeContacts) AddTag(_ context.Context, contactID, tag string) error {
	c.tags[contactID] = append(c.tags[contactID], tag)

	return nil
}

func (c *fakeContacts) RemoveTag(_ context.Context, contactID, tag string) error {
	kept := c.tags[contactID][:0]

	for _, existing := range c.tags[contactID] {
		if existing != tag {
			kept = append(kept, existing)
		}
	}

	c.tags[contactID] = kept

	return nil
}

func (c *fakeContacts) Fields(_ context.Context, contactID string) (map[string]any, error) {
	out := make(map[string]any, len(c.fields[contactID]))

	for k, v := range c.fields[contactID] {
		out[k] = v
	}

	return out, nil
}

type fixture struct {
	engine   *Engine
	store    *memory.Persistence
	delivery *fakeDelivery
	webhooks *fakeWebhooks
	contacts *fakeContacts
	clock    *clocktesting.FakePassiveClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewPersistence()
	delivery := &fakeDelivery{}
	webhooks := &fakeWebhooks{status: 200}
	contacts := newFakeContacts()
	fakeClock := clocktesting.NewFakePassiveClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	eng := New(Config{
		Store:    store,
		Queue:    store,
		Delivery: delivery,
		Webhooks: webhooks,
		Contacts: contacts,
		Clock:    fakeClock,
	})

	return &fixture{
		engine:   eng,
		store:    store,
		delivery: delivery,
		webhooks: webhooks,
		contacts: contacts,
		clock:    fakeClock,
	}
}

func ref(id string) *string { return &id }

// enroll seeds an active enrollment on the trigger step with a due item.
func (f *fixture) enroll(t *testing.T, workflow *models.Workflow, contactID string, context map[string]any) *models.Enrollment {
	t.Helper()

	ctx := t.Context()

	require.NoError(t, f.store.SaveWorkflow(ctx, workflow))

	enrollment := &models.Enrollment{
		ID:            "enr-" + contactID,
		WorkflowID:    workflow.ID,
		ContactID:     contactID,
		Status:        models.EnrollmentStatusActive,
		CurrentStepID: workflow.TriggerStep().ID,
		Context:       context,
		EnrolledAt:    f.clock.Now(),
	}

	require.NoError(t, f.store.CreateEnrollment(ctx, enrollment))
	require.NoError(t, f.store.Schedule(ctx, enrollment.ID, enrollment.CurrentStepID, f.clock.Now()))

	return enrollment
}

// drainDue claims everything due and advances it, completing successful
// items, until the queue has nothing claimable. This is the scheduler's
// dispatch loop without the timer.
func (f *fixture) drainDue(t *testing.T) {
	t.Helper()

	ctx := t.Context()

	for {
		items, err := f.store.ClaimDue(ctx, f.clock.Now(), 10, "test-worker", time.Minute)
		require.NoError(t, err)

		if len(items) == 0 {
			return
		}

		for _, item := range items {
			require.NoError(t, f.engine.Advance(ctx, item))
			require.NoError(t, f.store.Complete(ctx, item))
		}
	}
}

func welcomeWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          "wf-welcome",
		Name:        "Welcome series",
		TriggerType: models.TriggerWelcome,
		Status:      models.WorkflowStatusActive,
		Steps: []*models.Step{
			{
				ID:     "trigger",
				Type:   models.StepTypeTrigger,
				Config: models.TriggerConfig{Event: "signup"},
				Next:   ref("email-1"),
			},
			{
				ID:   "email-1",
				Type: models.StepTypeSendEmail,
				Config: models.EmailConfig{
					Subject: "Welcome, {{.first_name}}!",
					Content: "<p>Hi {{.first_name}}</p>",
				},
				Next: ref("wait"),
			},
			{
				ID:     "wait",
				Type:   models.StepTypeDelay,
				Config: models.DelayConfig{Duration: 1, Unit: models.DelayUnitHours},
				Next:   ref("email-2"),
			},
			{
				ID:   "email-2",
				Type: models.StepTypeSendEmail,
				Config: models.EmailConfig{
					Subject: "Getting started",
					Content: "<p>Tips</p>",
				},
			},
		},
	}
}

func TestAdvanceRunsWorkflowEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.contacts.set("c-1", "email", "ada@example.com")
	f.contacts.set("c-1", "first_name", "Ada")

	enrollment := f.enroll(t, welcomeWorkflow(), "c-1", nil)

	// First drain: trigger fires, first email goes out, and the delay
	// schedules the second email an hour out.
	f.drainDue(t)

	require.Len(t, f.delivery.sent, 1)
	assert.Equal(t, "Welcome, Ada!", f.delivery.sent[0].Subject)
	assert.Equal(t, "ada@example.com", f.delivery.sent[0].To)

	current, err := f.store.EnrollmentByID(t.Context(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, current.Status)
	assert.Equal(t, "wait", current.CurrentStepID)
	require.NotNil(t, current.NextActionAt)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *current.NextActionAt)

	// Nothing is due until the delay expires.
	f.clock.SetTime(f.clock.Now().Add(30 * time.Minute))
	f.drainDue(t)
	assert.Len(t, f.delivery.sent, 1)

	f.clock.SetTime(f.clock.Now().Add(31 * time.Minute))
	f.drainDue(t)

	require.Len(t, f.delivery.sent, 2)
	assert.Equal(t, "Getting started", f.delivery.sent[1].Subject)

	current, err = f.store.EnrollmentByID(t.Context(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, current.Status)
	assert.NotNil(t, current.CompletedAt)
}

func TestAdvanceIsIdempotentOnDuplicateDispatch(t *testing.T) {
	f := newFixture(t)
	f.contacts.set("c-1", "email", "ada@example.com")

	workflow := &models.Workflow{
		ID:          "wf-1",
		Name:        "One email",
		TriggerType: models.TriggerWelcome,
		Status:      models.WorkflowStatusActive,
		Steps: []*models.Step{
			{ID: "trigger", Type: models.StepTypeTrigger, Config: models.TriggerConfig{Event: "signup"}, Next: ref("email")},
			{ID: "email", Type: models.StepTypeSendEmail, Config: models.EmailConfig{Subject: "Hi", Content: "Hi"}},
		},
	}
	enrollment := f.enroll(t, workflow, "c-1", nil)

	ctx := t.Context()

	items, err := f.store.ClaimDue(ctx, f.clock.Now(), 10, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	require.NoError(t, f.engine.Advance(ctx, item))

	// The same item delivered again, as after a lease expiry mid-flight.
	require.NoError(t, f.engine.Advance(ctx, item))
	require.NoError(t, f.store.Complete(ctx, item))

	f.drainDue(t)

	assert.Len(t, f.delivery.sent, 1)

	current, err := f.store.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, current.Status)
}

func TestAdvanceReschedulesWhenSuccessorWasNeverQueued(t *testing.T) {
	f := newFixture(t)
	f.contacts.set("c-1", "email", "ada@example.com")
	f.contacts.set("c-1", "first_name", "Ada")

	enrollment := f.enroll(t, welcomeWorkflow(), "c-1", nil)

	ctx := t.Context()

	items, err := f.store.ClaimDue(ctx, f.clock.Now(), 10, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// A crash between the step transition and Schedule leaves the enrollment
	// on email-1 with only the trigger's leased item behind.
	now := f.clock.Now()
	require.NoError(t, f.store.TransitionStep(ctx, enrollment.ID, "trigger", "email-1", &now))

	// Lease expiry redelivers the stale item; dispatching it must queue the
	// current step instead of stranding the enrollment.
	require.NoError(t, f.engine.Advance(ctx, items[0]))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)

	f.drainDue(t)
	f.clock.SetTime(f.clock.Now().Add(time.Hour))
	f.drainDue(t)

	require.Len(t, f.delivery.sent, 2)
	assert.Equal(t, "Welcome, Ada!", f.delivery.sent[0].Subject)

	current, err := f.store.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, current.Status)
}

func TestAdvanceSkipsTerminalEnrollments(t *testing.T) {
	f := newFixture(t)
	f.contacts.set("c-1", "email", "ada@example.com")

	enrollment := f.enroll(t, welcomeWorkflow(), "c-1", nil)

	ctx := t.Context()

	items, err := f.store.ClaimDue(ctx, f.clock.Now(), 10, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, f.engine.ExitWorkflow(ctx, enrollment.ID))

	// The claimed item survived the cancellation; dispatching it is a no-op.
	require.NoError(t, f.engine.Advance(ctx, items[0]))
	assert.Empty(t, f.delivery.sent)

	current, err := f.store.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusExited, current.Status)
}

func TestAdvanceRoutesConditionBranches(t *testing.T) {
	workflow := &models.Workflow{
		ID:          "wf-vip",
		Name:        "VIP routing",
		TriggerType: models.TriggerOrderConfirmation,
		Status:      models.WorkflowStatusActive,
		Steps: []*models.Step{
			{ID: "trigger", Type: models.StepTypeTrigger, Config: models.TriggerConfig{Event: "order"}, Next: ref("check")},
			{
				ID:   "check",
				Type: models.StepTypeCondition,
				Config: models.ConditionConfig{Conditions: []models.Condition{
					{Field: "order.count", Operator: models.OperatorGreaterThan, Value: 3},
				}},
				TrueBranch:  ref("tag-vip"),
				FalseBranch: ref("tag-new"),
			},
			{ID: "tag-vip", Type: models.StepTypeAddTag, Config: models.TagConfig{Tag: "vip"}},
			{ID: "tag-new", Type: models.StepTypeAddTag, Config: models.TagConfig{Tag: "new-customer"}},
		},
	}

	tests := []struct {
		name      string
		contactID string
		count     int
		wantTag   string
	}{
		{name: "true branch", contactID: "c-big", count: 5, wantTag: "vip"},
		{name: "false branch", contactID: "c-new", count: 1, wantTag: "new-customer"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.contacts.set(tc.contactID, "order.count", tc.count)

			enrollment := f.enroll(t, workflow, tc.contactID, nil)
			f.drainDue(t)

			assert.Equal(t, []string{tc.wantTag}, f.contacts.tags[tc.contactID])

			current, err := f.store.EnrollmentByID(t.Context(), enrollment.ID)
			require.NoError(t, err)
			assert.Equal(t, models.EnrollmentStatusCompleted, current.Status)
		})
	}
}

func TestAdvanceFallsBackToEnrollmentContext(t *testing.T) {
	f := newFixture(t)

	workflow := &models.Workflow{
		ID:          "wf-cart",
		Name:        "Cart check",
		TriggerType: models.TriggerAbandonedCart,
		Status:      models.WorkflowStatusActive,
		Steps: []*models.Step{
			{ID: "trigger", Type: models.StepTypeTrigger, Config: models.TriggerConfig{Event: "cart"}, Next: ref("check")},
			{
				ID:   "check",
				Type: models.StepTypeCondition,
				Config: models.ConditionConfig{Conditions: []models.Condition{
					{Field: "cart.total", Operator: models.OperatorGreaterThan, Value: 100},
				}},
				TrueBranch: ref("tag-big"),
				// No false branch: the false path completes the enrollment.
			},
			{ID: "tag-big", Type: models.StepTypeAddTag, Config: models.TagConfig{Tag: "big-cart"}},
		},
	}

	enrollment := f.enroll(t, workflow, "c-ctx", map[string]any{"cart.total": 250.0})
	f.drainDue(t)

	assert.Equal(t, []string{"big-cart"}, f.contacts.tags["c-ctx"])

	current, err := f.store.EnrollmentByID(t.Context(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, current.Status)
}

func TestAdvanceMissingBranchCompletesEnrollment(t *testing.T) {
	f := newFixture(t)

	workflow := &models.Workflow{
		ID:          "wf-branchless",
		Name:        "Branchless condition",
		TriggerType: models.TriggerCustom,
		Status:      models.WorkflowStatusActive,
		Steps: []*models.Step{
			{ID: "trigger", Type: models.StepTypeTrigger, Config: models.TriggerConfig{Event: "x"}, Next: ref("check")},
			{
				ID:   "check",
				Type: models.StepTypeCondition,
				Config: models.ConditionConfig{Conditions: []models.Condition{
					{Field: "plan", Operator: models.OperatorEquals, Value: "pro"},
				}},
				TrueBranch: ref("tag"),
			},
			{ID: "tag", Type: models.StepTypeAddTag, Config: models.TagConfig{Tag: "pro"}},
		},
	}

	// Condition is false and there is no false branch.
	enrollment := f.enroll(t, workflow, "c-free", map[string]any{"plan": "free"})
	f.drainDue(t)

	assert.Empty(t, f.contacts.tags["c-free"])

	current, err := f.store.EnrollmentByID(t.Context(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, current.Status)
}

func TestAdvanceReturnsTransientDeliveryErrors(t *testing.T) {
	f := newFixture(t)
	f.contacts.set("c-1", "email", "ada@example.com")
	f.delivery.err = protocol.Transient(errors.New("rate limited"))

	enrollment := f.enroll(t, welcomeWorkflow(), "c-1", nil)

	ctx := t.Context()

	// Trigger advances cleanly.
	items, err := f.store.ClaimDue(ctx, f.clock.Now(), 1, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, f.engine.Advance(ctx, items[0]))
	require.NoError(t, f.store.Complete(ctx, items[0]))

	// The email step hits the rate limit: the error surfaces for retry and
	// the enrollment stays put on the email step.
	items, err = f.store.ClaimDue(ctx, f.clock.Now(), 1, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)

	err = f.engine.Advance(ctx, items[0])
	require.Error(t, err)
	assert.True(t, protocol.IsTransient(err))

	current, err := f.store.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, current.Status)
	assert.Equal(t, "email-1", current.CurrentStepID)
}

func TestAdvanceFailsEnrollmentOnPermanentDeliveryError(t *testing.T) {
	f := newFixture(t)
	f.contacts.set("c-1", "email", "ada@example.com")
	f.delivery.err = errors.New("mailbox does not exist")

	enrollment := f.enroll(t, welcomeWorkflow(), "c-1", nil)
	f.drainDue(t)

	current, err := f.store.EnrollmentByID(t.Context(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusFailed, current.Status)
	assert.Contains(t, current.FailureReason, "mailbox does not exist")
}

func TestAdvanceFailsEnrollmentWithoutRecipientAddress(t *testing.T) {
	f := newFixture(t)

	enrollment := f.enroll(t, welcomeWorkflow(), "c-anon", nil)
	f.drainDue(t)

	assert.Empty(t, f.delivery.sent)

	current, err := f.store.EnrollmentByID(t.Context(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusFailed, current.Status)
	assert.Contains(t, current.FailureReason, "no email address")
}

func webhookWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          "wf-hook",
		Name:        "Webhook ping",
		TriggerType: models.TriggerShipping,
		Status:      models.WorkflowStatusActive,
		Steps: []*models.Step{
			{ID: "trigger", Type: models.StepTypeTrigger, Config: models.TriggerConfig{Event: "shipped"}, Next: ref("hook")},
			{ID: "hook", Type: models.StepTypeWebhook, Config: models.WebhookConfig{
				URL:    "https://example.com/hook",
				Method: "POST",
			}},
		},
	}
}

func TestAdvanceClassifiesWebhookStatuses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		transient  bool
		wantStatus models.EnrollmentStatus
	}{
		{name: "server error retries", status: 503, transient: true, wantStatus: models.EnrollmentStatusActive},
		{name: "throttling retries", status: 429, transient: true, wantStatus: models.EnrollmentStatusActive},
		{name: "client error fails", status: 404, transient: false, wantStatus: models.EnrollmentStatusFailed},
		{name: "success completes", status: 204, transient: false, wantStatus: models.EnrollmentStatusCompleted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.webhooks.status = tc.status

			enrollment := f.enroll(t, webhookWorkflow(), "c-1", nil)

			ctx := t.Context()

			items, err := f.store.ClaimDue(ctx, f.clock.Now(), 1, "w1", time.Minute)
			require.NoError(t, err)
			require.Len(t, items, 1)
			require.NoError(t, f.engine.Advance(ctx, items[0]))
			require.NoError(t, f.store.Complete(ctx, items[0]))

			items, err = f.store.ClaimDue(ctx, f.clock.Now(), 1, "w1", time.Minute)
			require.NoError(t, err)
			require.Len(t, items, 1)

			err = f.engine.Advance(ctx, items[0])
			if tc.transient {
				require.Error(t, err)
				assert.True(t, protocol.IsTransient(err))
			} else {
				require.NoError(t, err)
			}

			current, err := f.store.EnrollmentByID(ctx, enrollment.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, current.Status)
		})
	}
}

func TestAdvanceTreatsNetworkFailureAsTransient(t *testing.T) {
	f := newFixture(t)
	f.webhooks.err = errors.New("connection refused")

	f.enroll(t, webhookWorkflow(), "c-1", nil)

	ctx := t.Context()

	items, err := f.store.ClaimDue(ctx, f.clock.Now(), 1, "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.engine.Advance(ctx, items[0]))
	require.NoError(t, f.store.Complete(ctx, items[0]))

	items, err = f.store.ClaimDue(ctx, f.clock.Now(), 1, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)

	err = f.engine.Advance(ctx, items[0])
	require.Error(t, err)
	assert.True(t, protocol.IsTransient(err))
}

func TestAdvanceUpdatesContactFieldsAndTags(t *testing.T) {
	f := newFixture(t)
	f.contacts.tags["c-1"] = []string{"prospect"}

	workflow := &models.Workflow{
		ID:          "wf-crm",
		Name:        "CRM updates",
		TriggerType: models.TriggerOrderConfirmation,
		Status:      models.WorkflowStatusActive,
		Steps: []*models.Step{
			{ID: "trigger", Type: models.StepTypeTrigger, Config: models.TriggerConfig{Event: "order"}, Next: ref("untag")},
			{ID: "untag", Type: models.StepTypeRemoveTag, Config: models.TagConfig{Tag: "prospect"}, Next: ref("field")},
			{ID: "field", Type: models.StepTypeUpdateField, Config: models.FieldConfig{Field: "lifecycle", Value: "customer"}},
		},
	}

	f.enroll(t, workflow, "c-1", nil)
	f.drainDue(t)

	assert.Empty(t, f.contacts.tags["c-1"])
	assert.Equal(t, "customer", f.contacts.fields["c-1"]["lifecycle"])
}

func TestExitWorkflowCancelsPendingWork(t *testing.T) {
	f := newFixture(t)
	f.contacts.set("c-1", "email", "ada@example.com")

	enrollment := f.enroll(t, welcomeWorkflow(), "c-1", nil)

	ctx := t.Context()

	require.NoError(t, f.engine.ExitWorkflow(ctx, enrollment.ID))

	// Exiting again is a no-op.
	require.NoError(t, f.engine.ExitWorkflow(ctx, enrollment.ID))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Leased)

	f.drainDue(t)
	assert.Empty(t, f.delivery.sent)
}

func TestFailEnrollmentLeavesTerminalStatesAlone(t *testing.T) {
	f := newFixture(t)
	f.contacts.set("c-1", "email", "ada@example.com")

	enrollment := f.enroll(t, welcomeWorkflow(), "c-1", nil)

	ctx := t.Context()

	require.NoError(t, f.engine.ExitWorkflow(ctx, enrollment.ID))
	require.NoError(t, f.engine.FailEnrollment(ctx, enrollment.ID, "retries exhausted"))

	current, err := f.store.EnrollmentByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusExited, current.Status)
	assert.Empty(t, current.FailureReason)
}

func TestAdvanceDropsItemsForMissingEnrollments(t *testing.T) {
	f := newFixture(t)

	item := &models.WorkItem{ID: "it-1", EnrollmentID: "gone", StepID: "trigger"}
	require.NoError(t, f.engine.Advance(t.Context(), item))
}

func TestFieldResolutionPrefersLiveContactRecord(t *testing.T) {
	f := newFixture(t)
	f.contacts.set("c-1", "plan", "pro")

	workflow := &models.Workflow{
		ID:          "wf-plan",
		Name:        "Plan check",
		TriggerType: models.TriggerCustom,
		Status:      models.WorkflowStatusActive,
		Steps: []*models.Step{
			{ID: "trigger", Type: models.StepTypeTrigger, Config: models.TriggerConfig{Event: "x"}, Next: ref("check")},
			{
				ID:   "check",
				Type: models.StepTypeCondition,
				Config: models.ConditionConfig{Conditions: []models.Condition{
					{Field: "plan", Operator: models.OperatorEquals, Value: "pro"},
				}},
				TrueBranch:  ref("tag"),
				FalseBranch: nil,
			},
			{ID: "tag", Type: models.StepTypeAddTag, Config: models.TagConfig{Tag: "pro"}},
		},
	}

	// Context says free, live record says pro: live record wins.
	f.enroll(t, workflow, "c-1", map[string]any{"plan": "free"})
	f.drainDue(t)

	assert.Equal(t, []string{"pro"}, f.contacts.tags["c-1"])
}

func TestLookupPathResolvesNestedMaps(t *testing.T) {
	data := map[string]any{
		"order":    map[string]any{"count": 4},
		"flat.key": "v",
	}

	assert.Equal(t, 4, lookupPath(data, "order.count"))
	assert.Equal(t, "v", lookupPath(data, "flat.key"))
	assert.Nil(t, lookupPath(data, "order.missing"))
	assert.Nil(t, lookupPath(nil, "anything"))
}

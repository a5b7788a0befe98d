package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beaconcrm/journey/pkg/eventbus"
	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/beaconcrm/journey/pkg/persistence/memory"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingBus struct {
	published []eventbus.Event
}

func (b *capturingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.published = append(b.published, event)

	return nil
}

type fakeExiter struct {
	exited []string
	err    error
}

func (e *fakeExiter) ExitWorkflow(_ context.Context, enrollmentID string) error {
	if e.err != nil {
		return e.err
	}

	e.exited = append(e.exited, enrollmentID)

	return nil
}

type testAPI struct {
	app    *fiber.App
	store  *memory.Persistence
	bus    *capturingBus
	exiter *fakeExiter
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.NewPersistence()
	bus := &capturingBus{}
	exiter := &fakeExiter{}

	api := NewAPI(slog.Default(), store, store, exiter, bus)

	return &testAPI{
		app:    api.App(),
		store:  store,
		bus:    bus,
		exiter: exiter,
	}
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = resp.Body.Close()
	})

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func welcomeDefinition() map[string]any {
	return map[string]any{
		"name":         "Welcome Series",
		"trigger_type": "welcome",
		"steps": []map[string]any{
			{"id": "trigger", "type": "trigger", "config": map[string]any{"event": "signup"}, "next": "email"},
			{"id": "email", "type": "send_email", "config": map[string]any{"subject": "Hi", "content": "Hello"}},
		},
	}
}

func createWorkflow(t *testing.T, api *testAPI) models.Workflow {
	t.Helper()

	resp := postJSON(t, api.app, "/workflows", welcomeDefinition())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow
	decodeBody(t, resp, &created)

	return created
}

func TestRootEndpoint(t *testing.T) {
	api := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := api.app.Test(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateWorkflowReturnsDraft(t *testing.T) {
	api := setupTestAPI(t)

	created := createWorkflow(t, api)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
	assert.Len(t, created.Steps, 2)
}

func TestCreateWorkflowRejectsSchemaViolations(t *testing.T) {
	api := setupTestAPI(t)

	definition := welcomeDefinition()
	definition["trigger_type"] = "page_scrolled"

	resp := postJSON(t, api.app, "/workflows", definition)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetWorkflow(t *testing.T) {
	api := setupTestAPI(t)
	created := createWorkflow(t, api)

	req := httptest.NewRequest(http.MethodGet, "/workflows/"+created.ID, nil)
	resp, err := api.app.Test(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Workflow
	decodeBody(t, resp, &fetched)
	assert.Equal(t, created.ID, fetched.ID)

	req = httptest.NewRequest(http.MethodGet, "/workflows/missing", nil)
	missing, err := api.app.Test(req)
	require.NoError(t, err)

	defer func() {
		_ = missing.Body.Close()
	}()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestActivateWorkflow(t *testing.T) {
	api := setupTestAPI(t)
	created := createWorkflow(t, api)

	resp := postJSON(t, api.app, "/workflows/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var activated models.Workflow
	decodeBody(t, resp, &activated)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)
}

func TestActivateInvalidWorkflowReturnsValidationResult(t *testing.T) {
	api := setupTestAPI(t)

	definition := welcomeDefinition()
	definition["steps"] = []map[string]any{
		{"id": "email", "type": "send_email", "config": map[string]any{"subject": "Hi", "content": "Hello"}},
	}

	resp := postJSON(t, api.app, "/workflows", definition)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow
	decodeBody(t, resp, &created)

	activate := postJSON(t, api.app, "/workflows/"+created.ID+"/activate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, activate.StatusCode)

	var result struct {
		Valid  bool `json:"is_valid"`
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}

	decodeBody(t, activate, &result)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestPauseAndResumeWorkflow(t *testing.T) {
	api := setupTestAPI(t)
	created := createWorkflow(t, api)

	// Pausing a draft conflicts.
	resp := postJSON(t, api.app, "/workflows/"+created.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, api.app, "/workflows/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, api.app, "/workflows/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, api.app, "/workflows/"+created.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFireTriggerPublishesEvent(t *testing.T) {
	api := setupTestAPI(t)

	resp := postJSON(t, api.app, "/events/welcome", map[string]any{
		"contact_id": "c-1",
		"data":       map[string]any{"source": "signup-form"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, api.bus.published, 1)
}

func TestFireTriggerRejectsUnknownTypeAndMissingContact(t *testing.T) {
	api := setupTestAPI(t)

	resp := postJSON(t, api.app, "/events/page_scrolled", map[string]any{"contact_id": "c-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, api.app, "/events/welcome", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, api.bus.published)
}

func TestExitEnrollment(t *testing.T) {
	api := setupTestAPI(t)

	resp := postJSON(t, api.app, "/enrollments/enr-1/exit", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"enr-1"}, api.exiter.exited)

	api.exiter.err = persistence.ErrEnrollmentNotFound

	resp = postJSON(t, api.app, "/enrollments/enr-2/exit", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteWorkflow(t *testing.T) {
	api := setupTestAPI(t)
	created := createWorkflow(t, api)

	req := httptest.NewRequest(http.MethodDelete, "/workflows/"+created.ID, nil)
	resp, err := api.app.Test(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestQueueStats(t *testing.T) {
	api := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/queue/stats", nil)
	resp, err := api.app.Test(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

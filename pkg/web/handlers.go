package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/beaconcrm/journey/pkg/eventbus"
	"github.com/beaconcrm/journey/pkg/events"
	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/beaconcrm/journey/pkg/services"
	"github.com/beaconcrm/journey/pkg/validation"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Exiter cancels a running enrollment. Implemented by the execution engine.
type Exiter interface {
	ExitWorkflow(ctx context.Context, enrollmentID string) error
}

type APIHandlers struct {
	workflowService *services.Workflow
	queue           persistence.Queue
	exiter          Exiter
	bus             eventbus.EventPublisher
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	queue persistence.Queue,
	exiter Exiter,
	bus eventbus.EventPublisher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		queue:           queue,
		exiter:          exiter,
		bus:             bus,
		validator:       validator,
	}
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	workflow, err := h.parseWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.parseWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), id, workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.workflowService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ValidateWorkflow reports errors and warnings without changing anything.
func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	result, err := h.workflowService.Validate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

// ActivateWorkflow validates and activates. Blocking validation errors come
// back as 422 with the full validation result.
func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, result, err := h.workflowService.Activate(c.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrWorkflowInvalid) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(result)
		}

		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.Pause(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) ResumeWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.Resume(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// FireTrigger is the intake endpoint: it accepts a business event and
// publishes it for the trigger dispatcher. Enrollment happens async.
func (h *APIHandlers) FireTrigger(c fiber.Ctx) error {
	triggerType := models.TriggerType(c.Params("triggerType"))

	switch triggerType {
	case models.TriggerWelcome, models.TriggerAbandonedCart, models.TriggerOrderConfirmation,
		models.TriggerShipping, models.TriggerCustom:
	default:
		return badRequest(c, "Unknown trigger type")
	}

	var req TriggerEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.TriggerFired{
		BaseEvent:   events.NewBaseEvent(events.TriggerFiredEvent, ""),
		TriggerType: triggerType,
		ContactID:   req.ContactID,
		TriggerData: req.Data,
	}

	if err := h.bus.Publish(c.Context(), req.ContactID, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"event_id":     event.ID,
		"trigger_type": triggerType,
	})
}

// ExitEnrollment cancels a running enrollment.
func (h *APIHandlers) ExitEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	err := h.exiter.ExitWorkflow(c.Context(), id)
	if err != nil {
		if persistence.IsEnrollmentNotFound(err) {
			return notFound(c, "Enrollment not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// QueueStats exposes work queue counts for operators.
func (h *APIHandlers) QueueStats(c fiber.Ctx) error {
	stats, err := h.queue.Stats(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) parseWorkflow(c fiber.Ctx) (*models.Workflow, error) {
	issues, err := validation.ValidateDefinition(c.Body())
	if err != nil {
		return nil, errors.New("invalid JSON format")
	}

	if len(issues) > 0 {
		return nil, errors.New(issues[0].Message)
	}

	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, errors.New("invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &models.Workflow{
		Name:        req.Name,
		OrgID:       req.OrgID,
		TriggerType: req.TriggerType,
		Steps:       req.Steps,
	}, nil
}

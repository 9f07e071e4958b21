// Package web provides the HTTP handlers and REST API endpoints for workflows, enrollments,
// stage triggers, lead events and notification preferences.
package web

import (
	"net/http"
	"time"

	"github.com/dukex/leadflow/pkg/services"
	"github.com/dukex/leadflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService   *services.Workflow
	enrollmentService *services.Enrollment
	triggerService    *services.Trigger
	leadService       *services.Lead
	preferenceService *services.Preference
	registry          *workflow.Registry
	validator         *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	enrollmentService *services.Enrollment,
	triggerService *services.Trigger,
	leadService *services.Lead,
	preferenceService *services.Preference,
	registry *workflow.Registry,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:   workflowService,
		enrollmentService: enrollmentService,
		triggerService:    triggerService,
		leadService:       leadService,
		preferenceService: preferenceService,
		registry:          registry,
		validator:         validator,
	}
}

// Mount registers every API route on the router.
func Mount(router fiber.Router, h *APIHandlers) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Put("/:id/status", h.SetWorkflowStatus)
	w.Post("/:id/enrollments", h.EnrollLead)
	w.Post("/:id/enrollments/preview", h.PreviewBulkEnrollment)
	w.Post("/:id/enrollments/bulk", h.BulkEnroll)

	e := router.Group("/enrollments")
	e.Get("/:id", h.GetEnrollment)
	e.Post("/:id/advance", h.AdvanceEnrollment)
	e.Post("/:id/cancel", h.CancelEnrollment)

	s := router.Group("/stages")
	s.Post("/:id/triggers", h.CreateStageTrigger)
	s.Get("/:id/triggers", h.GetStageTriggers)

	l := router.Group("/leads")
	l.Get("/:id/enrollments", h.GetLeadEnrollments)
	l.Post("/:id/events", h.RecordLeadEvent)
	l.Post("/:id/approve", h.ApproveLead)

	u := router.Group("/users")
	u.Get("/:id/preferences", h.GetPreferences)
	u.Put("/:id/preferences", h.UpdatePreferences)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())
	kinds := h.registry.Kinds()

	status := "unhealthy"
	message := "Leadflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk && len(kinds) > 0 {
		status = "healthy"
		message = "Leadflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"actions":    kinds,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.FetchAll(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	definition, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

// CreateWorkflow accepts a raw workflow document as the request body.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	definition, err := h.workflowService.Create(c.Context(), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	definition, err := h.workflowService.Update(c.Context(), c.Params("id"), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) SetWorkflowStatus(c fiber.Ctx) error {
	var req WorkflowStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.workflowService.SetStatus(c.Context(), c.Params("id"), req.Status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) EnrollLead(c fiber.Ctx) error {
	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enrollment, err := h.enrollmentService.Enroll(c.Context(), c.Params("id"), req.LeadID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(enrollment)
}

func (h *APIHandlers) bulkRequest(c fiber.Ctx) (workflow.BulkRequest, error) {
	var req workflow.BulkRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return req, err
		}
	}

	req.WorkflowID = c.Params("id")

	return req, nil
}

func (h *APIHandlers) PreviewBulkEnrollment(c fiber.Ctx) error {
	req, err := h.bulkRequest(c)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	preview, err := h.enrollmentService.Preview(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(preview)
}

func (h *APIHandlers) BulkEnroll(c fiber.Ctx) error {
	req, err := h.bulkRequest(c)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.enrollmentService.Bulk(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	enrollment, err := h.enrollmentService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) AdvanceEnrollment(c fiber.Ctx) error {
	enrollment, err := h.enrollmentService.Advance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) CancelEnrollment(c fiber.Ctx) error {
	var req CancelEnrollmentRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	enrollment, err := h.enrollmentService.Cancel(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) CreateStageTrigger(c fiber.Ctx) error {
	var req services.TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	trigger, err := h.triggerService.Create(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(trigger)
}

func (h *APIHandlers) GetStageTriggers(c fiber.Ctx) error {
	triggers, err := h.triggerService.FetchByStage(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"triggers": triggers})
}

func (h *APIHandlers) GetLeadEnrollments(c fiber.Ctx) error {
	enrollments, err := h.enrollmentService.FetchByEntity(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"enrollments": enrollments})
}

func (h *APIHandlers) RecordLeadEvent(c fiber.Ctx) error {
	var req services.LeadEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.leadService.RecordEvent(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) ApproveLead(c fiber.Ctx) error {
	var req services.ApproveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.leadService.Approve(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetPreferences(c fiber.Ctx) error {
	preferences, err := h.preferenceService.FetchByUser(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"preferences": preferences})
}

func (h *APIHandlers) UpdatePreferences(c fiber.Ctx) error {
	var req UpdatePreferencesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	preferences, err := h.preferenceService.Update(c.Context(), c.Params("id"), req.Preferences)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"preferences": preferences})
}

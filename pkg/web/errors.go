package web

import (
	"github.com/dukex/leadflow/pkg/log"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/dukex/leadflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

// handleServiceError maps service, scheduler and evaluator errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return problem(c, fiber.StatusBadRequest, "validation_error", err.Error())

	case workflow.IsEntryTriggerNotSatisfied(err):
		return problem(c, fiber.StatusUnprocessableEntity, "entry_trigger_not_satisfied", err.Error())

	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")

	case persistence.IsEnrollmentNotFound(err):
		return problem(c, fiber.StatusNotFound, "enrollment_not_found", "enrollment not found")

	case persistence.IsLeadNotFound(err):
		return problem(c, fiber.StatusNotFound, "lead_not_found", "lead not found")

	case persistence.IsStageNotFound(err):
		return problem(c, fiber.StatusNotFound, "stage_not_found", "stage not found")

	default:
		log.WithModule("web").ErrorContext(c.Context(), "Request failed", "path", c.Path(), "error", err)

		p := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithDetail("internal server error")

		return c.Status(fiber.StatusInternalServerError).JSON(p)
	}
}

package services

import (
	"context"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// Enrollment exposes the workflow scheduler with the current time taken from a clock.
type Enrollment struct {
	scheduler   *workflow.Scheduler
	enrollments persistence.EnrollmentRepository
	clock       clockwork.Clock
	validate    *validator.Validate
}

func NewEnrollment(scheduler *workflow.Scheduler, enrollments persistence.EnrollmentRepository, clock clockwork.Clock) *Enrollment {
	return &Enrollment{
		scheduler:   scheduler,
		enrollments: enrollments,
		clock:       clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (e *Enrollment) Enroll(ctx context.Context, workflowID, entityID string) (*models.Enrollment, error) {
	if entityID == "" {
		return nil, NewValidationError("Enroll", "lead_required", "lead_id is required", ErrInvalidRequest)
	}

	return e.scheduler.Enroll(ctx, workflowID, entityID, e.clock.Now())
}

func (e *Enrollment) FetchByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return e.enrollments.GetByID(ctx, id)
}

func (e *Enrollment) FetchByEntity(ctx context.Context, entityID string) ([]*models.Enrollment, error) {
	return e.enrollments.ListByEntity(ctx, entityID)
}

func (e *Enrollment) Advance(ctx context.Context, id string) (*models.Enrollment, error) {
	return e.scheduler.Advance(ctx, id, e.clock.Now())
}

func (e *Enrollment) Cancel(ctx context.Context, id, reason string) (*models.Enrollment, error) {
	return e.scheduler.Cancel(ctx, id, reason, e.clock.Now())
}

func (e *Enrollment) Preview(ctx context.Context, req workflow.BulkRequest) (*workflow.BulkPreview, error) {
	err := e.validateBulk(ctx, "Preview", req)
	if err != nil {
		return nil, err
	}

	return e.scheduler.PreviewBulkEnrollment(ctx, req)
}

func (e *Enrollment) Bulk(ctx context.Context, req workflow.BulkRequest) (*workflow.BulkResult, error) {
	err := e.validateBulk(ctx, "Bulk", req)
	if err != nil {
		return nil, err
	}

	return e.scheduler.BulkEnroll(ctx, req, e.clock.Now())
}

func (e *Enrollment) validateBulk(ctx context.Context, op string, req workflow.BulkRequest) error {
	if req.WorkflowID == "" {
		return workflow.ErrBulkWorkflowRequired
	}

	err := e.validate.StructCtx(ctx, req)
	if err != nil {
		return NewValidationError(op, "invalid_bulk_request", err.Error(), ErrInvalidRequest)
	}

	return nil
}

package services

import (
	"context"
	"fmt"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type Workflow struct {
	persistence persistence.Persistence
	registry    *workflow.Registry
	clock       clockwork.Clock
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, registry *workflow.Registry, clock clockwork.Clock) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    registry,
		clock:       clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// FetchAll returns every workflow definition.
func (w *Workflow) FetchAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return w.persistence.WorkflowRepository().GetAll(ctx)
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Create compiles a workflow document and stores it as an active definition at version 1.
func (w *Workflow) Create(ctx context.Context, data []byte) (*models.WorkflowDefinition, error) {
	document, steps, err := w.compile(data)
	if err != nil {
		return nil, err
	}

	now := w.clock.Now().UTC()
	definition := &models.WorkflowDefinition{
		ID:          uuid.New().String(),
		Name:        document.Name,
		Description: document.Description,
		Status:      models.WorkflowStatusActive,
		Version:     1,
		Steps:       steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = w.save(ctx, "Create", definition)
	if err != nil {
		return nil, err
	}

	return definition, nil
}

// Update replaces the steps of a workflow and bumps its version. Workflows with active
// enrollments cannot change shape because enrollments address steps by index.
func (w *Workflow) Update(ctx context.Context, workflowID string, data []byte) (*models.WorkflowDefinition, error) {
	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	active, err := w.persistence.EnrollmentRepository().CountActiveByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active enrollments: %w", err)
	}

	if active > 0 {
		return nil, &ServiceError{
			Op:      "Update",
			Code:    "workflow_in_use",
			Message: fmt.Sprintf("workflow %s has %d active enrollments", workflowID, active),
			Err:     ErrWorkflowHasActiveEnrollments,
		}
	}

	document, steps, err := w.compile(data)
	if err != nil {
		return nil, err
	}

	existing.Name = document.Name
	existing.Description = document.Description
	existing.Steps = steps
	existing.Version++
	existing.UpdatedAt = w.clock.Now().UTC()

	err = w.save(ctx, "Update", existing)
	if err != nil {
		return nil, err
	}

	return existing, nil
}

// SetStatus activates or deactivates a workflow. Deactivation keeps existing enrollments running.
func (w *Workflow) SetStatus(ctx context.Context, workflowID string, status models.WorkflowStatus) (*models.WorkflowDefinition, error) {
	if status != models.WorkflowStatusActive && status != models.WorkflowStatusInactive {
		return nil, NewValidationError("SetStatus", "invalid_status", fmt.Sprintf("unknown status %q", status), ErrInvalidStatus)
	}

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if existing.Status == status {
		return existing, nil
	}

	existing.Status = status
	existing.UpdatedAt = w.clock.Now().UTC()

	err = w.save(ctx, "SetStatus", existing)
	if err != nil {
		return nil, err
	}

	return existing, nil
}

func (w *Workflow) compile(data []byte) (*models.WorkflowDocument, []models.Step, error) {
	document, err := workflow.ParseDocument(data)
	if err != nil {
		return nil, nil, err
	}

	steps, err := workflow.Compile(document, w.registry)
	if err != nil {
		return nil, nil, err
	}

	return document, steps, nil
}

func (w *Workflow) save(ctx context.Context, op string, definition *models.WorkflowDefinition) error {
	err := w.validate.StructCtx(ctx, definition)
	if err != nil {
		return NewValidationError(op, "invalid_workflow", err.Error(), ErrInvalidRequest)
	}

	err = w.persistence.WorkflowRepository().Save(ctx, definition)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

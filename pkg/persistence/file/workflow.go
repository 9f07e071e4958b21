package file

import (
	"context"
	"sort"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// WorkflowRepository handles workflow definition file operations.
type WorkflowRepository struct {
	store *store
}

// GetAll returns every workflow definition sorted by creation time.
func (wr *WorkflowRepository) GetAll(_ context.Context) ([]*models.WorkflowDefinition, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	workflows, err := readAll[*models.WorkflowDefinition](wr.store, workflowsDir)
	if err != nil {
		return nil, err
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID returns a workflow definition by its ID.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	var workflow models.WorkflowDefinition

	found, err := wr.store.read(workflowsDir, id, &workflow)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrWorkflowNotFound
	}

	return &workflow, nil
}

// Save stores a workflow definition, replacing any previous version.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	return wr.store.write(workflowsDir, workflow.ID, workflow)
}

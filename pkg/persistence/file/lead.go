package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// LeadRepository handles lead file operations.
type LeadRepository struct {
	store *store
}

func (lr *LeadRepository) GetByID(_ context.Context, id string) (*models.Lead, error) {
	lr.store.mu.RLock()
	defer lr.store.mu.RUnlock()

	return lr.get("GetByID", id)
}

func (lr *LeadRepository) get(op, id string) (*models.Lead, error) {
	var lead models.Lead

	found, err := lr.store.read(leadsDir, id, &lead)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, &persistence.LeadError{Op: op, LeadID: id, Err: persistence.ErrLeadNotFound}
	}

	return &lead, nil
}

func (lr *LeadRepository) Save(_ context.Context, lead *models.Lead) error {
	lr.store.mu.Lock()
	defer lr.store.mu.Unlock()

	return lr.store.write(leadsDir, lead.ID, lead)
}

func (lr *LeadRepository) List(_ context.Context, filter models.LeadFilter) ([]*models.Lead, error) {
	lr.store.mu.RLock()
	defer lr.store.mu.RUnlock()

	leads, err := readAll[*models.Lead](lr.store, leadsDir)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Lead, 0, len(leads))

	for _, lead := range leads {
		if filter.Matches(lead) {
			result = append(result, lead)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (lr *LeadRepository) CompareAndSetStage(_ context.Context, leadID, fromStageID, toStageID string, at time.Time) (bool, error) {
	lr.store.mu.Lock()
	defer lr.store.mu.Unlock()

	lead, err := lr.get("CompareAndSetStage", leadID)
	if err != nil {
		return false, err
	}

	if lead.StageID != fromStageID {
		return false, nil
	}

	lead.StageID = toStageID
	lead.StageEnteredAt = at
	lead.UpdatedAt = at

	err = lr.store.write(leadsDir, lead.ID, lead)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (lr *LeadRepository) UpdateFields(_ context.Context, leadID string, fields map[string]any, at time.Time) error {
	return lr.mutate("UpdateFields", leadID, at, func(lead *models.Lead) {
		if lead.Fields == nil {
			lead.Fields = make(map[string]any, len(fields))
		}

		for k, v := range fields {
			lead.Fields[k] = v
		}
	})
}

func (lr *LeadRepository) AssignAdvisor(_ context.Context, leadID, advisorID string, at time.Time) error {
	return lr.mutate("AssignAdvisor", leadID, at, func(lead *models.Lead) {
		lead.AdvisorID = advisorID
	})
}

func (lr *LeadRepository) AddTask(_ context.Context, task models.Task) error {
	return lr.mutate("AddTask", task.LeadID, task.CreatedAt, func(lead *models.Lead) {
		for _, existing := range lead.Tasks {
			if existing.ID == task.ID {
				return
			}
		}

		lead.Tasks = append(lead.Tasks, task)
	})
}

func (lr *LeadRepository) mutate(op, leadID string, at time.Time, fn func(*models.Lead)) error {
	lr.store.mu.Lock()
	defer lr.store.mu.Unlock()

	lead, err := lr.get(op, leadID)
	if err != nil {
		return err
	}

	fn(lead)
	lead.UpdatedAt = at

	return lr.store.write(leadsDir, lead.ID, lead)
}

package file

import (
	"context"
	"sort"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// StageRepository handles stage, trigger and transition file operations.
type StageRepository struct {
	store *store
}

func (sr *StageRepository) GetStage(_ context.Context, id string) (*models.Stage, error) {
	sr.store.mu.RLock()
	defer sr.store.mu.RUnlock()

	var stage models.Stage

	found, err := sr.store.read(stagesDir, id, &stage)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrStageNotFound
	}

	return &stage, nil
}

func (sr *StageRepository) SaveStage(_ context.Context, stage *models.Stage) error {
	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	return sr.store.write(stagesDir, stage.ID, stage)
}

func (sr *StageRepository) SaveTrigger(_ context.Context, trigger *models.StageTransitionTrigger) error {
	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	return sr.store.write(triggersDir, trigger.ID, trigger)
}

func (sr *StageRepository) TriggersByStage(_ context.Context, stageID string) ([]*models.StageTransitionTrigger, error) {
	sr.store.mu.RLock()
	defer sr.store.mu.RUnlock()

	triggers, err := readAll[*models.StageTransitionTrigger](sr.store, triggersDir)
	if err != nil {
		return nil, err
	}

	result := make([]*models.StageTransitionTrigger, 0)

	for _, trigger := range triggers {
		if trigger.StageID == stageID {
			result = append(result, trigger)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}

		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (sr *StageRepository) StagesWithActiveTrigger(_ context.Context, triggerType models.TriggerType) ([]string, error) {
	sr.store.mu.RLock()
	defer sr.store.mu.RUnlock()

	triggers, err := readAll[*models.StageTransitionTrigger](sr.store, triggersDir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	stageIDs := make([]string, 0)

	for _, trigger := range triggers {
		if trigger.IsActive && trigger.TriggerType == triggerType && !seen[trigger.StageID] {
			seen[trigger.StageID] = true
			stageIDs = append(stageIDs, trigger.StageID)
		}
	}

	sort.Strings(stageIDs)

	return stageIDs, nil
}

func (sr *StageRepository) RecordTransition(_ context.Context, transition models.StageTransition) error {
	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	return sr.store.write(transitionsDir, transition.ID, transition)
}

func (sr *StageRepository) TransitionsByLead(_ context.Context, leadID string) ([]models.StageTransition, error) {
	sr.store.mu.RLock()
	defer sr.store.mu.RUnlock()

	transitions, err := readAll[models.StageTransition](sr.store, transitionsDir)
	if err != nil {
		return nil, err
	}

	result := make([]models.StageTransition, 0)

	for _, transition := range transitions {
		if transition.LeadID == leadID {
			result = append(result, transition)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].At.Before(result[j].At)
	})

	return result, nil
}

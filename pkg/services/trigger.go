package services

import (
	"context"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/stage"
	"github.com/jonboulle/clockwork"
)

// TriggerRequest configures a stage transition trigger. IsActive defaults to true.
type TriggerRequest struct {
	TriggerType   models.TriggerType   `json:"trigger_type"`
	IsActive      *bool                `json:"is_active,omitempty"`
	NotifyStudent bool                 `json:"notify_student"`
	NotifyAdmin   bool                 `json:"notify_admin"`
	Config        models.TriggerConfig `json:"config"`
}

type Trigger struct {
	evaluator *stage.Evaluator
	stages    persistence.StageRepository
	clock     clockwork.Clock
}

func NewTrigger(evaluator *stage.Evaluator, stages persistence.StageRepository, clock clockwork.Clock) *Trigger {
	return &Trigger{
		evaluator: evaluator,
		stages:    stages,
		clock:     clock,
	}
}

// Create validates and stores a trigger on the stage.
func (t *Trigger) Create(ctx context.Context, stageID string, req TriggerRequest) (*models.StageTransitionTrigger, error) {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	trigger := &models.StageTransitionTrigger{
		StageID:       stageID,
		TriggerType:   req.TriggerType,
		IsActive:      active,
		NotifyStudent: req.NotifyStudent,
		NotifyAdmin:   req.NotifyAdmin,
		Config:        req.Config,
	}

	err := t.evaluator.AddTrigger(ctx, trigger, t.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	return trigger, nil
}

// FetchByStage lists the stage's triggers in evaluation order.
func (t *Trigger) FetchByStage(ctx context.Context, stageID string) ([]*models.StageTransitionTrigger, error) {
	_, err := t.stages.GetStage(ctx, stageID)
	if err != nil {
		return nil, err
	}

	return t.stages.TriggersByStage(ctx, stageID)
}

package stage

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/workflow"
)

// ChangeStageAction is the change_stage workflow action. Config: stage_id.
type ChangeStageAction struct {
	evaluator *Evaluator
}

var _ workflow.ActionHandler = (*ChangeStageAction)(nil)

func NewChangeStageAction(evaluator *Evaluator) *ChangeStageAction {
	return &ChangeStageAction{evaluator: evaluator}
}

func (a *ChangeStageAction) Validate(config map[string]any) error {
	stageID, _ := config["stage_id"].(string)
	if stageID == "" {
		return ErrStageIDRequired
	}

	return nil
}

// Execute moves the lead out of the stage it was in when the step started. A lead already in
// the target stage is left alone.
func (a *ChangeStageAction) Execute(ctx context.Context, req workflow.ActionRequest) error {
	stageID, _ := req.Config["stage_id"].(string)
	if stageID == "" {
		return backoff.Permanent(ErrStageIDRequired)
	}

	if req.Lead.StageID == stageID {
		return nil
	}

	_, err := a.evaluator.MoveToStage(ctx, req.Lead.ID, req.Lead.StageID, stageID, req.Now)
	if err != nil {
		if persistence.IsStageNotFound(err) || persistence.IsLeadNotFound(err) {
			return backoff.Permanent(fmt.Errorf("change_stage to %s: %w", stageID, err))
		}

		return err
	}

	return nil
}

package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/google/uuid"
)

// AddTrigger validates and stores a new trigger for its stage.
func (e *Evaluator) AddTrigger(ctx context.Context, trigger *models.StageTransitionTrigger, now time.Time) error {
	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = now
	}

	err := e.ValidateTrigger(ctx, trigger)
	if err != nil {
		return err
	}

	err = e.stages.SaveTrigger(ctx, trigger)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Stage trigger saved",
		"trigger_id", trigger.ID,
		"stage_id", trigger.StageID,
		"trigger_type", trigger.TriggerType,
	)

	return nil
}

// ValidateTrigger checks the trigger type and its type-specific config, and that every
// trigger of the stage resolves to the same target stage.
func (e *Evaluator) ValidateTrigger(ctx context.Context, trigger *models.StageTransitionTrigger) error {
	err := e.validate.StructCtx(ctx, trigger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}

	err = validateConfig(trigger)
	if err != nil {
		return err
	}

	stage, err := e.stages.GetStage(ctx, trigger.StageID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}

	target := trigger.Config.TargetStageID
	if target == "" {
		target = stage.NextStageID
	}

	if target == "" {
		return fmt.Errorf("%w: stage %s has no next stage and the trigger sets no target_stage_id", ErrInvalidTrigger, stage.ID)
	}

	if target == stage.ID {
		return fmt.Errorf("%w: trigger targets its own stage", ErrInvalidTrigger)
	}

	_, err = e.stages.GetStage(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: target stage %s: %w", ErrInvalidTrigger, target, err)
	}

	existing, err := e.stages.TriggersByStage(ctx, trigger.StageID)
	if err != nil {
		return err
	}

	for _, other := range existing {
		if other.ID == trigger.ID {
			continue
		}

		otherTarget := other.Config.TargetStageID
		if otherTarget == "" {
			otherTarget = stage.NextStageID
		}

		if otherTarget != target {
			return fmt.Errorf("%w: trigger %s targets %s, not %s", ErrTargetConflict, other.ID, otherTarget, target)
		}
	}

	return nil
}

func validateConfig(trigger *models.StageTransitionTrigger) error {
	config := trigger.Config

	switch trigger.TriggerType {
	case models.TriggerSpecificDocumentApproved:
		if config.DocumentID == "" {
			return fmt.Errorf("%w: document_id is required", ErrInvalidTrigger)
		}
	case models.TriggerFormSubmitted:
		if config.FormID == "" {
			return fmt.Errorf("%w: form_id is required", ErrInvalidTrigger)
		}
	case models.TriggerTimeElapsed:
		_, err := ParseDuration(config.Duration)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
	}

	return nil
}

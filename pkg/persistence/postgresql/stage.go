package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/lib/pq"
)

// StageRepository handles stage, trigger and transition database operations.
type StageRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *StageRepository) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	var (
		stage     models.Stage
		workflows pq.StringArray
		admins    pq.StringArray
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, position, next_stage_id, enroll_workflow_ids, admin_user_ids
		FROM stages
		WHERE id = $1
	`, id).Scan(&stage.ID, &stage.Name, &stage.Position, &stage.NextStageID, &workflows, &admins)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStageNotFound
		}

		return nil, fmt.Errorf("failed to query stage: %w", err)
	}

	stage.EnrollWorkflowIDs = workflows
	stage.AdminUserIDs = admins

	return &stage, nil
}

func (r *StageRepository) SaveStage(ctx context.Context, stage *models.Stage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stages (id, name, position, next_stage_id, enroll_workflow_ids, admin_user_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			position = EXCLUDED.position,
			next_stage_id = EXCLUDED.next_stage_id,
			enroll_workflow_ids = EXCLUDED.enroll_workflow_ids,
			admin_user_ids = EXCLUDED.admin_user_ids
	`,
		stage.ID,
		stage.Name,
		stage.Position,
		stage.NextStageID,
		pq.Array(nonNil(stage.EnrollWorkflowIDs)),
		pq.Array(nonNil(stage.AdminUserIDs)),
	)
	if err != nil {
		return fmt.Errorf("failed to save stage %s: %w", stage.ID, err)
	}

	return nil
}

func (r *StageRepository) SaveTrigger(ctx context.Context, trigger *models.StageTransitionTrigger) error {
	config, err := marshalJSON(trigger.Config)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO stage_triggers (id, stage_id, trigger_type, is_active, notify_student, notify_admin, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			trigger_type = EXCLUDED.trigger_type,
			is_active = EXCLUDED.is_active,
			notify_student = EXCLUDED.notify_student,
			notify_admin = EXCLUDED.notify_admin,
			config = EXCLUDED.config
	`,
		trigger.ID,
		trigger.StageID,
		trigger.TriggerType,
		trigger.IsActive,
		trigger.NotifyStudent,
		trigger.NotifyAdmin,
		config,
		trigger.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save stage trigger: %w", err)
	}

	return nil
}

func (r *StageRepository) TriggersByStage(ctx context.Context, stageID string) ([]*models.StageTransitionTrigger, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , stage_id
		  , trigger_type
		  , is_active
		  , notify_student
		  , notify_admin
		  , config
		  , created_at
		FROM stage_triggers
		WHERE stage_id = $1
		ORDER BY created_at, id
	`, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage triggers: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	triggers := make([]*models.StageTransitionTrigger, 0)

	for rows.Next() {
		var (
			trigger models.StageTransitionTrigger
			config  []byte
		)

		err := rows.Scan(
			&trigger.ID,
			&trigger.StageID,
			&trigger.TriggerType,
			&trigger.IsActive,
			&trigger.NotifyStudent,
			&trigger.NotifyAdmin,
			&config,
			&trigger.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage trigger: %w", err)
		}

		err = unmarshalJSON(config, &trigger.Config)
		if err != nil {
			return nil, err
		}

		triggers = append(triggers, &trigger)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating stage triggers: %w", err)
	}

	return triggers, nil
}

func (r *StageRepository) StagesWithActiveTrigger(ctx context.Context, triggerType models.TriggerType) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT stage_id FROM stage_triggers
		WHERE is_active AND trigger_type = $1
		ORDER BY stage_id
	`, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	stageIDs := make([]string, 0)

	for rows.Next() {
		var id string

		err := rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage id: %w", err)
		}

		stageIDs = append(stageIDs, id)
	}

	return stageIDs, rows.Err()
}

func (r *StageRepository) RecordTransition(ctx context.Context, transition models.StageTransition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stage_transitions (id, lead_id, from_stage_id, to_stage_id, trigger_id, trigger_type, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`,
		transition.ID,
		transition.LeadID,
		transition.FromStageID,
		transition.ToStageID,
		transition.TriggerID,
		transition.TriggerType,
		transition.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record stage transition: %w", err)
	}

	return nil
}

func (r *StageRepository) TransitionsByLead(ctx context.Context, leadID string) ([]models.StageTransition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, lead_id, from_stage_id, to_stage_id, trigger_id, trigger_type, at
		FROM stage_transitions
		WHERE lead_id = $1
		ORDER BY at
	`, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage transitions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	transitions := make([]models.StageTransition, 0)

	for rows.Next() {
		var transition models.StageTransition

		err := rows.Scan(
			&transition.ID,
			&transition.LeadID,
			&transition.FromStageID,
			&transition.ToStageID,
			&transition.TriggerID,
			&transition.TriggerType,
			&transition.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage transition: %w", err)
		}

		transitions = append(transitions, transition)
	}

	return transitions, rows.Err()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}

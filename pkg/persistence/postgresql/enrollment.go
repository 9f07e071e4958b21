package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// EnrollmentRepository handles enrollment and step guard database operations.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectEnrollment = `
	SELECT
		id
	  , workflow_id
	  , workflow_version
	  , entity_id
	  , current_step_index
	  , status
	  , enrolled_at
	  , updated_at
	  , completed_at
	  , next_wake_at
	  , last_error
	  , exit_reason
	FROM enrollments
`

// Create inserts the enrollment. The partial unique index on active (workflow, entity) pairs
// rejects a second active enrollment.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	query := `
		INSERT INTO enrollments (id, workflow_id, workflow_version, entity_id, current_step_index, status,
			enrolled_at, updated_at, completed_at, next_wake_at, last_error, exit_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query, enrollmentArgs(enrollment)...)
	if err != nil {
		if isUniqueViolation(err) {
			return &persistence.EnrollmentError{
				Op:         "Create",
				WorkflowID: enrollment.WorkflowID,
				EntityID:   enrollment.EntityID,
				Err:        persistence.ErrActiveEnrollmentExists,
			}
		}

		return fmt.Errorf("failed to create enrollment: %w", err)
	}

	return nil
}

func (r *EnrollmentRepository) Save(ctx context.Context, enrollment *models.Enrollment, expectedStepIndex int) error {
	query := `
		UPDATE enrollments SET
			current_step_index = $2,
			status = $3,
			updated_at = $4,
			completed_at = $5,
			next_wake_at = $6,
			last_error = $7,
			exit_reason = $8
		WHERE id = $1 AND status = 'active' AND current_step_index = $9
	`

	result, err := r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.CurrentStepIndex,
		enrollment.Status,
		enrollment.UpdatedAt,
		nullTime(enrollment.CompletedAt),
		nullTime(enrollment.NextWakeAt),
		enrollment.LastError,
		enrollment.ExitReason,
		expectedStepIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to save enrollment %s: %w", enrollment.ID, err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if updated == 0 {
		return &persistence.EnrollmentError{Op: "Save", EnrollmentID: enrollment.ID, Err: persistence.ErrEnrollmentConflict}
	}

	return nil
}

func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, selectEnrollment+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.EnrollmentError{Op: "GetByID", EnrollmentID: id, Err: persistence.ErrEnrollmentNotFound}
		}

		return nil, err
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) FindActive(ctx context.Context, workflowID, entityID string) (*models.Enrollment, error) {
	row := r.db.QueryRowContext(ctx,
		selectEnrollment+" WHERE workflow_id = $1 AND entity_id = $2 AND status = 'active'",
		workflowID, entityID,
	)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.EnrollmentError{
				Op:         "FindActive",
				WorkflowID: workflowID,
				EntityID:   entityID,
				Err:        persistence.ErrEnrollmentNotFound,
			}
		}

		return nil, err
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) ListByEntity(ctx context.Context, entityID string) ([]*models.Enrollment, error) {
	return r.list(ctx, selectEnrollment+" WHERE entity_id = $1 ORDER BY enrolled_at", entityID)
}

func (r *EnrollmentRepository) CountActiveByWorkflow(ctx context.Context, workflowID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enrollments WHERE workflow_id = $1 AND status = 'active'",
		workflowID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active enrollments: %w", err)
	}

	return count, nil
}

func (r *EnrollmentRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	query := selectEnrollment + `
		WHERE status = 'active' AND next_wake_at IS NOT NULL AND next_wake_at <= $1
		ORDER BY next_wake_at
	`

	if limit > 0 {
		return r.list(ctx, query+" LIMIT $2", now, limit)
	}

	return r.list(ctx, query, now)
}

func (r *EnrollmentRepository) list(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}

		enrollments = append(enrollments, enrollment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func (r *EnrollmentRepository) MarkStepExecuted(ctx context.Context, execution models.StepExecution) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO step_executions (enrollment_id, step_index, outcome, next_index, executed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (enrollment_id, step_index) DO NOTHING
	`,
		execution.EnrollmentID,
		execution.StepIndex,
		execution.Outcome,
		execution.NextIndex,
		execution.ExecutedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark step executed: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return inserted == 1, nil
}

func (r *EnrollmentRepository) StepExecution(ctx context.Context, enrollmentID string, stepIndex int) (*models.StepExecution, error) {
	execution := models.StepExecution{EnrollmentID: enrollmentID, StepIndex: stepIndex}

	err := r.db.QueryRowContext(ctx, `
		SELECT outcome, next_index, executed_at
		FROM step_executions
		WHERE enrollment_id = $1 AND step_index = $2
	`, enrollmentID, stepIndex).Scan(&execution.Outcome, &execution.NextIndex, &execution.ExecutedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepExecutionNotFound
		}

		return nil, fmt.Errorf("failed to query step execution: %w", err)
	}

	return &execution, nil
}

func enrollmentArgs(enrollment *models.Enrollment) []any {
	return []any{
		enrollment.ID,
		enrollment.WorkflowID,
		enrollment.WorkflowVersion,
		enrollment.EntityID,
		enrollment.CurrentStepIndex,
		enrollment.Status,
		enrollment.EnrolledAt,
		enrollment.UpdatedAt,
		nullTime(enrollment.CompletedAt),
		nullTime(enrollment.NextWakeAt),
		enrollment.LastError,
		enrollment.ExitReason,
	}
}

func scanEnrollment(row scanner) (*models.Enrollment, error) {
	var (
		enrollment  models.Enrollment
		completedAt sql.NullTime
		nextWakeAt  sql.NullTime
	)

	err := row.Scan(
		&enrollment.ID,
		&enrollment.WorkflowID,
		&enrollment.WorkflowVersion,
		&enrollment.EntityID,
		&enrollment.CurrentStepIndex,
		&enrollment.Status,
		&enrollment.EnrolledAt,
		&enrollment.UpdatedAt,
		&completedAt,
		&nextWakeAt,
		&enrollment.LastError,
		&enrollment.ExitReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	enrollment.CompletedAt = timePtr(completedAt)
	enrollment.NextWakeAt = timePtr(nextWakeAt)

	return &enrollment, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time

	return &value
}

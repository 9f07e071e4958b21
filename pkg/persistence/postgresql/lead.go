package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// LeadRepository handles lead database operations. Collections are stored as JSONB columns.
type LeadRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const selectLead = `
	SELECT
		id
	  , user_id
	  , first_name
	  , last_name
	  , email
	  , phone
	  , stage_id
	  , stage_entered_at
	  , advisor_id
	  , fields
	  , documents
	  , requirements
	  , payments
	  , form_submissions
	  , tasks
	  , created_at
	  , updated_at
	FROM leads
`

func (r *LeadRepository) GetByID(ctx context.Context, id string) (*models.Lead, error) {
	lead, err := scanLead(r.db.QueryRowContext(ctx, selectLead+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.LeadError{Op: "GetByID", LeadID: id, Err: persistence.ErrLeadNotFound}
		}

		return nil, err
	}

	return lead, nil
}

func (r *LeadRepository) Save(ctx context.Context, lead *models.Lead) error {
	columns := make([][]byte, 0, 6)

	for _, v := range []any{lead.Fields, lead.Documents, lead.Requirements, lead.Payments, lead.FormSubmissions, lead.Tasks} {
		data, err := marshalJSON(v)
		if err != nil {
			return err
		}

		columns = append(columns, data)
	}

	query := `
		INSERT INTO leads (id, user_id, first_name, last_name, email, phone, stage_id, stage_entered_at,
			advisor_id, fields, documents, requirements, payments, form_submissions, tasks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			COALESCE($10::jsonb, '{}'), COALESCE($11::jsonb, '[]'), COALESCE($12::jsonb, '[]'),
			COALESCE($13::jsonb, '[]'), COALESCE($14::jsonb, '[]'), COALESCE($15::jsonb, '[]'), $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			stage_id = EXCLUDED.stage_id,
			stage_entered_at = EXCLUDED.stage_entered_at,
			advisor_id = EXCLUDED.advisor_id,
			fields = EXCLUDED.fields,
			documents = EXCLUDED.documents,
			requirements = EXCLUDED.requirements,
			payments = EXCLUDED.payments,
			form_submissions = EXCLUDED.form_submissions,
			tasks = EXCLUDED.tasks,
			updated_at = EXCLUDED.updated_at
	`

	var stageEnteredAt *time.Time
	if !lead.StageEnteredAt.IsZero() {
		stageEnteredAt = &lead.StageEnteredAt
	}

	_, err := r.db.ExecContext(ctx, query,
		lead.ID,
		lead.UserID,
		lead.FirstName,
		lead.LastName,
		lead.Email,
		lead.Phone,
		lead.StageID,
		nullTime(stageEnteredAt),
		lead.AdvisorID,
		nullJSON(columns[0]),
		nullJSON(columns[1]),
		nullJSON(columns[2]),
		nullJSON(columns[3]),
		nullJSON(columns[4]),
		nullJSON(columns[5]),
		lead.CreatedAt,
		lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save lead %s: %w", lead.ID, err)
	}

	return nil
}

// List returns the leads matching filter ordered by creation time.
func (r *LeadRepository) List(ctx context.Context, filter models.LeadFilter) ([]*models.Lead, error) {
	var (
		where []string
		args  []any
	)

	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if filter.StageID != "" {
		add("stage_id = ?", filter.StageID)
	}

	if filter.CreatedAfter != nil {
		add("created_at >= ?", *filter.CreatedAfter)
	}

	if filter.CreatedBefore != nil {
		add("created_at < ?", *filter.CreatedBefore)
	}

	if filter.UnassignedOnly {
		where = append(where, "advisor_id = ''")
	}

	query := selectLead
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := r.db.QueryContext(ctx, query+" ORDER BY created_at", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	leads := make([]*models.Lead, 0)

	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}

		leads = append(leads, lead)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating leads: %w", err)
	}

	return leads, nil
}

func (r *LeadRepository) CompareAndSetStage(ctx context.Context, leadID, fromStageID, toStageID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE leads SET stage_id = $3, stage_entered_at = $4, updated_at = $4
		WHERE id = $1 AND stage_id = $2
	`, leadID, fromStageID, toStageID, at)
	if err != nil {
		return false, fmt.Errorf("failed to update lead stage: %w", err)
	}

	return r.affected(ctx, "CompareAndSetStage", leadID, result)
}

func (r *LeadRepository) UpdateFields(ctx context.Context, leadID string, fields map[string]any, at time.Time) error {
	data, err := marshalJSON(fields)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE leads SET fields = fields || $2::jsonb, updated_at = $3 WHERE id = $1
	`, leadID, data, at)
	if err != nil {
		return fmt.Errorf("failed to update lead fields: %w", err)
	}

	return r.mustAffect(ctx, "UpdateFields", leadID, result)
}

func (r *LeadRepository) AssignAdvisor(ctx context.Context, leadID, advisorID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE leads SET advisor_id = $2, updated_at = $3 WHERE id = $1
	`, leadID, advisorID, at)
	if err != nil {
		return fmt.Errorf("failed to assign advisor: %w", err)
	}

	return r.mustAffect(ctx, "AssignAdvisor", leadID, result)
}

// AddTask appends the task unless a task with the same ID is already present.
func (r *LeadRepository) AddTask(ctx context.Context, task models.Task) error {
	data, err := marshalJSON(task)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE leads SET tasks = tasks || jsonb_build_array($2::jsonb), updated_at = $3
		WHERE id = $1 AND NOT tasks @> jsonb_build_array(jsonb_build_object('id', $4::text))
	`, task.LeadID, data, task.CreatedAt, task.ID)
	if err != nil {
		return fmt.Errorf("failed to add task: %w", err)
	}

	_, err = r.affected(ctx, "AddTask", task.LeadID, result)

	return err
}

func (r *LeadRepository) mustAffect(ctx context.Context, op, leadID string, result sql.Result) error {
	updated, err := r.affected(ctx, op, leadID, result)
	if err != nil {
		return err
	}

	if !updated {
		return &persistence.LeadError{Op: op, LeadID: leadID, Err: persistence.ErrLeadNotFound}
	}

	return nil
}

// affected reports whether the update touched a row. When it did not, it tells a missing lead
// apart from an unmet condition.
func (r *LeadRepository) affected(ctx context.Context, op, leadID string, result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if n > 0 {
		return true, nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)", leadID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check lead: %w", err)
	}

	if !exists {
		return false, &persistence.LeadError{Op: op, LeadID: leadID, Err: persistence.ErrLeadNotFound}
	}

	return false, nil
}

func nullJSON(data []byte) any {
	if string(data) == "null" {
		return nil
	}

	return data
}

func scanLead(row scanner) (*models.Lead, error) {
	var (
		lead            models.Lead
		stageEnteredAt  sql.NullTime
		fields          []byte
		documents       []byte
		requirements    []byte
		payments        []byte
		formSubmissions []byte
		tasks           []byte
	)

	err := row.Scan(
		&lead.ID,
		&lead.UserID,
		&lead.FirstName,
		&lead.LastName,
		&lead.Email,
		&lead.Phone,
		&lead.StageID,
		&stageEnteredAt,
		&lead.AdvisorID,
		&fields,
		&documents,
		&requirements,
		&payments,
		&formSubmissions,
		&tasks,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan lead: %w", err)
	}

	if stageEnteredAt.Valid {
		lead.StageEnteredAt = stageEnteredAt.Time
	}

	for _, column := range []struct {
		data []byte
		v    any
	}{
		{fields, &lead.Fields},
		{documents, &lead.Documents},
		{requirements, &lead.Requirements},
		{payments, &lead.Payments},
		{formSubmissions, &lead.FormSubmissions},
		{tasks, &lead.Tasks},
	} {
		err = unmarshalJSON(column.data, column.v)
		if err != nil {
			return nil, err
		}
	}

	return &lead, nil
}

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	postgresContainer *postgres.PostgresContainer
	containerMu       sync.Mutex
	t0                = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

var tables = []string{
	"delivery_logs", "in_app_notifications", "contacts", "notification_preferences",
	"stage_transitions", "stage_triggers", "stages", "leads",
	"step_executions", "enrollments", "workflows", "schema_migrations",
}

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range tables {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL tests in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	containerMu.Lock()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("leadflow_test"),
			postgres.WithUsername("leadflow"),
			postgres.WithPassword("leadflow"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerMu.Unlock()
			require.NoError(t, err)
		}
	}

	containerMu.Unlock()

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	for _, table := range tables {
		var exists bool

		err = db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func saveWorkflow(ctx context.Context, t *testing.T, p *postgresql.Persistence, id string) *models.WorkflowDefinition {
	t.Helper()

	workflow := &models.WorkflowDefinition{
		ID:      id,
		Name:    "Nurture",
		Status:  models.WorkflowStatusActive,
		Version: 1,
		Steps: []models.Step{
			{ID: "welcome", Index: 0, Type: models.StepTypeAction, Action: &models.ActionStep{
				Kind:   models.ActionSendEmail,
				Config: map[string]any{"subject": "Hi", "body": "Welcome"},
			}},
			{ID: "wait", Index: 1, Type: models.StepTypeDelay, Delay: &models.DelayStep{Amount: 2, Unit: models.DelayUnitDays}},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}

	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	return workflow
}

func TestWorkflowRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	saved := saveWorkflow(ctx, t, p, "wf-1")

	loaded, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, saved.Name, loaded.Name)
	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, models.ActionSendEmail, loaded.Steps[0].Action.Kind)
	assert.Equal(t, "Welcome", loaded.Steps[0].Action.Config["body"])
	assert.Equal(t, 2, loaded.Steps[1].Delay.Amount)

	saved.Version = 2
	saved.Status = models.WorkflowStatusInactive
	require.NoError(t, repo.Save(ctx, saved))

	loaded, err = repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
	assert.False(t, loaded.IsActive())

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestEnrollmentRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.EnrollmentRepository()
	saveWorkflow(ctx, t, p, "wf-1")

	wake := t0.Add(48 * time.Hour)
	enrollment := &models.Enrollment{
		ID:              "enr-1",
		WorkflowID:      "wf-1",
		WorkflowVersion: 1,
		EntityID:        "lead-1",
		Status:          models.EnrollmentStatusActive,
		EnrolledAt:      t0,
		UpdatedAt:       t0,
		NextWakeAt:      &wake,
	}
	require.NoError(t, repo.Create(ctx, enrollment))

	duplicate := *enrollment
	duplicate.ID = "enr-2"
	err := repo.Create(ctx, &duplicate)
	assert.True(t, persistence.IsActiveEnrollmentExists(err))

	active, err := repo.FindActive(ctx, "wf-1", "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "enr-1", active.ID)
	require.NotNil(t, active.NextWakeAt)
	assert.True(t, wake.Equal(*active.NextWakeAt))
	assert.Nil(t, active.CompletedAt)

	due, err := repo.Due(ctx, wake.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = repo.Due(ctx, wake, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	count, err := repo.CountActiveByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	inserted, err := repo.MarkStepExecuted(ctx, models.StepExecution{
		EnrollmentID: "enr-1", StepIndex: 0, Outcome: models.StepOutcomeCompleted, NextIndex: 1, ExecutedAt: t0,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.MarkStepExecuted(ctx, models.StepExecution{
		EnrollmentID: "enr-1", StepIndex: 0, Outcome: models.StepOutcomeCompleted, NextIndex: 5, ExecutedAt: t0,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	execution, err := repo.StepExecution(ctx, "enr-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, execution.NextIndex)

	_, err = repo.StepExecution(ctx, "enr-1", 1)
	require.ErrorIs(t, err, persistence.ErrStepExecutionNotFound)

	completed := t0.Add(50 * time.Hour)
	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CompletedAt = &completed
	enrollment.NextWakeAt = nil
	require.NoError(t, repo.Save(ctx, enrollment, 0))

	stale := *enrollment
	stale.Status = models.EnrollmentStatusActive
	stale.CompletedAt = nil
	err = repo.Save(ctx, &stale, 0)
	require.ErrorIs(t, err, persistence.ErrEnrollmentConflict, "a terminal enrollment is never overwritten")

	_, err = repo.FindActive(ctx, "wf-1", "lead-1")
	assert.True(t, persistence.IsEnrollmentNotFound(err))

	require.NoError(t, repo.Create(ctx, &duplicate), "a new active enrollment is allowed once the previous one ended")

	enrollments, err := repo.ListByEntity(ctx, "lead-1")
	require.NoError(t, err)
	assert.Len(t, enrollments, 2)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsEnrollmentNotFound(err))
}

func TestLeadRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.LeadRepository()

	lead := &models.Lead{
		ID:             "lead-1",
		FirstName:      "Ana",
		Email:          "ana@example.com",
		StageID:        "applied",
		StageEnteredAt: t0,
		Fields:         map[string]any{"program": "MBA"},
		Documents:      []models.Document{{ID: "doc-1", StageID: "applied", Required: true, Status: models.ReviewStatusPending}},
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
	require.NoError(t, repo.Save(ctx, lead))
	require.NoError(t, repo.Save(ctx, &models.Lead{ID: "lead-2", StageID: "applied", AdvisorID: "adv-1", CreatedAt: t0.Add(time.Hour), UpdatedAt: t0}))

	loaded, err := repo.GetByID(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "MBA", loaded.Fields["program"])
	require.Len(t, loaded.Documents, 1)
	assert.Equal(t, models.ReviewStatusPending, loaded.Documents[0].Status)

	swapped, err := repo.CompareAndSetStage(ctx, "lead-1", "review", "enrolled", t0)
	require.NoError(t, err)
	assert.False(t, swapped)

	swapped, err = repo.CompareAndSetStage(ctx, "lead-1", "applied", "review", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, swapped)

	_, err = repo.CompareAndSetStage(ctx, "missing", "applied", "review", t0)
	assert.True(t, persistence.IsLeadNotFound(err))

	require.NoError(t, repo.UpdateFields(ctx, "lead-1", map[string]any{"score": 80}, t0))
	require.NoError(t, repo.AssignAdvisor(ctx, "lead-1", "adv-2", t0))

	task := models.Task{ID: "task-1", LeadID: "lead-1", Title: "Call", CreatedAt: t0}
	require.NoError(t, repo.AddTask(ctx, task))
	require.NoError(t, repo.AddTask(ctx, task))

	loaded, err = repo.GetByID(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "review", loaded.StageID)
	assert.Equal(t, "MBA", loaded.Fields["program"])
	assert.InDelta(t, 80, loaded.Fields["score"], 0)
	assert.Equal(t, "adv-2", loaded.AdvisorID)
	assert.Len(t, loaded.Tasks, 1)

	err = repo.UpdateFields(ctx, "missing", map[string]any{"a": 1}, t0)
	assert.True(t, persistence.IsLeadNotFound(err))

	leads, err := repo.List(ctx, models.LeadFilter{StageID: "applied"})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "lead-2", leads[0].ID)

	after := t0.Add(30 * time.Minute)
	leads, err = repo.List(ctx, models.LeadFilter{CreatedAfter: &after})
	require.NoError(t, err)
	require.Len(t, leads, 1)

	leads, err = repo.List(ctx, models.LeadFilter{UnassignedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestStageRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.StageRepository()

	require.NoError(t, repo.SaveStage(ctx, &models.Stage{
		ID: "review", Name: "Document Review", NextStageID: "enrolled",
		EnrollWorkflowIDs: []string{"wf-1"}, AdminUserIDs: []string{"admin-1", "admin-2"},
	}))
	require.NoError(t, repo.SaveStage(ctx, &models.Stage{ID: "enrolled", Name: "Enrolled"}))

	stage, err := repo.GetStage(ctx, "review")
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-1"}, stage.EnrollWorkflowIDs)
	assert.Equal(t, []string{"admin-1", "admin-2"}, stage.AdminUserIDs)

	_, err = repo.GetStage(ctx, "missing")
	assert.True(t, persistence.IsStageNotFound(err))

	require.NoError(t, repo.SaveTrigger(ctx, &models.StageTransitionTrigger{
		ID: "t2", StageID: "review", TriggerType: models.TriggerTimeElapsed, IsActive: true,
		Config: models.TriggerConfig{Duration: "3d"}, CreatedAt: t0.Add(time.Second),
	}))
	require.NoError(t, repo.SaveTrigger(ctx, &models.StageTransitionTrigger{
		ID: "t1", StageID: "review", TriggerType: models.TriggerAllDocumentsApproved, IsActive: true,
		NotifyStudent: true, CreatedAt: t0,
	}))

	triggers, err := repo.TriggersByStage(ctx, "review")
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	assert.Equal(t, "t1", triggers[0].ID)
	assert.True(t, triggers[0].NotifyStudent)
	assert.Equal(t, "3d", triggers[1].Config.Duration)

	stageIDs, err := repo.StagesWithActiveTrigger(ctx, models.TriggerTimeElapsed)
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, stageIDs)

	require.NoError(t, repo.RecordTransition(ctx, models.StageTransition{
		ID: "tr-1", LeadID: "lead-1", FromStageID: "review", ToStageID: "enrolled",
		TriggerID: "t1", TriggerType: models.TriggerAllDocumentsApproved, At: t0,
	}))

	transitions, err := repo.TransitionsByLead(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "enrolled", transitions[0].ToStageID)
}

func TestNotificationRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.NotificationRepository()

	require.NoError(t, repo.EnsureDefaultPreferences(ctx, models.DefaultPreferences("user-1", "stage_changed")))

	quiet := models.QuietHours{Enabled: true, Start: "22:00", End: "07:00", Timezone: "America/Sao_Paulo"}
	require.NoError(t, repo.SavePreferences(ctx, []models.NotificationPreference{
		{UserID: "user-1", NotificationType: "stage_changed", Channel: models.ChannelEmail, Enabled: false, QuietHours: quiet},
	}))
	require.NoError(t, repo.EnsureDefaultPreferences(ctx, models.DefaultPreferences("user-1", "stage_changed")))

	preferences, err := repo.Preferences(ctx, "user-1", "stage_changed")
	require.NoError(t, err)
	require.Len(t, preferences, 2)
	assert.Equal(t, models.ChannelEmail, preferences[0].Channel)
	assert.False(t, preferences[0].Enabled, "defaults never overwrite saved preferences")
	assert.Equal(t, quiet, preferences[0].QuietHours)

	all, err := repo.PreferencesByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repo.Contact(ctx, "user-1")
	require.ErrorIs(t, err, persistence.ErrContactNotFound)

	require.NoError(t, repo.SaveContact(ctx, models.Contact{UserID: "user-1", Email: "ana@example.com"}))

	contact, err := repo.Contact(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", contact.Email)

	require.NoError(t, repo.CreateInApp(ctx, models.InAppNotification{
		ID: "n-1", UserID: "user-1", Type: "stage_changed", Title: "Moved", Data: map[string]any{"lead_id": "lead-1"},
		Priority: models.PriorityNormal, CreatedAt: t0,
	}))

	inApp, err := repo.InAppByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, inApp, 1)
	assert.Equal(t, "lead-1", inApp[0].Data["lead_id"])

	require.NoError(t, repo.RecordDelivery(ctx, models.DeliveryLog{
		ID: "d-1", UserID: "user-1", NotificationType: "stage_changed", Channel: models.ChannelSMS,
		Status: models.DeliveryStatusSuppressed, IdempotencyKey: "k:sms", At: t0,
	}))

	deliveries, err := repo.DeliveriesByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, models.DeliveryStatusSuppressed, deliveries[0].Status)
}

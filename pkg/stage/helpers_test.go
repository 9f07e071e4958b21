package stage_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/notification"
	"github.com/dukex/leadflow/pkg/persistence/file"
	"github.com/dukex/leadflow/pkg/stage"
	"github.com/dukex/leadflow/pkg/workflow"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type env struct {
	ctx       context.Context
	p         *file.Persistence
	registry  *workflow.Registry
	scheduler *workflow.Scheduler
	evaluator *stage.Evaluator
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ctx := context.Background()
	logger := testLogger()
	p := file.NewPersistence(t.TempDir())

	dispatcher := notification.NewDispatcher(p.NotificationRepository(), logger,
		notification.WithSender(models.ChannelEmail, notification.NewLogSender(models.ChannelEmail, logger)),
		notification.WithSender(models.ChannelSMS, notification.NewLogSender(models.ChannelSMS, logger)),
	)

	registry := workflow.NewRegistry()
	require.NoError(t, workflow.RegisterDefaultActions(registry, p.LeadRepository(), dispatcher, logger))

	scheduler := workflow.NewScheduler(p, registry, logger)
	evaluator := stage.NewEvaluator(p, dispatcher, scheduler, logger)
	require.NoError(t, registry.Register(models.ActionChangeStage, stage.NewChangeStageAction(evaluator)))

	e := &env{ctx: ctx, p: p, registry: registry, scheduler: scheduler, evaluator: evaluator}

	stages := []*models.Stage{
		{ID: "document_review", Name: "Document Review", Position: 1, NextStageID: "enrollment", AdminUserIDs: []string{"admin-1"}},
		{ID: "enrollment", Name: "Enrollment", Position: 2, NextStageID: "enrolled", EnrollWorkflowIDs: []string{"onboarding"}},
		{ID: "enrolled", Name: "Enrolled", Position: 3},
	}
	for _, s := range stages {
		require.NoError(t, p.StageRepository().SaveStage(ctx, s))
	}

	e.saveWorkflow(t, "onboarding",
		models.Step{
			ID:     "tag",
			Type:   models.StepTypeAction,
			Action: &models.ActionStep{Kind: models.ActionUpdateLead, Config: map[string]any{"fields": map[string]any{"onboarding": "started"}}},
		},
		models.Step{ID: "wait", Type: models.StepTypeDelay, Delay: &models.DelayStep{Amount: 1, Unit: models.DelayUnitDays}},
	)

	e.saveLead(t, &models.Lead{
		ID:             "lead-1",
		UserID:         "student-1",
		FirstName:      "Ana",
		Email:          "ana@example.com",
		StageID:        "document_review",
		StageEnteredAt: t0.Add(-72 * time.Hour),
		Documents: []models.Document{
			{ID: "doc-1", StageID: "document_review", Required: true, Status: models.ReviewStatusApproved},
			{ID: "doc-2", StageID: "document_review", Required: true, Status: models.ReviewStatusPending},
		},
		CreatedAt: t0.Add(-96 * time.Hour),
	})

	require.NoError(t, p.NotificationRepository().SaveContact(ctx, models.Contact{UserID: "student-1", Email: "ana@example.com"}))

	return e
}

func (e *env) saveLead(t *testing.T, lead *models.Lead) {
	t.Helper()

	require.NoError(t, e.p.LeadRepository().Save(e.ctx, lead))
}

func (e *env) lead(t *testing.T, id string) *models.Lead {
	t.Helper()

	lead, err := e.p.LeadRepository().GetByID(e.ctx, id)
	require.NoError(t, err)

	return lead
}

func (e *env) saveWorkflow(t *testing.T, id string, steps ...models.Step) {
	t.Helper()

	for i := range steps {
		steps[i].Index = i
	}

	require.NoError(t, workflow.Validate(steps, e.registry))
	require.NoError(t, e.p.WorkflowRepository().Save(e.ctx, &models.WorkflowDefinition{
		ID:        id,
		Name:      id,
		Status:    models.WorkflowStatusActive,
		Version:   1,
		Steps:     steps,
		CreatedAt: t0,
		UpdatedAt: t0,
	}))
}

func (e *env) addTrigger(t *testing.T, trigger *models.StageTransitionTrigger) *models.StageTransitionTrigger {
	t.Helper()

	require.NoError(t, e.evaluator.AddTrigger(e.ctx, trigger, t0))

	return trigger
}

func approveDocument(lead *models.Lead, documentID string) {
	for i := range lead.Documents {
		if lead.Documents[i].ID == documentID {
			lead.Documents[i].Status = models.ReviewStatusApproved
		}
	}
}

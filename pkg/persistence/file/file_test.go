package file

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", p.root)

	p = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", p.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := NewPersistence(t.TempDir())
	require.NoError(t, p.HealthCheck(t.Context()))
	require.NoError(t, p.Close(t.Context()))

	missing := NewPersistence(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, missing.HealthCheck(t.Context()))
}

func TestWorkflowRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).WorkflowRepository()

	workflows, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, workflows)

	workflow := &models.WorkflowDefinition{
		ID:      "wf-1",
		Name:    "Nurture",
		Status:  models.WorkflowStatusActive,
		Version: 1,
		Steps: []models.Step{
			{ID: "wait", Type: models.StepTypeDelay, Delay: &models.DelayStep{Amount: 2, Unit: models.DelayUnitDays}},
		},
		CreatedAt: t0,
	}
	require.NoError(t, repo.Save(ctx, workflow))

	loaded, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Nurture", loaded.Name)
	assert.Equal(t, models.DelayUnitDays, loaded.Steps[0].Delay.Unit)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestEnrollmentRepository_ActivePairIsUnique(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).EnrollmentRepository()

	enrollment := &models.Enrollment{
		ID: "enr-1", WorkflowID: "wf-1", EntityID: "lead-1", Status: models.EnrollmentStatusActive, EnrolledAt: t0,
	}
	require.NoError(t, repo.Create(ctx, enrollment))

	err := repo.Create(ctx, &models.Enrollment{
		ID: "enr-2", WorkflowID: "wf-1", EntityID: "lead-1", Status: models.EnrollmentStatusActive, EnrolledAt: t0,
	})
	assert.True(t, persistence.IsActiveEnrollmentExists(err))

	require.NoError(t, repo.Create(ctx, &models.Enrollment{
		ID: "enr-3", WorkflowID: "wf-2", EntityID: "lead-1", Status: models.EnrollmentStatusActive, EnrolledAt: t0,
	}))

	enrollment.Status = models.EnrollmentStatusExited
	require.NoError(t, repo.Save(ctx, enrollment, 0))

	enrollment.Status = models.EnrollmentStatusActive
	err = repo.Save(ctx, enrollment, 0)
	assert.True(t, persistence.IsEnrollmentConflict(err), "a terminal enrollment is never overwritten")

	stored, err := repo.GetByID(ctx, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusExited, stored.Status)

	_, err = repo.FindActive(ctx, "wf-1", "lead-1")
	assert.True(t, persistence.IsEnrollmentNotFound(err))

	require.NoError(t, repo.Create(ctx, &models.Enrollment{
		ID: "enr-2", WorkflowID: "wf-1", EntityID: "lead-1", Status: models.EnrollmentStatusActive, EnrolledAt: t0.Add(time.Hour),
	}))

	enrollments, err := repo.ListByEntity(ctx, "lead-1")
	require.NoError(t, err)
	assert.Len(t, enrollments, 3)

	count, err := repo.CountActiveByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEnrollmentRepository_ConcurrentCreate(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).EnrollmentRepository()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for i := range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := repo.Create(ctx, &models.Enrollment{
				ID:         "enr-" + string(rune('a'+i)),
				WorkflowID: "wf-1",
				EntityID:   "lead-1",
				Status:     models.EnrollmentStatusActive,
				EnrolledAt: t0,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestEnrollmentRepository_Due(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).EnrollmentRepository()

	wake := func(d time.Duration) *time.Time {
		at := t0.Add(d)

		return &at
	}

	for _, enrollment := range []*models.Enrollment{
		{ID: "late", WorkflowID: "wf-1", EntityID: "lead-1", Status: models.EnrollmentStatusActive, NextWakeAt: wake(2 * time.Hour)},
		{ID: "early", WorkflowID: "wf-1", EntityID: "lead-2", Status: models.EnrollmentStatusActive, NextWakeAt: wake(time.Hour)},
		{ID: "future", WorkflowID: "wf-1", EntityID: "lead-3", Status: models.EnrollmentStatusActive, NextWakeAt: wake(5 * time.Hour)},
		{ID: "done", WorkflowID: "wf-1", EntityID: "lead-4", Status: models.EnrollmentStatusCompleted, NextWakeAt: wake(time.Hour)},
		{ID: "running", WorkflowID: "wf-1", EntityID: "lead-5", Status: models.EnrollmentStatusActive},
	} {
		require.NoError(t, repo.Create(ctx, enrollment))
	}

	due, err := repo.Due(ctx, t0.Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].ID)
	assert.Equal(t, "late", due[1].ID)

	due, err = repo.Due(ctx, t0.Add(10*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "early", due[0].ID)
}

func TestEnrollmentRepository_StepGuard(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).EnrollmentRepository()

	_, err := repo.StepExecution(ctx, "enr-1", 0)
	require.ErrorIs(t, err, persistence.ErrStepExecutionNotFound)

	inserted, err := repo.MarkStepExecuted(ctx, models.StepExecution{EnrollmentID: "enr-1", StepIndex: 0, NextIndex: 3})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.MarkStepExecuted(ctx, models.StepExecution{EnrollmentID: "enr-1", StepIndex: 0, NextIndex: -1})
	require.NoError(t, err)
	assert.False(t, inserted)

	execution, err := repo.StepExecution(ctx, "enr-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, execution.NextIndex)
}

func TestLeadRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).LeadRepository()

	require.NoError(t, repo.Save(ctx, &models.Lead{ID: "lead-1", StageID: "applied", Fields: map[string]any{"program": "MBA"}, CreatedAt: t0}))
	require.NoError(t, repo.Save(ctx, &models.Lead{ID: "lead-2", StageID: "review", AdvisorID: "adv-1", CreatedAt: t0.Add(-time.Hour)}))

	swapped, err := repo.CompareAndSetStage(ctx, "lead-1", "review", "enrolled", t0)
	require.NoError(t, err)
	assert.False(t, swapped)

	swapped, err = repo.CompareAndSetStage(ctx, "lead-1", "applied", "review", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, swapped)

	_, err = repo.CompareAndSetStage(ctx, "missing", "applied", "review", t0)
	assert.True(t, persistence.IsLeadNotFound(err))

	require.NoError(t, repo.UpdateFields(ctx, "lead-1", map[string]any{"score": 90}, t0))

	task := models.Task{ID: "task-1", LeadID: "lead-1", Title: "Call", CreatedAt: t0}
	require.NoError(t, repo.AddTask(ctx, task))
	require.NoError(t, repo.AddTask(ctx, task))

	lead, err := repo.GetByID(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "review", lead.StageID)
	assert.True(t, t0.Add(time.Minute).Equal(lead.StageEnteredAt))
	assert.Equal(t, "MBA", lead.Fields["program"])
	assert.InDelta(t, 90, lead.Fields["score"], 0)
	assert.Len(t, lead.Tasks, 1)

	leads, err := repo.List(ctx, models.LeadFilter{StageID: "review"})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "lead-2", leads[0].ID, "leads are listed oldest first")

	leads, err = repo.List(ctx, models.LeadFilter{StageID: "review", UnassignedOnly: true})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "lead-1", leads[0].ID)
}

func TestStageRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).StageRepository()

	_, err := repo.GetStage(ctx, "review")
	assert.True(t, persistence.IsStageNotFound(err))

	require.NoError(t, repo.SaveStage(ctx, &models.Stage{ID: "review", Name: "Review", NextStageID: "enrolled"}))

	stage, err := repo.GetStage(ctx, "review")
	require.NoError(t, err)
	assert.Equal(t, "enrolled", stage.NextStageID)

	for _, trigger := range []*models.StageTransitionTrigger{
		{ID: "b", StageID: "review", TriggerType: models.TriggerManualApproval, IsActive: true, CreatedAt: t0},
		{ID: "a", StageID: "review", TriggerType: models.TriggerTimeElapsed, IsActive: true, CreatedAt: t0},
		{ID: "c", StageID: "review", TriggerType: models.TriggerTimeElapsed, IsActive: true, CreatedAt: t0.Add(-time.Hour)},
		{ID: "d", StageID: "offer", TriggerType: models.TriggerTimeElapsed, IsActive: false, CreatedAt: t0},
	} {
		require.NoError(t, repo.SaveTrigger(ctx, trigger))
	}

	triggers, err := repo.TriggersByStage(ctx, "review")
	require.NoError(t, err)
	require.Len(t, triggers, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{triggers[0].ID, triggers[1].ID, triggers[2].ID})

	stageIDs, err := repo.StagesWithActiveTrigger(ctx, models.TriggerTimeElapsed)
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, stageIDs)

	require.NoError(t, repo.RecordTransition(ctx, models.StageTransition{ID: "tr-2", LeadID: "lead-1", ToStageID: "enrolled", At: t0.Add(time.Hour)}))
	require.NoError(t, repo.RecordTransition(ctx, models.StageTransition{ID: "tr-1", LeadID: "lead-1", ToStageID: "review", At: t0}))

	transitions, err := repo.TransitionsByLead(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "review", transitions[0].ToStageID)
}

func TestNotificationRepository_Preferences(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).NotificationRepository()

	require.NoError(t, repo.EnsureDefaultPreferences(ctx, models.DefaultPreferences("user-1", "stage_changed")))
	require.NoError(t, repo.SavePreferences(ctx, []models.NotificationPreference{
		{UserID: "user-1", NotificationType: "stage_changed", Channel: models.ChannelEmail, Enabled: false},
		{UserID: "user-1", NotificationType: "lead_stage_changed", Channel: models.ChannelSMS, Enabled: true},
	}))
	require.NoError(t, repo.EnsureDefaultPreferences(ctx, models.DefaultPreferences("user-1", "stage_changed")))

	preferences, err := repo.Preferences(ctx, "user-1", "stage_changed")
	require.NoError(t, err)
	require.Len(t, preferences, 2)

	for _, preference := range preferences {
		if preference.Channel == models.ChannelEmail {
			assert.False(t, preference.Enabled)
		}
	}

	all, err := repo.PreferencesByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := repo.PreferencesByUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNotificationRepository_Records(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).NotificationRepository()

	_, err := repo.Contact(ctx, "user-1")
	require.ErrorIs(t, err, persistence.ErrContactNotFound)

	require.NoError(t, repo.SaveContact(ctx, models.Contact{UserID: "user-1", Phone: "+5511999999999"}))

	contact, err := repo.Contact(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "+5511999999999", contact.Phone)

	require.NoError(t, repo.CreateInApp(ctx, models.InAppNotification{ID: "n-1", UserID: "user-1", Title: "Moved", CreatedAt: t0}))
	require.NoError(t, repo.CreateInApp(ctx, models.InAppNotification{ID: "n-2", UserID: "user-2", Title: "Other", CreatedAt: t0}))

	inApp, err := repo.InAppByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, inApp, 1)
	assert.Equal(t, "Moved", inApp[0].Title)

	require.NoError(t, repo.RecordDelivery(ctx, models.DeliveryLog{
		ID: "d-1", UserID: "user-1", Channel: models.ChannelEmail, Status: models.DeliveryStatusFailed, Error: "bounced", At: t0,
	}))

	deliveries, err := repo.DeliveriesByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "bounced", deliveries[0].Error)
}

func TestEnrollmentRepository_SaveComparesStepIndex(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).EnrollmentRepository()

	enrollment := &models.Enrollment{
		ID: "enr-1", WorkflowID: "wf-1", EntityID: "lead-1", Status: models.EnrollmentStatusActive, EnrolledAt: t0,
	}
	require.NoError(t, repo.Create(ctx, enrollment))

	enrollment.CurrentStepIndex = 2
	require.NoError(t, repo.Save(ctx, enrollment, 0))

	stale := *enrollment
	stale.CurrentStepIndex = 1
	err := repo.Save(ctx, &stale, 0)
	require.ErrorIs(t, err, persistence.ErrEnrollmentConflict)

	stored, err := repo.GetByID(ctx, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentStepIndex)

	err = repo.Save(ctx, &models.Enrollment{ID: "missing", Status: models.EnrollmentStatusActive}, 0)
	assert.True(t, persistence.IsEnrollmentConflict(err))
}

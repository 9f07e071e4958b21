// Package persistence provides the data storage abstraction layer for workflows, enrollments,
// leads, stages and notifications.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/leadflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	EnrollmentRepository() EnrollmentRepository
	LeadRepository() LeadRepository
	StageRepository() StageRepository
	NotificationRepository() NotificationRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, workflow *models.WorkflowDefinition) error
}

// EnrollmentRepository stores enrollments and their step guards.
type EnrollmentRepository interface {
	// Create inserts a new enrollment. It returns ErrActiveEnrollmentExists when enrollment is
	// active and another active enrollment exists for the same (workflow, entity) pair.
	Create(ctx context.Context, enrollment *models.Enrollment) error
	// Save stores the enrollment only while the stored row is still active at expectedStepIndex.
	// Otherwise it returns ErrEnrollmentConflict and stores nothing.
	Save(ctx context.Context, enrollment *models.Enrollment, expectedStepIndex int) error
	GetByID(ctx context.Context, id string) (*models.Enrollment, error)
	// FindActive returns ErrEnrollmentNotFound when the pair has no active enrollment.
	FindActive(ctx context.Context, workflowID, entityID string) (*models.Enrollment, error)
	ListByEntity(ctx context.Context, entityID string) ([]*models.Enrollment, error)
	CountActiveByWorkflow(ctx context.Context, workflowID string) (int, error)
	// Due returns active enrollments whose next_wake_at is at or before now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error)

	// MarkStepExecuted inserts the guard if absent and reports whether this call inserted it.
	MarkStepExecuted(ctx context.Context, execution models.StepExecution) (bool, error)
	// StepExecution returns ErrStepExecutionNotFound when the step has not been executed.
	StepExecution(ctx context.Context, enrollmentID string, stepIndex int) (*models.StepExecution, error)
}

// LeadRepository reads lead snapshots and applies targeted mutations.
type LeadRepository interface {
	GetByID(ctx context.Context, id string) (*models.Lead, error)
	Save(ctx context.Context, lead *models.Lead) error
	List(ctx context.Context, filter models.LeadFilter) ([]*models.Lead, error)

	// CompareAndSetStage moves the lead to toStageID only if it is still in fromStageID.
	CompareAndSetStage(ctx context.Context, leadID, fromStageID, toStageID string, at time.Time) (bool, error)
	UpdateFields(ctx context.Context, leadID string, fields map[string]any, at time.Time) error
	AssignAdvisor(ctx context.Context, leadID, advisorID string, at time.Time) error
	// AddTask is idempotent on task ID.
	AddTask(ctx context.Context, task models.Task) error
}

// StageRepository stores pipeline stages, their triggers and the transition log.
type StageRepository interface {
	GetStage(ctx context.Context, id string) (*models.Stage, error)
	SaveStage(ctx context.Context, stage *models.Stage) error

	SaveTrigger(ctx context.Context, trigger *models.StageTransitionTrigger) error
	// TriggersByStage returns triggers in creation order.
	TriggersByStage(ctx context.Context, stageID string) ([]*models.StageTransitionTrigger, error)
	StagesWithActiveTrigger(ctx context.Context, triggerType models.TriggerType) ([]string, error)

	RecordTransition(ctx context.Context, transition models.StageTransition) error
	TransitionsByLead(ctx context.Context, leadID string) ([]models.StageTransition, error)
}

// NotificationRepository stores preferences, contacts, in-app notifications and the delivery log.
type NotificationRepository interface {
	Preferences(ctx context.Context, userID, notificationType string) ([]models.NotificationPreference, error)
	PreferencesByUser(ctx context.Context, userID string) ([]models.NotificationPreference, error)
	// SavePreferences upserts by (user, type, channel).
	SavePreferences(ctx context.Context, preferences []models.NotificationPreference) error
	// EnsureDefaultPreferences inserts preferences only for keys that do not exist yet.
	EnsureDefaultPreferences(ctx context.Context, preferences []models.NotificationPreference) error

	Contact(ctx context.Context, userID string) (*models.Contact, error)
	SaveContact(ctx context.Context, contact models.Contact) error

	CreateInApp(ctx context.Context, notification models.InAppNotification) error
	InAppByUser(ctx context.Context, userID string) ([]models.InAppNotification, error)
	RecordDelivery(ctx context.Context, log models.DeliveryLog) error
	DeliveriesByUser(ctx context.Context, userID string) ([]models.DeliveryLog, error)
}

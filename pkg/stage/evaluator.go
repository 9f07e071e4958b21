// Package stage advances leads between pipeline stages when configured trigger predicates hold.
package stage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/notification"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	NotificationTypeStageChanged     = "stage_changed"
	NotificationTypeLeadStageChanged = "lead_stage_changed"
)

// Notifier is the part of the notification dispatcher used on transitions.
type Notifier interface {
	Send(ctx context.Context, event models.NotificationEvent, now time.Time) (*notification.Report, error)
}

// Enroller places a lead in a workflow. The workflow scheduler implements it.
type Enroller interface {
	Enroll(ctx context.Context, workflowID, entityID string, now time.Time) (*models.Enrollment, error)
}

// Result describes the outcome of one evaluation.
type Result struct {
	LeadID        string             `json:"lead_id"`
	Transitioned  bool               `json:"transitioned"`
	FromStageID   string             `json:"from_stage_id"`
	ToStageID     string             `json:"to_stage_id,omitempty"`
	TriggerID     string             `json:"trigger_id,omitempty"`
	TriggerType   models.TriggerType `json:"trigger_type,omitempty"`
	EnrollmentIDs []string           `json:"enrollment_ids,omitempty"`
}

type Evaluator struct {
	stages   persistence.StageRepository
	leads    persistence.LeadRepository
	notifier Notifier
	enroller Enroller
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Evaluator)

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Evaluator) {
		e.tracer = tracer
	}
}

// NewEvaluator builds an evaluator. enroller may be nil, in which case stage on-enter
// workflows are not started.
func NewEvaluator(p persistence.Persistence, notifier Notifier, enroller Enroller, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		stages:   p.StageRepository(),
		leads:    p.LeadRepository(),
		notifier: notifier,
		enroller: enroller,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "stage_evaluator"),
		tracer:   otel.Tracer("leadflow/stage"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// OnEvent evaluates the active triggers of the lead's current stage that the event kind can
// satisfy. Triggers run in creation order and the first satisfied one fires.
func (e *Evaluator) OnEvent(
	ctx context.Context,
	entityID string,
	kind models.EventKind,
	payload map[string]any,
	now time.Time,
) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "stage.on_event",
		attribute.String(otelhelper.LeadIDKey, entityID),
		attribute.String(otelhelper.EventKindKey, string(kind)),
	)
	defer span.End()

	types := kind.TriggerTypes()
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}

	lead, err := e.leads.GetByID(ctx, entityID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.StageIDKey, lead.StageID))

	triggers, err := e.stages.TriggersByStage(ctx, lead.StageID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	event := Event{Kind: kind, Payload: payload, Now: now}
	logger := e.logger.With("lead_id", lead.ID, "stage_id", lead.StageID, "event_kind", kind)

	for _, trigger := range triggers {
		if !trigger.IsActive || !slices.Contains(types, trigger.TriggerType) {
			continue
		}

		ok, err := Satisfied(trigger, lead, event)
		if err != nil {
			logger.WarnContext(ctx, "Trigger evaluation failed", "trigger_id", trigger.ID, "error", err)

			continue
		}

		if !ok {
			continue
		}

		span.SetAttributes(attribute.String(otelhelper.TriggerIDKey, trigger.ID))

		result, err := e.fire(ctx, lead, trigger, now)
		if err != nil {
			otelhelper.SetError(span, err)
		}

		return result, err
	}

	logger.DebugContext(ctx, "No trigger satisfied")

	return &Result{LeadID: lead.ID, FromStageID: lead.StageID}, nil
}

// Approve records a manual approval of the lead's stage.
func (e *Evaluator) Approve(ctx context.Context, entityID, stageID, approverID string, now time.Time) (*Result, error) {
	return e.OnEvent(ctx, entityID, models.EventManualApproval, map[string]any{
		"stage_id":    stageID,
		"approver_id": approverID,
	}, now)
}

// MoveToStage transitions the lead directly, provided it is still in fromStageID.
func (e *Evaluator) MoveToStage(ctx context.Context, entityID, fromStageID, toStageID string, now time.Time) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "stage.move",
		attribute.String(otelhelper.LeadIDKey, entityID),
		attribute.String(otelhelper.StageIDKey, toStageID),
	)
	defer span.End()

	if fromStageID == toStageID {
		return nil, fmt.Errorf("%w: %s", ErrSameStage, toStageID)
	}

	lead, err := e.leads.GetByID(ctx, entityID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	result, err := e.transition(ctx, lead, fromStageID, toStageID, nil, now)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return result, err
}

// SweepElapsed evaluates time_elapsed triggers for every lead in a stage that has one.
// It returns the number of transitions fired.
func (e *Evaluator) SweepElapsed(ctx context.Context, now time.Time) (int, error) {
	stageIDs, err := e.stages.StagesWithActiveTrigger(ctx, models.TriggerTimeElapsed)
	if err != nil {
		return 0, err
	}

	fired := 0

	for _, stageID := range stageIDs {
		leads, err := e.leads.List(ctx, models.LeadFilter{StageID: stageID})
		if err != nil {
			return fired, err
		}

		for _, lead := range leads {
			if ctx.Err() != nil {
				return fired, ctx.Err()
			}

			result, err := e.OnEvent(ctx, lead.ID, models.EventTimeElapsed, nil, now)
			if err != nil {
				e.logger.ErrorContext(ctx, "Elapsed evaluation failed", "lead_id", lead.ID, "stage_id", stageID, "error", err)

				continue
			}

			if result.Transitioned {
				fired++
			}
		}
	}

	if fired > 0 {
		e.logger.InfoContext(ctx, "Elapsed sweep fired transitions", "count", fired)
	}

	return fired, nil
}

func (e *Evaluator) fire(ctx context.Context, lead *models.Lead, trigger *models.StageTransitionTrigger, now time.Time) (*Result, error) {
	target, err := e.resolveTarget(ctx, trigger)
	if err != nil {
		return nil, err
	}

	return e.transition(ctx, lead, trigger.StageID, target, trigger, now)
}

// resolveTarget returns the trigger's explicit target, or the next stage of its stage.
func (e *Evaluator) resolveTarget(ctx context.Context, trigger *models.StageTransitionTrigger) (string, error) {
	if trigger.Config.TargetStageID != "" {
		return trigger.Config.TargetStageID, nil
	}

	stage, err := e.stages.GetStage(ctx, trigger.StageID)
	if err != nil {
		return "", err
	}

	if stage.NextStageID == "" {
		return "", fmt.Errorf("%w: stage %s has no next stage", ErrNoTargetStage, stage.ID)
	}

	return stage.NextStageID, nil
}

// transition moves the lead with a compare-and-swap on its stage. Only the caller that wins
// the swap records the transition, notifies and enrolls.
func (e *Evaluator) transition(
	ctx context.Context,
	lead *models.Lead,
	fromStageID, toStageID string,
	trigger *models.StageTransitionTrigger,
	now time.Time,
) (*Result, error) {
	result := &Result{LeadID: lead.ID, FromStageID: fromStageID}
	logger := e.logger.With("lead_id", lead.ID, "from_stage_id", fromStageID, "to_stage_id", toStageID)

	target, err := e.stages.GetStage(ctx, toStageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load target stage %s: %w", toStageID, err)
	}

	swapped, err := e.leads.CompareAndSetStage(ctx, lead.ID, fromStageID, toStageID, now)
	if err != nil {
		return nil, err
	}

	if !swapped {
		logger.DebugContext(ctx, "Lead already left the stage")

		return result, nil
	}

	transition := models.StageTransition{
		ID:          uuid.New().String(),
		LeadID:      lead.ID,
		FromStageID: fromStageID,
		ToStageID:   toStageID,
		At:          now,
	}

	if trigger != nil {
		transition.TriggerID = trigger.ID
		transition.TriggerType = trigger.TriggerType
	}

	err = e.stages.RecordTransition(ctx, transition)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record transition", "error", err)
	}

	result.Transitioned = true
	result.ToStageID = toStageID
	result.TriggerID = transition.TriggerID
	result.TriggerType = transition.TriggerType

	logger.InfoContext(ctx, "Lead changed stage", "trigger_id", transition.TriggerID, "trigger_type", transition.TriggerType)

	if trigger != nil {
		e.notify(ctx, lead, trigger, target, transition, now)
	}

	result.EnrollmentIDs = e.enroll(ctx, lead.ID, target, now)

	return result, nil
}

func (e *Evaluator) notify(
	ctx context.Context,
	lead *models.Lead,
	trigger *models.StageTransitionTrigger,
	target *models.Stage,
	transition models.StageTransition,
	now time.Time,
) {
	if e.notifier == nil {
		return
	}

	data := map[string]any{
		"lead_id":       lead.ID,
		"from_stage_id": transition.FromStageID,
		"to_stage_id":   transition.ToStageID,
		"trigger_id":    trigger.ID,
	}

	var events []models.NotificationEvent

	if trigger.NotifyStudent && lead.UserID != "" {
		events = append(events, models.NotificationEvent{
			UserID:         lead.UserID,
			Type:           NotificationTypeStageChanged,
			Title:          "Your application moved forward",
			Message:        "You are now in the " + stageName(target) + " stage.",
			Data:           data,
			Priority:       models.PriorityNormal,
			IdempotencyKey: transition.ID + ":" + lead.UserID,
		})
	}

	if trigger.NotifyAdmin {
		admins := target.AdminUserIDs
		if lead.AdvisorID != "" {
			admins = []string{lead.AdvisorID}
		}

		for _, admin := range admins {
			events = append(events, models.NotificationEvent{
				UserID:         admin,
				Type:           NotificationTypeLeadStageChanged,
				Title:          "Lead changed stage",
				Message:        fmt.Sprintf("Lead %s moved from %s to %s.", lead.ID, transition.FromStageID, stageName(target)),
				Data:           data,
				Priority:       models.PriorityNormal,
				IdempotencyKey: transition.ID + ":" + admin,
			})
		}
	}

	for _, event := range events {
		_, err := e.notifier.Send(ctx, event, now)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to notify stage change", "user_id", event.UserID, "lead_id", lead.ID, "error", err)
		}
	}
}

func (e *Evaluator) enroll(ctx context.Context, leadID string, target *models.Stage, now time.Time) []string {
	if e.enroller == nil {
		return nil
	}

	var ids []string

	for _, workflowID := range target.EnrollWorkflowIDs {
		enrollment, err := e.enroller.Enroll(ctx, workflowID, leadID, now)
		if err != nil {
			e.logger.WarnContext(ctx, "Stage enrollment failed",
				"lead_id", leadID,
				"stage_id", target.ID,
				"workflow_id", workflowID,
				"error", err,
			)
		}

		if enrollment != nil {
			ids = append(ids, enrollment.ID)
		}
	}

	return ids
}

func stageName(stage *models.Stage) string {
	if stage.Name != "" {
		return stage.Name
	}

	return stage.ID
}

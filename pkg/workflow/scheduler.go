// Package workflow runs lead enrollments through workflow definitions: entry triggers,
// conditions, actions and delays.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/leadflow/pkg/locker"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxActionAttempts = 3
	maxCancelAttempts = 5

	ExitReasonConditionFalse = "condition_false"
	ExitReasonCancelled      = "cancelled"
)

// Scheduler owns enrollments and advances them step by step.
type Scheduler struct {
	workflows   persistence.WorkflowRepository
	enrollments persistence.EnrollmentRepository
	leads       persistence.LeadRepository
	registry    *Registry
	locker      locker.Locker
	logger      *slog.Logger
	tracer      trace.Tracer
	newBackOff  func() backoff.BackOff
}

type Option func(*Scheduler)

// WithLocker replaces the in-process lock, e.g. with a Redis lock shared by several workers.
func WithLocker(l locker.Locker) Option {
	return func(s *Scheduler) {
		s.locker = l
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = tracer
	}
}

// WithBackOff sets the retry policy of action steps. The policy must stop on its own.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Scheduler) {
		s.newBackOff = newBackOff
	}
}

func NewScheduler(p persistence.Persistence, registry *Registry, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		workflows:   p.WorkflowRepository(),
		enrollments: p.EnrollmentRepository(),
		leads:       p.LeadRepository(),
		registry:    registry,
		locker:      locker.NewLocal(),
		logger:      logger.With("module", "workflow_scheduler"),
		tracer:      otel.Tracer("leadflow/workflow"),
		newBackOff:  defaultBackOff,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.WithMaxRetries(b, maxActionAttempts-1)
}

func enrollmentLockKey(id string) string {
	return "enrollment:" + id
}

func pairLockKey(workflowID, entityID string) string {
	return "enroll:" + workflowID + ":" + entityID
}

// IdempotencyKey identifies the side effects of one step of one enrollment.
func IdempotencyKey(enrollmentID string, stepIndex int) string {
	return enrollmentID + ":" + strconv.Itoa(stepIndex)
}

// Enroll places the entity in the workflow and advances it until it pauses or terminates.
// An existing active enrollment for the pair is returned unchanged.
func (s *Scheduler) Enroll(ctx context.Context, workflowID, entityID string, now time.Time) (*models.Enrollment, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "workflow.enroll",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.EntityIDKey, entityID),
	)
	defer span.End()

	logger := s.logger.With("workflow_id", workflowID, "entity_id", entityID)

	definition, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.Int(otelhelper.WorkflowVersionKey, definition.Version))

	if !definition.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowInactive, workflowID)
	}

	_, err = s.leads.GetByID(ctx, entityID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	enrollment, created, err := s.createEnrollment(ctx, definition, entityID, now)
	if err != nil || !created {
		return enrollment, err
	}

	span.SetAttributes(attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID))
	logger.InfoContext(ctx, "Entity enrolled", "enrollment_id", enrollment.ID, "workflow_version", definition.Version)

	unlock, err := s.locker.Lock(ctx, enrollmentLockKey(enrollment.ID))
	if err != nil {
		return enrollment, fmt.Errorf("failed to lock enrollment %s: %w", enrollment.ID, err)
	}
	defer unlock()

	enrollment, err = s.enrollments.GetByID(ctx, enrollment.ID)
	if err != nil {
		return nil, err
	}

	if enrollment.Status.IsTerminal() {
		return enrollment, nil
	}

	err = s.run(ctx, definition, enrollment, now)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return enrollment, err
}

// createEnrollment inserts a new active enrollment unless the pair already has one. The pair
// lock is released before any step runs, so actions may enroll the same entity again.
func (s *Scheduler) createEnrollment(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	entityID string,
	now time.Time,
) (*models.Enrollment, bool, error) {
	unlock, err := s.locker.Lock(ctx, pairLockKey(definition.ID, entityID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock enrollment pair: %w", err)
	}
	defer unlock()

	existing, err := s.enrollments.FindActive(ctx, definition.ID, entityID)
	if err == nil {
		s.logger.DebugContext(ctx, "Entity already enrolled", "enrollment_id", existing.ID, "entity_id", entityID)

		return existing, false, nil
	}

	if !persistence.IsEnrollmentNotFound(err) {
		return nil, false, err
	}

	enrollment := &models.Enrollment{
		ID:               uuid.New().String(),
		WorkflowID:       definition.ID,
		WorkflowVersion:  definition.Version,
		EntityID:         entityID,
		CurrentStepIndex: 0,
		Status:           models.EnrollmentStatusActive,
		EnrolledAt:       now,
		UpdatedAt:        now,
	}

	err = s.enrollments.Create(ctx, enrollment)
	if persistence.IsActiveEnrollmentExists(err) {
		existing, err = s.enrollments.FindActive(ctx, definition.ID, entityID)

		return existing, false, err
	}

	if err != nil {
		return nil, false, err
	}

	return enrollment, true, nil
}

// Advance executes the enrollment's pending steps as of now. It is safe to call repeatedly:
// executed steps are never run twice and a delay that has not elapsed is left untouched.
func (s *Scheduler) Advance(ctx context.Context, enrollmentID string, now time.Time) (*models.Enrollment, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "workflow.advance",
		attribute.String(otelhelper.EnrollmentIDKey, enrollmentID),
	)
	defer span.End()

	unlock, err := s.locker.Lock(ctx, enrollmentLockKey(enrollmentID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock enrollment %s: %w", enrollmentID, err)
	}
	defer unlock()

	enrollment, err := s.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if enrollment.Status.IsTerminal() {
		return enrollment, nil
	}

	definition, err := s.workflows.GetByID(ctx, enrollment.WorkflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	err = s.run(ctx, definition, enrollment, now)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return enrollment, err
}

// Cancel exits an active enrollment. Cancelling a terminal enrollment is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, enrollmentID, reason string, now time.Time) (*models.Enrollment, error) {
	unlock, err := s.locker.Lock(ctx, enrollmentLockKey(enrollmentID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock enrollment %s: %w", enrollmentID, err)
	}
	defer unlock()

	if reason == "" {
		reason = ExitReasonCancelled
	}

	for attempt := 1; ; attempt++ {
		enrollment, err := s.enrollments.GetByID(ctx, enrollmentID)
		if err != nil {
			return nil, err
		}

		if enrollment.Status.IsTerminal() {
			return enrollment, nil
		}

		expected := enrollment.CurrentStepIndex
		enrollment.ExitReason = reason
		enrollment.NextWakeAt = nil
		finish(enrollment, models.EnrollmentStatusExited, now)

		err = s.enrollments.Save(ctx, enrollment, expected)
		if persistence.IsEnrollmentConflict(err) && attempt < maxCancelAttempts {
			s.logger.DebugContext(ctx, "Enrollment moved while cancelling, retrying", "enrollment_id", enrollmentID, "attempt", attempt)

			continue
		}

		if err != nil {
			return nil, err
		}

		s.logger.InfoContext(ctx, "Enrollment cancelled", "enrollment_id", enrollmentID, "reason", reason)

		return enrollment, nil
	}
}

// CancelForEntity exits every active enrollment of the entity and returns how many were exited.
func (s *Scheduler) CancelForEntity(ctx context.Context, entityID, reason string, now time.Time) (int, error) {
	enrollments, err := s.enrollments.ListByEntity(ctx, entityID)
	if err != nil {
		return 0, err
	}

	cancelled := 0

	for _, enrollment := range enrollments {
		if enrollment.Status.IsTerminal() {
			continue
		}

		_, err := s.Cancel(ctx, enrollment.ID, reason, now)
		if err != nil {
			return cancelled, err
		}

		cancelled++
	}

	return cancelled, nil
}

type stepResult struct {
	outcome models.StepOutcome
	next    int
	paused  bool
	failure error
}

// run must be called with the enrollment lock held. Every write is conditioned on the stored
// position, so a process that lost the enrollment to another writer stops without overwriting it.
func (s *Scheduler) run(ctx context.Context, definition *models.WorkflowDefinition, enrollment *models.Enrollment, now time.Time) error {
	logger := s.logger.With(
		"enrollment_id", enrollment.ID,
		"workflow_id", enrollment.WorkflowID,
		"entity_id", enrollment.EntityID,
	)
	steps := definition.Steps
	stored := enrollment.CurrentStepIndex

	if definition.Version != enrollment.WorkflowVersion {
		failure := fmt.Errorf("%w: enrolled on version %d, workflow is at version %d",
			ErrWorkflowVersionChanged, enrollment.WorkflowVersion, definition.Version)
		logger.ErrorContext(ctx, "Enrollment failed", "error", failure)

		enrollment.LastError = failure.Error()
		enrollment.NextWakeAt = nil
		finish(enrollment, models.EnrollmentStatusFailed, now)

		_, err := s.save(ctx, logger, enrollment, stored)

		return err
	}

	pending := false

	for enrollment.Status == models.EnrollmentStatusActive {
		index := enrollment.CurrentStepIndex

		if index < 0 || index >= len(steps) {
			finish(enrollment, models.EnrollmentStatusCompleted, now)
			pending = true

			break
		}

		step := steps[index]
		stepLogger := logger.With("step_index", index, "step_type", step.Type)

		recorded, err := s.enrollments.StepExecution(ctx, enrollment.ID, index)
		if err == nil {
			stepLogger.DebugContext(ctx, "Step already executed, following recorded outcome")
			moveTo(enrollment, steps, recorded.NextIndex, now)
			pending = true

			continue
		}

		if !errors.Is(err, persistence.ErrStepExecutionNotFound) {
			return fmt.Errorf("failed to read step guard: %w", err)
		}

		result, err := s.executeStep(ctx, stepLogger, enrollment, steps, step, now)
		if err != nil {
			return err
		}

		if result.paused {
			_, err = s.save(ctx, logger, enrollment, stored)

			return err
		}

		if result.failure != nil {
			stepLogger.ErrorContext(ctx, "Step failed, enrollment failed", "error", result.failure)
			enrollment.LastError = result.failure.Error()
			finish(enrollment, models.EnrollmentStatusFailed, now)

			saved, err := s.save(ctx, logger, enrollment, stored)
			if err != nil {
				return err
			}

			if saved && errors.Is(result.failure, ErrEntryTriggerNotSatisfied) {
				return result.failure
			}

			return nil
		}

		inserted, err := s.enrollments.MarkStepExecuted(ctx, models.StepExecution{
			EnrollmentID: enrollment.ID,
			StepIndex:    index,
			Outcome:      result.outcome,
			NextIndex:    result.next,
			ExecutedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("failed to write step guard: %w", err)
		}

		if !inserted {
			recorded, err = s.enrollments.StepExecution(ctx, enrollment.ID, index)
			if err != nil {
				return fmt.Errorf("failed to read step guard: %w", err)
			}

			stepLogger.WarnContext(ctx, "Step was executed concurrently, following recorded outcome")
			result.next = recorded.NextIndex
		}

		moveTo(enrollment, steps, result.next, now)

		saved, err := s.save(ctx, logger, enrollment, stored)
		if err != nil || !saved {
			return err
		}

		stored = enrollment.CurrentStepIndex
		pending = false
	}

	if pending {
		saved, err := s.save(ctx, logger, enrollment, stored)
		if err != nil || !saved {
			return err
		}
	}

	logger.InfoContext(ctx, "Enrollment finished", "status", enrollment.Status, "exit_reason", enrollment.ExitReason)

	return nil
}

// save writes the enrollment if the stored row is still active at expected. When another writer
// got there first, enrollment is replaced by the stored state and save reports false.
func (s *Scheduler) save(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, expected int) (bool, error) {
	err := s.enrollments.Save(ctx, enrollment, expected)
	if err == nil {
		return true, nil
	}

	if !persistence.IsEnrollmentConflict(err) {
		return false, err
	}

	current, err := s.enrollments.GetByID(ctx, enrollment.ID)
	if err != nil {
		return false, err
	}

	logger.WarnContext(ctx, "Enrollment changed concurrently, stopping",
		"status", current.Status,
		"step_index", current.CurrentStepIndex,
	)

	*enrollment = *current

	return false, nil
}

func (s *Scheduler) executeStep(
	ctx context.Context,
	logger *slog.Logger,
	enrollment *models.Enrollment,
	steps []models.Step,
	step models.Step,
	now time.Time,
) (stepResult, error) {
	switch step.Type {
	case models.StepTypeDelay:
		return s.delay(ctx, logger, enrollment, steps, step, now), nil
	case models.StepTypeTrigger:
		if step.Index != 0 || step.Trigger == nil {
			return stepResult{failure: fmt.Errorf("%w: trigger at position %d", ErrInvalidDefinition, step.Index)}, nil
		}

		lead, err := s.leads.GetByID(ctx, enrollment.EntityID)
		if err != nil {
			return stepResult{}, err
		}

		ok, err := models.EvaluateAll(step.Trigger.Conditions, lead)
		if err != nil {
			logger.WarnContext(ctx, "Entry trigger evaluation failed, treating as not satisfied", "error", err)
		}

		if !ok {
			return stepResult{failure: ErrEntryTriggerNotSatisfied}, nil
		}

		return stepResult{outcome: models.StepOutcomeCompleted, next: nextIndex(steps, step, step.Next)}, nil
	case models.StepTypeCondition:
		lead, err := s.leads.GetByID(ctx, enrollment.EntityID)
		if err != nil {
			return stepResult{}, err
		}

		ok, err := step.Condition.Evaluate(lead)
		if err != nil {
			logger.WarnContext(ctx, "Condition evaluation failed, treating as false", "error", err)
		}

		if ok {
			return stepResult{outcome: models.StepOutcomeTrue, next: nextIndex(steps, step, step.TrueNext)}, nil
		}

		return stepResult{outcome: models.StepOutcomeFalse, next: falseIndex(steps, step)}, nil
	case models.StepTypeAction:
		err := s.executeAction(ctx, logger, enrollment, step, now)
		if err != nil {
			return stepResult{failure: err}, nil
		}

		return stepResult{outcome: models.StepOutcomeCompleted, next: nextIndex(steps, step, step.Next)}, nil
	default:
		return stepResult{failure: fmt.Errorf("%w: unknown step type %q", ErrInvalidDefinition, step.Type)}, nil
	}
}

// delay pauses on first arrival and completes once next_wake_at has passed.
func (s *Scheduler) delay(
	ctx context.Context,
	logger *slog.Logger,
	enrollment *models.Enrollment,
	steps []models.Step,
	step models.Step,
	now time.Time,
) stepResult {
	if enrollment.NextWakeAt == nil {
		duration, ok := step.Delay.Unit.Duration(step.Delay.Amount)
		if !ok || step.Delay.Amount <= 0 {
			return stepResult{failure: fmt.Errorf("%w: delay step %s has an invalid duration: %d %s",
				ErrInvalidDefinition, step.ID, step.Delay.Amount, step.Delay.Unit)}
		}

		wake := now.Add(duration)
		enrollment.NextWakeAt = &wake
		enrollment.UpdatedAt = now

		logger.InfoContext(ctx, "Enrollment paused", "next_wake_at", wake)

		return stepResult{paused: true}
	}

	if now.Before(*enrollment.NextWakeAt) {
		logger.DebugContext(ctx, "Delay not elapsed, ignoring advance", "next_wake_at", *enrollment.NextWakeAt)

		return stepResult{paused: true}
	}

	return stepResult{outcome: models.StepOutcomeCompleted, next: nextIndex(steps, step, step.Next)}
}

func (s *Scheduler) executeAction(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, step models.Step, now time.Time) error {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "workflow.action",
		attribute.String(otelhelper.EnrollmentIDKey, enrollment.ID),
		attribute.Int(otelhelper.StepIndexKey, step.Index),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		attribute.String(otelhelper.ActionKindKey, string(step.Action.Kind)),
		attribute.Int(otelhelper.WorkflowVersionKey, enrollment.WorkflowVersion),
	)
	defer span.End()

	handler, err := s.registry.Handler(step.Action.Kind)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	attempts := 0

	operation := func() error {
		attempts++

		lead, err := s.leads.GetByID(ctx, enrollment.EntityID)
		if err != nil {
			if persistence.IsLeadNotFound(err) {
				return backoff.Permanent(err)
			}

			return err
		}

		return handler.Execute(ctx, ActionRequest{
			Enrollment:     enrollment,
			Step:           step,
			Lead:           lead,
			Config:         step.Action.Config,
			IdempotencyKey: IdempotencyKey(enrollment.ID, step.Index),
			Now:            now,
		})
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(s.newBackOff(), ctx), func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Action failed, retrying", "kind", step.Action.Kind, "attempt", attempts, "wait", wait, "error", err)
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("action %s failed after %d attempt(s): %w", step.Action.Kind, attempts, err)
	}

	logger.InfoContext(ctx, "Action executed", "kind", step.Action.Kind, "attempts", attempts)

	return nil
}

func moveTo(enrollment *models.Enrollment, steps []models.Step, next int, now time.Time) {
	enrollment.NextWakeAt = nil
	enrollment.UpdatedAt = now

	switch {
	case next == exitIndex:
		enrollment.ExitReason = ExitReasonConditionFalse
		finish(enrollment, models.EnrollmentStatusExited, now)
	case next >= len(steps) || next < 0:
		finish(enrollment, models.EnrollmentStatusCompleted, now)
	default:
		enrollment.CurrentStepIndex = next
	}
}

func finish(enrollment *models.Enrollment, status models.EnrollmentStatus, now time.Time) {
	enrollment.Status = status
	enrollment.UpdatedAt = now
	enrollment.CompletedAt = &now
}

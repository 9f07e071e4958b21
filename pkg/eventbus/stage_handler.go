package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/stage"
	"github.com/jonboulle/clockwork"
)

// StageEvaluator is the part of stage.Evaluator the event consumer drives.
type StageEvaluator interface {
	OnEvent(ctx context.Context, entityID string, kind models.EventKind, payload map[string]any, now time.Time) (*stage.Result, error)
}

// EventKinds lists the lead event kinds the stage evaluator understands.
func EventKinds() []models.EventKind {
	return []models.EventKind{
		models.EventDocumentApproved,
		models.EventRequirementCompleted,
		models.EventPaymentReceived,
		models.EventFormSubmitted,
		models.EventManualApproval,
		models.EventTimeElapsed,
	}
}

// StageHandler returns an EventHandler that feeds lead events to the evaluator. Events for
// unknown leads are dropped; other failures are returned so the message is redelivered.
func StageHandler(evaluator StageEvaluator, clock clockwork.Clock, logger *slog.Logger) EventHandler {
	logger = logger.With("module", "stage_consumer")

	return func(ctx context.Context, event *LeadEvent) error {
		now := event.OccurredAt
		if now.IsZero() {
			now = clock.Now()
		}

		result, err := evaluator.OnEvent(ctx, event.LeadID, event.Kind, event.Payload, now)

		switch {
		case err == nil:
		case persistence.IsLeadNotFound(err), errors.Is(err, stage.ErrUnknownEventKind):
			logger.WarnContext(ctx, "Dropping lead event", "lead_id", event.LeadID, "event_kind", event.Kind, "error", err)

			return nil
		default:
			return err
		}

		if result.Transitioned {
			logger.InfoContext(ctx, "Lead event moved lead",
				"lead_id", event.LeadID,
				"from_stage_id", result.FromStageID,
				"to_stage_id", result.ToStageID,
				"trigger_id", result.TriggerID,
			)
		}

		return nil
	}
}

// SubscribeStageEvaluator registers the evaluator for every lead event kind.
func SubscribeStageEvaluator(bus EventSubscriber, evaluator StageEvaluator, clock clockwork.Clock, logger *slog.Logger) error {
	handler := StageHandler(evaluator, clock, logger)

	for _, kind := range EventKinds() {
		err := bus.Handle(kind, handler)
		if err != nil {
			return err
		}
	}

	return nil
}

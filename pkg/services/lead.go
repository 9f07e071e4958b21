package services

import (
	"context"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/stage"
	"github.com/jonboulle/clockwork"
)

// LeadEventRequest reports a lead fact change to the stage evaluator.
type LeadEventRequest struct {
	Kind    models.EventKind `json:"kind"    validate:"required"`
	Payload map[string]any   `json:"payload,omitempty"`
}

type ApproveRequest struct {
	StageID    string `json:"stage_id"    validate:"required"`
	ApproverID string `json:"approver_id" validate:"required"`
}

// Lead runs stage evaluation for a single lead synchronously.
type Lead struct {
	evaluator *stage.Evaluator
	clock     clockwork.Clock
}

func NewLead(evaluator *stage.Evaluator, clock clockwork.Clock) *Lead {
	return &Lead{
		evaluator: evaluator,
		clock:     clock,
	}
}

func (l *Lead) RecordEvent(ctx context.Context, leadID string, req LeadEventRequest) (*stage.Result, error) {
	return l.evaluator.OnEvent(ctx, leadID, req.Kind, req.Payload, l.clock.Now().UTC())
}

func (l *Lead) Approve(ctx context.Context, leadID string, req ApproveRequest) (*stage.Result, error) {
	return l.evaluator.Approve(ctx, leadID, req.StageID, req.ApproverID, l.clock.Now().UTC())
}

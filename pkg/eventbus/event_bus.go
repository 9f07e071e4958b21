// Package eventbus carries lead events between the systems that observe lead facts and the stage
// transition evaluator.
package eventbus

import (
	"context"
	"time"

	"github.com/dukex/leadflow/pkg/models"
)

const (
	Topic                = "leadflow.lead.events"
	EventTypeMetadataKey = "event_type"
	EventKeyMetadataKey  = "event_key"
)

// LeadEvent reports a change of a lead fact, such as an approved document or a received payment.
type LeadEvent struct {
	LeadID     string           `json:"lead_id"     validate:"required"`
	Kind       models.EventKind `json:"kind"        validate:"required"`
	Payload    map[string]any   `json:"payload,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event LeadEvent) error
}

type EventSubscriber interface {
	Handle(kind models.EventKind, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event *LeadEvent) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

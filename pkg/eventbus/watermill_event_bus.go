package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/leadflow/pkg/models"
)

var ErrLeadIDRequired = errors.New("lead event requires a lead_id")

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[models.EventKind]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "event_bus"),
		handlers:   make(map[models.EventKind]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(_ context.Context, event LeadEvent) error {
	if event.LeadID == "" {
		return ErrLeadIDRequired
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode lead event: %w", err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(EventKeyMetadataKey, event.LeadID)
	msg.Metadata.Set(EventTypeMetadataKey, string(event.Kind))

	return eb.publisher.Publish(Topic, msg)
}

// Subscribe starts consuming in the background until ctx is done. Messages whose kind has no
// handler are acked and skipped; handler errors nack the message for redelivery.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eb.process(msg)
		}
	}()

	return nil
}

func (eb *WatermillEventBus) process(msg *message.Message) {
	ctx := msg.Context()
	kind := models.EventKind(msg.Metadata.Get(EventTypeMetadataKey))

	eb.mu.RLock()
	handler, exists := eb.handlers[kind]
	eb.mu.RUnlock()

	if !exists {
		msg.Ack()

		return
	}

	var event LeadEvent

	err := json.Unmarshal(msg.Payload, &event)
	if err != nil {
		eb.logger.ErrorContext(ctx, "Dropping undecodable lead event", "message_id", msg.UUID, "error", err)
		msg.Ack()

		return
	}

	err = handler(ctx, &event)
	if err != nil {
		eb.logger.WarnContext(ctx, "Lead event handler failed",
			"message_id", msg.UUID,
			"lead_id", event.LeadID,
			"event_kind", event.Kind,
			"error", err,
		)
		msg.Nack()

		return
	}

	msg.Ack()
}

func (eb *WatermillEventBus) Handle(kind models.EventKind, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[kind] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}

package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ChannelResult is the outcome of one channel for one event.
type ChannelResult struct {
	Channel models.Channel        `json:"channel"`
	Status  models.DeliveryStatus `json:"status"`
	Error   string                `json:"error,omitempty"`
}

// Report summarizes the delivery of one event.
type Report struct {
	UserID  string          `json:"user_id"`
	Type    string          `json:"type"`
	Results []ChannelResult `json:"results"`
}

// Status returns the status recorded for channel, or "" when the channel was not attempted.
func (r *Report) Status(channel models.Channel) models.DeliveryStatus {
	for _, result := range r.Results {
		if result.Channel == channel {
			return result.Status
		}
	}

	return ""
}

// Dispatcher resolves preferences and fans an event out to channel senders.
type Dispatcher struct {
	repo    persistence.NotificationRepository
	senders map[models.Channel]Sender
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Dispatcher)

// WithSender registers the outbound sender of a channel.
func WithSender(channel models.Channel, sender Sender) Option {
	return func(d *Dispatcher) {
		d.senders[channel] = sender
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

func NewDispatcher(repo persistence.NotificationRepository, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:    repo,
		senders: make(map[models.Channel]Sender),
		logger:  logger.With("module", "notification_dispatcher"),
		tracer:  otel.Tracer("leadflow/notification"),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Send delivers event to every enabled channel of the user's preferences for event.Type.
// During quiet hours only in_app is delivered; other channels are dropped and logged as suppressed.
// Channel failures are isolated: they are recorded in the report and never abort other channels.
func (d *Dispatcher) Send(ctx context.Context, event models.NotificationEvent, now time.Time) (*Report, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "notification.send",
		attribute.String(otelhelper.UserIDKey, event.UserID),
		attribute.String(otelhelper.NotificationTypeKey, event.Type),
	)
	defer span.End()

	logger := d.logger.With("user_id", event.UserID, "notification_type", event.Type)

	if event.UserID == "" || event.Type == "" {
		return nil, errors.New("notification event requires user_id and type")
	}

	preferences, err := d.preferences(ctx, event.UserID, event.Type)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if event.Priority == "" {
		event.Priority = models.PriorityNormal
	}

	report := &Report{UserID: event.UserID, Type: event.Type, Results: make([]ChannelResult, 0, len(preferences))}

	for _, preference := range preferences {
		if !preference.Enabled {
			continue
		}

		result := d.deliverPreference(ctx, logger, event, preference, now)
		report.Results = append(report.Results, result)
		d.recordDelivery(ctx, logger, event, result, now)
	}

	return report, nil
}

// preferences loads the user's preferences for a type, creating the defaults when none exist.
func (d *Dispatcher) preferences(ctx context.Context, userID, notificationType string) ([]models.NotificationPreference, error) {
	preferences, err := d.repo.Preferences(ctx, userID, notificationType)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification preferences: %w", err)
	}

	if len(preferences) > 0 {
		return preferences, nil
	}

	defaults := models.DefaultPreferences(userID, notificationType)

	err = d.repo.EnsureDefaultPreferences(ctx, defaults)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to store default preferences", "user_id", userID, "error", err)
	}

	return defaults, nil
}

func (d *Dispatcher) deliverPreference(
	ctx context.Context,
	logger *slog.Logger,
	event models.NotificationEvent,
	preference models.NotificationPreference,
	now time.Time,
) ChannelResult {
	channel := preference.Channel
	logger = logger.With("channel", channel)

	if channel != models.ChannelInApp {
		quiet, err := preference.QuietHours.Contains(now)
		if err != nil {
			logger.WarnContext(ctx, "Ignoring malformed quiet hours", "error", err)
		}

		if quiet {
			logger.InfoContext(ctx, "Channel suppressed by quiet hours")

			return ChannelResult{Channel: channel, Status: models.DeliveryStatusSuppressed}
		}
	}

	err := d.deliverChannel(ctx, event, channel, now)
	if err != nil {
		logger.ErrorContext(ctx, "Channel delivery failed", "error", err)

		return ChannelResult{Channel: channel, Status: models.DeliveryStatusFailed, Error: err.Error()}
	}

	return ChannelResult{Channel: channel, Status: models.DeliveryStatusDelivered}
}

func (d *Dispatcher) deliverChannel(ctx context.Context, event models.NotificationEvent, channel models.Channel, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", channel, r)
		}
	}()

	if channel == models.ChannelInApp {
		return d.repo.CreateInApp(ctx, models.InAppNotification{
			ID:        uuid.New().String(),
			UserID:    event.UserID,
			Type:      event.Type,
			Title:     event.Title,
			Message:   event.Message,
			Data:      event.Data,
			Priority:  event.Priority,
			CreatedAt: now,
		})
	}

	contact, err := d.repo.Contact(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve contact: %w", err)
	}

	destination := contact.Email
	if channel == models.ChannelSMS {
		destination = contact.Phone
	}

	return d.Deliver(ctx, channel, destination, Message{
		Subject:        event.Title,
		Body:           event.Message,
		IdempotencyKey: idempotencyKey(event.IdempotencyKey, channel),
	})
}

// Deliver sends a message to a raw destination through the channel's sender, bypassing
// preferences. Workflow actions use it to reach lead contact details.
func (d *Dispatcher) Deliver(ctx context.Context, channel models.Channel, destination string, message Message) error {
	if destination == "" {
		return fmt.Errorf("%w %s", ErrNoDestination, channel)
	}

	sender, ok := d.senders[channel]
	if !ok {
		return fmt.Errorf("%w %s", ErrNoSender, channel)
	}

	message.Destination = destination

	return sender.Send(ctx, message)
}

func (d *Dispatcher) recordDelivery(ctx context.Context, logger *slog.Logger, event models.NotificationEvent, result ChannelResult, now time.Time) {
	err := d.repo.RecordDelivery(ctx, models.DeliveryLog{
		ID:               uuid.New().String(),
		UserID:           event.UserID,
		NotificationType: event.Type,
		Channel:          result.Channel,
		Status:           result.Status,
		Error:            result.Error,
		IdempotencyKey:   event.IdempotencyKey,
		At:               now,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record delivery", "channel", result.Channel, "error", err)
	}
}

func idempotencyKey(base string, channel models.Channel) string {
	if base == "" {
		return ""
	}

	return base + ":" + string(channel)
}

package notification

import (
	"context"
	"log/slog"

	"github.com/dukex/leadflow/pkg/models"
)

// LogSender writes messages to the log instead of delivering them. Used when no gateway is configured.
type LogSender struct {
	channel models.Channel
	logger  *slog.Logger
}

func NewLogSender(channel models.Channel, logger *slog.Logger) *LogSender {
	return &LogSender{
		channel: channel,
		logger:  logger.With("module", "log_sender", "channel", channel),
	}
}

func (s *LogSender) Send(ctx context.Context, message Message) error {
	s.logger.InfoContext(ctx, "Message delivered to log",
		"destination", message.Destination,
		"subject", message.Subject,
		"body", message.Body,
		"idempotency_key", message.IdempotencyKey,
	)

	return nil
}

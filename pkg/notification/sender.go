// Package notification delivers notification events across channels, honoring per-user channel
// preferences and quiet hours.
package notification

import (
	"context"
	"errors"
)

var (
	ErrNoSender      = errors.New("no sender registered for channel")
	ErrNoDestination = errors.New("no destination for channel")
)

// Message is what an outbound channel sender delivers.
type Message struct {
	Destination    string `json:"destination"`
	Subject        string `json:"subject,omitempty"`
	Body           string `json:"body"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Sender delivers a message through an external channel service (email or SMS gateway).
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, message Message) error

func (f SenderFunc) Send(ctx context.Context, message Message) error {
	return f(ctx, message)
}

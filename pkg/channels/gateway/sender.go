// Package gateway delivers email and SMS messages by posting them to an HTTP gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/leadflow/pkg/notification"
)

const defaultTimeout = 10 * time.Second

var (
	ErrGatewayURLInvalid = errors.New("invalid gateway url")
	// ErrGatewayRejected is returned for 4xx responses; retrying will not help.
	ErrGatewayRejected = errors.New("gateway rejected message")
	ErrGatewayFailure  = errors.New("gateway failure")
)

// Sender posts each message as JSON to a gateway URL.
type Sender struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

type Option func(*Sender)

func WithHeader(key, value string) Option {
	return func(s *Sender) {
		s.headers[key] = value
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		s.client = client
	}
}

func New(url string, logger *slog.Logger, opts ...Option) (*Sender, error) {
	if url == "" {
		return nil, ErrGatewayURLInvalid
	}

	s := &Sender{
		url:     url,
		headers: make(map[string]string),
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("module", "gateway_sender", "url", url),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Sender) Send(ctx context.Context, message notification.Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if message.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", message.IdempotencyKey)
	}

	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayFailure, err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 300 {
		s.logger.DebugContext(ctx, "Message accepted by gateway", "status", resp.StatusCode)

		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 500 {
		return fmt.Errorf("%w (status %d): %s", ErrGatewayRejected, resp.StatusCode, bytes.TrimSpace(detail))
	}

	return fmt.Errorf("%w (status %d): %s", ErrGatewayFailure, resp.StatusCode, bytes.TrimSpace(detail))
}

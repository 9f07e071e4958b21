package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/leadflow/pkg/cmd"
	"github.com/dukex/leadflow/pkg/eventbus"
	"github.com/dukex/leadflow/pkg/log"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultSweepInterval   = 30 * time.Second
	defaultConcurrency     = 8
	defaultElapsedSchedule = "@every 5m"
)

func busFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the worker",
		Flags: append(busFlags(),
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the distributed enrollment lock (in-process lock when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "email-gateway-url",
				Usage:   "Email gateway endpoint (emails are logged when empty)",
				Sources: cli.EnvVars("EMAIL_GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "sms-gateway-url",
				Usage:   "SMS gateway endpoint (messages are logged when empty)",
				Sources: cli.EnvVars("SMS_GATEWAY_URL"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often due enrollments are resumed",
				Value:   defaultSweepInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Enrollments advanced in parallel per sweep",
				Value:   defaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "elapsed-schedule",
				Usage:   "Cron schedule for time_elapsed stage triggers",
				Value:   defaultElapsedSchedule,
				Sources: cli.EnvVars("ELAPSED_SCHEDULE"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("leadflow-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing Leadflow Worker")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			core, err := cmd.NewCore(ctx, persistence, cmd.CoreConfig{
				ServiceName:     "leadflow-worker",
				EmailGatewayURL: command.String("email-gateway-url"),
				SMSGatewayURL:   command.String("sms-gateway-url"),
				RedisURL:        command.String("redis-url"),
				OtelEnabled:     command.Bool("otel-enabled"),
			}, logger)
			if err != nil {
				_ = persistence.Close(ctx)

				return err
			}

			defer func() {
				err := core.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close core", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "leadflow-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			worker := NewWorkerManager(workerID, core, eventBus, clockwork.NewRealClock(), WorkerConfig{
				SweepInterval:   command.Duration("sweep-interval"),
				Concurrency:     command.Int("concurrency"),
				ElapsedSchedule: command.String("elapsed-schedule"),
			}, logger)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Worker stopped", "error", err)

				return err
			}

			return nil
		},
	}
}

// PublishCommand sends one lead event to the bus, for replaying facts from other systems.
func PublishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish a lead event to the event bus",
		Flags: append(busFlags(),
			&cli.StringFlag{
				Name:     "lead-id",
				Usage:    "Lead the event belongs to",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "kind",
				Usage:    "Event kind (document_approved, payment_received, form_submitted, ...)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "payload",
				Usage: "JSON object with the event payload",
				Value: "{}",
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("leadflow-publish")

			event, err := leadEvent(command.String("lead-id"), command.String("kind"), command.String("payload"), time.Now().UTC())
			if err != nil {
				return err
			}

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "leadflow-publish", logger)
			if err != nil {
				return err
			}

			defer func() {
				_ = eventBus.Close()
			}()

			err = eventBus.Publish(ctx, event)
			if err != nil {
				return fmt.Errorf("failed to publish event: %w", err)
			}

			logger.InfoContext(ctx, "Event published", "lead_id", event.LeadID, "kind", event.Kind)

			return nil
		},
	}
}

func leadEvent(leadID, kind, payload string, now time.Time) (eventbus.LeadEvent, error) {
	event := eventbus.LeadEvent{
		LeadID:     leadID,
		Kind:       models.EventKind(kind),
		OccurredAt: now,
	}

	known := false

	for _, k := range eventbus.EventKinds() {
		if k == event.Kind {
			known = true

			break
		}
	}

	if !known {
		return event, fmt.Errorf("unknown event kind %q", kind)
	}

	if payload != "" {
		err := json.Unmarshal([]byte(payload), &event.Payload)
		if err != nil {
			return event, fmt.Errorf("invalid payload: %w", err)
		}
	}

	return event, nil
}

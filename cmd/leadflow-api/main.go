package main

import (
	"context"
	"os"

	"github.com/dukex/leadflow/pkg/cmd"
	"github.com/dukex/leadflow/pkg/log"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "leadflow-api",
		Usage:                 "Manage workflows, enrollments, stage triggers and notification preferences",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing Leadflow API")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			core, err := cmd.NewCore(ctx, persistence, cmd.CoreConfig{
				ServiceName:     "leadflow-api",
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

			api := NewAPI(logger, core, clockwork.NewRealClock())

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "API server stopped", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}

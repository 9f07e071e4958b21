package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/leadflow/pkg/channels/gateway"
	"github.com/dukex/leadflow/pkg/locker"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/notification"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/stage"
	"github.com/dukex/leadflow/pkg/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// CoreConfig selects the infrastructure behind the lifecycle core.
type CoreConfig struct {
	ServiceName     string
	EmailGatewayURL string // Empty logs emails instead of sending them
	SMSGatewayURL   string
	RedisURL        string // Empty uses an in-process lock
	OtelEnabled     bool
}

// Core is the wired scheduler, evaluator and dispatcher sharing one persistence.
type Core struct {
	Persistence persistence.Persistence
	Dispatcher  *notification.Dispatcher
	Registry    *workflow.Registry
	Scheduler   *workflow.Scheduler
	Evaluator   *stage.Evaluator

	closers []func() error
}

func NewCore(ctx context.Context, p persistence.Persistence, config CoreConfig, logger *slog.Logger) (*Core, error) {
	core := &Core{Persistence: p}

	tracer, err := newTracer(ctx, config)
	if err != nil {
		return nil, err
	}

	dispatcherOptions := []notification.Option{notification.WithTracer(tracer)}

	for channel, url := range map[models.Channel]string{
		models.ChannelEmail: config.EmailGatewayURL,
		models.ChannelSMS:   config.SMSGatewayURL,
	} {
		sender, err := newSender(channel, url, logger)
		if err != nil {
			return nil, err
		}

		dispatcherOptions = append(dispatcherOptions, notification.WithSender(channel, sender))
	}

	core.Dispatcher = notification.NewDispatcher(p.NotificationRepository(), logger, dispatcherOptions...)

	core.Registry = workflow.NewRegistry()

	err = workflow.RegisterDefaultActions(core.Registry, p.LeadRepository(), core.Dispatcher, logger)
	if err != nil {
		return nil, err
	}

	schedulerOptions := []workflow.Option{workflow.WithTracer(tracer)}

	if config.RedisURL != "" {
		redisLocker, err := locker.NewRedis(ctx, logger, config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		core.closers = append(core.closers, redisLocker.Close)
		schedulerOptions = append(schedulerOptions, workflow.WithLocker(redisLocker))
	}

	core.Scheduler = workflow.NewScheduler(p, core.Registry, logger, schedulerOptions...)
	core.Evaluator = stage.NewEvaluator(p, core.Dispatcher, core.Scheduler, logger, stage.WithTracer(tracer))

	err = core.Registry.Register(models.ActionChangeStage, stage.NewChangeStageAction(core.Evaluator))
	if err != nil {
		return nil, err
	}

	return core, nil
}

// Close releases the lock client and the persistence.
func (c *Core) Close(ctx context.Context) error {
	for _, closer := range c.closers {
		err := closer()
		if err != nil {
			return err
		}
	}

	return c.Persistence.Close(ctx)
}

// nolint:ireturn
func newTracer(ctx context.Context, config CoreConfig) (trace.Tracer, error) {
	if !config.OtelEnabled {
		return otel.Tracer(config.ServiceName), nil
	}

	tracer, err := otelhelper.NewTracer(ctx, config.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	return tracer, nil
}

// nolint:ireturn
func newSender(channel models.Channel, url string, logger *slog.Logger) (notification.Sender, error) {
	if url == "" {
		return notification.NewLogSender(channel, logger), nil
	}

	sender, err := gateway.New(url, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s sender: %w", channel, err)
	}

	return sender, nil
}

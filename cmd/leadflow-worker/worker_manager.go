package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/leadflow/pkg/cmd"
	"github.com/dukex/leadflow/pkg/eventbus"
	"github.com/dukex/leadflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type WorkerConfig struct {
	SweepInterval   time.Duration
	Concurrency     int
	ElapsedSchedule string // Cron expression for time_elapsed trigger evaluation
}

// WorkerManager runs the enrollment sweeper, the elapsed-time stage sweep and the lead event
// consumer until the process is signalled.
type WorkerManager struct {
	id       string
	logger   *slog.Logger
	core     *cmd.Core
	eventBus eventbus.EventSubscriber
	clock    clockwork.Clock
	config   WorkerConfig
}

func NewWorkerManager(
	id string,
	core *cmd.Core,
	eventBus eventbus.EventSubscriber,
	clock clockwork.Clock,
	config WorkerConfig,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger.With("module", "leadflow-worker", "worker_id", id),
		core:     core,
		eventBus: eventBus,
		clock:    clock,
		config:   config,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return w.Run(ctx)
}

// Run blocks until ctx is cancelled or a component fails to start.
func (w *WorkerManager) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := eventbus.SubscribeStageEvaluator(w.eventBus, w.core.Evaluator, w.clock, w.logger)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	scheduler, err := w.elapsedScheduler(ctx)
	if err != nil {
		return err
	}

	sweeper := workflow.NewSweeper(w.core.Scheduler, w.core.Persistence.EnrollmentRepository(), w.logger,
		workflow.WithClock(w.clock),
		workflow.WithInterval(w.config.SweepInterval),
		workflow.WithConcurrency(w.config.Concurrency),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	g.Go(func() error {
		scheduler.Start()
		<-ctx.Done()

		<-scheduler.Stop().Done()

		return nil
	})

	w.logger.InfoContext(ctx, "Worker started successfully")

	err = g.Wait()

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return err
}

func (w *WorkerManager) elapsedScheduler(ctx context.Context) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := scheduler.AddFunc(w.config.ElapsedSchedule, func() {
		w.sweepElapsed(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid elapsed schedule %q: %w", w.config.ElapsedSchedule, err)
	}

	return scheduler, nil
}

func (w *WorkerManager) sweepElapsed(ctx context.Context) {
	fired, err := w.core.Evaluator.SweepElapsed(ctx, w.clock.Now().UTC())
	if err != nil {
		w.logger.ErrorContext(ctx, "Elapsed stage sweep failed", "error", err)

		return
	}

	if fired > 0 {
		w.logger.InfoContext(ctx, "Elapsed stage sweep finished", "transitions", fired)
	}
}

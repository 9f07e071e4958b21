package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepInterval    = 30 * time.Second
	defaultSweepBatchSize   = 500
	defaultSweepConcurrency = 8
)

// Advancer advances one enrollment as of now.
type Advancer interface {
	Advance(ctx context.Context, enrollmentID string, now time.Time) (*models.Enrollment, error)
}

// Sweeper periodically resumes enrollments whose delay has elapsed.
// Running several sweepers at once is safe: duplicate wakes hit the step guard.
type Sweeper struct {
	advancer    Advancer
	enrollments persistence.EnrollmentRepository
	clock       clockwork.Clock
	interval    time.Duration
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

type SweeperOption func(*Sweeper)

func WithClock(clock clockwork.Clock) SweeperOption {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

func WithInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithBatchSize(size int) SweeperOption {
	return func(s *Sweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

func WithConcurrency(concurrency int) SweeperOption {
	return func(s *Sweeper) {
		if concurrency > 0 {
			s.concurrency = concurrency
		}
	}
}

func NewSweeper(advancer Advancer, enrollments persistence.EnrollmentRepository, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		advancer:    advancer,
		enrollments: enrollments,
		clock:       clockwork.NewRealClock(),
		interval:    defaultSweepInterval,
		batchSize:   defaultSweepBatchSize,
		concurrency: defaultSweepConcurrency,
		logger:      logger.With("module", "workflow_sweeper"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting sweeper", "interval", s.interval, "concurrency", s.concurrency)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		_, err := s.SweepOnce(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Sweeper stopped")

			return nil
		case <-ticker.Chan():
		}
	}
}

// SweepOnce advances one batch of due enrollments and returns how many were attempted.
// Individual failures are logged and do not stop the batch.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()

	due, err := s.enrollments.Due(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}

	if len(due) == 0 {
		return 0, nil
	}

	s.logger.DebugContext(ctx, "Advancing due enrollments", "count", len(due))

	group := new(errgroup.Group)
	group.SetLimit(s.concurrency)

	for _, enrollment := range due {
		id := enrollment.ID

		group.Go(func() error {
			_, err := s.advancer.Advance(ctx, id, now)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to advance enrollment", "enrollment_id", id, "error", err)
			}

			return nil
		})
	}

	_ = group.Wait()

	return len(due), nil
}

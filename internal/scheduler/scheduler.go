// Package scheduler runs the periodic background jobs: the reminder sweep and the
// learning trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joshsymonds/the-pantry-must-flow/internal/learning"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
	"github.com/joshsymonds/the-pantry-must-flow/internal/session"
)

const defaultJobTimeout = 10 * time.Minute

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

// Scheduler wraps a cron runner. Overlapping runs of the same job are skipped and
// panics are recovered.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// New creates a scheduler that evaluates specs in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := slog.Default().With("component", "scheduler")
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		timeout: defaultJobTimeout,
	}
}

// Add registers fn under spec, which accepts standard five-field expressions and
// descriptors such as "@every 30m".
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.logger.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) run(name string, fn JobFunc) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Debug("job finished", "job", name, "duration", time.Since(start))
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweeper expires lapsed sessions and sends reminders.
type Sweeper interface {
	Sweep(ctx context.Context, messenger service.Messenger) (session.SweepResult, error)
}

// SweepJob runs one reminder sweep.
func SweepJob(sweeper Sweeper, messenger service.Messenger) JobFunc {
	return func(ctx context.Context) error {
		res, err := sweeper.Sweep(ctx, messenger)
		if err != nil {
			return err
		}
		if res.Expired > 0 || res.Reminded > 0 || res.Failed > 0 {
			slog.Info("reminder sweep", "expired", res.Expired, "reminded", res.Reminded, "failed", res.Failed)
		}
		return nil
	}
}

// Trigger folds pending feedback into a learning update.
type Trigger interface {
	Trigger(ctx context.Context) (*model.LearningUpdate, error)
}

// LearningJob runs the learning trigger. Too little pending feedback is not an error.
func LearningJob(trigger Trigger) JobFunc {
	return func(ctx context.Context) error {
		update, err := trigger.Trigger(ctx)
		if errors.Is(err, learning.ErrBelowThreshold) {
			return nil
		}
		if err != nil {
			return err
		}
		slog.Info("learning update created", "update_id", update.ID, "average_accuracy", update.AverageAccuracy)
		return nil
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

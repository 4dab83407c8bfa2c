package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultInterval = 60 * time.Second

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs Sweeper.Tick every interval. A tick that is still running
// when the next one is due causes that one to be skipped.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(sweeper *Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{sweeper: sweeper, interval: interval, logger: logger}
}

// Start blocks until ctx is cancelled, then waits for a running tick to
// finish. Intended to be called with `go`.
func (s *Scheduler) Start(ctx context.Context) error {
	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}

	c.Start()
	s.logger.Info("Sweep scheduler started", "interval", s.interval)

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Sweep scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.sweeper.Tick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrTickInProgress), errors.Is(err, ErrLeaseHeld):
		s.logger.Debug("Sweep tick skipped", "reason", err)
	default:
		// retried on the next tick
		s.logger.Error("Sweep tick failed", "error", err)
	}
}

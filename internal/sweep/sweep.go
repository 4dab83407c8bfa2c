// Package sweep periodically finds fall events that have sat in detected
// past the alert threshold and escalates them. Updates to an event trigger
// the same evaluation synchronously through Hook.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/apperr"
	"github.com/fallguard/fallguard/internal/escalation"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/metrics"
	"github.com/fallguard/fallguard/internal/notifications"
)

const DefaultWorkers = 4

// ErrTickInProgress is returned by Tick while another tick runs in this
// process.
var ErrTickInProgress = errors.New("sweep tick already in progress")

// EventStore is the slice of falls.Store the sweep needs.
type EventStore interface {
	GetEvent(ctx context.Context, id int64) (falls.Event, error)
	DetectedEvents(ctx context.Context) ([]falls.Event, error)
	UpdateEvent(ctx context.Context, e falls.Event, expected falls.Status) (falls.Event, error)
}

type ConfigSource interface {
	Active(ctx context.Context) (alertconfig.Config, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, e falls.Event, cfg alertconfig.Config) (notifications.DispatchResult, error)
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// EventResult is the outcome for one evaluated event.
type EventResult struct {
	EventID   int64
	Escalated bool
	Confirmed bool
	Dispatch  notifications.DispatchResult
	Error     string
}

// Result tracks the outcome of one tick.
type Result struct {
	Found     int
	Escalated int
	Confirmed int
	Failed    int
	Duration  time.Duration
	Errors    []string
	Events    []EventResult
}

// Summary returns a human-readable summary.
func (r *Result) Summary() string {
	return fmt.Sprintf("found=%d escalated=%d confirmed=%d failed=%d dur=%s",
		r.Found, r.Escalated, r.Confirmed, r.Failed, r.Duration.Round(time.Millisecond))
}

// --------------------------------------------------------------------------
// Sweeper
// --------------------------------------------------------------------------

type Sweeper struct {
	events     EventStore
	configs    ConfigSource
	dispatcher Dispatcher
	lease      Lease
	workers    int
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *slog.Logger

	running sync.Mutex
}

// Options tune a Sweeper. Zero values take defaults.
type Options struct {
	Workers int
	// Lease gates ticks across replicas; nil means this process always sweeps.
	Lease   Lease
	Clock   func() time.Time
	Metrics *metrics.Metrics
}

func New(events EventStore, configs ConfigSource, dispatcher Dispatcher, opts Options, logger *slog.Logger) *Sweeper {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Lease == nil {
		opts.Lease = localLease{}
	}
	return &Sweeper{
		events:     events,
		configs:    configs,
		dispatcher: dispatcher,
		lease:      opts.Lease,
		workers:    opts.Workers,
		now:        opts.Clock,
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// Tick runs one sweep. Per-event failures are collected in the result; the
// returned error is ErrTickInProgress, ErrLeaseHeld, or a failure to load
// the active configuration or the candidate events.
func (s *Sweeper) Tick(ctx context.Context) (Result, error) {
	if !s.running.TryLock() {
		s.metrics.SweepTick("skipped", 0, 0, 0)
		return Result{}, ErrTickInProgress
	}
	defer s.running.Unlock()

	ok, err := s.lease.Acquire(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire sweep lease: %w", err)
	}
	if !ok {
		s.metrics.SweepTick("skipped", 0, 0, 0)
		return Result{}, ErrLeaseHeld
	}

	start := time.Now()
	var result Result

	cfg, err := s.activeConfig(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrConfiguration) {
			s.metrics.SweepTick("config_error", 0, 0, 0)
		}
		return result, err
	}

	candidates, err := s.events.DetectedEvents(ctx)
	if err != nil {
		return result, fmt.Errorf("load detected events: %w", err)
	}

	now := s.now()
	var due []falls.Event
	for _, e := range candidates {
		if escalation.ShouldEscalate(e, cfg, now) {
			due = append(due, e)
		}
	}
	result.Found = len(due)

	if len(due) > 0 {
		s.processAll(ctx, due, cfg, &result)
	}

	result.Duration = time.Since(start)
	s.metrics.SweepTick("ok", result.Duration, result.Escalated, result.Failed)
	if result.Found > 0 {
		s.logger.Info("Sweep complete", "summary", result.Summary())
	} else {
		s.logger.Debug("Sweep complete, nothing due", "detected", len(candidates))
	}
	return result, nil
}

// processAll runs due events through a bounded worker pool.
func (s *Sweeper) processAll(ctx context.Context, due []falls.Event, cfg alertconfig.Config, result *Result) {
	workers := min(s.workers, len(due))

	ch := make(chan falls.Event, len(due))
	for _, e := range due {
		ch <- e
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range ch {
				er := s.escalate(ctx, e, cfg)

				mu.Lock()
				result.Events = append(result.Events, er)
				if er.Escalated {
					result.Escalated++
				}
				if er.Confirmed {
					result.Confirmed++
				}
				if er.Error != "" {
					result.Failed++
					result.Errors = append(result.Errors, fmt.Sprintf("event %d: %s", e.ID, er.Error))
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

// escalate dispatches e and, when every channel is delivered, confirms it.
// A panic in one event is contained to that event.
func (s *Sweeper) escalate(ctx context.Context, e falls.Event, cfg alertconfig.Config) (er EventResult) {
	er.EventID = e.ID
	defer func() {
		if r := recover(); r != nil {
			er.Error = fmt.Sprintf("panic: %v", r)
			s.logger.Error("Escalation panicked", "event_id", e.ID, "panic", r)
		}
	}()

	// the candidate list may be stale by the time a worker gets here
	fresh, err := s.events.GetEvent(ctx, e.ID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			er.Error = fmt.Sprintf("reload event: %v", err)
		}
		return er
	}
	if !escalation.ShouldEscalate(fresh, cfg, s.now()) {
		s.logger.Debug("Fall event changed before escalation", "event_id", e.ID, "status", fresh.Status)
		return er
	}
	e = fresh

	res, err := s.dispatcher.Dispatch(ctx, e, cfg)
	er.Dispatch = res
	if err != nil {
		er.Error = err.Error()
		s.logger.Warn("Dispatch failed", "event_id", e.ID, "error", err)
		return er
	}

	sent, failed, skipped := res.Counts()
	if res.Halted() {
		er.Escalated = sent > 0
		s.logger.Info("Fall event halted during escalation",
			"event_id", e.ID, "sent", sent, "skipped", skipped)
		return er
	}
	er.Escalated = true

	if failed > 0 {
		er.Error = fmt.Sprintf("%d of %d channels failed", failed, len(res.Channels))
	}
	s.logger.Info("Fall event escalated",
		"event_id", e.ID, "sent", sent, "failed", failed, "skipped", skipped)

	if !res.Delivered() {
		return er
	}

	confirmed, err := s.confirm(ctx, e)
	if err != nil {
		er.Error = fmt.Sprintf("confirm: %v", err)
		return er
	}
	er.Confirmed = confirmed
	return er
}

// confirm moves a fully notified event from detected to confirmed. Losing the
// race to a concurrent status change is not an error.
func (s *Sweeper) confirm(ctx context.Context, e falls.Event) (bool, error) {
	now := s.now()
	if _, err := e.Transition(falls.StatusConfirmed, now, ""); err != nil {
		return false, err
	}
	e.UpdatedAt = now

	_, err := s.events.UpdateEvent(ctx, e, falls.StatusDetected)
	switch {
	case err == nil:
		s.logger.Info("Fall event confirmed", "event_id", e.ID)
		return true, nil
	case errors.Is(err, falls.ErrStale), errors.Is(err, apperr.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Sweeper) activeConfig(ctx context.Context) (alertconfig.Config, error) {
	cfg, err := s.configs.Active(ctx)
	if err != nil {
		return cfg, fmt.Errorf("load alert config: %w", err)
	}
	if err := cfg.Usable(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

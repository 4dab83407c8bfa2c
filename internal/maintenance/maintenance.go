// Package maintenance runs periodic housekeeping as Go tickers alongside the
// sweep: reaping notification records abandoned in pending, and purging
// long soft-deleted fall events.
package maintenance

import (
	"context"
	"log/slog"
	"time"
)

// Store is implemented by both storage backends.
type Store interface {
	// ReapStalePending fails pending records last touched before cutoff.
	ReapStalePending(ctx context.Context, cutoff, at time.Time) (int64, error)
	// PurgeDeleted hard-deletes events soft-deleted before cutoff.
	PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	ReapInterval  time.Duration // Stale pending notification records
	StaleAfter    time.Duration // Age at which a pending record counts as abandoned
	PurgeInterval time.Duration // Soft-deleted fall events
	RetainDeleted time.Duration // How long soft-deleted events are kept
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		ReapInterval:  1 * time.Minute,
		StaleAfter:    5 * time.Minute,
		PurgeInterval: 24 * time.Hour,
		RetainDeleted: 90 * 24 * time.Hour,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, store Store, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"reap", cfg.ReapInterval,
		"stale_after", cfg.StaleAfter,
		"purge", cfg.PurgeInterval)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.ReapInterval > 0 && cfg.StaleAfter > 0 {
		t := time.NewTicker(cfg.ReapInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { ReapStale(ctx, store, cfg.StaleAfter, time.Now().UTC(), logger) })
	}

	if cfg.PurgeInterval > 0 && cfg.RetainDeleted > 0 {
		t := time.NewTicker(cfg.PurgeInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { PurgeDeleted(ctx, store, cfg.RetainDeleted, time.Now().UTC(), logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// ReapStale turns pending records older than staleAfter into failed ones.
// A pending record that old belongs to a dispatcher that crashed between
// claim and outcome; failing it lets the next sweep retry the channel.
func ReapStale(ctx context.Context, store Store, staleAfter time.Duration, now time.Time, logger *slog.Logger) int64 {
	n, err := store.ReapStalePending(ctx, now.Add(-staleAfter), now)
	if err != nil {
		logger.Warn("Reap: failed to fail stale pending records", "error", err)
		return 0
	}
	if n > 0 {
		logger.Info("Reap: failed stale pending records", "count", n)
	}
	return n
}

// PurgeDeleted removes events soft-deleted more than retain ago. Events that
// carry notification records are never removed.
func PurgeDeleted(ctx context.Context, store Store, retain time.Duration, now time.Time, logger *slog.Logger) int64 {
	n, err := store.PurgeDeleted(ctx, now.Add(-retain))
	if err != nil {
		logger.Warn("Purge: failed to purge deleted fall events", "error", err)
		return 0
	}
	if n > 0 {
		logger.Info("Purge: removed soft-deleted fall events", "count", n)
	}
	return n
}

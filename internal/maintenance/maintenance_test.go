package maintenance_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/maintenance"
	"github.com/fallguard/fallguard/internal/notifications"
	"github.com/fallguard/fallguard/internal/storage/memory"
)

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func TestReapStale(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	e, err := store.CreateEvent(ctx, falls.Event{SubjectID: 1, DetectedAt: t0, Status: falls.StatusDetected})
	require.NoError(t, err)
	_, _, err = store.Claim(ctx, e.ID, alertconfig.ChannelEmail, "a@example.com", t0)
	require.NoError(t, err)

	assert.Zero(t, maintenance.ReapStale(ctx, store, 5*time.Minute, t0.Add(time.Minute), logger))
	assert.Equal(t, int64(1), maintenance.ReapStale(ctx, store, 5*time.Minute, t0.Add(6*time.Minute), logger))

	list, err := store.ListByEvent(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, notifications.RecordFailed, list[0].Status)
}

func TestPurgeDeleted(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	e, err := store.CreateEvent(ctx, falls.Event{SubjectID: 1, DetectedAt: t0, Status: falls.StatusDetected})
	require.NoError(t, err)
	require.NoError(t, store.SoftDeleteEvent(ctx, e.ID, t0))

	assert.Zero(t, maintenance.PurgeDeleted(ctx, store, 48*time.Hour, t0.Add(24*time.Hour), logger))
	assert.Equal(t, int64(1), maintenance.PurgeDeleted(ctx, store, 48*time.Hour, t0.Add(72*time.Hour), logger))
}

func TestPurgeDeleted_SkipsNotifiedEvents(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	e, err := store.CreateEvent(ctx, falls.Event{SubjectID: 1, DetectedAt: t0, Status: falls.StatusDetected})
	require.NoError(t, err)
	rec, _, err := store.Claim(ctx, e.ID, alertconfig.ChannelEmail, "a@example.com", t0)
	require.NoError(t, err)
	require.NoError(t, store.MarkSent(ctx, rec.ID, t0))
	require.NoError(t, store.SoftDeleteEvent(ctx, e.ID, t0))

	assert.Zero(t, maintenance.PurgeDeleted(ctx, store, 90*24*time.Hour, t0.Add(100*24*time.Hour), logger))

	list, err := store.ListByEvent(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, notifications.RecordSent, list[0].Status)
}

type brokenStore struct{}

func (brokenStore) ReapStalePending(context.Context, time.Time, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func (brokenStore) PurgeDeleted(context.Context, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestTasksSwallowErrors(t *testing.T) {
	ctx := context.Background()
	assert.Zero(t, maintenance.ReapStale(ctx, brokenStore{}, time.Minute, t0, logger))
	assert.Zero(t, maintenance.PurgeDeleted(ctx, brokenStore{}, time.Minute, t0, logger))
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		maintenance.Start(ctx, memory.New(), maintenance.DefaultConfig(), logger)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/config"
	"github.com/fallguard/fallguard/internal/db"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/notifications"
	"github.com/fallguard/fallguard/internal/storage/postgres"
)

// Runs only against a disposable database:
//
//	FALLGUARD_TEST_DATABASE_URL=postgres://localhost/fallguard_test go test ./internal/storage/postgres/
func setup(t *testing.T) (*postgres.Store, *db.Pool) {
	t.Helper()
	url := os.Getenv("FALLGUARD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FALLGUARD_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, url))

	pool, err := db.New(ctx, &config.Config{DatabaseURL: url, DBPoolMinConns: 1, DBPoolMaxConns: 8, DBPoolMaxLife: time.Hour})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return postgres.New(pool.Pool), pool
}

func seedEvent(t *testing.T, s *postgres.Store, pool *db.Pool) falls.Event {
	t.Helper()
	ctx := context.Background()
	subject := time.Now().UnixNano()
	_, err := pool.Exec(ctx,
		`INSERT INTO profiles (subject_id, name, email) VALUES ($1, 'Test', 'test@example.com')`, subject)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	e, err := s.CreateEvent(ctx, falls.Event{
		SubjectID: subject, DetectedAt: now, Status: falls.StatusDetected,
		SensorData: []byte(`{"location":"lab"}`), CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	return e
}

func TestEventRoundTrip(t *testing.T) {
	s, pool := setup(t)
	ctx := context.Background()
	e := seedEvent(t, s, pool)

	got, err := s.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.SubjectID, got.SubjectID)
	assert.JSONEq(t, `{"location":"lab"}`, string(got.SensorData))

	p, err := s.GetProfile(ctx, e.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", p.Email)

	got.Status = falls.StatusConfirmed
	_, err = s.UpdateEvent(ctx, got, falls.StatusDetected)
	require.NoError(t, err)
	_, err = s.UpdateEvent(ctx, got, falls.StatusDetected)
	assert.ErrorIs(t, err, falls.ErrStale)

	require.NoError(t, s.SoftDeleteEvent(ctx, e.ID, time.Now()))
	_, err = s.GetEvent(ctx, e.ID)
	assert.ErrorIs(t, err, falls.ErrEventNotFound)
}

func TestClaim_UniquePerChannel(t *testing.T) {
	s, pool := setup(t)
	ctx := context.Background()
	e := seedEvent(t, s, pool)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.Claim(ctx, e.ID, alertconfig.ChannelEmail, "test@example.com", time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claimed)

	recs, err := s.ListByEvent(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, s.MarkFailed(ctx, recs[0].ID, "boom", time.Now()))
	rec, ok, err := s.Claim(ctx, e.ID, alertconfig.ChannelEmail, "test@example.com", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, rec.Attempts)

	require.NoError(t, s.MarkSent(ctx, rec.ID, time.Now()))
	require.NoError(t, s.MarkFailed(ctx, rec.ID, "late", time.Now()))
	recs, err = s.ListByEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, notifications.RecordSent, recs[0].Status)
}

func TestActivateConfig_OneActive(t *testing.T) {
	s, pool := setup(t)
	ctx := context.Background()

	a, err := s.CreateConfig(ctx, alertconfig.Default(), false)
	require.NoError(t, err)
	b, err := s.CreateConfig(ctx, alertconfig.Default(), false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = s.ActivateConfig(ctx, id, time.Now())
		}([]int64{a.ID, b.ID}[i%2])
	}
	wg.Wait()

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM alert_configs WHERE is_active`).Scan(&n))
	assert.Equal(t, 1, n)

	_, err = s.ActivateConfig(ctx, -1, time.Now())
	assert.ErrorIs(t, err, alertconfig.ErrConfigNotFound)
}

func TestClaim_RefusedOnceHalted(t *testing.T) {
	s, pool := setup(t)
	ctx := context.Background()
	e := seedEvent(t, s, pool)

	rec, ok, err := s.Claim(ctx, e.ID, alertconfig.ChannelSMS, "+15550001", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.MarkFailed(ctx, rec.ID, "gateway down", time.Now()))

	e.Status = falls.StatusFalseAlarm
	_, err = s.UpdateEvent(ctx, e, falls.StatusDetected)
	require.NoError(t, err)

	_, ok, err = s.Claim(ctx, e.ID, alertconfig.ChannelSMS, "+15550001", time.Now())
	assert.ErrorIs(t, err, notifications.ErrEventHalted)
	assert.False(t, ok)
	_, _, err = s.Claim(ctx, e.ID, alertconfig.ChannelEmail, "test@example.com", time.Now())
	assert.ErrorIs(t, err, notifications.ErrEventHalted)

	recs, err := s.ListByEvent(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, notifications.RecordFailed, recs[0].Status)
	assert.Equal(t, 1, recs[0].Attempts)
}

func TestPurgeDeleted_KeepsNotifiedEvents(t *testing.T) {
	s, pool := setup(t)
	ctx := context.Background()
	notified := seedEvent(t, s, pool)
	bare := seedEvent(t, s, pool)

	rec, _, err := s.Claim(ctx, notified.ID, alertconfig.ChannelEmail, "test@example.com", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.MarkSent(ctx, rec.ID, time.Now()))

	old := time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, s.SoftDeleteEvent(ctx, notified.ID, old))
	require.NoError(t, s.SoftDeleteEvent(ctx, bare.ID, old))

	_, err = s.PurgeDeleted(ctx, time.Now().Add(-90*24*time.Hour))
	require.NoError(t, err)

	var n int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM fall_events WHERE id = ANY($1)`, []int64{notified.ID, bare.ID}).Scan(&n))
	assert.Equal(t, 1, n)

	recs, err := s.ListByEvent(ctx, notified.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, notifications.RecordSent, recs[0].Status)

	// the foreign key refuses a direct delete as well
	_, err = pool.Exec(ctx, `DELETE FROM fall_events WHERE id = $1`, notified.ID)
	assert.Error(t, err)
}

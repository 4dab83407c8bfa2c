package alertconfig_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/apperr"
	"github.com/fallguard/fallguard/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService() (*alertconfig.Service, *memory.Store) {
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := alertconfig.NewService(store, logger).WithClock(func() time.Time { return t0 })
	return svc, store
}

func night() alertconfig.Config {
	return alertconfig.Config{
		Name:               "night",
		ThresholdSeconds:   60,
		MaxEscalationLevel: 1,
		Channels:           []alertconfig.Channel{alertconfig.ChannelPush, alertconfig.ChannelSMS},
		ContactPriority:    []alertconfig.Role{alertconfig.RoleEmergency},
	}
}

func countActive(t *testing.T, store *memory.Store) int {
	t.Helper()
	list, err := store.ListConfigs(context.Background())
	require.NoError(t, err)
	n := 0
	for _, c := range list {
		if c.IsActive {
			n++
		}
	}
	return n
}

func TestActive_MaterializesDefault(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	c, err := svc.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, alertconfig.DefaultName, c.Name)
	assert.Equal(t, 30*time.Second, c.Threshold())
	assert.Equal(t, []alertconfig.Channel{alertconfig.ChannelEmail, alertconfig.ChannelSMS}, c.Channels)
	assert.True(t, c.IsActive)

	again, err := svc.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, 1, countActive(t, store))
}

// racingStore loses every default materialization to another writer.
type racingStore struct {
	*memory.Store
	creates int
}

func (r *racingStore) CreateConfig(ctx context.Context, c alertconfig.Config, activate bool) (alertconfig.Config, error) {
	r.creates++
	if _, err := r.Store.CreateConfig(ctx, night(), true); err != nil {
		return alertconfig.Config{}, err
	}
	return alertconfig.Config{}, errors.New(`duplicate key value violates unique constraint "alert_configs_one_active"`)
}

func TestActive_LostMaterializationRaceReadsWinner(t *testing.T) {
	store := &racingStore{Store: memory.New()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := alertconfig.NewService(store, logger)

	c, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "night", c.Name)
	assert.True(t, c.IsActive)
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 1, countActive(t, store.Store))
}

func TestActive_ConcurrentCallersCreateOneDefault(t *testing.T) {
	svc, store := newService()

	var wg sync.WaitGroup
	ids := make(chan int64, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := svc.Active(context.Background())
			assert.NoError(t, err)
			ids <- c.ID
		}()
	}
	wg.Wait()
	close(ids)

	first := <-ids
	for id := range ids {
		assert.Equal(t, first, id)
	}
	list, err := store.ListConfigs(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreate_FirstConfigActivates(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	var changes int
	svc.ChangeHook = func() { changes++ }

	first, err := svc.Create(ctx, night())
	require.NoError(t, err)
	assert.True(t, first.IsActive)

	second := night()
	second.Name = "day"
	created, err := svc.Create(ctx, second)
	require.NoError(t, err)
	assert.False(t, created.IsActive)
	assert.Equal(t, 1, changes)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newService()
	bad := alertconfig.Config{
		Channels:        []alertconfig.Channel{"fax", alertconfig.ChannelSMS, alertconfig.ChannelSMS},
		ContactPriority: []alertconfig.Role{"neighbour"},
	}
	_, err := svc.Create(context.Background(), bad)

	ve, ok := apperr.IsValidation(err)
	require.True(t, ok)
	for _, f := range []string{"name", "thresholdSeconds", "maxEscalationLevel", "channels", "contactPriority"} {
		assert.Contains(t, ve.Fields, f)
	}
	assert.Len(t, ve.Fields["channels"], 2)
}

func TestCreate_ActiveWithoutChannels(t *testing.T) {
	svc, _ := newService()
	c := night()
	c.Channels = nil
	c.IsActive = true
	_, err := svc.Create(context.Background(), c)
	_, ok := apperr.IsValidation(err)
	assert.True(t, ok)
}

func TestActivate(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	_, err := svc.Active(ctx)
	require.NoError(t, err)
	created, err := svc.Create(ctx, night())
	require.NoError(t, err)
	require.False(t, created.IsActive)

	invalidated := false
	svc.ChangeHook = func() { invalidated = true }

	got, err := svc.Activate(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.True(t, invalidated)
	assert.Equal(t, 1, countActive(t, store))

	active, err := svc.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.ID, active.ID)
}

func TestActivate_NotFound(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Activate(context.Background(), 404)
	assert.True(t, errors.Is(err, alertconfig.ErrConfigNotFound))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestActivate_ConcurrentKeepsOneActive(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"a", "b", "c", "d"} {
		c := night()
		c.Name = name
		created, err := svc.Create(ctx, c)
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = svc.Activate(ctx, id)
		}(ids[i%len(ids)])
	}
	wg.Wait()

	assert.Equal(t, 1, countActive(t, store))
}

func TestUsable(t *testing.T) {
	c := alertconfig.Default()
	assert.NoError(t, c.Usable())

	c.Channels = nil
	assert.ErrorIs(t, c.Usable(), apperr.ErrConfiguration)
}

package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
	stops   int
}

func (m *manualTimer) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	was := !m.stopped
	m.stopped = true
	return was
}

// fire runs the callback even if stopped, like a timer that already
// dispatched when Stop was called.
func (m *manualTimer) fire() { m.fn() }

type fakeAPI struct {
	mu         sync.Mutex
	falseAlarm []int64
	failNext   error
	event      FallEvent
	getErr     error
}

func (f *fakeAPI) CreateFallEvent(_ context.Context, req CreateFallEventRequest) (FallEvent, error) {
	return FallEvent{ID: 11, SubjectID: req.SubjectID, Status: StatusDetected}, nil
}

func (f *fakeAPI) GetFallEvent(context.Context, int64) (FallEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.event, f.getErr
}

func (f *fakeAPI) MarkFalseAlarm(_ context.Context, id int64, _ string) (FallEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return FallEvent{}, err
	}
	f.falseAlarm = append(f.falseAlarm, id)
	return FallEvent{ID: id, Status: StatusFalseAlarm}, nil
}

func newTestCountdown(api *fakeAPI) (*Countdown, *[]*manualTimer) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCountdown(api, 0).WithClock(func() time.Time { return now })
	var timers []*manualTimer
	c.afterFunc = func(d time.Duration, f func()) stopper {
		t := &manualTimer{fn: f}
		timers = append(timers, t)
		return t
	}
	return c, &timers
}

func TestCountdown_ArmAndExpire(t *testing.T) {
	api := &fakeAPI{}
	c, timers := newTestCountdown(api)

	var escalated []CountdownState
	c.OnEscalated(func(s CountdownState) { escalated = append(escalated, s) })

	require.NoError(t, c.Arm(11))
	assert.Equal(t, StateArmed, c.State())
	assert.Equal(t, DefaultGracePeriod, c.Remaining())

	(*timers)[0].fire()
	assert.Equal(t, StateEscalated, c.State())
	require.Len(t, escalated, 1)
	assert.True(t, escalated[0].IsEscalatedLocally)
	assert.Equal(t, int64(11), escalated[0].FallEventID)

	// expiry makes no network call
	assert.Empty(t, api.falseAlarm)
}

func TestCountdown_DisarmAfterFireRejected(t *testing.T) {
	api := &fakeAPI{}
	c, timers := newTestCountdown(api)
	require.NoError(t, c.Arm(11))
	(*timers)[0].fire()

	err := c.Disarm(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyEscalated)
	assert.Empty(t, api.falseAlarm)
}

func TestCountdown_Disarm(t *testing.T) {
	api := &fakeAPI{}
	c, timers := newTestCountdown(api)
	fired := false
	c.OnEscalated(func(CountdownState) { fired = true })
	require.NoError(t, c.Arm(11))

	require.NoError(t, c.Disarm(context.Background()))
	assert.Equal(t, StateDisarmed, c.State())
	assert.True(t, c.Snapshot().IsResolvedLocally)
	assert.Equal(t, []int64{11}, api.falseAlarm)
	assert.Equal(t, 1, (*timers)[0].stops)

	// a late timer callback is ignored
	(*timers)[0].fire()
	assert.False(t, fired)
	assert.Equal(t, StateDisarmed, c.State())

	// one-shot: a second disarm sends nothing
	require.NoError(t, c.Disarm(context.Background()))
	assert.Len(t, api.falseAlarm, 1)
}

func TestCountdown_DisarmRetriesFailedRequest(t *testing.T) {
	api := &fakeAPI{failNext: errors.New("offline")}
	c, _ := newTestCountdown(api)
	require.NoError(t, c.Arm(11))

	require.Error(t, c.Disarm(context.Background()))
	assert.Equal(t, StateDisarmed, c.State())

	require.NoError(t, c.Disarm(context.Background()))
	assert.Equal(t, []int64{11}, api.falseAlarm)
}

func TestCountdown_StopIsIdempotent(t *testing.T) {
	c, timers := newTestCountdown(&fakeAPI{})
	require.NoError(t, c.Arm(11))

	c.Stop()
	c.Stop()
	c.Stop()
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, (*timers)[0].stops)

	(*timers)[0].fire()
	assert.Equal(t, StateIdle, c.State())
	assert.ErrorIs(t, c.Disarm(context.Background()), ErrNotArmed)
}

func TestCountdown_ArmWhileBusy(t *testing.T) {
	c, _ := newTestCountdown(&fakeAPI{})
	require.NoError(t, c.Arm(11))
	assert.ErrorIs(t, c.Arm(12), ErrBusy)
	assert.Error(t, NewCountdown(&fakeAPI{}, time.Second).Arm(0))

	c.Reset()
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, c.Snapshot().FallEventID)
	require.NoError(t, c.Arm(12))
}

func TestCountdown_Report(t *testing.T) {
	c, _ := newTestCountdown(&fakeAPI{})
	e, err := c.Report(context.Background(), CreateFallEventRequest{SubjectID: 7, DetectedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, int64(11), e.ID)
	assert.Equal(t, StateArmed, c.State())

	_, err = c.Report(context.Background(), CreateFallEventRequest{SubjectID: 7})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestCountdown_Reconcile(t *testing.T) {
	t.Run("server already halted", func(t *testing.T) {
		api := &fakeAPI{event: FallEvent{ID: 11, Status: StatusFalseAlarm}}
		c, timers := newTestCountdown(api)
		require.NoError(t, c.Arm(11))

		require.NoError(t, c.Reconcile(context.Background()))
		assert.Equal(t, StateDisarmed, c.State())
		assert.True(t, c.Snapshot().IsResolvedLocally)
		assert.Equal(t, 1, (*timers)[0].stops)

		require.NoError(t, c.Disarm(context.Background()))
		assert.Empty(t, api.falseAlarm)
	})

	t.Run("server already escalated", func(t *testing.T) {
		api := &fakeAPI{event: FallEvent{ID: 11, Status: StatusConfirmed}}
		c, _ := newTestCountdown(api)
		var got CountdownState
		c.OnEscalated(func(s CountdownState) { got = s })
		require.NoError(t, c.Arm(11))

		require.NoError(t, c.Reconcile(context.Background()))
		assert.Equal(t, StateEscalated, c.State())
		assert.True(t, got.IsEscalatedLocally)
	})

	t.Run("event gone", func(t *testing.T) {
		api := &fakeAPI{getErr: &APIError{StatusCode: http.StatusNotFound}}
		c, _ := newTestCountdown(api)
		require.NoError(t, c.Arm(11))

		require.NoError(t, c.Reconcile(context.Background()))
		assert.Equal(t, StateIdle, c.State())
	})

	t.Run("still detected", func(t *testing.T) {
		api := &fakeAPI{event: FallEvent{ID: 11, Status: StatusDetected}}
		c, _ := newTestCountdown(api)
		require.NoError(t, c.Arm(11))

		require.NoError(t, c.Reconcile(context.Background()))
		assert.Equal(t, StateArmed, c.State())
	})
}

func TestCountdown_RealTimer(t *testing.T) {
	c := NewCountdown(&fakeAPI{}, 20*time.Millisecond)
	done := make(chan CountdownState, 1)
	c.OnEscalated(func(s CountdownState) { done <- s })
	require.NoError(t, c.Arm(5))

	select {
	case s := <-done:
		assert.Equal(t, int64(5), s.FallEventID)
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never expired")
	}
	c.Stop()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "armed", StateArmed.String())
	assert.Equal(t, "State(9)", State(9).String())
}

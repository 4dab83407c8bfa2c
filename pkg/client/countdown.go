package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultGracePeriod is how long the subject has to cancel on the device.
// It is deliberately independent of the server's alert threshold; the
// server sweep decides when caregivers are notified.
const DefaultGracePeriod = 30 * time.Second

type State int

const (
	StateIdle State = iota
	StateArmed
	StateDisarmed
	StateEscalated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateDisarmed:
		return "disarmed"
	case StateEscalated:
		return "escalated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrAlreadyEscalated = errors.New("countdown already expired")
	ErrNotArmed         = errors.New("countdown not armed")
	ErrBusy             = errors.New("countdown already tracking an event")
)

// CountdownState is the client-owned view of one event. It is never
// persisted.
type CountdownState struct {
	FallEventID        int64     `json:"fallEventId"`
	StartedAt          time.Time `json:"startedAt"`
	IsEscalatedLocally bool      `json:"isEscalatedLocally"`
	IsResolvedLocally  bool      `json:"isResolvedLocally"`
}

// EventAPI is the part of Client the countdown talks to.
type EventAPI interface {
	CreateFallEvent(ctx context.Context, req CreateFallEventRequest) (FallEvent, error)
	GetFallEvent(ctx context.Context, id int64) (FallEvent, error)
	MarkFalseAlarm(ctx context.Context, id int64, notes string) (FallEvent, error)
}

type stopper interface {
	Stop() bool
}

// Countdown is the local grace-period timer for a single fall event:
// Idle → Armed → {Disarmed, Escalated} → Idle.
type Countdown struct {
	api   EventAPI
	grace time.Duration
	now   func() time.Time
	// afterFunc schedules f; tests swap in a manual timer.
	afterFunc func(d time.Duration, f func()) stopper

	mu          sync.Mutex
	state       State
	snap        CountdownState
	acked       bool // server accepted the false alarm
	timer       stopper
	gen         uint64
	onEscalated func(CountdownState)
}

// NewCountdown returns an idle countdown. A non-positive grace uses
// DefaultGracePeriod.
func NewCountdown(api EventAPI, grace time.Duration) *Countdown {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Countdown{
		api:   api,
		grace: grace,
		now:   time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// WithClock replaces the time source used for StartedAt and Remaining.
func (c *Countdown) WithClock(now func() time.Time) *Countdown {
	c.now = now
	return c
}

// OnEscalated registers fn to run when the grace period runs out. It only
// updates local UI; no request is made.
func (c *Countdown) OnEscalated(fn func(CountdownState)) {
	c.mu.Lock()
	c.onEscalated = fn
	c.mu.Unlock()
}

// Report creates the event on the server and arms the countdown as soon as
// the id comes back.
func (c *Countdown) Report(ctx context.Context, req CreateFallEventRequest) (FallEvent, error) {
	c.mu.Lock()
	busy := c.state != StateIdle
	c.mu.Unlock()
	if busy {
		return FallEvent{}, ErrBusy
	}
	e, err := c.api.CreateFallEvent(ctx, req)
	if err != nil {
		return FallEvent{}, err
	}
	if err := c.Arm(e.ID); err != nil {
		return e, err
	}
	return e, nil
}

// Arm starts the grace period for eventID.
func (c *Countdown) Arm(eventID int64) error {
	if eventID <= 0 {
		return fmt.Errorf("invalid fall event id %d", eventID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	c.gen++
	gen := c.gen
	c.state = StateArmed
	c.acked = false
	c.snap = CountdownState{FallEventID: eventID, StartedAt: c.now()}
	c.timer = c.afterFunc(c.grace, func() { c.expire(gen) })
	return nil
}

func (c *Countdown) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateArmed {
		c.mu.Unlock()
		return
	}
	c.state = StateEscalated
	c.snap.IsEscalatedLocally = true
	c.timer = nil
	snap, fn := c.snap, c.onEscalated
	c.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Disarm cancels the timer and tells the server the fall was a false alarm.
// Once the timer has fired it returns ErrAlreadyEscalated. If the request
// fails the countdown stays disarmed and Disarm may be called again to
// retry it.
func (c *Countdown) Disarm(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return ErrNotArmed
	case StateEscalated:
		c.mu.Unlock()
		return ErrAlreadyEscalated
	case StateDisarmed:
		if c.acked {
			c.mu.Unlock()
			return nil
		}
	case StateArmed:
		c.cancelLocked()
		c.state = StateDisarmed
		c.snap.IsResolvedLocally = true
	}
	id := c.snap.FallEventID
	c.mu.Unlock()

	if _, err := c.api.MarkFalseAlarm(ctx, id, ""); err != nil {
		return fmt.Errorf("mark fall event %d false alarm: %w", id, err)
	}

	c.mu.Lock()
	if c.snap.FallEventID == id {
		c.acked = true
	}
	c.mu.Unlock()
	return nil
}

// Stop cancels a pending timer. An armed countdown goes back to idle; a
// finished one keeps its state. Safe to call any number of times.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	if c.state == StateArmed {
		c.state = StateIdle
	}
}

// Reset stops the countdown and forgets the tracked event.
func (c *Countdown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.state = StateIdle
	c.snap = CountdownState{}
	c.acked = false
}

func (c *Countdown) cancelLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Countdown) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the tracked event's local state.
func (c *Countdown) Snapshot() CountdownState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Remaining is the time left in the grace period, zero unless armed.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateArmed {
		return 0
	}
	left := c.grace - c.now().Sub(c.snap.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Reconcile aligns local state with the server after a resume. A halted
// event disarms a running countdown; a confirmed one means the server has
// already escalated, so the countdown ends as escalated.
func (c *Countdown) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	id := c.snap.FallEventID
	c.mu.Unlock()

	e, err := c.api.GetFallEvent(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			c.Reset()
			return nil
		}
		return fmt.Errorf("reconcile fall event %d: %w", id, err)
	}

	c.mu.Lock()
	if c.snap.FallEventID != id {
		c.mu.Unlock()
		return nil
	}
	var fire func(CountdownState)
	switch {
	case e.Halted():
		if c.state == StateArmed {
			c.cancelLocked()
			c.state = StateDisarmed
		}
		c.snap.IsResolvedLocally = true
		c.acked = true
	case e.Status == StatusConfirmed && c.state == StateArmed:
		c.cancelLocked()
		c.state = StateEscalated
		c.snap.IsEscalatedLocally = true
		fire = c.onEscalated
	}
	snap := c.snap
	c.mu.Unlock()

	if fire != nil {
		fire(snap)
	}
	return nil
}

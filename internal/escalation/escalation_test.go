package escalation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/escalation"
	"github.com/fallguard/fallguard/internal/falls"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func event(status falls.Status, updated time.Time) falls.Event {
	return falls.Event{ID: 1, SubjectID: 7, DetectedAt: t0, Status: status, CreatedAt: t0, UpdatedAt: updated}
}

func TestShouldEscalate_Threshold(t *testing.T) {
	cfg := alertconfig.Default() // 30s

	cases := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"just created", 0, false},
		{"one second short", 29 * time.Second, false},
		{"exactly at threshold", 30 * time.Second, true},
		{"well past threshold", 10 * time.Minute, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := event(falls.StatusDetected, t0)
			assert.Equal(t, tc.want, escalation.ShouldEscalate(e, cfg, t0.Add(tc.elapsed)))
		})
	}
}

func TestShouldEscalate_OnlyDetected(t *testing.T) {
	cfg := alertconfig.Default()
	late := t0.Add(time.Hour)
	for _, s := range []falls.Status{falls.StatusConfirmed, falls.StatusFalseAlarm, falls.StatusResolved} {
		assert.False(t, escalation.ShouldEscalate(event(s, t0), cfg, late), s)
	}
}

func TestShouldEscalate_MonotonicInTime(t *testing.T) {
	cfg := alertconfig.Default()
	cfg.ThresholdSeconds = 45
	e := event(falls.StatusDetected, t0)

	fired := false
	for s := 0; s <= 120; s++ {
		got := escalation.ShouldEscalate(e, cfg, t0.Add(time.Duration(s)*time.Second))
		if fired {
			assert.True(t, got, "flipped back at %ds", s)
		}
		fired = fired || got
	}
	assert.True(t, fired)
}

// Editing notes bumps UpdatedAt, which restarts the wait.
func TestShouldEscalate_UpdateResetsClock(t *testing.T) {
	cfg := alertconfig.Default()
	now := t0.Add(40 * time.Second)

	assert.True(t, escalation.ShouldEscalate(event(falls.StatusDetected, t0), cfg, now))
	assert.False(t, escalation.ShouldEscalate(event(falls.StatusDetected, t0.Add(20*time.Second)), cfg, now))
}

func TestDue(t *testing.T) {
	cfg := alertconfig.Default()
	e := event(falls.StatusDetected, t0)

	remaining, ok := escalation.Due(e, cfg, t0.Add(10*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 20*time.Second, remaining)

	remaining, ok = escalation.Due(e, cfg, t0.Add(time.Minute))
	assert.True(t, ok)
	assert.Zero(t, remaining)

	_, ok = escalation.Due(event(falls.StatusResolved, t0), cfg, t0)
	assert.False(t, ok)
}

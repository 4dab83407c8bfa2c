// Package escalation decides whether a fall event has waited long enough in
// the detected state to alert caregivers. It is pure: no I/O, no clock.
package escalation

import (
	"time"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/falls"
)

// ShouldEscalate is true iff the event is still detected and has spent at
// least the configured threshold in that state.
func ShouldEscalate(e falls.Event, cfg alertconfig.Config, now time.Time) bool {
	if e.Status != falls.StatusDetected {
		return false
	}
	return e.TimeInState(now) >= cfg.Threshold()
}

// Due returns how long until the event becomes escalatable. Zero means it
// already is; ok is false when the event can no longer escalate at all.
func Due(e falls.Event, cfg alertconfig.Config, now time.Time) (remaining time.Duration, ok bool) {
	if e.Status != falls.StatusDetected {
		return 0, false
	}
	remaining = cfg.Threshold() - e.TimeInState(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

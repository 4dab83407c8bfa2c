// Package falls owns the fall-event lifecycle: the record, its state machine
// and the service the HTTP layer and the sweep mutate it through.
//
// States: detected (initial) → {confirmed, false_alarm} → resolved.
// false_alarm and resolved never escalate again.
package falls

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fallguard/fallguard/internal/apperr"
)

// --------------------------------------------------------------------------
// Status
// --------------------------------------------------------------------------

type Status string

const (
	StatusDetected   Status = "detected"
	StatusConfirmed  Status = "confirmed"
	StatusFalseAlarm Status = "false_alarm"
	StatusResolved   Status = "resolved"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{StatusDetected, StatusConfirmed, StatusFalseAlarm, StatusResolved}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Halted reports whether escalation is permanently off for this status.
func (s Status) Halted() bool {
	return s == StatusFalseAlarm || s == StatusResolved
}

var transitions = map[Status][]Status{
	StatusDetected:   {StatusConfirmed, StatusFalseAlarm, StatusResolved},
	StatusConfirmed:  {StatusResolved, StatusFalseAlarm},
	StatusFalseAlarm: {StatusResolved},
}

// CanTransition reports whether from → to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ResolvedBySystem is stamped when a transition has no named actor.
const ResolvedBySystem = "system"

var (
	ErrEventNotFound     = fmt.Errorf("fall event %w", apperr.ErrNotFound)
	ErrInvalidTransition = fmt.Errorf("invalid status transition: %w", apperr.ErrConflict)
	// ErrStale is returned by a conditional update when the stored status no
	// longer matches the expected one.
	ErrStale = errors.New("fall event changed concurrently")
)

// --------------------------------------------------------------------------
// Event
// --------------------------------------------------------------------------

// Event is a possible fall for one monitored subject.
type Event struct {
	ID                  int64           `json:"id"`
	SubjectID           int64           `json:"subjectId"`
	DetectedAt          time.Time       `json:"detectedAt"`
	Status              Status          `json:"status"`
	Notes               string          `json:"notes"`
	SensorData          json.RawMessage `json:"sensorData,omitempty"`
	ResolvedAt          *time.Time      `json:"resolvedAt"`
	ResolvedBy          *string         `json:"resolvedBy"`
	ResponseTimeSeconds *int64          `json:"responseTimeSeconds,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	DeletedAt           *time.Time      `json:"-"`
}

// Transition moves the event to status to, stamping resolution fields when
// the target halts escalation. Re-entering the current status is a no-op and
// reports changed == false.
func (e *Event) Transition(to Status, at time.Time, by string) (changed bool, err error) {
	if !to.Valid() {
		return false, fmt.Errorf("unknown status %q: %w", to, ErrInvalidTransition)
	}
	if e.Status == to {
		return false, nil
	}
	if !CanTransition(e.Status, to) {
		return false, fmt.Errorf("%s → %s: %w", e.Status, to, ErrInvalidTransition)
	}

	if to.Halted() {
		if by == "" {
			by = ResolvedBySystem
		}
		at = at.UTC()
		e.ResolvedAt = &at
		e.ResolvedBy = &by
	}
	if to == StatusResolved {
		secs := int64(at.Sub(e.DetectedAt) / time.Second)
		e.ResponseTimeSeconds = &secs
	}

	e.Status = to
	return true, nil
}

// TimeInState is the age of the event's current state at now. Any update to
// the event, including a notes edit, restarts it.
func (e Event) TimeInState(now time.Time) time.Duration {
	return now.Sub(e.UpdatedAt)
}

// Package notifications fans an escalated fall event out to caregivers over
// the configured channels, exactly once per (event, channel).
//
// Pipeline per channel: claim record → resolve recipient → send → mark sent
// or failed. A sent record is never touched again; a failed one is reclaimed
// by the next dispatch.
package notifications

import (
	"time"

	"github.com/fallguard/fallguard/internal/alertconfig"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Channel is re-exported so senders and callers share one name.
type Channel = alertconfig.Channel

type RecordStatus string

const (
	RecordPending RecordStatus = "pending"
	RecordSent    RecordStatus = "sent"
	RecordFailed  RecordStatus = "failed"
)

// Record is the delivery audit row for one (fall event, channel) pair.
type Record struct {
	ID           string       `json:"id"`
	FallEventID  int64        `json:"fallEventId"`
	Channel      Channel      `json:"channel"`
	Recipient    string       `json:"recipient"`
	Status       RecordStatus `json:"status"`
	SentAt       *time.Time   `json:"sentAt"`
	ErrorMessage *string      `json:"errorMessage"`
	Attempts     int          `json:"attempts"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Outcome is what one Dispatch call did for one channel.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// ChannelResult is the per-channel entry of a DispatchResult.
type ChannelResult struct {
	Channel   Channel `json:"channel"`
	Outcome   Outcome `json:"outcome"`
	RecordID  string  `json:"recordId,omitempty"`
	Recipient string  `json:"recipient,omitempty"`
	// Reason explains a skip ("already sent", "in flight") or a failure.
	Reason string `json:"reason,omitempty"`
}

// DispatchResult summarizes one Dispatch call.
type DispatchResult struct {
	FallEventID int64           `json:"fallEventId"`
	Channels    []ChannelResult `json:"channels"`
}

// Delivered reports whether every channel is now sent, either by this call or
// an earlier one.
func (r DispatchResult) Delivered() bool {
	if len(r.Channels) == 0 {
		return false
	}
	for _, c := range r.Channels {
		switch {
		case c.Outcome == OutcomeSent:
		case c.Outcome == OutcomeSkipped && c.Reason == reasonAlreadySent:
		default:
			return false
		}
	}
	return true
}

// Halted reports whether dispatch stopped early because the event left
// detected.
func (r DispatchResult) Halted() bool {
	for _, c := range r.Channels {
		if c.Reason == reasonHalted {
			return true
		}
	}
	return false
}

// Counts returns the number of sent, failed and skipped channels.
func (r DispatchResult) Counts() (sent, failed, skipped int) {
	for _, c := range r.Channels {
		switch c.Outcome {
		case OutcomeSent:
			sent++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return
}

const (
	reasonAlreadySent = "already sent"
	reasonInFlight    = "in flight"
	reasonNoRecipient = "no recipient configured"
	reasonHalted      = "event no longer detected"
)

package notifications

import (
	"context"
	"errors"
	"time"
)

// ErrEventHalted is returned by Claim when the event has left detected (or
// was deleted). Nothing may be sent for it any more.
var ErrEventHalted = errors.New("fall event no longer detected")

// RecordStore persists delivery records under UNIQUE(fall_event_id, channel).
type RecordStore interface {
	// Claim atomically gets-or-creates the record for (eventID, channel) and
	// takes ownership of it for one send attempt. A new record is inserted as
	// pending; an existing failed record is flipped back to pending with its
	// attempt count bumped. ok is false when the record is sent or already
	// pending, and the returned record is the stored one. No claim is made
	// unless the event is still detected; that case returns ErrEventHalted.
	Claim(ctx context.Context, eventID int64, channel Channel, recipient string, at time.Time) (rec Record, ok bool, err error)
	// MarkSent and MarkFailed only apply to a pending record.
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, at time.Time) error
	ListByEvent(ctx context.Context, eventID int64) ([]Record, error)
}

package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/apperr"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/metrics"
	"github.com/fallguard/fallguard/internal/profiles"
)

// Dispatcher fans one escalated event out over the configured channels.
type Dispatcher struct {
	records  RecordStore
	profiles profiles.Store
	senders  map[Channel]Sender
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewDispatcher wires the dispatcher. Channels without a sender fail with
// ErrChannelNotConfigured.
func NewDispatcher(records RecordStore, profileStore profiles.Store, senders []Sender, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	byChannel := make(map[Channel]Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	return &Dispatcher{
		records:  records,
		profiles: profileStore,
		senders:  byChannel,
		now:      func() time.Time { return time.Now().UTC() },
		metrics:  m,
		logger:   logger,
	}
}

// WithClock replaces the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch processes cfg.Channels in order for e. Channel failures are
// recorded on their record and in the result; they never abort the other
// channels. Once a claim reports the event halted, no further channel is
// tried. The only returned errors are a configuration error and context
// cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, e falls.Event, cfg alertconfig.Config) (DispatchResult, error) {
	result := DispatchResult{FallEventID: e.ID}
	if err := cfg.Usable(); err != nil {
		return result, err
	}

	profile, err := d.profiles.GetProfile(ctx, e.SubjectID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return result, fmt.Errorf("load profile %d: %w", e.SubjectID, err)
	}
	msg := BuildMessage(e, profile)

	for _, ch := range cfg.Channels {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		cr := d.dispatchChannel(ctx, e, ch, profile, cfg.ContactPriority, msg)
		result.Channels = append(result.Channels, cr)
		d.metrics.NotificationOutcome(string(ch), string(cr.Outcome))
		d.logger.Info("Notification channel processed",
			"event_id", e.ID,
			"channel", ch,
			"outcome", cr.Outcome,
			"record_id", cr.RecordID,
			"reason", cr.Reason)
		if cr.Reason == reasonHalted {
			break
		}
	}
	return result, nil
}

func (d *Dispatcher) dispatchChannel(ctx context.Context, e falls.Event, ch Channel, p profiles.Profile, priority []alertconfig.Role, msg Message) ChannelResult {
	cr := ChannelResult{Channel: ch}

	var recipient string
	if rs := p.Recipients(ch, priority); len(rs) > 0 {
		recipient = rs[0]
	}

	rec, claimed, err := d.records.Claim(ctx, e.ID, ch, recipient, d.now())
	if errors.Is(err, ErrEventHalted) {
		cr.Outcome = OutcomeSkipped
		cr.Reason = reasonHalted
		return cr
	}
	if err != nil {
		cr.Outcome = OutcomeFailed
		cr.Reason = fmt.Sprintf("claim record: %v", err)
		return cr
	}
	cr.RecordID = rec.ID
	cr.Recipient = rec.Recipient
	if !claimed {
		cr.Outcome = OutcomeSkipped
		cr.Reason = reasonInFlight
		if rec.Status == RecordSent {
			cr.Reason = reasonAlreadySent
		}
		return cr
	}

	if recipient == "" {
		return d.fail(ctx, cr, errors.New(reasonNoRecipient))
	}

	sender, ok := d.senders[ch]
	if !ok {
		return d.fail(ctx, cr, fmt.Errorf("%s: %w", ch, ErrChannelNotConfigured))
	}

	start := time.Now()
	sendErr := SafeSend(ctx, sender, recipient, msg)
	d.metrics.ObserveSend(string(ch), time.Since(start))
	if sendErr != nil {
		return d.fail(ctx, cr, &apperr.ChannelDeliveryError{Channel: string(ch), Err: sendErr})
	}

	if err := d.records.MarkSent(ctx, rec.ID, d.now()); err != nil {
		// Delivered but not recorded: the record stays pending and is
		// reaped to failed later, so a duplicate send is possible.
		d.logger.Error("Failed to mark notification sent",
			"record_id", rec.ID, "event_id", e.ID, "channel", ch, "error", err)
	}
	cr.Outcome = OutcomeSent
	return cr
}

func (d *Dispatcher) fail(ctx context.Context, cr ChannelResult, cause error) ChannelResult {
	reason := cause.Error()
	var de *apperr.ChannelDeliveryError
	if errors.As(cause, &de) {
		reason = de.Err.Error()
	}
	// a cancelled request must not leave the record pending
	markCtx := context.WithoutCancel(ctx)
	if err := d.records.MarkFailed(markCtx, cr.RecordID, reason, d.now()); err != nil {
		d.logger.Error("Failed to mark notification failed",
			"record_id", cr.RecordID, "channel", cr.Channel, "error", err)
	}
	cr.Outcome = OutcomeFailed
	cr.Reason = reason
	return cr
}

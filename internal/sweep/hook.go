package sweep

import (
	"context"
	"errors"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/fallguard/fallguard/internal/apperr"
	"github.com/fallguard/fallguard/internal/escalation"
)

// Hook re-evaluates a single event right after it changed. Concurrent calls
// for the same event collapse into one evaluation; concurrent calls across
// processes are settled by the notification record constraint.
type Hook struct {
	sweeper *Sweeper
	group   singleflight.Group
}

func NewHook(s *Sweeper) *Hook {
	return &Hook{sweeper: s}
}

// EventUpdated evaluates eventID and escalates it if due. Errors are logged,
// never returned: the caller's update already succeeded.
//
// Updates made through falls.Service bump updatedAt, which restarts the
// threshold, so this only escalates rows written by another system with an
// older updatedAt. It does not shorten the sweep latency.
func (h *Hook) EventUpdated(ctx context.Context, eventID int64) {
	res, _, _ := h.group.Do(strconv.FormatInt(eventID, 10), func() (interface{}, error) {
		return h.evaluate(ctx, eventID), nil
	})
	if er, ok := res.(EventResult); ok && er.Error != "" {
		h.sweeper.logger.Warn("Update hook escalation incomplete", "event_id", eventID, "error", er.Error)
	}
}

func (h *Hook) evaluate(ctx context.Context, eventID int64) EventResult {
	s := h.sweeper
	e, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("Update hook could not load event", "event_id", eventID, "error", err)
		}
		return EventResult{EventID: eventID}
	}

	cfg, err := s.activeConfig(ctx)
	if err != nil {
		s.logger.Warn("Update hook skipped", "event_id", eventID, "error", err)
		return EventResult{EventID: eventID}
	}

	if !escalation.ShouldEscalate(e, cfg, s.now()) {
		return EventResult{EventID: eventID}
	}
	return s.escalate(ctx, e, cfg)
}

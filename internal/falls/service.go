package falls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fallguard/fallguard/internal/apperr"
)

const (
	maxNotesLength = 2000
	// optimistic update attempts before giving up on a busy event
	maxUpdateAttempts = 3
	// ResolvedBySubject is stamped by the self-cancel endpoint.
	ResolvedBySubject = "subject"
)

// SubjectChecker reports whether a monitored subject exists.
type SubjectChecker interface {
	SubjectExists(ctx context.Context, subjectID int64) (bool, error)
}

// UpdateHook runs synchronously after an event was changed.
type UpdateHook func(ctx context.Context, eventID int64)

// CreateInput is the body of POST /fall-events.
type CreateInput struct {
	SubjectID  int64           `json:"subjectId"`
	DetectedAt *time.Time      `json:"detectedAt"`
	SensorData json.RawMessage `json:"sensorData"`
	Notes      string          `json:"notes"`
}

// UpdateInput is the body of PATCH /fall-events/{id}. Nil fields are left
// untouched.
type UpdateInput struct {
	Status     *Status         `json:"status"`
	Notes      *string         `json:"notes"`
	ResolvedAt *time.Time      `json:"resolvedAt"`
	ResolvedBy *string         `json:"resolvedBy"`
	SensorData json.RawMessage `json:"sensorData"`
}

// Service applies validated mutations to fall events.
type Service struct {
	store    Store
	subjects SubjectChecker
	now      func() time.Time
	logger   *slog.Logger
	onUpdate UpdateHook
}

// NewService creates a Service. subjects may be nil to skip the existence
// check.
func NewService(store Store, subjects SubjectChecker, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		subjects: subjects,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OnUpdate registers the hook run after every successful update.
func (s *Service) OnUpdate(h UpdateHook) {
	s.onUpdate = h
}

// Create validates and stores a new detected event.
func (s *Service) Create(ctx context.Context, in CreateInput) (Event, error) {
	ve := &apperr.ValidationError{}
	if in.SubjectID <= 0 {
		ve.Add("subjectId", "is required")
	}
	if in.DetectedAt == nil || in.DetectedAt.IsZero() {
		ve.Add("detectedAt", "is required")
	}
	if len(in.Notes) > maxNotesLength {
		ve.Add("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}
	if len(in.SensorData) > 0 && !json.Valid(in.SensorData) {
		ve.Add("sensorData", "must be valid JSON")
	}
	if err := ve.OrNil(); err != nil {
		return Event{}, err
	}

	if s.subjects != nil {
		ok, err := s.subjects.SubjectExists(ctx, in.SubjectID)
		if err != nil {
			return Event{}, fmt.Errorf("check subject: %w", err)
		}
		if !ok {
			ve.Add("subjectId", "does not exist")
			return Event{}, ve
		}
	}

	now := s.now()
	e := Event{
		SubjectID:  in.SubjectID,
		DetectedAt: in.DetectedAt.UTC(),
		Status:     StatusDetected,
		Notes:      in.Notes,
		SensorData: in.SensorData,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := s.store.CreateEvent(ctx, e)
	if err != nil {
		return Event{}, fmt.Errorf("create fall event: %w", err)
	}
	s.logger.Info("Fall event created",
		"event_id", created.ID, "subject_id", created.SubjectID, "detected_at", created.DetectedAt)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Event, error) {
	return s.store.GetEvent(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) (Page, error) {
	if f.Status != nil && !f.Status.Valid() {
		ve := &apperr.ValidationError{}
		ve.Add("status", "must be one of detected, confirmed, false_alarm, resolved")
		return Page{}, ve
	}
	return s.store.ListEvents(ctx, f.Normalize())
}

// Update applies a partial update. Status changes go through the state
// machine; every accepted update bumps updatedAt.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Event, error) {
	ve := &apperr.ValidationError{}
	if in.Status != nil && !in.Status.Valid() {
		ve.Add("status", "must be one of detected, confirmed, false_alarm, resolved")
	}
	if in.Notes != nil && len(*in.Notes) > maxNotesLength {
		ve.Add("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}
	if len(in.SensorData) > 0 && !json.Valid(in.SensorData) {
		ve.Add("sensorData", "must be valid JSON")
	}
	if err := ve.OrNil(); err != nil {
		return Event{}, err
	}

	return s.mutate(ctx, id, func(e *Event, now time.Time) error {
		if in.Notes != nil {
			e.Notes = *in.Notes
		}
		if len(in.SensorData) > 0 {
			e.SensorData = in.SensorData
		}

		at := now
		if in.ResolvedAt != nil {
			if in.ResolvedAt.Before(e.DetectedAt) {
				ve.Add("resolvedAt", "must not be before detectedAt")
				return ve
			}
			at = *in.ResolvedAt
		}
		by := ""
		if in.ResolvedBy != nil {
			by = *in.ResolvedBy
		}

		if in.Status != nil {
			if _, err := e.Transition(*in.Status, at, by); err != nil {
				return err
			}
			// a resolvedAt correction on an already terminal event
			if in.ResolvedAt != nil && e.Status.Halted() && !e.ResolvedAt.Equal(at.UTC()) {
				restamp(e, at, by)
			}
			return nil
		}

		if in.ResolvedAt != nil {
			if !e.Status.Halted() {
				ve.Add("resolvedAt", "requires status false_alarm or resolved")
				return ve
			}
			restamp(e, at, by)
		}
		return nil
	})
}

// MarkFalseAlarm is the self-cancel action. Repeated calls leave the event in
// false_alarm without error.
func (s *Service) MarkFalseAlarm(ctx context.Context, id int64, notes *string) (Event, error) {
	if notes != nil && len(*notes) > maxNotesLength {
		ve := &apperr.ValidationError{}
		ve.Add("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
		return Event{}, ve
	}

	return s.mutate(ctx, id, func(e *Event, now time.Time) error {
		if notes != nil {
			e.Notes = *notes
		}
		_, err := e.Transition(StatusFalseAlarm, now, ResolvedBySubject)
		return err
	})
}

// Delete soft-deletes an event; notification history keeps referencing it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.SoftDeleteEvent(ctx, id, s.now()); err != nil {
		return err
	}
	s.logger.Info("Fall event soft-deleted", "event_id", id)
	return nil
}

// mutate runs fn against a fresh copy of the event and writes it back with an
// optimistic status check, retrying when a concurrent writer won.
func (s *Service) mutate(ctx context.Context, id int64, fn func(e *Event, now time.Time) error) (Event, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := s.store.GetEvent(ctx, id)
		if err != nil {
			return Event{}, err
		}

		next := current
		now := s.now()
		if err := fn(&next, now); err != nil {
			return Event{}, err
		}
		next.UpdatedAt = now

		saved, err := s.store.UpdateEvent(ctx, next, current.Status)
		if errors.Is(err, ErrStale) {
			lastErr = err
			continue
		}
		if err != nil {
			return Event{}, fmt.Errorf("update fall event %d: %w", id, err)
		}

		if saved.Status != current.Status {
			s.logger.Info("Fall event status changed",
				"event_id", id, "from", current.Status, "to", saved.Status)
		}
		if s.onUpdate != nil {
			s.onUpdate(ctx, saved.ID)
		}
		return saved, nil
	}
	return Event{}, fmt.Errorf("update fall event %d: %w", id, lastErr)
}

func restamp(e *Event, at time.Time, by string) {
	at = at.UTC()
	e.ResolvedAt = &at
	if by != "" {
		e.ResolvedBy = &by
	}
	if e.Status == StatusResolved {
		secs := int64(at.Sub(e.DetectedAt) / time.Second)
		e.ResponseTimeSeconds = &secs
	}
}

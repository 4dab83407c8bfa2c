// Package memory is an in-process storage backend with the same constraints
// as the Postgres schema: one record per (event, channel), one active alert
// config, soft-deleted events hidden from reads. Used by tests and by the API
// when DATABASE_URL is unset in development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/notifications"
	"github.com/fallguard/fallguard/internal/profiles"
)

type recordKey struct {
	eventID int64
	channel notifications.Channel
}

// Store implements every storage interface of the service.
type Store struct {
	mu sync.Mutex

	nextEventID  int64
	events       map[int64]falls.Event
	nextConfigID int64
	configs      map[int64]alertconfig.Config
	records      map[recordKey]notifications.Record
	profiles     map[int64]profiles.Profile
}

func New() *Store {
	return &Store{
		events:   make(map[int64]falls.Event),
		configs:  make(map[int64]alertconfig.Config),
		records:  make(map[recordKey]notifications.Record),
		profiles: make(map[int64]profiles.Profile),
	}
}

// --------------------------------------------------------------------------
// Fall events
// --------------------------------------------------------------------------

func (s *Store) CreateEvent(_ context.Context, e falls.Event) (falls.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	e.ID = s.nextEventID
	s.events[e.ID] = e
	return e, nil
}

func (s *Store) GetEvent(_ context.Context, id int64) (falls.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.DeletedAt != nil {
		return falls.Event{}, falls.ErrEventNotFound
	}
	return e, nil
}

func (s *Store) ListEvents(_ context.Context, f falls.Filter) (falls.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f = f.Normalize()

	var matched []falls.Event
	for _, e := range s.events {
		if e.DeletedAt != nil {
			continue
		}
		if f.SubjectID != nil && e.SubjectID != *f.SubjectID {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].DetectedAt.Equal(matched[j].DetectedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].DetectedAt.After(matched[j].DetectedAt)
	})

	total := len(matched)
	start := min(f.Offset(), total)
	end := min(start+f.PerPage, total)
	return falls.NewPage(matched[start:end], f, total), nil
}

func (s *Store) DetectedEvents(_ context.Context) ([]falls.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []falls.Event
	for _, e := range s.events {
		if e.DeletedAt == nil && e.Status == falls.StatusDetected {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) UpdateEvent(_ context.Context, e falls.Event, expected falls.Status) (falls.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[e.ID]
	if !ok || cur.DeletedAt != nil {
		return falls.Event{}, falls.ErrEventNotFound
	}
	if cur.Status != expected {
		return falls.Event{}, falls.ErrStale
	}
	e.SubjectID = cur.SubjectID
	e.DetectedAt = cur.DetectedAt
	e.CreatedAt = cur.CreatedAt
	e.DeletedAt = nil
	s.events[e.ID] = e
	return e, nil
}

func (s *Store) SoftDeleteEvent(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.DeletedAt != nil {
		return falls.ErrEventNotFound
	}
	e.DeletedAt = &at
	e.UpdatedAt = at
	s.events[id] = e
	return nil
}

// PurgeDeleted hard-deletes events soft-deleted before cutoff. Events with
// notification history are kept.
func (s *Store) PurgeDeleted(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	referenced := make(map[int64]bool)
	for k := range s.records {
		referenced[k.eventID] = true
	}

	var n int64
	for id, e := range s.events {
		if e.DeletedAt != nil && e.DeletedAt.Before(cutoff) && !referenced[id] {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Alert configs
// --------------------------------------------------------------------------

func (s *Store) ActiveConfig(_ context.Context) (alertconfig.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.configs {
		if c.IsActive {
			return clone(c), nil
		}
	}
	return alertconfig.Config{}, alertconfig.ErrConfigNotFound
}

func (s *Store) GetConfig(_ context.Context, id int64) (alertconfig.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	if !ok {
		return alertconfig.Config{}, alertconfig.ErrConfigNotFound
	}
	return clone(c), nil
}

func (s *Store) ListConfigs(_ context.Context) ([]alertconfig.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alertconfig.Config, 0, len(s.configs))
	for _, c := range s.configs {
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateConfig(_ context.Context, c alertconfig.Config, activate bool) (alertconfig.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConfigID++
	c.ID = s.nextConfigID
	c.IsActive = false
	s.configs[c.ID] = clone(c)
	if activate {
		s.activateLocked(c.ID, c.UpdatedAt)
	}
	return clone(s.configs[c.ID]), nil
}

func (s *Store) ActivateConfig(_ context.Context, id int64, at time.Time) (alertconfig.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; !ok {
		return alertconfig.Config{}, alertconfig.ErrConfigNotFound
	}
	s.activateLocked(id, at)
	return clone(s.configs[id]), nil
}

func (s *Store) activateLocked(id int64, at time.Time) {
	for cid, c := range s.configs {
		want := cid == id
		if c.IsActive != want {
			c.IsActive = want
			c.UpdatedAt = at
			s.configs[cid] = c
		}
	}
}

func clone(c alertconfig.Config) alertconfig.Config {
	c.Channels = append([]alertconfig.Channel(nil), c.Channels...)
	c.ContactPriority = append([]alertconfig.Role(nil), c.ContactPriority...)
	return c
}

// --------------------------------------------------------------------------
// Notification records
// --------------------------------------------------------------------------

func (s *Store) Claim(_ context.Context, eventID int64, ch notifications.Channel, recipient string, at time.Time) (notifications.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{eventID, ch}

	if e, ok := s.events[eventID]; !ok || e.DeletedAt != nil || e.Status != falls.StatusDetected {
		return notifications.Record{}, false, notifications.ErrEventHalted
	}

	rec, exists := s.records[key]
	if !exists {
		rec = notifications.Record{
			ID:          uuid.NewString(),
			FallEventID: eventID,
			Channel:     ch,
			Recipient:   recipient,
			Status:      notifications.RecordPending,
			Attempts:    1,
			CreatedAt:   at,
			UpdatedAt:   at,
		}
		s.records[key] = rec
		return rec, true, nil
	}
	if rec.Status != notifications.RecordFailed {
		return rec, false, nil
	}

	rec.Status = notifications.RecordPending
	rec.Recipient = recipient
	rec.ErrorMessage = nil
	rec.Attempts++
	rec.UpdatedAt = at
	s.records[key] = rec
	return rec, true, nil
}

func (s *Store) MarkSent(_ context.Context, id string, at time.Time) error {
	return s.finish(id, func(r *notifications.Record) {
		r.Status = notifications.RecordSent
		r.SentAt = &at
		r.ErrorMessage = nil
		r.UpdatedAt = at
	})
}

func (s *Store) MarkFailed(_ context.Context, id string, reason string, at time.Time) error {
	return s.finish(id, func(r *notifications.Record) {
		r.Status = notifications.RecordFailed
		r.ErrorMessage = &reason
		r.UpdatedAt = at
	})
}

// finish applies fn to the pending record id. Records in any other state
// are left alone.
func (s *Store) finish(id string, fn func(r *notifications.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.records {
		if r.ID != id {
			continue
		}
		if r.Status == notifications.RecordPending {
			fn(&r)
			s.records[k] = r
		}
		return nil
	}
	return nil
}

func (s *Store) ListByEvent(_ context.Context, eventID int64) ([]notifications.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notifications.Record
	for k, r := range s.records {
		if k.eventID == eventID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Channel < out[j].Channel
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ReapStalePending fails pending records untouched since before cutoff so
// the next dispatch can reclaim them.
func (s *Store) ReapStalePending(_ context.Context, cutoff time.Time, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	reason := "abandoned while pending"
	for k, r := range s.records {
		if r.Status == notifications.RecordPending && r.UpdatedAt.Before(cutoff) {
			r.Status = notifications.RecordFailed
			r.ErrorMessage = &reason
			r.UpdatedAt = at
			s.records[k] = r
			n++
		}
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Profiles
// --------------------------------------------------------------------------

func (s *Store) GetProfile(_ context.Context, subjectID int64) (profiles.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[subjectID]
	if !ok {
		return profiles.Profile{}, profiles.ErrProfileNotFound
	}
	return p, nil
}

// PutProfile seeds a profile.
func (s *Store) PutProfile(p profiles.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.SubjectID] = p
}

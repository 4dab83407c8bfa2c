// Package postgres implements the service's storage interfaces on top of the
// prepared statements registered by internal/db.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/notifications"
	"github.com/fallguard/fallguard/internal/profiles"
)

// Store is backed by a pool whose connections carry the db package's
// prepared statements.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --------------------------------------------------------------------------
// Fall events
// --------------------------------------------------------------------------

func scanEvent(row pgx.Row) (falls.Event, error) {
	var (
		e      falls.Event
		status string
		sensor []byte
	)
	err := row.Scan(&e.ID, &e.SubjectID, &e.DetectedAt, &status, &e.Notes, &sensor,
		&e.ResolvedAt, &e.ResolvedBy, &e.ResponseTimeSeconds, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return falls.Event{}, err
	}
	e.Status = falls.Status(status)
	if len(sensor) > 0 {
		e.SensorData = sensor
	}
	return e, nil
}

func sensorParam(e falls.Event) []byte {
	if len(e.SensorData) == 0 {
		return nil
	}
	return e.SensorData
}

func (s *Store) CreateEvent(ctx context.Context, e falls.Event) (falls.Event, error) {
	return scanEvent(s.pool.QueryRow(ctx, "event_insert",
		e.SubjectID, e.DetectedAt, string(e.Status), e.Notes, sensorParam(e), e.CreatedAt))
}

func (s *Store) GetEvent(ctx context.Context, id int64) (falls.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx, "event_get", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return falls.Event{}, falls.ErrEventNotFound
	}
	return e, err
}

func (s *Store) ListEvents(ctx context.Context, f falls.Filter) (falls.Page, error) {
	f = f.Normalize()
	var status *string
	if f.Status != nil {
		v := string(*f.Status)
		status = &v
	}

	var total int
	if err := s.pool.QueryRow(ctx, "event_count", f.SubjectID, status).Scan(&total); err != nil {
		return falls.Page{}, fmt.Errorf("count fall events: %w", err)
	}

	rows, err := s.pool.Query(ctx, "event_list", f.SubjectID, status, f.PerPage, f.Offset())
	if err != nil {
		return falls.Page{}, fmt.Errorf("list fall events: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return falls.Page{}, err
	}
	return falls.NewPage(events, f, total), nil
}

func (s *Store) DetectedEvents(ctx context.Context) ([]falls.Event, error) {
	rows, err := s.pool.Query(ctx, "event_detected")
	if err != nil {
		return nil, fmt.Errorf("query detected events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]falls.Event, error) {
	defer rows.Close()
	var out []falls.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fall event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEvent(ctx context.Context, e falls.Event, expected falls.Status) (falls.Event, error) {
	saved, err := scanEvent(s.pool.QueryRow(ctx, "event_update",
		e.ID, string(e.Status), e.Notes, sensorParam(e), e.ResolvedAt, e.ResolvedBy,
		e.ResponseTimeSeconds, e.UpdatedAt, string(expected)))
	if errors.Is(err, pgx.ErrNoRows) {
		// either gone or the status moved underneath us
		if _, getErr := s.GetEvent(ctx, e.ID); getErr != nil {
			return falls.Event{}, getErr
		}
		return falls.Event{}, falls.ErrStale
	}
	return saved, err
}

func (s *Store) SoftDeleteEvent(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, "event_soft_delete", id, at)
	if err != nil {
		return fmt.Errorf("soft-delete fall event %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return falls.ErrEventNotFound
	}
	return nil
}

// PurgeDeleted hard-deletes events soft-deleted before cutoff that have no
// notification records.
func (s *Store) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "event_purge_deleted", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deleted events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --------------------------------------------------------------------------
// Alert configs
// --------------------------------------------------------------------------

func scanConfig(row pgx.Row) (alertconfig.Config, error) {
	var (
		c        alertconfig.Config
		channels []string
		priority []string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.IsActive, &c.ThresholdSeconds,
		&c.EscalationDelaySeconds, &c.MaxEscalationLevel, &channels, &priority,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return alertconfig.Config{}, err
	}
	for _, ch := range channels {
		c.Channels = append(c.Channels, alertconfig.Channel(ch))
	}
	for _, r := range priority {
		c.ContactPriority = append(c.ContactPriority, alertconfig.Role(r))
	}
	return c, nil
}

func configNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return alertconfig.ErrConfigNotFound
	}
	return err
}

func (s *Store) ActiveConfig(ctx context.Context) (alertconfig.Config, error) {
	c, err := scanConfig(s.pool.QueryRow(ctx, "config_active"))
	return c, configNotFound(err)
}

func (s *Store) GetConfig(ctx context.Context, id int64) (alertconfig.Config, error) {
	c, err := scanConfig(s.pool.QueryRow(ctx, "config_get", id))
	return c, configNotFound(err)
}

func (s *Store) ListConfigs(ctx context.Context) ([]alertconfig.Config, error) {
	rows, err := s.pool.Query(ctx, "config_list")
	if err != nil {
		return nil, fmt.Errorf("list alert configs: %w", err)
	}
	defer rows.Close()

	var out []alertconfig.Config
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateConfig(ctx context.Context, c alertconfig.Config, activate bool) (alertconfig.Config, error) {
	channels := make([]string, len(c.Channels))
	for i, ch := range c.Channels {
		channels[i] = string(ch)
	}
	priority := make([]string, len(c.ContactPriority))
	for i, r := range c.ContactPriority {
		priority[i] = string(r)
	}

	var created alertconfig.Config
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		created, err = scanConfig(tx.QueryRow(ctx, "config_insert",
			c.Name, c.Description, c.ThresholdSeconds, c.EscalationDelaySeconds,
			c.MaxEscalationLevel, channels, priority, c.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert alert config: %w", err)
		}
		if activate {
			created, err = activateTx(ctx, tx, created.ID, c.UpdatedAt)
		}
		return err
	})
	return created, err
}

// ActivateConfig clears every active flag and sets id's inside one
// transaction. The partial unique index rejects any interleaving that would
// leave two rows active.
func (s *Store) ActivateConfig(ctx context.Context, id int64, at time.Time) (alertconfig.Config, error) {
	var activated alertconfig.Config
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		activated, err = activateTx(ctx, tx, id, at)
		return err
	})
	return activated, err
}

func activateTx(ctx context.Context, tx pgx.Tx, id int64, at time.Time) (alertconfig.Config, error) {
	if _, err := tx.Exec(ctx, "config_deactivate_all", at); err != nil {
		return alertconfig.Config{}, fmt.Errorf("deactivate alert configs: %w", err)
	}
	c, err := scanConfig(tx.QueryRow(ctx, "config_activate", id, at))
	if err != nil {
		return alertconfig.Config{}, configNotFound(err)
	}
	return c, nil
}

// --------------------------------------------------------------------------
// Notification records
// --------------------------------------------------------------------------

func scanRecord(row pgx.Row) (notifications.Record, error) {
	var (
		r       notifications.Record
		id      uuid.UUID
		channel string
		status  string
	)
	err := row.Scan(&id, &r.FallEventID, &channel, &r.Recipient, &status, &r.SentAt,
		&r.ErrorMessage, &r.Attempts, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return notifications.Record{}, err
	}
	r.ID = id.String()
	r.Channel = notifications.Channel(channel)
	r.Status = notifications.RecordStatus(status)
	return r, nil
}

// Claim relies on INSERT ... ON CONFLICT DO UPDATE ... WHERE status =
// 'failed': a row comes back only when this call inserted or reclaimed it.
func (s *Store) Claim(ctx context.Context, eventID int64, ch notifications.Channel, recipient string, at time.Time) (notifications.Record, bool, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, "record_claim",
		uuid.New(), eventID, string(ch), recipient, at))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return notifications.Record{}, false, fmt.Errorf("claim %s record for event %d: %w", ch, eventID, err)
	}

	// No row: either the record is not reclaimable or the event has left
	// detected.
	var claimable bool
	if err := s.pool.QueryRow(ctx, "event_claimable", eventID).Scan(&claimable); err != nil {
		return notifications.Record{}, false, fmt.Errorf("check event %d: %w", eventID, err)
	}
	if !claimable {
		return notifications.Record{}, false, notifications.ErrEventHalted
	}

	rec, err = scanRecord(s.pool.QueryRow(ctx, "record_get_by_key", eventID, string(ch)))
	if err != nil {
		return notifications.Record{}, false, fmt.Errorf("load %s record for event %d: %w", ch, eventID, err)
	}
	return rec, false, nil
}

func (s *Store) MarkSent(ctx context.Context, id string, at time.Time) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("record id %q: %w", id, err)
	}
	if _, err := s.pool.Exec(ctx, "record_mark_sent", uid, at); err != nil {
		return fmt.Errorf("mark record %s sent: %w", id, err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("record id %q: %w", id, err)
	}
	if _, err := s.pool.Exec(ctx, "record_mark_failed", uid, reason, at); err != nil {
		return fmt.Errorf("mark record %s failed: %w", id, err)
	}
	return nil
}

func (s *Store) ListByEvent(ctx context.Context, eventID int64) ([]notifications.Record, error) {
	rows, err := s.pool.Query(ctx, "record_list_by_event", eventID)
	if err != nil {
		return nil, fmt.Errorf("list records for event %d: %w", eventID, err)
	}
	defer rows.Close()

	var out []notifications.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReapStalePending fails pending records last touched before cutoff.
func (s *Store) ReapStalePending(ctx context.Context, cutoff time.Time, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "record_reap_pending", cutoff, at)
	if err != nil {
		return 0, fmt.Errorf("reap stale pending records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --------------------------------------------------------------------------
// Profiles
// --------------------------------------------------------------------------

func (s *Store) GetProfile(ctx context.Context, subjectID int64) (profiles.Profile, error) {
	var p profiles.Profile
	err := s.pool.QueryRow(ctx, "profile_get", subjectID).
		Scan(&p.SubjectID, &p.Name, &p.Email, &p.Phone, &p.DeviceToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return profiles.Profile{}, profiles.ErrProfileNotFound
	}
	if err != nil {
		return profiles.Profile{}, fmt.Errorf("get profile %d: %w", subjectID, err)
	}

	rows, err := s.pool.Query(ctx, "profile_caregivers", subjectID)
	if err != nil {
		return profiles.Profile{}, fmt.Errorf("get caregivers for %d: %w", subjectID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cg   profiles.Caregiver
			role string
		)
		if err := rows.Scan(&role, &cg.Name, &cg.Email, &cg.Phone, &cg.DeviceToken); err != nil {
			return profiles.Profile{}, fmt.Errorf("scan caregiver: %w", err)
		}
		cg.Role = alertconfig.Role(role)
		p.Caregivers = append(p.Caregivers, cg)
	}
	return p, rows.Err()
}

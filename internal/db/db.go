// Package db provides a pgxpool-based connection pool with prepared statement
// registration, schema bootstrap and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fallguard/fallguard/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

const (
	eventColumns = `id, subject_id, detected_at, status, notes, sensor_data, resolved_at,
		resolved_by, response_time_seconds, created_at, updated_at`
	configColumns = `id, name, description, is_active, threshold_seconds, escalation_delay_seconds,
		max_escalation_level, channels, contact_priority, created_at, updated_at`
	recordColumns = `id, fall_event_id, channel, recipient, status, sent_at, error_message,
		attempts, created_at, updated_at`
)

// registerPreparedStatements registers the statements the storage layer uses.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Fall events
		"event_insert": `INSERT INTO fall_events
			(subject_id, detected_at, status, notes, sensor_data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			RETURNING ` + eventColumns,
		"event_get": "SELECT " + eventColumns + " FROM fall_events WHERE id = $1 AND deleted_at IS NULL",
		"event_list": `SELECT ` + eventColumns + `
			FROM fall_events
			WHERE deleted_at IS NULL
			  AND ($1::bigint IS NULL OR subject_id = $1)
			  AND ($2::text IS NULL OR status = $2)
			ORDER BY detected_at DESC, id DESC
			LIMIT $3 OFFSET $4`,
		"event_count": `SELECT COUNT(*) FROM fall_events
			WHERE deleted_at IS NULL
			  AND ($1::bigint IS NULL OR subject_id = $1)
			  AND ($2::text IS NULL OR status = $2)`,
		"event_detected": `SELECT ` + eventColumns + ` FROM fall_events
			WHERE status = 'detected' AND deleted_at IS NULL
			ORDER BY updated_at`,
		"event_update": `UPDATE fall_events
			SET status = $2, notes = $3, sensor_data = $4, resolved_at = $5, resolved_by = $6,
			    response_time_seconds = $7, updated_at = $8
			WHERE id = $1 AND status = $9 AND deleted_at IS NULL
			RETURNING ` + eventColumns,
		"event_soft_delete": `UPDATE fall_events SET deleted_at = $2, updated_at = $2
			WHERE id = $1 AND deleted_at IS NULL`,
		"event_purge_deleted": `DELETE FROM fall_events
			WHERE deleted_at IS NOT NULL AND deleted_at < $1
			  AND NOT EXISTS (SELECT 1 FROM notification_records r WHERE r.fall_event_id = fall_events.id)`,
		"event_claimable": `SELECT EXISTS (SELECT 1 FROM fall_events
			WHERE id = $1 AND status = 'detected' AND deleted_at IS NULL)`,

		// Alert configs
		"config_active": "SELECT " + configColumns + " FROM alert_configs WHERE is_active",
		"config_get":    "SELECT " + configColumns + " FROM alert_configs WHERE id = $1",
		"config_list":   "SELECT " + configColumns + " FROM alert_configs ORDER BY id",
		"config_insert": `INSERT INTO alert_configs
			(name, description, is_active, threshold_seconds, escalation_delay_seconds,
			 max_escalation_level, channels, contact_priority, created_at, updated_at)
			VALUES ($1, $2, false, $3, $4, $5, $6, $7, $8, $8)
			RETURNING ` + configColumns,
		"config_deactivate_all": "UPDATE alert_configs SET is_active = false, updated_at = $1 WHERE is_active",
		"config_activate": `UPDATE alert_configs SET is_active = true, updated_at = $2
			WHERE id = $1
			RETURNING ` + configColumns,

		// Notification records
		"record_claim": `INSERT INTO notification_records
			(id, fall_event_id, channel, recipient, status, attempts, created_at, updated_at)
			SELECT $1::uuid, $2::bigint, $3::text, $4::text, 'pending', 1, $5::timestamptz, $5::timestamptz
			WHERE EXISTS (SELECT 1 FROM fall_events
				WHERE id = $2 AND status = 'detected' AND deleted_at IS NULL)
			ON CONFLICT (fall_event_id, channel) DO UPDATE
			SET status = 'pending',
			    recipient = EXCLUDED.recipient,
			    error_message = NULL,
			    attempts = notification_records.attempts + 1,
			    updated_at = EXCLUDED.updated_at
			WHERE notification_records.status = 'failed'
			RETURNING ` + recordColumns,
		"record_get_by_key": "SELECT " + recordColumns + " FROM notification_records WHERE fall_event_id = $1 AND channel = $2",
		"record_mark_sent": `UPDATE notification_records
			SET status = 'sent', sent_at = $2, error_message = NULL, updated_at = $2
			WHERE id = $1 AND status = 'pending'`,
		"record_mark_failed": `UPDATE notification_records
			SET status = 'failed', error_message = $2, updated_at = $3
			WHERE id = $1 AND status = 'pending'`,
		"record_list_by_event": `SELECT ` + recordColumns + ` FROM notification_records
			WHERE fall_event_id = $1 ORDER BY created_at, channel`,
		"record_reap_pending": `UPDATE notification_records
			SET status = 'failed', error_message = 'abandoned while pending', updated_at = $2
			WHERE status = 'pending' AND updated_at < $1`,

		// Profiles
		"profile_get": "SELECT subject_id, name, email, phone, device_token FROM profiles WHERE subject_id = $1",
		"profile_caregivers": `SELECT role, name, email, phone, device_token FROM caregivers
			WHERE subject_id = $1 ORDER BY id`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}

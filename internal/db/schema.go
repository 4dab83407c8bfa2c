package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schema is idempotent. It creates only what the service reads and writes;
// profile data is owned by another system and merely consumed here.
const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	subject_id   BIGINT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	device_token TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS caregivers (
	id           BIGSERIAL PRIMARY KEY,
	subject_id   BIGINT NOT NULL REFERENCES profiles(subject_id) ON DELETE CASCADE,
	role         TEXT NOT NULL CHECK (role IN ('primary', 'secondary', 'emergency')),
	name         TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	device_token TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS caregivers_subject_idx ON caregivers (subject_id);

CREATE TABLE IF NOT EXISTS fall_events (
	id                    BIGSERIAL PRIMARY KEY,
	subject_id            BIGINT NOT NULL REFERENCES profiles(subject_id),
	detected_at           TIMESTAMPTZ NOT NULL,
	status                TEXT NOT NULL DEFAULT 'detected'
	                      CHECK (status IN ('detected', 'confirmed', 'false_alarm', 'resolved')),
	notes                 TEXT NOT NULL DEFAULT '',
	sensor_data           JSONB,
	resolved_at           TIMESTAMPTZ,
	resolved_by           TEXT,
	response_time_seconds BIGINT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at            TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS fall_events_detected_idx
	ON fall_events (updated_at) WHERE status = 'detected' AND deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS fall_events_subject_idx ON fall_events (subject_id, detected_at DESC);

CREATE TABLE IF NOT EXISTS alert_configs (
	id                       BIGSERIAL PRIMARY KEY,
	name                     TEXT NOT NULL,
	description              TEXT NOT NULL DEFAULT '',
	is_active                BOOLEAN NOT NULL DEFAULT false,
	threshold_seconds        INTEGER NOT NULL CHECK (threshold_seconds > 0),
	escalation_delay_seconds INTEGER NOT NULL DEFAULT 0 CHECK (escalation_delay_seconds >= 0),
	max_escalation_level     INTEGER NOT NULL DEFAULT 1 CHECK (max_escalation_level >= 1),
	channels                 TEXT[] NOT NULL DEFAULT '{}',
	contact_priority         TEXT[] NOT NULL DEFAULT '{}',
	created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS alert_configs_one_active
	ON alert_configs (is_active) WHERE is_active;

CREATE TABLE IF NOT EXISTS notification_records (
	id            UUID PRIMARY KEY,
	fall_event_id BIGINT NOT NULL REFERENCES fall_events(id) ON DELETE RESTRICT,
	channel       TEXT NOT NULL,
	recipient     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL CHECK (status IN ('pending', 'sent', 'failed')),
	sent_at       TIMESTAMPTZ,
	error_message TEXT,
	attempts      INTEGER NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (fall_event_id, channel)
);
CREATE INDEX IF NOT EXISTS notification_records_pending_idx
	ON notification_records (updated_at) WHERE status = 'pending';

-- delivery history must outlive event purges
DO $$
BEGIN
	IF EXISTS (SELECT 1 FROM pg_constraint
		WHERE conname = 'notification_records_fall_event_id_fkey' AND confdeltype <> 'r') THEN
		ALTER TABLE notification_records DROP CONSTRAINT notification_records_fall_event_id_fkey;
		ALTER TABLE notification_records ADD CONSTRAINT notification_records_fall_event_id_fkey
			FOREIGN KEY (fall_event_id) REFERENCES fall_events(id) ON DELETE RESTRICT;
	END IF;
END $$;

CREATE OR REPLACE FUNCTION notify_fall_event_updated() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('fall_event_updated', json_build_object(
		'id', NEW.id,
		'status', NEW.status,
		'ts', floor(extract(epoch FROM NOW()))::bigint
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS fall_events_notify ON fall_events;
CREATE TRIGGER fall_events_notify
	AFTER INSERT OR UPDATE ON fall_events
	FOR EACH ROW EXECUTE FUNCTION notify_fall_event_updated();
`

// Migrate applies the schema over a one-off connection. It must run before
// New, whose connections prepare statements against these tables.
func Migrate(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

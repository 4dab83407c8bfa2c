// Package listener provides a Postgres LISTEN/NOTIFY consumer for fall event
// changes. It holds a dedicated pgx connection (not from the pool) listening
// on the `fall_event_updated` channel, fed by a trigger on fall_events.
//
// This covers writes made by other replicas or directly in SQL; updates made
// through this process's API already ran the hook.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	channel          = "fall_event_updated"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// UpdateEvent is the JSON payload from pg_notify('fall_event_updated', ...).
type UpdateEvent struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"ts"`
}

// Handler receives one event id per notification.
type Handler interface {
	EventUpdated(ctx context.Context, eventID int64)
}

// Start opens a dedicated connection and listens on the fall_event_updated
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, h Handler, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, h, logger)
		if ctx.Err() != nil {
			logger.Info("Fall event listener stopped (context cancelled)")
			return
		}

		logger.Error("Fall event listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, h Handler, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("Fall event listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		handlePayload(ctx, notification.Payload, h, logger)
	}
}

// handlePayload decodes one notification and forwards escalation candidates.
// Only detected events can escalate, so everything else is dropped here.
func handlePayload(ctx context.Context, payload string, h Handler, logger *slog.Logger) {
	var event UpdateEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		logger.Warn("Failed to parse fall event notification",
			"payload", payload, "error", err)
		return
	}
	if event.Status != "detected" || event.ID <= 0 {
		return
	}

	logger.Debug("Fall event update received", "event_id", event.ID, "status", event.Status)

	// Process asynchronously to avoid blocking the listener
	go h.EventUpdated(ctx, event.ID)
}

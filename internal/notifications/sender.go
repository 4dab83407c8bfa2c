package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrChannelNotConfigured is returned by a channel with no transport.
var ErrChannelNotConfigured = errors.New("channel not configured")

// Sender delivers one message to one recipient over one channel.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, recipient string, msg Message) error
}

// SafeSend calls s.Send and turns a panic into an error.
func SafeSend(ctx context.Context, s Sender, recipient string, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s sender panicked: %v", s.Channel(), r)
		}
	}()
	return s.Send(ctx, recipient, msg)
}

// LogSender logs instead of delivering. With DryRun unset it fails every send
// with ErrChannelNotConfigured so the record stays retryable.
type LogSender struct {
	Ch     Channel
	DryRun bool
	Logger *slog.Logger
}

func (s LogSender) Channel() Channel { return s.Ch }

func (s LogSender) Send(ctx context.Context, recipient string, msg Message) error {
	if !s.DryRun {
		return fmt.Errorf("%s: %w", s.Ch, ErrChannelNotConfigured)
	}
	s.Logger.Info("Notification send (dry run)",
		"channel", s.Ch, "recipient", recipient, "subject", msg.Subject, "text", msg.Short)
	return nil
}

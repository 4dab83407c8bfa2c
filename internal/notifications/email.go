package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"

	"github.com/fallguard/fallguard/internal/alertconfig"
)

// SMTPConfig configures EmailSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type mailer interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error
}

// EmailSender delivers alerts over SMTP.
type EmailSender struct {
	from   string
	client mailer
	logger *slog.Logger
}

// NewEmailSender returns nil when cfg.Host is empty (email disabled).
func NewEmailSender(cfg SMTPConfig, logger *slog.Logger) (*EmailSender, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &EmailSender{from: cfg.From, client: client, logger: logger}, nil
}

func (s *EmailSender) Channel() Channel { return alertconfig.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, recipient string, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("set from %q: %w", s.from, err)
	}
	if err := m.To(recipient); err != nil {
		return fmt.Errorf("set recipient %q: %w", recipient, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	s.logger.Debug("Email sent", "recipient", recipient)
	return nil
}

package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/fallguard/fallguard/internal/alertconfig"
)

// SMSConfig configures SMSSender against a Twilio-compatible gateway.
type SMSConfig struct {
	GatewayURL string
	AccountSID string
	AuthToken  string
	From       string
	// PerSecond caps outbound messages; zero means 1/s.
	PerSecond float64
}

// SMSSender posts messages to an HTTP SMS gateway.
type SMSSender struct {
	cfg     SMSConfig
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSMSSender returns nil when cfg.GatewayURL is empty (SMS disabled).
func NewSMSSender(cfg SMSConfig, logger *slog.Logger) *SMSSender {
	if cfg.GatewayURL == "" {
		return nil
	}
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 1
	}
	client := resty.New().
		SetBaseURL(cfg.GatewayURL).
		SetTimeout(10*time.Second).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("Accept", "application/json")

	return &SMSSender{
		cfg:     cfg,
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), 1),
		logger:  logger,
	}
}

func (s *SMSSender) Channel() Channel { return alertconfig.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, recipient string, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sms throttle: %w", err)
	}

	var result struct {
		SID     string `json:"sid"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   recipient,
			"From": s.cfg.From,
			"Body": msg.Short,
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/Accounts/%s/Messages.json", s.cfg.AccountSID))
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode(), result.Message)
	}

	s.logger.Debug("SMS accepted", "recipient", recipient, "sid", result.SID, "status", result.Status)
	return nil
}

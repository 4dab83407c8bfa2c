package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fallguard/fallguard/internal/alertconfig"
)

// PushConfig configures PushSender against an FCM-style HTTP gateway.
type PushConfig struct {
	GatewayURL string
	ServerKey  string
}

type pushRequest struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Notification pushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type pushNotification struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Sound     string `json:"sound"`
	ChannelID string `json:"android_channel_id"`
}

type pushResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

// PushSender delivers device push notifications.
type PushSender struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewPushSender returns nil when cfg.GatewayURL is empty (push disabled).
func NewPushSender(cfg PushConfig, logger *slog.Logger) *PushSender {
	if cfg.GatewayURL == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL(cfg.GatewayURL).
		SetTimeout(10*time.Second).
		SetAuthScheme("key").
		SetAuthToken(cfg.ServerKey).
		SetHeader("Content-Type", "application/json")
	return &PushSender{http: client, logger: logger}
}

func (s *PushSender) Channel() Channel { return alertconfig.ChannelPush }

func (s *PushSender) Send(ctx context.Context, recipient string, msg Message) error {
	var out pushResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(pushRequest{
			To:       recipient,
			Priority: "high",
			Notification: pushNotification{
				Title:     msg.Subject,
				Body:      msg.Short,
				Sound:     "default",
				ChannelID: "fall_alerts",
			},
			Data: msg.Data,
		}).
		SetResult(&out).
		Post("/send")
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Failure > 0 {
		reason := "unknown"
		if len(out.Results) > 0 && out.Results[0].Error != "" {
			reason = out.Results[0].Error
		}
		return fmt.Errorf("push rejected: %s", reason)
	}

	s.logger.Debug("Push accepted", "recipient", recipient)
	return nil
}

// Package client is a small Go client for the Fallguard HTTP API plus the
// device-side grace-period countdown that runs alongside a freshly created
// fall event.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Fall event statuses as reported by the server.
const (
	StatusDetected   = "detected"
	StatusConfirmed  = "confirmed"
	StatusFalseAlarm = "false_alarm"
	StatusResolved   = "resolved"
)

type FallEvent struct {
	ID                  int64           `json:"id"`
	SubjectID           int64           `json:"subjectId"`
	DetectedAt          time.Time       `json:"detectedAt"`
	Status              string          `json:"status"`
	Notes               string          `json:"notes"`
	SensorData          json.RawMessage `json:"sensorData,omitempty"`
	ResolvedAt          *time.Time      `json:"resolvedAt,omitempty"`
	ResolvedBy          *string         `json:"resolvedBy,omitempty"`
	ResponseTimeSeconds *int64          `json:"responseTimeSeconds,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Halted reports whether the server will never escalate the event again.
func (e FallEvent) Halted() bool {
	return e.Status == StatusFalseAlarm || e.Status == StatusResolved
}

type FallEventPage struct {
	Data     []FallEvent `json:"data"`
	Page     int         `json:"page"`
	PerPage  int         `json:"perPage"`
	Total    int         `json:"total"`
	LastPage int         `json:"lastPage"`
}

type AlertConfig struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	Description            string    `json:"description"`
	IsActive               bool      `json:"isActive"`
	ThresholdSeconds       int       `json:"thresholdSeconds"`
	EscalationDelaySeconds int       `json:"escalationDelaySeconds"`
	MaxEscalationLevel     int       `json:"maxEscalationLevel"`
	Channels               []string  `json:"channels"`
	ContactPriority        []string  `json:"contactPriority"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

type CreateFallEventRequest struct {
	SubjectID  int64           `json:"subjectId"`
	DetectedAt time.Time       `json:"detectedAt"`
	SensorData json.RawMessage `json:"sensorData,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

// UpdateFallEventRequest carries only the fields to change.
type UpdateFallEventRequest struct {
	Status     *string         `json:"status,omitempty"`
	Notes      *string         `json:"notes,omitempty"`
	ResolvedAt *time.Time      `json:"resolvedAt,omitempty"`
	ResolvedBy *string         `json:"resolvedBy,omitempty"`
	SensorData json.RawMessage `json:"sensorData,omitempty"`
}

type ListOptions struct {
	SubjectID int64
	Status    string
	Page      int
	PerPage   int
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// Fields is set for 422 responses.
	Fields map[string][]string
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
		}
		return fmt.Sprintf("fallguard: validation failed (%s)", strings.Join(parts, "; "))
	}
	if e.Code != "" {
		return fmt.Sprintf("fallguard: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("fallguard: unexpected status %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409, e.g. an invalid state transition.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}

type errorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Errors map[string][]string `json:"errors"`
}

type Client struct {
	http *resty.Client
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	// Only idempotent reads are retried on 5xx.
	c.AddRetryCondition(func(r *resty.Response, err error) bool {
		if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
			return false
		}
		return err != nil || r.StatusCode() >= 500
	})
	return &Client{http: c}
}

// SetAuthToken sends a bearer token with every request.
func (c *Client) SetAuthToken(token string) *Client {
	c.http.SetAuthToken(token)
	return c
}

func (c *Client) CreateFallEvent(ctx context.Context, req CreateFallEventRequest) (FallEvent, error) {
	var out FallEvent
	resp, err := c.http.R().SetContext(ctx).SetBody(req).SetResult(&out).Post("/fall-events")
	return out, check(resp, err)
}

func (c *Client) GetFallEvent(ctx context.Context, id int64) (FallEvent, error) {
	var out FallEvent
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Get("/fall-events/{id}")
	return out, check(resp, err)
}

func (c *Client) UpdateFallEvent(ctx context.Context, id int64, req UpdateFallEventRequest) (FallEvent, error) {
	var out FallEvent
	resp, err := c.http.R().SetContext(ctx).SetBody(req).SetResult(&out).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Patch("/fall-events/{id}")
	return out, check(resp, err)
}

// MarkFalseAlarm is idempotent on the server; marking a resolved event fails
// with a conflict.
func (c *Client) MarkFalseAlarm(ctx context.Context, id int64, notes string) (FallEvent, error) {
	body := map[string]string{}
	if notes != "" {
		body["notes"] = notes
	}
	var out FallEvent
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(&out).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Patch("/fall-events/{id}/false-alarm")
	return out, check(resp, err)
}

func (c *Client) ListFallEvents(ctx context.Context, opts ListOptions) (FallEventPage, error) {
	r := c.http.R().SetContext(ctx)
	if opts.SubjectID > 0 {
		r.SetQueryParam("subjectId", strconv.FormatInt(opts.SubjectID, 10))
	}
	if opts.Status != "" {
		r.SetQueryParam("status", opts.Status)
	}
	if opts.Page > 0 {
		r.SetQueryParam("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		r.SetQueryParam("perPage", strconv.Itoa(opts.PerPage))
	}
	var out FallEventPage
	resp, err := r.SetResult(&out).Get("/fall-events")
	return out, check(resp, err)
}

func (c *Client) ActiveConfig(ctx context.Context) (AlertConfig, error) {
	var out AlertConfig
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/alert-config/active")
	return out, check(resp, err)
}

func (c *Client) ActivateConfig(ctx context.Context, id int64) (AlertConfig, error) {
	var out AlertConfig
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Post("/alert-config/{id}/activate")
	return out, check(resp, err)
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("fallguard request: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}
	ae := &APIError{StatusCode: resp.StatusCode()}
	var body errorBody
	if json.Unmarshal(resp.Body(), &body) == nil {
		if body.Error != nil {
			ae.Code = body.Error.Code
			ae.Message = body.Error.Message
		}
		ae.Fields = body.Errors
	}
	return ae
}

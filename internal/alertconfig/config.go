// Package alertconfig holds the tunables that decide when and how a fall
// event is escalated. Exactly one configuration is active at a time.
package alertconfig

import (
	"fmt"
	"time"

	"github.com/fallguard/fallguard/internal/apperr"
)

// Channel names a notification transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Role is a caregiver contact role.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
	RoleEmergency Role = "emergency"
)

func (r Role) Valid() bool {
	switch r {
	case RolePrimary, RoleSecondary, RoleEmergency:
		return true
	}
	return false
}

// Defaults used when no configuration has ever been activated.
const (
	DefaultName                   = "default"
	DefaultThresholdSeconds       = 30
	DefaultEscalationDelaySeconds = 300
	DefaultMaxEscalationLevel     = 3
)

var ErrConfigNotFound = fmt.Errorf("alert config %w", apperr.ErrNotFound)

// Config is one named set of escalation tunables.
type Config struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	Description            string    `json:"description"`
	IsActive               bool      `json:"isActive"`
	ThresholdSeconds       int       `json:"thresholdSeconds"`
	EscalationDelaySeconds int       `json:"escalationDelaySeconds"`
	MaxEscalationLevel     int       `json:"maxEscalationLevel"`
	Channels               []Channel `json:"channels"`
	ContactPriority        []Role    `json:"contactPriority"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// Default returns the configuration materialized when none is active.
func Default() Config {
	return Config{
		Name:                   DefaultName,
		Description:            "Default fall detection alert configuration",
		IsActive:               true,
		ThresholdSeconds:       DefaultThresholdSeconds,
		EscalationDelaySeconds: DefaultEscalationDelaySeconds,
		MaxEscalationLevel:     DefaultMaxEscalationLevel,
		Channels:               []Channel{ChannelEmail, ChannelSMS},
		ContactPriority:        []Role{RolePrimary, RoleSecondary, RoleEmergency},
	}
}

// Threshold is how long an event must sit in detected before escalation.
func (c Config) Threshold() time.Duration {
	return time.Duration(c.ThresholdSeconds) * time.Second
}

// EscalationDelay is stored and exposed but escalation is single-level.
func (c Config) EscalationDelay() time.Duration {
	return time.Duration(c.EscalationDelaySeconds) * time.Second
}

// Validate checks field ranges and duplicates.
func (c Config) Validate() error {
	ve := &apperr.ValidationError{}
	if c.Name == "" {
		ve.Add("name", "is required")
	}
	if c.ThresholdSeconds <= 0 {
		ve.Add("thresholdSeconds", "must be greater than 0")
	}
	if c.EscalationDelaySeconds < 0 {
		ve.Add("escalationDelaySeconds", "must not be negative")
	}
	if c.MaxEscalationLevel < 1 {
		ve.Add("maxEscalationLevel", "must be at least 1")
	}

	seen := make(map[Channel]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if !ch.Valid() {
			ve.Add("channels", fmt.Sprintf("unknown channel %q", ch))
			continue
		}
		if seen[ch] {
			ve.Add("channels", fmt.Sprintf("duplicate channel %q", ch))
		}
		seen[ch] = true
	}

	seenRole := make(map[Role]bool, len(c.ContactPriority))
	for _, r := range c.ContactPriority {
		if !r.Valid() {
			ve.Add("contactPriority", fmt.Sprintf("unknown role %q", r))
			continue
		}
		if seenRole[r] {
			ve.Add("contactPriority", fmt.Sprintf("duplicate role %q", r))
		}
		seenRole[r] = true
	}
	return ve.OrNil()
}

// Usable reports a ConfigurationError when escalation cannot run with c.
func (c Config) Usable() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("alert config %q has no channels: %w", c.Name, apperr.ErrConfiguration)
	}
	return nil
}

// Package config provides centralized configuration loaded from environment
// variables. Shared by cmd/api and cmd/fallguardctl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database. Empty DatabaseURL selects the in-memory backend, which is
	// refused in production.
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration
	DBAutoMigrate  bool

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool
	LogFormat   string // text, json

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Sweep
	SweepEnabled  bool
	SweepInterval time.Duration
	SweepWorkers  int

	// Redis sweep lease (optional)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Email
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// SMS
	SMSGatewayURL string
	SMSAccountSID string
	SMSAuthToken  string
	SMSFrom       string
	SMSPerSecond  float64

	// Push
	PushGatewayURL string
	PushServerKey  string

	// NotifyDryRun makes unconfigured channels log and succeed.
	NotifyDryRun bool

	// Maintenance
	PendingStaleAfter   time.Duration
	MaintenanceInterval time.Duration
	RetainDeleted       time.Duration

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,
		DBAutoMigrate:  envBool("DB_AUTO_MIGRATE", true),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),
		LogFormat:   envOr("LOG_FORMAT", "text"),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:8081",
			"http://localhost:19006",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		SweepEnabled:  envBool("SWEEP_ENABLED", true),
		SweepInterval: envDuration("SWEEP_INTERVAL", 60*time.Second),
		SweepWorkers:  envInt("SWEEP_WORKERS", 4),

		RedisAddr:     envOr("REDIS_ADDR", ""),
		RedisPassword: envOr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		SMTPHost:     envOr("SMTP_HOST", ""),
		SMTPPort:     envInt("SMTP_PORT", 587),
		SMTPUsername: envOr("SMTP_USERNAME", ""),
		SMTPPassword: envOr("SMTP_PASSWORD", ""),
		SMTPFrom:     envOr("SMTP_FROM", "alerts@fallguard.local"),

		SMSGatewayURL: envOr("SMS_GATEWAY_URL", ""),
		SMSAccountSID: envOr("SMS_ACCOUNT_SID", ""),
		SMSAuthToken:  envOr("SMS_AUTH_TOKEN", ""),
		SMSFrom:       envOr("SMS_FROM", ""),
		SMSPerSecond:  envFloat("SMS_PER_SECOND", 1),

		PushGatewayURL: envOr("PUSH_GATEWAY_URL", ""),
		PushServerKey:  envOr("PUSH_SERVER_KEY", ""),

		NotifyDryRun: envBool("NOTIFY_DRY_RUN", false),

		PendingStaleAfter:   envDuration("PENDING_STALE_AFTER", 5*time.Minute),
		MaintenanceInterval: envDuration("MAINTENANCE_INTERVAL", time.Minute),
		RetainDeleted:       envDuration("RETAIN_DELETED", 90*24*time.Hour),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" && c.IsProduction() {
		return fmt.Errorf("DATABASE_URL must be set in production")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.SweepWorkers < 1 {
		return fmt.Errorf("SWEEP_WORKERS must be at least 1, got %d", c.SweepWorkers)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s", "5m") or bare seconds ("60").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
	assert.Equal(t, 4, cfg.SweepWorkers)
	assert.True(t, cfg.SweepEnabled)
	assert.Equal(t, 5*time.Minute, cfg.PendingStaleAfter)
	assert.False(t, cfg.NotifyDryRun)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("SWEEP_WORKERS", "8")
	t.Setenv("PENDING_STALE_AFTER", "120")
	t.Setenv("CORS_ALLOW_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, 8, cfg.SweepWorkers)
	assert.Equal(t, 2*time.Minute, cfg.PendingStaleAfter)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowOrigins)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"production without database": {"ENVIRONMENT", "production"},
		"zero workers":                {"SWEEP_WORKERS", "0"},
		"negative interval":           {"SWEEP_INTERVAL", "-5s"},
		"unknown log format":          {"LOG_FORMAT", "xml"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("ENVIRONMENT", "development")
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

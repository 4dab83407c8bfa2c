// Package app wires storage, senders and services from configuration. Both
// binaries build on it so the CLI exercises exactly what the server runs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/cache"
	"github.com/fallguard/fallguard/internal/config"
	"github.com/fallguard/fallguard/internal/db"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/maintenance"
	"github.com/fallguard/fallguard/internal/metrics"
	"github.com/fallguard/fallguard/internal/notifications"
	"github.com/fallguard/fallguard/internal/profiles"
	"github.com/fallguard/fallguard/internal/storage/memory"
	"github.com/fallguard/fallguard/internal/storage/postgres"
	"github.com/fallguard/fallguard/internal/sweep"
)

const sweepLeaseKey = "fallguard:sweep:lease"

// Store is what a storage backend must provide.
type Store interface {
	falls.Store
	alertconfig.Store
	notifications.RecordStore
	profiles.Store
	maintenance.Store
}

type App struct {
	Cfg    *config.Config
	Logger *slog.Logger

	Pool  *db.Pool // nil with the in-memory backend
	Redis *redis.Client
	Store Store

	Events     *falls.Service
	Configs    *alertconfig.Service
	Dispatcher *notifications.Dispatcher
	Sweeper    *sweep.Sweeper
	Hook       *sweep.Hook
	Cache      *cache.Cache
	Metrics    *metrics.Metrics
}

// NewLogger builds the process logger from LOG_FORMAT and DEBUG.
func NewLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// New connects to storage and builds every service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Logger: logger}

	if cfg.DatabaseURL != "" {
		if cfg.DBAutoMigrate {
			if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		a.Store = postgres.New(pool.Pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		a.Store = memory.New()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(reg)
	a.Cache = cache.New(cfg.CacheEnabled)

	senders, err := buildSenders(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Configs = alertconfig.NewService(a.Store, logger)
	a.Configs.ChangeHook = func() { a.Cache.Invalidate(cache.KeyActiveConfig) }

	a.Events = falls.NewService(a.Store, profiles.Exists{Store: a.Store}, logger)
	a.Dispatcher = notifications.NewDispatcher(a.Store, a.Store, senders, a.Metrics, logger)

	var lease sweep.Lease
	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		lease = sweep.NewRedisLease(a.Redis, sweepLeaseKey, sweep.LeaseTTL(cfg.SweepInterval))
		logger.Info("Sweep lease enabled", "redis", cfg.RedisAddr)
	}

	a.Sweeper = sweep.New(a.Store, a.Configs, a.Dispatcher, sweep.Options{
		Workers: cfg.SweepWorkers,
		Lease:   lease,
		Metrics: a.Metrics,
	}, logger)
	a.Hook = sweep.NewHook(a.Sweeper)
	a.Events.OnUpdate(a.Hook.EventUpdated)

	return a, nil
}

// buildSenders picks a real transport per channel when configured, else a
// LogSender that only succeeds in dry-run mode.
func buildSenders(cfg *config.Config, logger *slog.Logger) ([]notifications.Sender, error) {
	var out []notifications.Sender

	email, err := notifications.NewEmailSender(notifications.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger)
	if err != nil {
		return nil, err
	}
	if email != nil {
		out = append(out, email)
	} else {
		out = append(out, notifications.LogSender{Ch: alertconfig.ChannelEmail, DryRun: cfg.NotifyDryRun, Logger: logger})
	}

	if sms := notifications.NewSMSSender(notifications.SMSConfig{
		GatewayURL: cfg.SMSGatewayURL,
		AccountSID: cfg.SMSAccountSID,
		AuthToken:  cfg.SMSAuthToken,
		From:       cfg.SMSFrom,
		PerSecond:  cfg.SMSPerSecond,
	}, logger); sms != nil {
		out = append(out, sms)
	} else {
		out = append(out, notifications.LogSender{Ch: alertconfig.ChannelSMS, DryRun: cfg.NotifyDryRun, Logger: logger})
	}

	if push := notifications.NewPushSender(notifications.PushConfig{
		GatewayURL: cfg.PushGatewayURL,
		ServerKey:  cfg.PushServerKey,
	}, logger); push != nil {
		out = append(out, push)
	} else {
		out = append(out, notifications.LogSender{Ch: alertconfig.ChannelPush, DryRun: cfg.NotifyDryRun, Logger: logger})
	}

	for _, s := range out {
		logger.Info("Notification channel ready", "channel", s.Channel(), "sender", fmt.Sprintf("%T", s))
	}
	return out, nil
}

// MaintenanceConfig derives ticker settings from configuration.
func (a *App) MaintenanceConfig() maintenance.Config {
	mc := maintenance.DefaultConfig()
	mc.ReapInterval = a.Cfg.MaintenanceInterval
	mc.StaleAfter = a.Cfg.PendingStaleAfter
	mc.RetainDeleted = a.Cfg.RetainDeleted
	return mc
}

func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

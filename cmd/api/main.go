// Command api is the Fallguard escalation server: HTTP API, periodic sweep,
// LISTEN/NOTIFY update listener and maintenance tickers in one process.
//
// Usage:
//
//	fallguard-api
//	API_PORT=8080 SWEEP_INTERVAL=30s fallguard-api

// @title Fallguard Escalation API
// @version 1.0.0
// @description Fall event lifecycle, alert thresholds and caregiver notification delivery.
// @host localhost:8000
// @BasePath /
// @schemes http https
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fallguard/fallguard/internal/api"
	"github.com/fallguard/fallguard/internal/api/handler"
	"github.com/fallguard/fallguard/internal/app"
	"github.com/fallguard/fallguard/internal/config"
	"github.com/fallguard/fallguard/internal/listener"
	"github.com/fallguard/fallguard/internal/maintenance"
	"github.com/fallguard/fallguard/internal/sweep"

	_ "github.com/fallguard/fallguard/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Initializing services...")
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	if a.Pool != nil {
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
	}

	// Materialize the default alert config up front so the first tick and
	// the first GET agree on it.
	if active, err := a.Configs.Active(ctx); err != nil {
		logger.Warn("Could not load active alert config", "error", err)
	} else {
		logger.Info("Active alert config",
			"name", active.Name,
			"threshold_seconds", active.ThresholdSeconds,
			"channels", active.Channels)
	}

	// Start the periodic sweep
	if cfg.SweepEnabled {
		scheduler := sweep.NewScheduler(a.Sweeper, cfg.SweepInterval, logger)
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				logger.Error("Sweep scheduler failed", "error", err)
			}
		}()
	} else {
		logger.Info("Sweep disabled (SWEEP_ENABLED=false)")
	}

	// LISTEN/NOTIFY covers updates written by other replicas
	if a.Pool != nil {
		go listener.Start(ctx, cfg.DatabaseURL, a.Hook, logger)
	}

	// Start maintenance tickers (stale pending reaper, soft-delete purge)
	go maintenance.Start(ctx, a.Store, a.MaintenanceConfig(), logger)

	h := handler.New(handler.Deps{
		Events:  a.Events,
		Configs: a.Configs,
		Records: a.Store,
		Cache:   a.Cache,
		DB:      healthChecker(a),
		Metrics: a.Metrics,
		Logger:  logger,
	})
	router := api.NewRouter(h, a.Metrics, cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Fallguard API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}

// healthChecker avoids handing the handler a typed nil.
func healthChecker(a *app.App) handler.HealthChecker {
	if a.Pool == nil {
		return nil
	}
	return a.Pool
}

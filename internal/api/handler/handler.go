// Package handler provides HTTP handlers for all API endpoints. Handlers
// decode and validate the request shape, call the domain services, and map
// domain errors to responses.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/api/respond"
	"github.com/fallguard/fallguard/internal/apperr"
	"github.com/fallguard/fallguard/internal/cache"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/metrics"
	"github.com/fallguard/fallguard/internal/notifications"
)

const maxBodyBytes = 1 << 20

// HealthChecker reports whether the backing database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the services a Handler calls.
type Deps struct {
	Events  *falls.Service
	Configs *alertconfig.Service
	Records notifications.RecordStore
	Cache   *cache.Cache
	DB      HealthChecker // nil with the in-memory backend
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	events  *falls.Service
	configs *alertconfig.Service
	records notifications.RecordStore
	cache   *cache.Cache
	db      HealthChecker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	return &Handler{
		events:  d.Events,
		configs: d.Configs,
		records: d.Records,
		cache:   d.Cache,
		db:      d.DB,
		metrics: d.Metrics,
		logger:  d.Logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Fallguard Escalation API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"database":  "in-memory",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("Database health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// writeErr maps a domain error to its HTTP response.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := apperr.IsValidation(err); ok {
		respond.WriteValidation(w, ve.Fields)
		return
	}
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, falls.ErrInvalidTransition):
		respond.WriteError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, apperr.ErrConflict):
		respond.WriteError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, apperr.ErrConfiguration):
		respond.WriteError(w, http.StatusServiceUnavailable, "CONFIGURATION_ERROR", err.Error())
	default:
		h.logger.Error("Request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error")
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		ve := &apperr.ValidationError{}
		ve.Add("body", "must be a valid JSON object: "+err.Error())
		return ve
	}
	return nil
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		ve := &apperr.ValidationError{}
		ve.Add("id", "must be a positive integer")
		return 0, ve
	}
	return id, nil
}

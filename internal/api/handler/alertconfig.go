package handler

import (
	"encoding/json"
	"net/http"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/api/respond"
	"github.com/fallguard/fallguard/internal/cache"
)

// GetActiveConfig returns the active alert configuration, materializing the
// default if none exists.
// @Summary Active alert configuration
// @Tags alert-config
// @Produce json
// @Param If-None-Match header string false "ETag from a previous response"
// @Success 200 {object} alertconfig.Config
// @Success 304
// @Router /alert-config/active [get]
func (h *Handler) GetActiveConfig(w http.ResponseWriter, r *http.Request) {
	if data, etag, ok := h.cache.Get(cache.KeyActiveConfig); ok {
		h.metrics.CacheLookup(true)
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, true)
		return
	}
	h.metrics.CacheLookup(false)

	cfg, err := h.configs.Active(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	etag := h.cache.Set(cache.KeyActiveConfig, data, cache.TTLActiveConfig)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, false)
}

// ActivateConfig makes one configuration the only active one.
// @Summary Activate alert configuration
// @Tags alert-config
// @Produce json
// @Param id path int true "Alert config id"
// @Success 200 {object} alertconfig.Config
// @Failure 404 {object} respond.ErrorResponse
// @Failure 422 {object} respond.ValidationResponse
// @Router /alert-config/{id}/activate [post]
func (h *Handler) ActivateConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	cfg, err := h.configs.Activate(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, cfg)
}

// ListConfigs returns every stored configuration.
// @Summary List alert configurations
// @Tags alert-config
// @Produce json
// @Success 200 {array} alertconfig.Config
// @Router /alert-config [get]
func (h *Handler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	list, err := h.configs.List(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []alertconfig.Config{}
	}
	respond.WriteJSONObject(w, http.StatusOK, list)
}

// CreateConfig stores a new configuration.
// @Summary Create alert configuration
// @Tags alert-config
// @Accept json
// @Produce json
// @Param body body alertconfig.Config true "Configuration"
// @Success 201 {object} alertconfig.Config
// @Failure 422 {object} respond.ValidationResponse
// @Router /alert-config [post]
func (h *Handler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var in alertconfig.Config
	if err := decodeBody(r, &in); err != nil {
		h.writeErr(w, r, err)
		return
	}
	cfg, err := h.configs.Create(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, cfg)
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/fallguard/fallguard/internal/api/respond"
	"github.com/fallguard/fallguard/internal/apperr"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/notifications"
)

// CreateFallEvent records a new detected fall.
// @Summary Create fall event
// @Tags fall-events
// @Accept json
// @Produce json
// @Param body body falls.CreateInput true "Fall event"
// @Success 201 {object} falls.Event
// @Failure 422 {object} respond.ValidationResponse
// @Router /fall-events [post]
func (h *Handler) CreateFallEvent(w http.ResponseWriter, r *http.Request) {
	var in falls.CreateInput
	if err := decodeBody(r, &in); err != nil {
		h.writeErr(w, r, err)
		return
	}
	e, err := h.events.Create(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, e)
}

// ListFallEvents pages through events, newest detection first.
// @Summary List fall events
// @Tags fall-events
// @Produce json
// @Param subjectId query int false "Subject id"
// @Param status query string false "Status" Enums(detected, confirmed, false_alarm, resolved)
// @Param page query int false "Page (1-based)"
// @Param perPage query int false "Page size (default 20, max 100)"
// @Success 200 {object} falls.Page
// @Failure 422 {object} respond.ValidationResponse
// @Router /fall-events [get]
func (h *Handler) ListFallEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ve := &apperr.ValidationError{}
	var f falls.Filter

	if v := q.Get("subjectId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			ve.Add("subjectId", "must be a positive integer")
		} else {
			f.SubjectID = &id
		}
	}
	if v := q.Get("status"); v != "" {
		s := falls.Status(v)
		f.Status = &s
	}
	f.Page = queryInt(q.Get("page"), "page", ve)
	f.PerPage = queryInt(q.Get("perPage"), "perPage", ve)
	if err := ve.OrNil(); err != nil {
		h.writeErr(w, r, err)
		return
	}

	page, err := h.events.List(r.Context(), f)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, page)
}

func queryInt(v, field string, ve *apperr.ValidationError) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		ve.Add(field, "must be a positive integer")
		return 0
	}
	return n
}

// GetFallEvent returns one event.
// @Summary Get fall event
// @Tags fall-events
// @Produce json
// @Param id path int true "Fall event id"
// @Success 200 {object} falls.Event
// @Failure 404 {object} respond.ErrorResponse
// @Router /fall-events/{id} [get]
func (h *Handler) GetFallEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	e, err := h.events.Get(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, e)
}

// UpdateFallEvent applies a partial update and re-evaluates escalation.
// @Summary Update fall event
// @Tags fall-events
// @Accept json
// @Produce json
// @Param id path int true "Fall event id"
// @Param body body falls.UpdateInput true "Fields to change"
// @Success 200 {object} falls.Event
// @Failure 404 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Failure 422 {object} respond.ValidationResponse
// @Router /fall-events/{id} [patch]
func (h *Handler) UpdateFallEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var in falls.UpdateInput
	if err := decodeBody(r, &in); err != nil {
		h.writeErr(w, r, err)
		return
	}
	e, err := h.events.Update(r.Context(), id, in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, e)
}

type falseAlarmInput struct {
	Notes *string `json:"notes"`
}

// MarkFalseAlarm is the subject's "I'm OK". Repeating it is harmless.
// @Summary Mark fall event as false alarm
// @Tags fall-events
// @Accept json
// @Produce json
// @Param id path int true "Fall event id"
// @Param body body falseAlarmInput false "Optional notes"
// @Success 200 {object} falls.Event
// @Failure 404 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Router /fall-events/{id}/false-alarm [patch]
func (h *Handler) MarkFalseAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var in falseAlarmInput
	if err := decodeBody(r, &in); err != nil {
		h.writeErr(w, r, err)
		return
	}
	e, err := h.events.MarkFalseAlarm(r.Context(), id, in.Notes)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, e)
}

// DeleteFallEvent soft-deletes an event.
// @Summary Delete fall event
// @Tags fall-events
// @Param id path int true "Fall event id"
// @Success 204
// @Failure 404 {object} respond.ErrorResponse
// @Router /fall-events/{id} [delete]
func (h *Handler) DeleteFallEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := h.events.Delete(r.Context(), id); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNotifications returns the per-channel delivery records of an event.
// @Summary Notification delivery audit
// @Tags fall-events
// @Produce json
// @Param id path int true "Fall event id"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} respond.ErrorResponse
// @Router /fall-events/{id}/notifications [get]
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if _, err := h.events.Get(r.Context(), id); err != nil {
		h.writeErr(w, r, err)
		return
	}
	records, err := h.records.ListByEvent(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if records == nil {
		records = []notifications.Record{}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"fallEventId": id,
		"data":        records,
	})
}

package api_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/api"
	"github.com/fallguard/fallguard/internal/api/handler"
	"github.com/fallguard/fallguard/internal/cache"
	"github.com/fallguard/fallguard/internal/config"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/metrics"
	"github.com/fallguard/fallguard/internal/profiles"
	"github.com/fallguard/fallguard/internal/storage/memory"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	store.PutProfile(profiles.Profile{SubjectID: 7, Contact: profiles.Contact{Name: "Ada", Email: "ada@example.com"}})

	m := metrics.New(prometheus.NewRegistry())
	c := cache.New(true)
	configs := alertconfig.NewService(store, logger)
	configs.ChangeHook = func() { c.Invalidate(cache.KeyActiveConfig) }

	h := handler.New(handler.Deps{
		Events:  falls.NewService(store, profiles.Exists{Store: store}, logger),
		Configs: configs,
		Records: store,
		Cache:   c,
		Metrics: m,
		Logger:  logger,
	})
	cfg := &config.Config{CORSAllowOrigins: []string{"*"}}
	srv := httptest.NewServer(api.NewRouter(h, m, cfg, logger))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, header ...string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func createEvent(t *testing.T, base string) falls.Event {
	t.Helper()
	resp, body := do(t, http.MethodPost, base+"/fall-events",
		`{"subjectId":7,"detectedAt":"2026-03-01T12:00:00Z","sensorData":{"location":"hall"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var e falls.Event
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestCreateFallEvent(t *testing.T) {
	srv := newServer(t)
	e := createEvent(t, srv.URL)
	assert.Equal(t, falls.StatusDetected, e.Status)
	assert.Equal(t, int64(7), e.SubjectID)
}

func TestCreateFallEvent_ValidationMap(t *testing.T) {
	srv := newServer(t)
	resp, body := do(t, http.MethodPost, srv.URL+"/fall-events", `{"subjectId":99}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var v struct {
		Errors map[string][]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Contains(t, v.Errors, "detectedAt")

	resp, _ = do(t, http.MethodPost, srv.URL+"/fall-events", `{"subjectId":7,"bogus":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetFallEvent_NotFound(t *testing.T) {
	srv := newServer(t)
	resp, body := do(t, http.MethodGet, srv.URL+"/fall-events/42", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var e struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "NOT_FOUND", e.Error.Code)

	resp, _ = do(t, http.MethodGet, srv.URL+"/fall-events/abc", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestFalseAlarm_IdempotentThenConflict(t *testing.T) {
	srv := newServer(t)
	e := createEvent(t, srv.URL)
	url := srv.URL + "/fall-events/" + itoa(e.ID)

	for i := 0; i < 2; i++ {
		resp, body := do(t, http.MethodPatch, url+"/false-alarm", "")
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, string(body), `"status":"false_alarm"`)
	}

	resp, _ := do(t, http.MethodPatch, url, `{"status":"resolved"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodPatch, url+"/false-alarm", `{"notes":"too late"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "INVALID_TRANSITION")
}

func TestDeleteAndNotifications(t *testing.T) {
	srv := newServer(t)
	e := createEvent(t, srv.URL)
	url := srv.URL + "/fall-events/" + itoa(e.ID)

	resp, body := do(t, http.MethodGet, url+"/notifications", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"fallEventId":`+itoa(e.ID)+`,"data":[]}`, string(body))

	resp, _ = do(t, http.MethodDelete, url, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, url, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListFallEvents(t *testing.T) {
	srv := newServer(t)
	createEvent(t, srv.URL)
	createEvent(t, srv.URL)

	resp, body := do(t, http.MethodGet, srv.URL+"/fall-events?status=detected&perPage=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page falls.Page
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, 2, page.LastPage)

	resp, _ = do(t, http.MethodGet, srv.URL+"/fall-events?status=sleeping", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/fall-events?page=0", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestActiveConfig_ETag(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/alert-config/active", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)
	assert.Contains(t, string(body), `"thresholdSeconds":30`)

	resp, _ = do(t, http.MethodGet, srv.URL+"/alert-config/active", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	// activating another config invalidates the cached body
	resp, body = do(t, http.MethodPost, srv.URL+"/alert-config",
		`{"name":"night","thresholdSeconds":90,"maxEscalationLevel":1,"channels":["sms"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created alertconfig.Config
	require.NoError(t, json.Unmarshal(body, &created))
	assert.False(t, created.IsActive)

	resp, _ = do(t, http.MethodPost, srv.URL+"/alert-config/"+itoa(created.ID)+"/activate", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/alert-config/active", "", "If-None-Match", etag)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"thresholdSeconds":90`)

	resp, _ = do(t, http.MethodPost, srv.URL+"/alert-config/999/activate", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/health/db", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "in-memory")
	assert.NotEmpty(t, resp.Header.Get("X-Process-Time"))

	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fallguard_http_requests_total")
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

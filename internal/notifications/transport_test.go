package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fallguard/fallguard/internal/notifications"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var alertMsg = notifications.Message{
	Subject: "Fall Detection Alert",
	Body:    "Ada may have fallen.",
	Short:   "Fall alert: Ada",
	Data:    map[string]string{"fallEventId": "3"},
}

// slowServer never answers before the client gives up.
func slowServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSMSSender_Send(t *testing.T) {
	var (
		path       string
		form       url.Values
		user, pass string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		path, form = r.URL.Path, r.PostForm
		user, pass, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	s := notifications.NewSMSSender(notifications.SMSConfig{
		GatewayURL: srv.URL, AccountSID: "AC1", AuthToken: "secret", From: "+15550000",
	}, discard)
	require.NoError(t, s.Send(context.Background(), "+15550001", alertMsg))

	assert.Equal(t, "/Accounts/AC1/Messages.json", path)
	assert.Equal(t, "AC1", user)
	assert.Equal(t, "secret", pass)
	assert.Equal(t, "+15550001", form.Get("To"))
	assert.Equal(t, "+15550000", form.Get("From"))
	assert.Equal(t, alertMsg.Short, form.Get("Body"))
}

func TestSMSSender_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid To number"}`))
	}))
	defer srv.Close()

	s := notifications.NewSMSSender(notifications.SMSConfig{GatewayURL: srv.URL, AccountSID: "AC1"}, discard)
	err := s.Send(context.Background(), "nope", alertMsg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid To number")
}

func TestSMSSender_ContextCancelled(t *testing.T) {
	srv := slowServer(t)
	s := notifications.NewSMSSender(notifications.SMSConfig{GatewayURL: srv.URL, AccountSID: "AC1"}, discard)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, "+15550001", alertMsg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMSSender_Disabled(t *testing.T) {
	assert.Nil(t, notifications.NewSMSSender(notifications.SMSConfig{}, discard))
	assert.Nil(t, notifications.NewPushSender(notifications.PushConfig{}, discard))
}

func TestPushSender_Send(t *testing.T) {
	var (
		auth string
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":1,"failure":0}`))
	}))
	defer srv.Close()

	s := notifications.NewPushSender(notifications.PushConfig{GatewayURL: srv.URL, ServerKey: "k1"}, discard)
	require.NoError(t, s.Send(context.Background(), "device-token", alertMsg))

	assert.Equal(t, "key k1", auth)
	assert.Equal(t, "device-token", body["to"])
	assert.Equal(t, "high", body["priority"])
	n, ok := body["notification"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, alertMsg.Subject, n["title"])
	assert.Equal(t, alertMsg.Short, n["body"])
	assert.Equal(t, map[string]any{"fallEventId": "3"}, body["data"])
}

func TestPushSender_Errors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid server key"))
		}))
		defer srv.Close()

		s := notifications.NewPushSender(notifications.PushConfig{GatewayURL: srv.URL}, discard)
		err := s.Send(context.Background(), "device-token", alertMsg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Contains(t, err.Error(), "invalid server key")
	})

	t.Run("token rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`))
		}))
		defer srv.Close()

		s := notifications.NewPushSender(notifications.PushConfig{GatewayURL: srv.URL}, discard)
		err := s.Send(context.Background(), "stale-token", alertMsg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NotRegistered")
	})

	t.Run("context cancelled", func(t *testing.T) {
		srv := slowServer(t)
		s := notifications.NewPushSender(notifications.PushConfig{GatewayURL: srv.URL}, discard)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, s.Send(ctx, "device-token", alertMsg), context.DeadlineExceeded)
	})
}

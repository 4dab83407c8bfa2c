// Package metrics holds the Prometheus collectors for the escalation
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fallguard"

type Metrics struct {
	gatherer prometheus.Gatherer

	notifications *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec

	sweepRuns      *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	sweepEscalated prometheus.Counter
	sweepErrors    prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	cacheLookups *prometheus.CounterVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatch outcomes per channel.",
		}, []string{"channel", "outcome"}),
		sendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_send_duration_seconds",
			Help:      "Time spent inside a channel sender.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),

		sweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Sweep ticks by result (ok, skipped, config_error).",
		}, []string{"result"}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of completed sweep ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		sweepEscalated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_escalated_events_total",
			Help:      "Fall events the sweep dispatched notifications for.",
		}),
		sweepErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_event_errors_total",
			Help:      "Per-event errors isolated by the sweep.",
		}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),

		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result (hit, miss).",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) NotificationOutcome(channel, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) ObserveSend(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// SweepTick records one sweep tick. result is ok, skipped or config_error.
func (m *Metrics) SweepTick(result string, d time.Duration, escalated, errs int) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	if result == "ok" {
		m.sweepDuration.Observe(d.Seconds())
	}
	m.sweepEscalated.Add(float64(escalated))
	m.sweepErrors.Add(float64(errs))
}

func (m *Metrics) HTTPRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

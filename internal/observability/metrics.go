package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mirrorrelay"

// Metrics groups the relay's collectors. A nil *Metrics is valid and records
// nothing, so packages can be used without a registry.
type Metrics struct {
	registry *prometheus.Registry

	dispatchAttempts *prometheus.CounterVec
	failoverRuns     *prometheus.CounterVec
	stateFetches     *prometheus.CounterVec
	updates          *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "attempts_total",
				Help:      "Trigger requests sent to mirrors.",
			},
			[]string{"mirror", "branch", "outcome"},
		),
		failoverRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "failover",
				Name:      "runs_total",
				Help:      "Failover runs across the mirror set.",
			},
			[]string{"path", "result"},
		),
		stateFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "state",
				Name:      "fetches_total",
				Help:      "Status document fetches per mirror.",
			},
			[]string{"mirror", "result"},
		),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "updates_total",
				Help:      "Inbound updates handled by the relay.",
			},
			[]string{"kind", "result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	m.registry.MustRegister(
		m.dispatchAttempts,
		m.failoverRuns,
		m.stateFetches,
		m.updates,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordDispatchAttempt(mirror, branch, outcome string) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(mirror, branch, outcome).Inc()
}

func (m *Metrics) RecordFailoverRun(path string, ok bool) {
	if m == nil {
		return
	}
	result := "exhausted"
	if ok {
		result = "success"
	}
	m.failoverRuns.WithLabelValues(path, result).Inc()
}

func (m *Metrics) RecordStateFetch(mirror string, available bool) {
	if m == nil {
		return
	}
	result := "unavailable"
	if available {
		result = "ok"
	}
	m.stateFetches.WithLabelValues(mirror, result).Inc()
}

func (m *Metrics) RecordUpdate(kind, result string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

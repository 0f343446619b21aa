// Package metrics exposes the relay's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts served requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// LogRecords counts event log appends by level.
	LogRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_log_records_total",
			Help: "Records appended to the dashboard event log",
		},
		[]string{"level"},
	)

	// ViewersActive is the number of connected live log viewers.
	ViewersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_viewers_active",
			Help: "Connected live log viewers",
		},
	)

	// ViewersDropped counts viewers removed by the hub.
	ViewersDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_viewers_dropped_total",
			Help: "Viewers removed by the broadcast hub",
		},
		[]string{"reason"},
	)

	// Logins counts dashboard login attempts by outcome.
	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_logins_total",
			Help: "Dashboard login attempts",
		},
		[]string{"outcome"},
	)

	// AIRequests counts completion calls by outcome (ok, error, timeout, circuit_open, empty).
	AIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ai_requests_total",
			Help: "AI completion requests",
		},
		[]string{"outcome"},
	)

	// AIRequestDuration tracks completion latency.
	AIRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_ai_request_duration_seconds",
			Help:    "AI completion latency in seconds",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// AICircuitState is the AI circuit breaker state: 0=closed, 1=half-open, 2=open.
	AICircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ai_circuit_state",
			Help: "AI backend circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// TelegramMessages counts messaging-platform traffic by direction and outcome.
	TelegramMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_telegram_messages_total",
			Help: "Telegram messages by direction (in, out) and outcome",
		},
		[]string{"direction", "outcome"},
	)

	// MirrorDropped counts records the Redis mirror could not queue or publish.
	MirrorDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_mirror_dropped_total",
			Help: "Log records dropped by the Redis mirror",
		},
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordAIRequest records one completion call.
func RecordAIRequest(outcome string, d time.Duration) {
	AIRequests.WithLabelValues(outcome).Inc()
	AIRequestDuration.Observe(d.Seconds())
}

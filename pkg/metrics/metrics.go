// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnectionsActive tracks active websocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ws_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// MessagesTotal tracks persisted transcript messages by sender.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total transcript messages persisted",
		},
		[]string{"sender"},
	)

	// EscalationsTotal tracks escalations by priority.
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_escalations_total",
			Help: "Total session escalations",
		},
		[]string{"priority"},
	)

	// ResponderRequestDuration tracks responder round-trip duration.
	ResponderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_responder_request_duration_seconds",
			Help:    "Responder request duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"provider", "status"},
	)

	// ResponderFallbacksTotal tracks canned replies served because the
	// responder was unavailable or returned garbage.
	ResponderFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_responder_fallbacks_total",
			Help: "Total fallback replies served",
		},
	)

	// StoreRequestDuration tracks session store round-trip duration.
	StoreRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_store_request_duration_seconds",
			Help:    "Session store request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)

	// BroadcastsTotal tracks events fanned out to broadcast groups.
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Total events broadcast to groups",
		},
		[]string{"event"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordResponderRequest records metrics for a responder call.
func RecordResponderRequest(provider, status string, duration float64) {
	ResponderRequestDuration.WithLabelValues(provider, status).Observe(duration)
}

// RecordStoreRequest records metrics for a session store call.
func RecordStoreRequest(operation, status string, duration float64) {
	StoreRequestDuration.WithLabelValues(operation, status).Observe(duration)
}

// IncrementWSConnections increments the active websocket connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the active websocket connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}

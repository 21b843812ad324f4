// Package observability provides Prometheus metrics instrumentation for the hub.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// CLIENT METRICS
// =============================================================================

var (
	clientsConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agenthub_clients_connected",
			Help: "Number of currently connected clients",
		},
		[]string{"client_type"}, // client_type: device, constellation
	)

	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_registrations_total",
			Help: "Total number of registration attempts",
		},
		[]string{"client_type", "status"}, // status: confirmed, rejected
	)

	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_evictions_total",
			Help: "Total number of clients evicted by a same-ID re-registration",
		},
		[]string{"client_type"},
	)
)

// =============================================================================
// MESSAGE METRICS
// =============================================================================

var (
	wsMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_ws_messages_total",
			Help: "Total WebSocket messages processed",
		},
		[]string{"direction", "type"}, // direction: inbound, outbound
	)
)

// =============================================================================
// SESSION METRICS
// =============================================================================

var (
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agenthub_sessions_active",
			Help: "Number of sessions currently executing",
		},
	)

	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_sessions_total",
			Help: "Total number of finished sessions",
		},
		[]string{"status"}, // status: completed, failed, cancelled
	)

	sessionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agenthub_session_duration_seconds",
			Help:    "Session duration from start to terminal state in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
	)
)

// =============================================================================
// TASK METRICS
// =============================================================================

var (
	tasksDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to devices",
		},
		[]string{"origin"}, // origin: http, constellation
	)

	commandRoundtripSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agenthub_command_roundtrip_seconds",
			Help:    "Latency from COMMAND send to COMMAND_RESULTS receipt in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordRegistration records a registration attempt outcome.
func RecordRegistration(clientType string, status string) {
	registrationsTotal.WithLabelValues(clientType, status).Inc()
}

// RecordClientConnected increments the connected-clients gauge.
func RecordClientConnected(clientType string) {
	clientsConnected.WithLabelValues(clientType).Inc()
}

// RecordClientDisconnected decrements the connected-clients gauge.
func RecordClientDisconnected(clientType string) {
	clientsConnected.WithLabelValues(clientType).Dec()
}

// RecordEviction records a client evicted by a same-ID re-registration.
func RecordEviction(clientType string) {
	evictionsTotal.WithLabelValues(clientType).Inc()
}

// RecordMessage records a processed WebSocket message.
// This should be called once per inbound or outbound frame.
func RecordMessage(direction string, msgType string) {
	wsMessagesTotal.WithLabelValues(direction, msgType).Inc()
}

// RecordSessionStarted increments the active-sessions gauge.
func RecordSessionStarted() {
	sessionsActive.Inc()
}

// RecordSessionEnded records a session reaching a terminal state.
func RecordSessionEnded(status string, durationSeconds float64) {
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues(status).Inc()
	sessionDurationSeconds.Observe(durationSeconds)
}

// RecordTaskDispatched records a task handed to a device.
func RecordTaskDispatched(origin string) {
	tasksDispatchedTotal.WithLabelValues(origin).Inc()
}

// RecordCommandRoundtrip records a COMMAND/COMMAND_RESULTS round-trip latency.
// This should be called when the correlated result arrives.
func RecordCommandRoundtrip(seconds float64) {
	commandRoundtripSeconds.Observe(seconds)
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for wisp.
type Metrics struct {
	// Hub connection metrics
	ConnectionsTotal  *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	OnlineUsers       prometheus.Gauge

	// Frame routing metrics
	FramesReceived *prometheus.CounterVec
	FramesRouted   *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec

	// Message relay metrics
	MessagesRelayed   *prometheus.CounterVec
	MessageQueueDepth *prometheus.GaugeVec

	// Call signaling metrics
	CallsInitiated *prometheus.CounterVec
	CallsActive    prometheus.Gauge
	CallDuration   prometheus.Histogram

	// Auth metrics
	AuthAttempts  *prometheus.CounterVec
	AuthSuccesses prometheus.Counter
	AuthFailures  *prometheus.CounterVec

	// Vault metrics
	VaultOperations *prometheus.CounterVec
	VaultErrors     *prometheus.CounterVec

	// HTTP metrics (hub's health/metrics surface)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// Names follow the convention wisp_<subsystem>_<metric>_<unit>.
// Complexity: O(1)
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_connections_total",
				Help: "Total number of transport connections accepted",
			},
			[]string{"outcome"}, // accepted, rejected
		),

		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wisp_active_connections",
				Help: "Number of currently open connections",
			},
		),

		OnlineUsers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wisp_online_users",
				Help: "Number of users with at least one authenticated channel",
			},
		),

		FramesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_frames_received_total",
				Help: "Total number of wire frames received by the hub",
			},
			[]string{"type"},
		),

		FramesRouted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_frames_routed_total",
				Help: "Total number of frames forwarded to a recipient",
			},
			[]string{"type"},
		),

		FramesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_frames_dropped_total",
				Help: "Total number of frames dropped (malformed, unknown type, offline peer)",
			},
			[]string{"reason"},
		),

		MessagesRelayed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_messages_relayed_total",
				Help: "Total number of send_message frames relayed",
			},
			[]string{"delivery"}, // immediate, queued
		),

		MessageQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wisp_message_queue_depth",
				Help: "Number of outbox entries currently pending for a peer",
			},
			[]string{"peer_id"},
		),

		CallsInitiated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_calls_initiated_total",
				Help: "Total number of call_initiate frames processed",
			},
			[]string{"outcome"}, // forwarded, callee_offline
		),

		CallsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wisp_calls_active",
				Help: "Number of calls currently in initiated or connected state",
			},
		),

		CallDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wisp_call_duration_seconds",
				Help:    "Duration from call_initiate to call_end",
				Buckets: []float64{5, 15, 30, 60, 300, 900, 3600},
			},
		),

		AuthAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_auth_attempts_total",
				Help: "Total number of auth frames processed",
			},
			[]string{"result"}, // success, malformed, bad_signature, stale_timestamp, unknown_user
		),

		AuthSuccesses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wisp_auth_successes_total",
				Help: "Total number of successful authentications",
			},
		),

		AuthFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_auth_failures_total",
				Help: "Total number of failed authentications",
			},
			[]string{"reason"},
		),

		VaultOperations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_vault_operations_total",
				Help: "Total number of Key Vault operations",
			},
			[]string{"op"}, // get, set, delete, clear
		),

		VaultErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_vault_errors_total",
				Help: "Total number of Key Vault operation failures",
			},
			[]string{"op"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wisp_http_requests_total",
				Help: "Total number of HTTP requests to the hub's ancillary API",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wisp_http_request_duration_milliseconds",
				Help:    "HTTP request duration in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500},
			},
			[]string{"method", "path"},
		),
	}
}

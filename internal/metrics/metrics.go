package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bubbleboard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bubbleboard_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Board metrics
	MessagesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bubbleboard_messages_accepted_total",
			Help: "Total messages accepted and broadcast",
		},
	)

	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bubbleboard_submissions_rejected_total",
			Help: "Total submissions dropped by validation",
		},
		[]string{"reason"},
	)

	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bubbleboard_connected_clients",
			Help: "Websocket clients currently registered with the broker",
		},
	)

	// Persistence metrics
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bubbleboard_persistence_failures_total",
			Help: "Failed snapshot, log or archive writes",
		},
		[]string{"target"}, // "snapshot", "public_log", "email_log", "archive"
	)

	SnapshotLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bubbleboard_snapshot_write_seconds",
			Help:    "Snapshot write-and-rename latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Admin metrics
	AdminAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bubbleboard_admin_attempts_total",
			Help: "Admin authentication attempts",
		},
		[]string{"action", "result"},
	)
)

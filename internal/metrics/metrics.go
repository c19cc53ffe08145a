// Package metrics declares the Prometheus collectors for the sync engine and
// the presentation server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync engine
	SnapshotsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plaudern_snapshots_applied_total",
			Help: "Live snapshots published to the presentation",
		},
	)

	SnapshotsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plaudern_snapshots_discarded_total",
			Help: "Live snapshots dropped without publishing",
		},
		[]string{"reason"}, // "stale", "unchanged"
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plaudern_active_subscriptions",
			Help: "Live subscriptions currently held by controllers",
		},
	)

	SubscriptionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plaudern_subscription_failures_total",
			Help: "Failed attempts to subscribe to the remote room",
		},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plaudern_submissions_total",
			Help: "Message submissions by result",
		},
		[]string{"result"}, // "ok", "invalid", "not_connected", "append_failed"
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plaudern_cache_errors_total",
			Help: "Local cache failures by operation",
		},
		[]string{"op"}, // "put", "get"
	)

	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plaudern_connectivity_transitions_total",
			Help: "Connectivity transitions by target state",
		},
		[]string{"state"},
	)

	ControllerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plaudern_controller_state",
			Help: "1 for the state a controller is in, 0 otherwise",
		},
		[]string{"state"},
	)

	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plaudern_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plaudern_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	StreamClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plaudern_stream_clients",
			Help: "Connected streaming clients",
		},
		[]string{"transport"}, // "sse", "ws"
	)
)

// SetControllerState marks state as the current one among states.
func SetControllerState(current string, states ...string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		ControllerState.WithLabelValues(s).Set(v)
	}
}

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_api_requests_total",
		Help: "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration tracks HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bragi_api_request_duration_seconds",
		Help:    "HTTP API request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})

	// FlowMutationsTotal counts flow create/update/toggle/delete operations.
	FlowMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_flow_mutations_total",
		Help: "Flow mutations by operation.",
	}, []string{"operation"})

	// FlowRunsTotal counts flow executions by trigger type.
	FlowRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_flow_runs_total",
		Help: "Flow runs started, by trigger.",
	}, []string{"trigger"})

	// ConflictsDetectedTotal counts schedule conflicts found during checks.
	ConflictsDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_conflicts_detected_total",
		Help: "Schedule conflicts detected.",
	})

	// ConflictCheckDuration tracks expansion plus overlap detection latency.
	ConflictCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bragi_conflict_check_duration_seconds",
		Help:    "Duration of one conflict check over the planning horizon.",
		Buckets: prometheus.DefBuckets,
	})

	// ActionsDispatchedTotal counts actions handed to the playout sink.
	ActionsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_actions_dispatched_total",
		Help: "Actions dispatched, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// DatabaseQueryDuration tracks store query latency by operation and table.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bragi_db_query_duration_seconds",
		Help:    "Database operation duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed store operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_db_errors_total",
		Help: "Database operation errors.",
	}, []string{"operation", "reason"})

	// DatabaseConnectionsActive gauges the open connection count.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_db_connections_active",
		Help: "Open database connections.",
	})

	// SweepDuration tracks nightly revalidation sweep latency.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bragi_sweep_duration_seconds",
		Help:    "Duration of the nightly schedule revalidation sweep.",
		Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
	})

	LeadershipStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bragi_leadership_status",
		Help: "Whether this instance currently holds the dispatch leader lease (1) or not (0).",
	}, []string{"instance"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

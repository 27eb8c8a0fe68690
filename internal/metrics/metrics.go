// Package metrics holds the process's Prometheus collectors and the
// /metrics exposition handler. Collectors are package-level (the
// standard Prometheus idiom) since registration is inherently
// process-global; callers never construct their own.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "evalpipe", Subsystem: "ingest", Name: "requests_total", Help: "Ingest requests by HTTP status."},
		[]string{"status"},
	)
	IngestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "evalpipe", Subsystem: "ingest", Name: "events_total", Help: "Ingested events by outcome."},
		[]string{"outcome"},
	)
	MaterializeCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "evalpipe", Subsystem: "materialize", Name: "cycle_duration_seconds", Help: "Duration of one claim-process-commit cycle."},
	)
	MaterializeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "evalpipe", Subsystem: "materialize", Name: "events_total", Help: "Materialized events by outcome."},
		[]string{"outcome"},
	)
	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "evalpipe", Subsystem: "jobs", Name: "runs_total", Help: "Scheduled job runs by job name and outcome."},
		[]string{"job", "outcome"},
	)
	JobOutputsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "evalpipe", Subsystem: "jobs", Name: "outputs_total", Help: "Rows written by a job run (anomalies, shifts, actions)."},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(
		IngestRequestsTotal,
		IngestEventsTotal,
		MaterializeCycleDuration,
		MaterializeEventsTotal,
		JobRunsTotal,
		JobOutputsTotal,
	)
}

// Handler returns the Prometheus exposition handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

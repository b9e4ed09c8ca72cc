// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Orchestrator metrics
	StepRunsTotal   *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	RunsTotal       prometheus.Counter
	RunDuration     prometheus.Histogram
	RunFailedSteps  prometheus.Gauge
	RunLogAppendErr prometheus.Counter

	// Data metrics
	RawRecordsStaged    prometheus.Counter
	RowsAppended        prometheus.Counter
	RowsRejected        prometheus.Counter
	EmbeddingsAppended  prometheus.Counter
	ExplainedVariance   prometheus.Gauge
	EmbeddingInputRows  prometheus.Gauge
	UpstreamRequests    *prometheus.CounterVec
	UpstreamLatency     prometheus.Histogram
	APIRequestsTotal    *prometheus.CounterVec
	APICacheLookups     *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "cmc_analytics"
	}
	f := promauto.With(reg)

	return &Metrics{
		StepRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_runs_total",
			Help:      "Total number of step attempts by step and outcome",
		}, []string{"step", "outcome"}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"step"}),
		RunsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		RunFailedSteps: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_run_failed_steps",
			Help:      "Number of failed steps in the last run",
		}),
		RunLogAppendErr: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_log_append_errors_total",
			Help:      "Total number of run log entries that could not be persisted",
		}),

		RawRecordsStaged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "raw_records_staged_total",
			Help:      "Total number of raw upstream records staged",
		}),
		RowsAppended: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaning",
			Name:      "rows_appended_total",
			Help:      "Total number of snapshot rows appended",
		}),
		RowsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaning",
			Name:      "rows_rejected_total",
			Help:      "Total number of raw records rejected by validation",
		}),
		EmbeddingsAppended: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "rows_appended_total",
			Help:      "Total number of embedding rows appended",
		}),
		ExplainedVariance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "pca_explained_variance_ratio",
			Help:      "Fraction of variance captured by the two principal components",
		}),
		EmbeddingInputRows: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "input_rows",
			Help:      "Number of eligible rows in the last projection",
		}),
		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of upstream listing requests by status",
		}, []string{"status"}),
		UpstreamLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_latency_seconds",
			Help:      "Upstream listing request latency in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		}),
		APIRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of query API requests by route and status",
		}, []string{"route", "status"}),
		APICacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "cache_lookups_total",
			Help:      "Total number of response cache lookups by result",
		}, []string{"result"}),

		LastSuccessfulRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last run with no failed steps",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordStep records one step attempt.
func RecordStep(step, outcome string, durationSeconds float64) {
	DefaultMetrics.StepRunsTotal.WithLabelValues(step, outcome).Inc()
	DefaultMetrics.StepDuration.WithLabelValues(step).Observe(durationSeconds)
}

// RecordRun records a completed run.
func RecordRun(failedSteps int, durationSeconds float64, finishedUnix float64) {
	DefaultMetrics.RunsTotal.Inc()
	DefaultMetrics.RunDuration.Observe(durationSeconds)
	DefaultMetrics.RunFailedSteps.Set(float64(failedSteps))
	if failedSteps == 0 {
		DefaultMetrics.LastSuccessfulRun.Set(finishedUnix)
	}
}

// RecordRunLogAppendError counts a run log entry that was not persisted.
func RecordRunLogAppendError() {
	DefaultMetrics.RunLogAppendErr.Inc()
}

// RecordStaged counts staged raw records.
func RecordStaged(n int) {
	DefaultMetrics.RawRecordsStaged.Add(float64(n))
}

// RecordCleaned counts appended and rejected rows.
func RecordCleaned(appended, rejected int) {
	DefaultMetrics.RowsAppended.Add(float64(appended))
	DefaultMetrics.RowsRejected.Add(float64(rejected))
}

// RecordEmbedding records one embedding generation.
func RecordEmbedding(rows int, explainedVariance float64) {
	DefaultMetrics.EmbeddingsAppended.Add(float64(rows))
	DefaultMetrics.EmbeddingInputRows.Set(float64(rows))
	DefaultMetrics.ExplainedVariance.Set(explainedVariance)
}

// RecordUpstreamRequest records an upstream request outcome.
func RecordUpstreamRequest(status string, seconds float64) {
	DefaultMetrics.UpstreamRequests.WithLabelValues(status).Inc()
	DefaultMetrics.UpstreamLatency.Observe(seconds)
}

// RecordAPIRequest records a query API request.
func RecordAPIRequest(route, status string) {
	DefaultMetrics.APIRequestsTotal.WithLabelValues(route, status).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	DefaultMetrics.APICacheLookups.WithLabelValues(result).Inc()
}

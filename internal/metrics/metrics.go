package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analytics pipeline.
type Metrics struct {
	// Ingestion metrics
	EventsIngested *prometheus.CounterVec

	// Cleaning stage metrics
	EventsCleaned *prometheus.CounterVec
	CleanLatency  *prometheus.HistogramVec

	// Aggregation stage metrics
	DaysAggregated   *prometheus.CounterVec
	AggregateLatency *prometheus.HistogramVec

	// Pipeline runs
	PipelineRuns *prometheus.CounterVec

	// Storage errors by backend and operation
	StorageErrors *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Raw events written to the bronze layer",
			},
			[]string{"tenant_id", "event_type"},
		),
		EventsCleaned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_cleaned_total",
				Help:      "Cleaned events written to the silver layer",
			},
			[]string{"tenant_id"},
		),
		CleanLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clean_duration_seconds",
				Help:      "Cleaning stage duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"status"},
		),
		DaysAggregated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "days_aggregated_total",
				Help:      "Daily aggregation runs by outcome",
			},
			[]string{"tenant_id", "status"},
		),
		AggregateLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregate_duration_seconds",
				Help:      "Aggregation stage duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"status"},
		),
		PipelineRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Full pipeline invocations by outcome",
			},
			[]string{"tenant_id", "status"},
		),
		StorageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Storage layer errors by backend and operation",
			},
			[]string{"backend", "operation"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordIngest records raw events accepted into the bronze layer.
func (m *Metrics) RecordIngest(tenantID, eventType string, count int) {
	m.EventsIngested.WithLabelValues(tenantID, eventType).Add(float64(count))
}

// RecordClean records a cleaning stage run.
func (m *Metrics) RecordClean(tenantID string, count int, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		m.EventsCleaned.WithLabelValues(tenantID).Add(float64(count))
	}
	m.CleanLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordAggregate records a daily aggregation run.
func (m *Metrics) RecordAggregate(tenantID string, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DaysAggregated.WithLabelValues(tenantID, status).Inc()
	m.AggregateLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordPipelineRun records a full pipeline invocation.
func (m *Metrics) RecordPipelineRun(tenantID string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PipelineRuns.WithLabelValues(tenantID, status).Inc()
}

// RecordStorageError records a storage layer failure.
func (m *Metrics) RecordStorageError(backend, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

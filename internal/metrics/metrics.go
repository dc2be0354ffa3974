// Package metrics exposes prometheus instruments for ingestion and
// correlation. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Row outcomes.
const (
	OutcomeProcessed        = "processed"
	OutcomeFailedValidation = "failed_validation"
	OutcomeDuplicate        = "duplicate"
	OutcomeOtherError       = "other_error"
)

// Metrics holds the instruments shared by the ingestor and the correlation engine.
type Metrics struct {
	// Classified rows by operator, kind and outcome
	RowsTotal *prometheus.CounterVec

	// Finished batches by operator, kind and status
	BatchesTotal *prometheus.CounterVec

	// Chunk transaction latency by kind
	ChunkLatency *prometheus.HistogramVec

	// Full correlation run latency
	CorrelationLatency prometheus.Histogram

	// Numbers returned per correlation run
	CorrelationResults prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New creates a Metrics instance registered on reg. A nil reg registers on
// the prometheus default registry.
func New(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		RowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_ingest_rows_total",
			Help: "Source rows classified during ingestion by outcome",
		}, []string{"operator", "kind", "outcome"}),

		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_ingest_batches_total",
			Help: "Upload batches finished by final status",
		}, []string{"operator", "kind", "status"}),

		ChunkLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hunter_ingest_chunk_duration_seconds",
			Help:    "Duration of one chunk transaction including retries",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),

		CorrelationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hunter_correlation_duration_seconds",
			Help:    "Duration of a full correlation run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		CorrelationResults: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hunter_correlation_results",
			Help:    "Numbers returned per correlation run",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		gatherer: gatherer,
	}
}

// AddRows records n rows with the given outcome.
func (m *Metrics) AddRows(operator, kind, outcome string, n int) {
	if m != nil && n > 0 {
		m.RowsTotal.WithLabelValues(operator, kind, outcome).Add(float64(n))
	}
}

// IncrementBatch records a finished batch.
func (m *Metrics) IncrementBatch(operator, kind, status string) {
	if m != nil {
		m.BatchesTotal.WithLabelValues(operator, kind, status).Inc()
	}
}

// ObserveChunk records the latency of one chunk write.
func (m *Metrics) ObserveChunk(kind string, d time.Duration) {
	if m != nil {
		m.ChunkLatency.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// ObserveCorrelation records one correlation run.
func (m *Metrics) ObserveCorrelation(d time.Duration, results int) {
	if m != nil {
		m.CorrelationLatency.Observe(d.Seconds())
		m.CorrelationResults.Observe(float64(results))
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

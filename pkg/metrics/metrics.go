// Package metrics defines the Prometheus collectors exported by the batch worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
)

// Metrics holds the batch evaluation collectors.
type Metrics struct {
	records      *prometheus.CounterVec
	batches      prometheus.Counter
	jobs         *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	cacheLookups *prometheus.CounterVec
	gatherer     prometheus.Gatherer
}

// New registers the collectors on reg. Passing nil uses a private registry,
// which keeps tests independent of the global default registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "langfuse_batch_eval_records_total",
				Help: "Records handled by historical batch evaluation, by outcome",
			},
			[]string{"outcome"},
		),
		batches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "langfuse_batch_eval_batches_total",
				Help: "Record batches fanned out to the evaluation scheduler",
			},
		),
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "langfuse_batch_eval_jobs_total",
				Help: "Batch evaluation jobs finished, by terminal status",
			},
			[]string{"status"},
		),
		jobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "langfuse_batch_eval_job_duration_seconds",
				Help:    "Wall time of batch evaluation jobs",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
			},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "langfuse_no_eval_configs_cache_total",
				Help: "Negative evaluator-config cache lookups, by result",
			},
			[]string{"result"},
		),
		gatherer: reg,
	}
}

// ObserveBatch records one settled batch.
func (m *Metrics) ObserveBatch(processed, failed int) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.records.WithLabelValues(OutcomeProcessed).Add(float64(processed))
	m.records.WithLabelValues(OutcomeFailed).Add(float64(failed))
}

// ObserveJob records a job reaching a terminal status.
func (m *Metrics) ObserveJob(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

// ObserveCacheLookup records a negative-cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

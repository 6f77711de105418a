package job

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome classifies what happened to a job after one execution.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetry     Outcome = "retry_scheduled"
	OutcomeIncident  Outcome = "incident"
	OutcomeSkipped   Outcome = "skipped"
)

// Metrics captures executor observability events.
type Metrics interface {
	RecordAcquired(n int)
	RecordOutcome(jobType string, outcome Outcome)
	RecordDuration(jobType string, d time.Duration)
	RecordConflictRetry(jobType string)
}

type noopMetrics struct{}

func (noopMetrics) RecordAcquired(int)                   {}
func (noopMetrics) RecordOutcome(string, Outcome)        {}
func (noopMetrics) RecordDuration(string, time.Duration) {}
func (noopMetrics) RecordConflictRetry(string)           {}

// NoopMetrics discards every event.
func NoopMetrics() Metrics { return noopMetrics{} }

var jobDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// PrometheusMetrics records executor events as Prometheus instruments.
type PrometheusMetrics struct {
	AcquiredTotal        prometheus.Counter
	OutcomesTotal        *prometheus.CounterVec
	Duration             *prometheus.HistogramVec
	ConflictRetriesTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates the instruments and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		AcquiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "process_jobs_acquired_total",
			Help: "Total number of jobs acquired by the executor.",
		}),
		OutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "process_job_outcomes_total",
			Help: "Total number of job executions by outcome.",
		}, []string{"job_type", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "process_job_duration_seconds",
			Help:    "Job execution duration in seconds.",
			Buckets: jobDurationBuckets,
		}, []string{"job_type"}),
		ConflictRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "process_job_conflict_retries_total",
			Help: "Total number of in-process retries after store conflicts.",
		}, []string{"job_type"}),
	}
	if reg != nil {
		reg.MustRegister(m.AcquiredTotal, m.OutcomesTotal, m.Duration, m.ConflictRetriesTotal)
	}
	return m
}

func (m *PrometheusMetrics) RecordAcquired(n int) {
	m.AcquiredTotal.Add(float64(n))
}

func (m *PrometheusMetrics) RecordOutcome(jobType string, outcome Outcome) {
	m.OutcomesTotal.WithLabelValues(jobType, string(outcome)).Inc()
}

func (m *PrometheusMetrics) RecordDuration(jobType string, d time.Duration) {
	m.Duration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordConflictRetry(jobType string) {
	m.ConflictRetriesTotal.WithLabelValues(jobType).Inc()
}

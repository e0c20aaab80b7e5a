package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Item outcomes recorded against ItemsTotal.
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeInvalid   = "invalid"
)

// Metrics holds Prometheus metrics for extraction runs.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	SessionsTotal       *prometheus.CounterVec
	ItemsTotal          *prometheus.CounterVec
	GuardrailRejections prometheus.Counter
	RunDuration         prometheus.Histogram
	ProjectCacheLoads   *prometheus.CounterVec
}

// NewMetrics creates and registers the extraction metrics.
//
// Registration happens once per process; later calls return the same set.
//
// Metrics:
//   - glean_runs_total{result} - completed runs by result (ok, error, dry_run)
//   - glean_sessions_total{outcome} - sessions by outcome (extracted, skipped, failed)
//   - glean_items_total{bucket,outcome} - items by bucket and outcome
//   - glean_guardrail_rejections_total - batches rejected for an unresolved project
//   - glean_run_duration_seconds - wall time of a run
//   - glean_project_cache_loads_total{result} - project list reloads (ok, error)
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "glean",
					Name:      "runs_total",
					Help:      "Total number of extraction runs",
				},
				[]string{"result"},
			),

			SessionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "glean",
					Name:      "sessions_total",
					Help:      "Total number of sessions handled by outcome",
				},
				[]string{"outcome"},
			),

			ItemsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "glean",
					Name:      "items_total",
					Help:      "Total number of extracted items by bucket and outcome",
				},
				[]string{"bucket", "outcome"},
			),

			GuardrailRejections: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "glean",
					Name:      "guardrail_rejections_total",
					Help:      "Total number of item batches rejected for an unresolved project",
				},
			),

			RunDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "glean",
					Name:      "run_duration_seconds",
					Help:      "Duration of extraction runs in seconds",
					Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
				},
			),

			ProjectCacheLoads: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "glean",
					Subsystem: "project_cache",
					Name:      "loads_total",
					Help:      "Total number of project list reloads",
				},
				[]string{"result"},
			),
		}
	})

	return globalMetrics
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(result string, d time.Duration) {
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// RecordSession records the outcome of one session.
func (m *Metrics) RecordSession(outcome string) {
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordItems adds n items for a bucket and outcome. Zero is ignored.
func (m *Metrics) RecordItems(bucket, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.ItemsTotal.WithLabelValues(bucket, outcome).Add(float64(n))
}

// RecordGuardrailRejection records one rejected batch.
func (m *Metrics) RecordGuardrailRejection() {
	m.GuardrailRejections.Inc()
}

// RecordProjectLoad records a project list reload.
func (m *Metrics) RecordProjectLoad(err error) {
	if err != nil {
		m.ProjectCacheLoads.WithLabelValues("error").Inc()
		return
	}
	m.ProjectCacheLoads.WithLabelValues("ok").Inc()
}

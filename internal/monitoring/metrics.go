package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckMetrics exports per-category check outcomes to Prometheus. One
// instance may be shared by every checker in a process; all methods are
// safe for concurrent use.
type CheckMetrics struct {
	reports       prometheus.Counter
	failures      *prometheus.CounterVec
	notApplicable *prometheus.CounterVec
	trust         prometheus.Histogram
	evictions     prometheus.Counter
	threshold     float64
}

// NewCheckMetrics registers the check metrics with reg. A category scoring
// below failureThreshold counts as a failure. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func NewCheckMetrics(reg prometheus.Registerer, failureThreshold float64) *CheckMetrics {
	f := promauto.With(reg)
	return &CheckMetrics{
		reports: f.NewCounter(prometheus.CounterOpts{
			Name: "misbehaviour_reports_total",
			Help: "Total number of safety messages checked",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "misbehaviour_check_failures_total",
			Help: "Checks scoring below the failure threshold, by category",
		}, []string{"category"}),
		notApplicable: f.NewCounterVec(prometheus.CounterOpts{
			Name: "misbehaviour_check_not_applicable_total",
			Help: "Checks that could not run, by category",
		}, []string{"category"}),
		trust: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "misbehaviour_sender_trust",
			Help:    "Sender trust after each checked message",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "misbehaviour_history_evictions_total",
			Help: "Senders evicted from checker history",
		}),
		threshold: failureThreshold,
	}
}

// RecordScore counts one category result. Negative scores are the
// not-applicable sentinel.
func (m *CheckMetrics) RecordScore(category string, score float64) {
	switch {
	case score < 0:
		m.notApplicable.WithLabelValues(category).Inc()
	case score < m.threshold:
		m.failures.WithLabelValues(category).Inc()
	}
}

// RecordReport counts one checked message and the sender's resulting trust.
func (m *CheckMetrics) RecordReport(trust float64) {
	m.reports.Inc()
	m.trust.Observe(trust)
}

// RecordEviction counts one evicted sender.
func (m *CheckMetrics) RecordEviction() { m.evictions.Inc() }

package misbehaviour

import (
	"github.com/banshee-data/misbehaviour.report/internal/bsm"
	"github.com/banshee-data/misbehaviour.report/internal/monitoring"
)

// MetricsObserver feeds check results into Prometheus counters. A single
// instance may be shared by checkers on different goroutines.
type MetricsObserver struct {
	Metrics *monitoring.CheckMetrics
}

func (m MetricsObserver) ObserveCheck(c CheckReport) {
	for _, cs := range c.Categories() {
		m.Metrics.RecordScore(cs.Category, cs.Score.Value())
	}
	m.Metrics.RecordReport(c.Trust)
}

func (m MetricsObserver) ObserveEviction(bsm.Pseudonym) { m.Metrics.RecordEviction() }

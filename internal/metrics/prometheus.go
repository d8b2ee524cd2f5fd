// Package metrics exposes Prometheus metrics for seat decisions.
package metrics

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/seat"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seatkeeper"

// outcomeGranted labels successful decisions.
const outcomeGranted = "ok"

// PrometheusMetrics holds the registered Prometheus collectors.
type PrometheusMetrics struct {
	// DecisionCounter counts decisions by operation and outcome code.
	DecisionCounter *prometheus.CounterVec
	// DecisionDuration observes decision latency in seconds by operation.
	DecisionDuration *prometheus.HistogramVec
	// TrialCounter counts trial validations by outcome.
	TrialCounter *prometheus.CounterVec
	// CompactedAllocations counts allocation rows removed by compaction.
	CompactedAllocations prometheus.Counter
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		DecisionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seat_decisions_total",
			Help:      "Seat decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		DecisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "seat_decision_duration_seconds",
			Help:      "Latency of seat decisions including ledger transactions.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		TrialCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trial_validations_total",
			Help:      "Trial validations by outcome.",
		}, []string{"outcome"}),
		CompactedAllocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compacted_allocations_total",
			Help:      "Stale seat allocation rows deleted by compaction.",
		}),
	}

	for _, c := range []prometheus.Collector{m.DecisionCounter, m.DecisionDuration, m.TrialCounter, m.CompactedAllocations} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// ObserveDecision implements seat.DecisionObserver.
func (m *PrometheusMetrics) ObserveDecision(op seat.Operation, code seat.Code, elapsed time.Duration) {
	m.DecisionCounter.WithLabelValues(string(op), outcomeLabel(code)).Inc()
	m.DecisionDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// RecordTrial counts a trial validation. An empty code means the trial is active.
func (m *PrometheusMetrics) RecordTrial(code seat.Code) {
	m.TrialCounter.WithLabelValues(outcomeLabel(code)).Inc()
}

// RecordCompaction adds n to the compacted allocations counter.
func (m *PrometheusMetrics) RecordCompaction(n int64) {
	if n > 0 {
		m.CompactedAllocations.Add(float64(n))
	}
}

func outcomeLabel(code seat.Code) string {
	if code == "" {
		return outcomeGranted
	}
	return string(code)
}

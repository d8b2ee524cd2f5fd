package metrics

import (
	"testing"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/seat"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheus_DecisionCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.ObserveDecision(seat.OpValidate, "", 2*time.Millisecond)
	m.ObserveDecision(seat.OpValidate, "", 3*time.Millisecond)
	m.ObserveDecision(seat.OpValidate, seat.CodeSeatLimitExceeded, time.Millisecond)
	m.ObserveDecision(seat.OpHeartbeat, seat.CodeNoAllocation, time.Millisecond)

	if v := getCounterValue(t, m.DecisionCounter, "validate", "ok"); v != 2 {
		t.Errorf("expected 2 granted validations, got %f", v)
	}
	if v := getCounterValue(t, m.DecisionCounter, "validate", "SeatLimitExceeded"); v != 1 {
		t.Errorf("expected 1 rejected validation, got %f", v)
	}
	if v := getCounterValue(t, m.DecisionCounter, "heartbeat", "NoAllocation"); v != 1 {
		t.Errorf("expected 1 rejected heartbeat, got %f", v)
	}

	count, sum := getHistogramValues(t, m.DecisionDuration, "validate")
	if count != 3 {
		t.Errorf("expected 3 observations, got %d", count)
	}
	if sum < 0.0059 || sum > 0.0061 {
		t.Errorf("expected sum of 6ms, got %f", sum)
	}
}

func TestPrometheus_TrialAndCompaction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordTrial("")
	m.RecordTrial("TrialExpired")
	if v := getCounterValue(t, m.TrialCounter, "TrialExpired"); v != 1 {
		t.Errorf("expected 1 expired trial, got %f", v)
	}

	m.RecordCompaction(5)
	m.RecordCompaction(0)
	var out dto.Metric
	if err := m.CompactedAllocations.Write(&out); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if out.GetCounter().GetValue() != 5 {
		t.Errorf("expected 5 compacted rows, got %f", out.GetCounter().GetValue())
	}
}

func TestPrometheus_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusMetrics(reg); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if _, err := NewPrometheusMetrics(reg); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestPrometheus_ImplementsObserver(t *testing.T) {
	var _ seat.DecisionObserver = (*PrometheusMetrics)(nil)
}

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.WithLabelValues(labels...).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func getHistogramValues(t *testing.T, hist *prometheus.HistogramVec, label string) (uint64, float64) {
	t.Helper()
	var m dto.Metric
	if err := hist.WithLabelValues(label).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}

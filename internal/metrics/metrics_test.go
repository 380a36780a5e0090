package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecordExecution verifies execution counters by rule and outcome
func TestRecordExecution(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordExecution("age-check", OutcomeOK, 2*time.Millisecond)
	m.RecordExecution("age-check", OutcomeOK, time.Millisecond)
	m.RecordExecution("age-check", OutcomeErrors, time.Millisecond)

	if got := testutil.ToFloat64(m.executions.WithLabelValues("age-check", OutcomeOK)); got != 2 {
		t.Errorf("ok executions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.executions.WithLabelValues("age-check", OutcomeErrors)); got != 1 {
		t.Errorf("failed executions = %v, want 1", got)
	}
}

// TestRecordTestRun verifies passed and failed test runs are counted apart
func TestRecordTestRun(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordTestRun(true)
	m.RecordTestRun(false)
	m.RecordTestRun(false)

	if got := testutil.ToFloat64(m.testRuns.WithLabelValues("failed")); got != 2 {
		t.Errorf("failed runs = %v, want 2", got)
	}
}

// TestNilMetrics verifies a nil collector set is a no-op
func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordExecution("r", OutcomeOK, time.Second)
	m.RecordCompileFailure("syntax")
	m.RecordTestRun(true)
	m.RecordRegressionRun(false)
	m.RecordGetResult("p", "price", OutcomeOK)
}

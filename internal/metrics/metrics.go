// Package metrics holds the Prometheus collectors of the rule engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the collectors. A nil *Metrics records nothing.
type Metrics struct {
	executions      *prometheus.CounterVec
	executionTime   *prometheus.HistogramVec
	compileFailures *prometheus.CounterVec
	testRuns        *prometheus.CounterVec
	regressionRuns  *prometheus.CounterVec
	getResults      *prometheus.CounterVec
}

// New registers the collectors on reg. Passing nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleengine_executions_total",
				Help: "Total number of rule executions",
			},
			[]string{"rule", "outcome"},
		),
		executionTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ruleengine_execution_duration_seconds",
				Help:    "Duration of rule executions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to 2.6s
			},
			[]string{"rule"},
		),
		compileFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleengine_compile_failures_total",
				Help: "Total number of rejected rule sources",
			},
			[]string{"reason"},
		),
		testRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleengine_test_cases_total",
				Help: "Total number of test case runs",
			},
			[]string{"result"},
		),
		regressionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleengine_regression_runs_total",
				Help: "Total number of scheduled regression runs",
			},
			[]string{"result"},
		),
		getResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleengine_get_result_total",
				Help: "Total number of product result lookups",
			},
			[]string{"product", "kind", "outcome"},
		),
	}
}

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeErrors  = "errors"
	OutcomeAborted = "aborted"
)

// RecordExecution records one rule execution.
func (m *Metrics) RecordExecution(rule, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(rule, outcome).Inc()
	m.executionTime.WithLabelValues(rule).Observe(d.Seconds())
}

// RecordCompileFailure records a rejected rule source.
func (m *Metrics) RecordCompileFailure(reason string) {
	if m == nil {
		return
	}
	m.compileFailures.WithLabelValues(reason).Inc()
}

// RecordTestRun records one test case outcome.
func (m *Metrics) RecordTestRun(passed bool) {
	if m == nil {
		return
	}
	m.testRuns.WithLabelValues(result(passed)).Inc()
}

// RecordRegressionRun records one scheduled regression run.
func (m *Metrics) RecordRegressionRun(passed bool) {
	if m == nil {
		return
	}
	m.regressionRuns.WithLabelValues(result(passed)).Inc()
}

// RecordGetResult records one product result lookup.
func (m *Metrics) RecordGetResult(product, kind, outcome string) {
	if m == nil {
		return
	}
	m.getResults.WithLabelValues(product, kind, outcome).Inc()
}

func result(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

// Package regression replays the test cases of every validated rule, on
// demand or on a cron schedule, keeping last passing dates current.
package regression

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/ruleengine/harness"
	"github.com/liamcoop/ruleengine/internal/metrics"
	"github.com/liamcoop/ruleengine/rules"
)

// DefaultConcurrency bounds the rules tested at once.
const DefaultConcurrency = 4

// Source lists the rules to replay.
type Source interface {
	ValidatedRules() ([]*rules.Rule, error)
}

// Tester runs the test cases of one rule.
type Tester interface {
	RunAll(ctx context.Context, rule *rules.Rule) (*harness.Report, error)
}

// Summary is the outcome of one run.
type Summary struct {
	StartedAt time.Time
	Duration  time.Duration

	// Reports of the rules having test cases, in rule order.
	Reports []*harness.Report

	// Untested lists the ids of validated rules without test cases.
	Untested []string
}

// Passed reports whether every tested rule passed.
func (s *Summary) Passed() bool {
	for _, r := range s.Reports {
		if !r.Passed() {
			return false
		}
	}
	return true
}

// Failing returns the reports of the rules with a failing case.
func (s *Summary) Failing() []*harness.Report {
	var out []*harness.Report
	for _, r := range s.Reports {
		if !r.Passed() {
			out = append(out, r)
		}
	}
	return out
}

func (s *Summary) String() string {
	var b strings.Builder
	for _, r := range s.Reports {
		b.WriteString(r.String())
	}
	fmt.Fprintf(&b, "%d rules tested, %d failing, %d without tests\n", len(s.Reports), len(s.Failing()), len(s.Untested))
	return b.String()
}

// Runner replays test cases.
type Runner struct {
	source      Source
	tester      Tester
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency sets how many rules are tested at once.
func WithConcurrency(n int) Option { return func(r *Runner) { r.concurrency = n } }

// WithMetrics counts runs.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithClock sets the clock stamping runs.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// NewRunner returns a runner testing the rules of source with tester.
func NewRunner(source Source, tester Tester, opts ...Option) *Runner {
	r := &Runner{
		source:      source,
		tester:      tester,
		concurrency: DefaultConcurrency,
		logger:      slog.Default().With("component", "regression"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run tests every validated rule having test cases. A rule whose tests
// cannot run (cancellation, failing passing-date storage) fails the run.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := r.now()
	all, err := r.source.ValidatedRules()
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	summary := &Summary{StartedAt: start}
	var tested []*rules.Rule
	for _, rule := range all {
		if len(rule.TestCases) == 0 {
			summary.Untested = append(summary.Untested, rule.ID)
			continue
		}
		tested = append(tested, rule)
	}

	reports := make([]*harness.Report, len(tested))
	eg, egCtx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		eg.SetLimit(r.concurrency)
	}
	for i, rule := range tested {
		eg.Go(func() error {
			report, err := r.tester.RunAll(egCtx, rule)
			if err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		r.metrics.RecordRegressionRun(false)
		return nil, err
	}

	summary.Reports = reports
	summary.Duration = r.now().Sub(start)
	r.metrics.RecordRegressionRun(summary.Passed())
	r.logger.Info("regression run completed",
		"rules", len(tested),
		"failing", len(summary.Failing()),
		"untested", len(summary.Untested),
		"duration_ms", summary.Duration.Milliseconds(),
	)
	return summary, nil
}

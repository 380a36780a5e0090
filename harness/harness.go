// Package harness replays the test cases stored with a rule. Every value a
// test case pins replaces the live function for that execution only, so
// rules are checked without any business data.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/liamcoop/ruleengine/internal/metrics"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/script"
)

// Executor runs a rule that need not be validated.
type Executor interface {
	ExecuteRule(ctx context.Context, rule *rules.Rule, args map[string]any, opts rules.ExecuteOptions) (*script.Result, error)
}

// PassingMarker records the date a rule last passed all its tests, and
// forgets it once a run fails.
type PassingMarker interface {
	MarkPassing(id string, at time.Time) error
	ClearPassing(id string) error
}

// Outcome is the result of one test case.
type Outcome struct {
	Description string
	Passed      bool
	Expected    script.Triple
	Actual      script.Triple
	Diff        string

	// Err is set when the case could not run at all.
	Err error
}

// Line formats the outcome the way reports print it.
func (o Outcome) Line() string {
	if o.Passed {
		return o.Description + " ... SUCCESS"
	}
	detail := o.Diff
	if o.Err != nil {
		detail = o.Err.Error()
	}
	return o.Description + " ... FAILED\n" + detail
}

// Report collects the outcomes of every test case of a rule.
type Report struct {
	RuleID   string
	RuleName string
	Outcomes []Outcome
}

// Passed reports whether the rule has test cases and all of them pass.
func (r *Report) Passed() bool {
	if len(r.Outcomes) == 0 {
		return false
	}
	for _, o := range r.Outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// Failed returns the number of failing cases.
func (r *Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Passed {
			n++
		}
	}
	return n
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule %s (%s)\n", r.RuleName, r.RuleID)
	for _, o := range r.Outcomes {
		b.WriteString(o.Line())
		b.WriteByte('\n')
	}
	return b.String()
}

// Harness runs test cases through an executor.
type Harness struct {
	executor Executor
	marker   PassingMarker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Harness.
type Option func(*Harness)

// WithPassingMarker stores passing dates when every case of a rule passes
// and clears them when one fails.
func WithPassingMarker(m PassingMarker) Option { return func(h *Harness) { h.marker = m } }

// WithMetrics counts test runs.
func WithMetrics(m *metrics.Metrics) Option { return func(h *Harness) { h.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Harness) { h.logger = l } }

// WithClock sets the clock used for passing dates.
func WithClock(now func() time.Time) Option { return func(h *Harness) { h.now = now } }

// New returns a harness running rules through executor.
func New(executor Executor, opts ...Option) *Harness {
	h := &Harness{
		executor: executor,
		logger:   slog.Default().With("component", "harness"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var tripleOptions = cmp.Options{
	cmp.Comparer(func(a, b script.Value) bool { return a.Equal(b) }),
	cmpopts.EquateEmpty(),
}

// Overrides parses the values of tc into namespace overrides. Values for
// the same name are kept in order; entries with Override unset are skipped.
func Overrides(tc rules.TestCase) (map[string][]script.Value, error) {
	out := make(map[string][]script.Value)
	for _, tv := range tc.Values {
		if !tv.Override {
			continue
		}
		v, err := script.ParseLiteral(tv.Literal)
		if err != nil {
			return nil, fmt.Errorf("value of %s: %w", tv.Name, err)
		}
		out[tv.Name] = append(out[tv.Name], v)
	}
	return out, nil
}

// RunTestCase executes rule with the overrides of tc and compares the
// result with the expected triple. Messages and errors compare in order.
func (h *Harness) RunTestCase(ctx context.Context, rule *rules.Rule, tc rules.TestCase) Outcome {
	out := Outcome{Description: tc.Description, Expected: tc.Expected}

	overrides, err := Overrides(tc)
	if err != nil {
		out.Err = err
		return out
	}
	res, err := h.executor.ExecuteRule(ctx, rule, map[string]any{}, rules.ExecuteOptions{
		Debug:     true,
		Lenient:   true,
		Overrides: overrides,
		Untracked: true,
	})
	if err != nil {
		out.Err = err
		return out
	}

	out.Actual = res.Triple()
	out.Diff = cmp.Diff(tc.Expected, out.Actual, tripleOptions)
	out.Passed = out.Diff == ""
	return out
}

// RunAll runs the cases of rule in order. When all of them pass, the rule
// and its cases get today's passing date. Otherwise the stored date is
// cleared.
func (h *Harness) RunAll(ctx context.Context, rule *rules.Rule) (*Report, error) {
	report := &Report{RuleID: rule.ID, RuleName: rule.Name}
	for _, tc := range rule.TestCases {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		o := h.RunTestCase(ctx, rule, tc)
		h.metrics.RecordTestRun(o.Passed)
		report.Outcomes = append(report.Outcomes, o)
	}

	if !report.Passed() {
		h.logger.Info("rule tests failed", "rule_id", rule.ID, "failed", report.Failed(), "total", len(report.Outcomes))
		if h.marker != nil {
			if err := h.marker.ClearPassing(rule.ID); err != nil {
				return report, fmt.Errorf("failed to clear passing date: %w", err)
			}
		}
		return report, nil
	}
	if h.marker != nil {
		if err := h.marker.MarkPassing(rule.ID, h.now()); err != nil {
			return report, fmt.Errorf("failed to store passing date: %w", err)
		}
	}
	return report, nil
}

// FromTrace builds a test case pinning every traced call of a debug
// execution to the value it returned, expecting the same triple again.
// Calls that failed or wrote to the side channel are left to live dispatch
// so replays record the same messages and errors. Calls returning None are
// pinned to None.
func FromTrace(rule *rules.Rule, description string, res *script.Result) rules.TestCase {
	return fromCalls(rule.ID, description, res.Calls, res.Triple())
}

func fromCalls(ruleID, description string, calls []script.CallTrace, expected script.Triple) rules.TestCase {
	tc := rules.TestCase{
		RuleID:      ruleID,
		Description: description,
		Values:      []rules.TestValue{},
		Expected: script.Triple{
			Value:    expected.Value,
			Messages: append([]string{}, expected.Messages...),
			Errors:   append([]string{}, expected.Errors...),
		},
	}
	for _, c := range calls {
		if c.Error != "" || c.Effects {
			continue
		}
		tc.Values = append(tc.Values, rules.TestValue{
			Name:     c.Name,
			Literal:  c.Result.Literal(),
			Override: true,
		})
	}
	return tc
}

// Package offered exposes rules to the rest of the system through the
// products they are configured on. A product binds one rule per kind
// (pricing, eligibility, benefit...) and answers GetResult for that kind.
package offered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"github.com/liamcoop/ruleengine/internal/metrics"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/script"
)

// Execution args set by GetResult.
const (
	DateArg    = "date"
	ProductArg = "product"
)

// DefaultCostLimit bounds the evaluation cost of one condition.
const DefaultCostLimit = 100000

var (
	// ErrNonExistingRuleKind means no rule of the requested kind applies:
	// the feature is not configured for the product.
	ErrNonExistingRuleKind = errors.New("no rule configured for this kind")

	ErrProductNotFound = errors.New("product not found")
)

// Binding configures the rule answering one kind of question, optionally
// limited to a date window [Start, End) and to args matching Condition.
type Binding struct {
	Kind      string     `json:"kind" yaml:"kind"`
	RuleID    string     `json:"rule_id" yaml:"rule"`
	Start     *time.Time `json:"start,omitempty" yaml:"start,omitempty"`
	End       *time.Time `json:"end,omitempty" yaml:"end,omitempty"`
	Condition string     `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// covers reports whether date falls in the binding window. A zero date
// matches every window.
func (b Binding) covers(date time.Time) bool {
	if date.IsZero() {
		return true
	}
	if b.Start != nil && date.Before(*b.Start) {
		return false
	}
	if b.End != nil && !date.Before(*b.End) {
		return false
	}
	return true
}

// Product is an offered product or one of its coverages.
type Product struct {
	Code      string    `json:"code" yaml:"code"`
	Name      string    `json:"name" yaml:"name"`
	Schema    Schema    `json:"schema,omitempty" yaml:"schema,omitempty"`
	Bindings  []Binding `json:"bindings" yaml:"bindings"`
	Coverages []Product `json:"coverages,omitempty" yaml:"coverages,omitempty"`
}

// Executor runs stored rules.
type Executor interface {
	Execute(ctx context.Context, ruleID string, args map[string]any, opts rules.ExecuteOptions) (*script.Result, error)
}

// Offered is a product ready to answer GetResult.
type Offered struct {
	Product

	bindings  []binding
	coverages []*Offered
	executor  Executor
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type binding struct {
	Binding
	condition cel.Program
}

// Manager holds the products of a deployment.
type Manager struct {
	executor  Executor
	metrics   *metrics.Metrics
	logger    *slog.Logger
	costLimit uint64

	products map[string]*Offered
	mu       sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics counts GetResult outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(mg *Manager) { mg.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(mg *Manager) { mg.logger = l } }

// WithCostLimit sets the CEL cost limit of binding conditions.
func WithCostLimit(limit uint64) Option { return func(mg *Manager) { mg.costLimit = limit } }

// NewManager returns an empty manager executing rules through executor.
func NewManager(executor Executor, opts ...Option) *Manager {
	mg := &Manager{
		executor:  executor,
		logger:    slog.Default().With("component", "offered"),
		costLimit: DefaultCostLimit,
		products:  make(map[string]*Offered),
	}
	for _, opt := range opts {
		opt(mg)
	}
	return mg
}

// Put compiles p and replaces any product with the same code.
func (mg *Manager) Put(p Product) error {
	o, err := mg.compile(p, nil)
	if err != nil {
		return fmt.Errorf("product %s: %w", p.Code, err)
	}

	mg.mu.Lock()
	mg.products[p.Code] = o
	mg.mu.Unlock()

	mg.logger.Info("product loaded", "code", p.Code, "bindings", len(p.Bindings), "coverages", len(p.Coverages))
	return nil
}

// compile builds the condition programs of p. Coverages without a schema
// use the schema of their product.
func (mg *Manager) compile(p Product, inherited Schema) (*Offered, error) {
	if p.Code == "" {
		return nil, fmt.Errorf("product code cannot be empty")
	}
	schema := p.Schema
	if schema == nil {
		schema = inherited
	}
	if err := ValidateSchema(schema); err != nil {
		return nil, err
	}
	env, err := NewConditionEnv(schema)
	if err != nil {
		return nil, err
	}

	o := &Offered{Product: p, executor: mg.executor, metrics: mg.metrics, logger: mg.logger}
	for _, b := range p.Bindings {
		if b.Kind == "" || b.RuleID == "" {
			return nil, fmt.Errorf("binding needs a kind and a rule")
		}
		if b.Start != nil && b.End != nil && !b.Start.Before(*b.End) {
			return nil, fmt.Errorf("binding %s: start must be before end", b.Kind)
		}
		cb := binding{Binding: b}
		if b.Condition != "" {
			ast, issues := env.Compile(b.Condition)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("binding %s: condition: %w", b.Kind, issues.Err())
			}
			cb.condition, err = env.Program(ast, cel.CostLimit(mg.costLimit))
			if err != nil {
				return nil, fmt.Errorf("binding %s: condition: %w", b.Kind, err)
			}
		}
		o.bindings = append(o.bindings, cb)
	}

	seen := make(map[string]bool)
	for _, c := range p.Coverages {
		if seen[c.Code] {
			return nil, fmt.Errorf("duplicate coverage %s", c.Code)
		}
		seen[c.Code] = true
		co, err := mg.compile(c, schema)
		if err != nil {
			return nil, fmt.Errorf("coverage %s: %w", c.Code, err)
		}
		o.coverages = append(o.coverages, co)
	}
	return o, nil
}

// Get returns a product by code. "product.coverage" paths reach coverages.
func (mg *Manager) Get(path string) (*Offered, error) {
	parts := strings.Split(path, ".")
	mg.mu.RLock()
	o, ok := mg.products[parts[0]]
	mg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, parts[0])
	}
	for _, code := range parts[1:] {
		sub, ok := o.Coverage(code)
		if !ok {
			return nil, fmt.Errorf("%w: could not find %s sub element in %s", ErrProductNotFound, code, o.Code)
		}
		o = sub
	}
	return o, nil
}

// List returns the products sorted by code.
func (mg *Manager) List() []*Offered {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	out := make([]*Offered, 0, len(mg.products))
	for _, o := range mg.products {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Delete removes a product.
func (mg *Manager) Delete(code string) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if _, ok := mg.products[code]; !ok {
		return fmt.Errorf("%w: %s", ErrProductNotFound, code)
	}
	delete(mg.products, code)
	return nil
}

// GetResult resolves path and asks it for kind.
func (mg *Manager) GetResult(ctx context.Context, path, kind string, args map[string]any) (script.Value, []string, error) {
	o, err := mg.Get(path)
	if err != nil {
		return script.None(), nil, err
	}
	return o.GetResult(ctx, kind, args)
}

// Coverage returns a direct coverage by code.
func (o *Offered) Coverage(code string) (*Offered, bool) {
	for _, c := range o.coverages {
		if c.Code == code {
			return c, true
		}
	}
	return nil, false
}

// Children returns the direct coverages in declaration order.
func (o *Offered) Children() []*Offered {
	return append([]*Offered(nil), o.coverages...)
}

// HasKind reports whether a binding of kind exists, whatever its window
// and condition.
func (o *Offered) HasKind(kind string) bool {
	for _, b := range o.bindings {
		if b.Kind == kind {
			return true
		}
	}
	return false
}

// GetResult runs the first binding of kind applying to args and returns the
// rule value and errors. ErrNonExistingRuleKind means nothing applies.
func (o *Offered) GetResult(ctx context.Context, kind string, args map[string]any) (script.Value, []string, error) {
	res, err := o.Result(ctx, kind, args)
	if err != nil {
		return script.None(), nil, err
	}
	return res.Value, res.Errors, nil
}

// Result is GetResult returning the full execution result.
func (o *Offered) Result(ctx context.Context, kind string, args map[string]any) (*script.Result, error) {
	b, err := o.selectBinding(ctx, kind, args)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrNonExistingRuleKind) {
			outcome = "not_configured"
		}
		o.metrics.RecordGetResult(o.Code, kind, outcome)
		return nil, err
	}

	o.logger.Debug("rule selected", "product", o.Code, "kind", kind, "rule_id", b.RuleID)

	execArgs := make(map[string]any, len(args)+1)
	for k, v := range args {
		execArgs[k] = v
	}
	execArgs[ProductArg] = o.Code

	res, err := o.executor.Execute(ctx, b.RuleID, execArgs, rules.ExecuteOptions{})
	if err != nil {
		o.metrics.RecordGetResult(o.Code, kind, "error")
		return nil, fmt.Errorf("%s of %s: %w", kind, o.Code, err)
	}
	outcome := metrics.OutcomeOK
	if res.HasErrors() {
		outcome = metrics.OutcomeErrors
	}
	o.metrics.RecordGetResult(o.Code, kind, outcome)
	return res, nil
}

func (o *Offered) selectBinding(ctx context.Context, kind string, args map[string]any) (*binding, error) {
	date, err := dateArg(args)
	if err != nil {
		return nil, err
	}

	var activation map[string]any
	for i := range o.bindings {
		b := &o.bindings[i]
		if b.Kind != kind || !b.covers(date) {
			continue
		}
		if b.condition == nil {
			return b, nil
		}
		if activation == nil {
			activation = conditionVars(o.Code, date, args)
		}
		out, _, err := b.condition.ContextEval(ctx, activation)
		if err != nil {
			return nil, fmt.Errorf("condition of %s on %s: %w", kind, o.Code, err)
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrNonExistingRuleKind, kind, o.Code)
}

// dateArg reads the optional date arg.
func dateArg(args map[string]any) (time.Time, error) {
	raw, ok := args[DateArg]
	if !ok || raw == nil {
		return time.Time{}, nil
	}
	v, err := script.FromInterface(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date arg: %w", err)
	}
	if v.Kind() == script.KindString {
		v, err = script.ParseDate(v.Str())
		if err != nil {
			return time.Time{}, fmt.Errorf("date arg: %w", err)
		}
	}
	if v.Kind() != script.KindDate {
		return time.Time{}, fmt.Errorf("date arg must be a date, got %s", v.Kind())
	}
	return v.Time(), nil
}

// conditionVars converts args to values CEL understands: decimals become
// doubles, rule values their Go form.
func conditionVars(code string, date time.Time, args map[string]any) map[string]any {
	vars := make(map[string]any, len(args)+2)
	for k, v := range args {
		vars[k] = celValue(v)
	}
	vars[ProductArg] = code
	if !date.IsZero() {
		vars[DateArg] = date
	} else {
		delete(vars, DateArg)
	}
	return vars
}

func celValue(x any) any {
	switch v := x.(type) {
	case script.Value:
		return celValue(v.Interface())
	case decimal.Decimal:
		return v.InexactFloat64()
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = celValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = celValue(e)
		}
		return out
	default:
		return x
	}
}

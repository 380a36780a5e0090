package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/ruleengine/catalog"
	"github.com/liamcoop/ruleengine/dispatch"
	"github.com/liamcoop/ruleengine/execlog"
	"github.com/liamcoop/ruleengine/internal/metrics"
	"github.com/liamcoop/ruleengine/script"
	"github.com/liamcoop/ruleengine/table"
)

// Prefixes of the functions a rule gets next to its context.
const (
	ParamPrefix = "param_"
	RulePrefix  = "rule_"
	TablePrefix = "table_"
)

// ContextSource resolves rule contexts.
type ContextSource interface {
	Context(id string) (*catalog.Context, error)
}

// Recorder keeps debug executions.
type Recorder interface {
	Record(ctx context.Context, e execlog.Entry) (string, error)
}

// Engine compiles, stores and executes rules. Compiled programs are kept in
// memory and shared by concurrent executions.
type Engine struct {
	contexts ContextSource
	builder  *dispatch.Builder
	store    RuleStore
	cache    RulesCache
	tables   table.Store
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	steps    int64

	programs map[string]*compiled // ruleID -> compiled program
	mu       sync.RWMutex
}

// compiled is a program with the rules it calls, resolved when it was
// compiled.
type compiled struct {
	prog *script.Program
	used []*Rule
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache replaces the default validated rules cache.
func WithCache(c RulesCache) Option { return func(e *Engine) { e.cache = c } }

// WithTables makes tables available to table_<code>() calls.
func WithTables(s table.Store) Option { return func(e *Engine) { e.tables = s } }

// WithRecorder records debug executions.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithMetrics records executions and compile failures.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithStepBudget sets the evaluation step budget of top-level executions.
func WithStepBudget(steps int64) Option { return func(e *Engine) { e.steps = steps } }

// NewEngine creates an engine over the given contexts, resolving runtime
// functions through builder, and compiles every stored rule.
func NewEngine(contexts ContextSource, builder *dispatch.Builder, store RuleStore, opts ...Option) (*Engine, error) {
	en := &Engine{
		contexts: contexts,
		builder:  builder,
		store:    store,
		cache:    NewInMemoryRulesCache(DefaultCacheConfig()),
		logger:   slog.Default().With("component", "rules"),
		steps:    script.DefaultStepBudget,
		programs: make(map[string]*compiled),
	}
	for _, opt := range opts {
		opt(en)
	}

	if err := en.CompileAllRules(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}
	return en, nil
}

// Store returns the rule store.
func (en *Engine) Store() RuleStore { return en.store }

// CompileAllRules compiles every stored rule. Validated rules must compile;
// drafts that no longer do are logged and compiled again on their next
// execution.
func (en *Engine) CompileAllRules() error {
	rules, err := en.store.List()
	if err != nil {
		return err
	}

	var validated []*Rule
	for _, rule := range rules {
		if _, err := en.CompileRule(rule); err != nil {
			if rule.Status == StatusValidated {
				return fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
			}
			en.logger.Warn("draft rule does not compile", "rule_id", rule.ID, "error", err)
			continue
		}
		if rule.Status == StatusValidated {
			validated = append(validated, rule)
		}
	}

	en.cache.Set(validated)
	return nil
}

// AllowedNames returns the identifiers the code of rule may call: the
// functions of its context plus its parameters, used rules and tables.
func (en *Engine) AllowedNames(rule *Rule) (script.NameSet, error) {
	allowed, _, err := en.allowedNames(rule)
	return allowed, err
}

func (en *Engine) allowedNames(rule *Rule) (script.NameSet, []*Rule, error) {
	cctx, err := en.contexts.Context(rule.ContextID)
	if err != nil {
		return nil, nil, err
	}
	allowed, err := cctx.AllowedNames()
	if err != nil {
		return nil, nil, err
	}

	extra, used, err := en.extraNames(rule)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range extra {
		if allowed.Has(name) {
			return nil, nil, fmt.Errorf("%w: %q", catalog.ErrDuplicateName, name)
		}
		allowed.Add(name)
	}
	return allowed, used, nil
}

// extraNames lists the param_, rule_ and table_ names of rule along with
// the used rules it resolved.
func (en *Engine) extraNames(rule *Rule) ([]string, []*Rule, error) {
	var names []string
	for _, p := range rule.Parameters {
		names = append(names, ParamPrefix+p.Name)
	}
	used := make([]*Rule, 0, len(rule.RulesUsed))
	for _, id := range rule.RulesUsed {
		u, err := en.store.Get(id)
		if err != nil {
			return nil, nil, fmt.Errorf("rule used: %w", err)
		}
		used = append(used, u)
		names = append(names, RulePrefix+u.ShortName)
	}
	for _, code := range rule.TablesUsed {
		names = append(names, TablePrefix+code)
	}
	return names, used, nil
}

// CompileRule compiles the code of rule against its allowed names and
// caches the program with the rules it uses.
func (en *Engine) CompileRule(rule *Rule) (*script.Program, error) {
	c, err := en.compile(rule)
	if err != nil {
		return nil, err
	}
	return c.prog, nil
}

func (en *Engine) compile(rule *Rule) (*compiled, error) {
	allowed, used, err := en.allowedNames(rule)
	if err != nil {
		en.metrics.RecordCompileFailure("context")
		return nil, err
	}
	prog, err := script.Compile(rule.Code, allowed)
	if err != nil {
		en.metrics.RecordCompileFailure(compileReason(err))
		return nil, fmt.Errorf("compile error: %w", err)
	}

	c := &compiled{prog: prog, used: used}
	en.mu.Lock()
	en.programs[rule.ID] = c
	en.mu.Unlock()
	return c, nil
}

func compileReason(err error) string {
	switch {
	case errors.Is(err, script.ErrForbiddenReference):
		return "forbidden_reference"
	case errors.Is(err, script.ErrSyntax):
		return "syntax"
	default:
		return "other"
	}
}

func (en *Engine) program(rule *Rule) (*compiled, error) {
	en.mu.RLock()
	c, ok := en.programs[rule.ID]
	en.mu.RUnlock()
	if ok && c.prog.Source() == rule.Code && c.uses(rule.RulesUsed) {
		return c, nil
	}
	return en.compile(rule)
}

// uses reports whether c was compiled against exactly the given used rules.
func (c *compiled) uses(ids []string) bool {
	if len(c.used) != len(ids) {
		return false
	}
	for i, u := range c.used {
		if u.ID != ids[i] {
			return false
		}
	}
	return true
}

func (en *Engine) checkRule(r *Rule) error {
	if r.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if r.ContextID == "" {
		return fmt.Errorf("rule %s has no context", r.Name)
	}
	if err := catalog.ValidateIdentifier(r.ShortName); err != nil {
		return fmt.Errorf("short name: %w", err)
	}
	seen := make(map[string]bool, len(r.Parameters))
	for _, p := range r.Parameters {
		if err := catalog.ValidateIdentifier(p.Name); err != nil {
			return fmt.Errorf("parameter: %w", err)
		}
		if seen[p.Name] {
			return fmt.Errorf("parameter %s declared twice", p.Name)
		}
		seen[p.Name] = true
	}
	for _, code := range r.TablesUsed {
		if err := catalog.ValidateIdentifier(TablePrefix + code); err != nil {
			return fmt.Errorf("table: %w", err)
		}
	}
	for _, id := range r.RulesUsed {
		if id == r.ID {
			return fmt.Errorf("rule %s cannot use itself", r.Name)
		}
	}
	switch r.Status {
	case "":
		r.Status = StatusDraft
	case StatusDraft, StatusValidated:
	default:
		return fmt.Errorf("unknown rule status %q", r.Status)
	}
	return nil
}

// Activate checks that rule may run outside debug mode: its code compiles,
// every function of its context has an implementation, the rules it uses
// are validated and the tables it uses exist.
func (en *Engine) Activate(rule *Rule) error {
	if _, err := en.CompileRule(rule); err != nil {
		return err
	}
	cctx, err := en.contexts.Context(rule.ContextID)
	if err != nil {
		return err
	}
	if err := en.builder.Check(cctx); err != nil {
		return err
	}
	for _, id := range rule.RulesUsed {
		used, err := en.store.Get(id)
		if err != nil {
			return fmt.Errorf("rule used: %w", err)
		}
		if used.Status != StatusValidated {
			return fmt.Errorf("rule used %s: %w", used.ShortName, ErrRuleNotValidated)
		}
	}
	for _, code := range rule.TablesUsed {
		if en.tables == nil {
			return fmt.Errorf("%w: %s", table.ErrTableNotFound, code)
		}
		if _, err := en.tables.Get(code); err != nil {
			return err
		}
	}
	return nil
}

// AddRule validates, compiles and stores a new rule. A rule saved as
// validated must pass activation.
func (en *Engine) AddRule(r *Rule) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if _, err := en.store.Get(r.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrRuleExists, r.ID)
	}
	if err := en.checkRule(r); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.compileOrActivate(r); err != nil {
		en.dropProgram(r.ID)
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.store.Add(r); err != nil {
		en.dropProgram(r.ID)
		return err
	}

	en.cache.Invalidate()
	en.logger.Info("rule added", "rule_id", r.ID, "name", r.Name, "status", r.Status)
	return nil
}

// UpdateRule recompiles and stores an existing rule.
func (en *Engine) UpdateRule(r *Rule) error {
	if err := en.checkRule(r); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}
	if err := en.compileOrActivate(r); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.store.Update(r); err != nil {
		return err
	}

	en.dropDependents(r.ID)
	en.cache.Invalidate()
	en.logger.Info("rule updated", "rule_id", r.ID, "status", r.Status)
	return nil
}

func (en *Engine) compileOrActivate(r *Rule) error {
	if r.Status == StatusValidated {
		return en.Activate(r)
	}
	_, err := en.CompileRule(r)
	return err
}

// Validate activates a stored rule.
func (en *Engine) Validate(ruleID string) (*Rule, error) {
	rule, err := en.store.Get(ruleID)
	if err != nil {
		return nil, err
	}
	if err := en.Activate(rule); err != nil {
		return nil, err
	}
	if rule.Status == StatusValidated {
		return rule, nil
	}
	rule.Status = StatusValidated
	if err := en.store.Update(rule); err != nil {
		return nil, err
	}
	en.dropDependents(rule.ID)
	en.cache.Invalidate()
	return rule, nil
}

// DeleteRule removes a rule from the store and compiled programs.
func (en *Engine) DeleteRule(ruleID string) error {
	if err := en.store.Delete(ruleID); err != nil {
		return err
	}
	en.dropProgram(ruleID)
	en.dropDependents(ruleID)
	en.cache.Invalidate()
	return nil
}

func (en *Engine) dropProgram(ruleID string) {
	en.mu.Lock()
	delete(en.programs, ruleID)
	en.mu.Unlock()
}

// dropDependents forgets the programs holding a resolved copy of ruleID so
// their next execution resolves it again.
func (en *Engine) dropDependents(ruleID string) {
	en.mu.Lock()
	defer en.mu.Unlock()
	for id, c := range en.programs {
		for _, u := range c.used {
			if u.ID == ruleID {
				delete(en.programs, id)
				break
			}
		}
	}
}

// ValidatedRules returns the rules that may run outside debug mode, from the
// cache when possible.
func (en *Engine) ValidatedRules() ([]*Rule, error) {
	if rules := en.cache.Get(); rules != nil {
		return rules, nil
	}
	rules, err := en.store.ListValidated()
	if err != nil {
		return nil, err
	}
	en.cache.Set(rules)
	return rules, nil
}

// Execute runs a stored rule. Business failures end up in the result; the
// error is reserved for rules that cannot run at all (unknown rule, draft
// rule outside debug mode, unresolved capability).
func (en *Engine) Execute(ctx context.Context, ruleID string, args map[string]any, opts ExecuteOptions) (*script.Result, error) {
	rule, err := en.store.Get(ruleID)
	if err != nil {
		return nil, err
	}
	return en.ExecuteRule(ctx, rule, args, opts)
}

// ExecuteRule runs rule, which need not be stored.
func (en *Engine) ExecuteRule(ctx context.Context, rule *Rule, args map[string]any, opts ExecuteOptions) (*script.Result, error) {
	return en.execute(ctx, rule, args, opts, false)
}

// Evaluate runs a validated rule and returns its value and errors.
func (en *Engine) Evaluate(ctx context.Context, ruleID string, args map[string]any) (script.Value, []string, error) {
	res, err := en.Execute(ctx, ruleID, args, ExecuteOptions{})
	if err != nil {
		return script.None(), nil, err
	}
	return res.Value, res.Errors, nil
}

func (en *Engine) execute(ctx context.Context, rule *Rule, args map[string]any, opts ExecuteOptions, nested bool) (*script.Result, error) {
	debug := opts.Debug || rule.DebugMode
	if rule.Status != StatusValidated && !opts.Debug {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotValidated, rule.Name)
	}

	c, err := en.program(rule)
	if err != nil {
		return nil, err
	}
	cctx, err := en.contexts.Context(rule.ContextID)
	if err != nil {
		return nil, err
	}

	budget := opts.Budget
	if budget == nil {
		budget = script.NewBudget(en.steps)
	}

	ns, err := en.builder.Build(cctx, dispatch.Options{
		Args:      args,
		Overrides: opts.Overrides,
		Lenient:   opts.Lenient,
		Trace:     debug && !nested,
		Extra:     en.extras(rule, c.used, args, opts),
		Data:      rule,
	})
	if err != nil {
		return nil, err
	}

	res := script.NewResult()
	start := time.Now()
	c.prog.ExecuteInto(ctx, ns, budget, res)
	elapsed := time.Since(start)

	outcome := metrics.OutcomeOK
	switch {
	case res.Aborted != nil:
		outcome = metrics.OutcomeAborted
	case res.HasErrors():
		outcome = metrics.OutcomeErrors
	}
	en.metrics.RecordExecution(rule.ShortName, outcome, elapsed)

	if nested {
		return res, nil
	}
	if res.Aborted != nil {
		en.logger.Debug("rule aborted", "rule_id", rule.ID, "error", res.Aborted)
	}
	if debug && !opts.Untracked && en.recorder != nil {
		entry := execlog.NewEntry(rule.ID, rule.Name, args, res, elapsed)
		if _, err := en.recorder.Record(ctx, entry); err != nil {
			en.logger.Warn("failed to record execution", "rule_id", rule.ID, "error", err)
		}
	}
	return res, nil
}

// extras builds param_, rule_ and table_ entries for one execution. Used
// rules come resolved with the program.
func (en *Engine) extras(rule *Rule, used []*Rule, args map[string]any, opts ExecuteOptions) map[string]script.Callable {
	extra := make(map[string]script.Callable)
	for _, p := range rule.Parameters {
		p := p
		extra[ParamPrefix+p.Name] = func(context.Context, *script.Invocation) (script.Value, error) {
			if v, ok := opts.Parameters[p.Name]; ok {
				return v, nil
			}
			return p.Default, nil
		}
	}
	for _, code := range rule.TablesUsed {
		code := code
		extra[TablePrefix+code] = func(_ context.Context, inv *script.Invocation) (script.Value, error) {
			if en.tables == nil {
				return script.None(), fmt.Errorf("%w: %s", table.ErrTableNotFound, code)
			}
			t, err := en.tables.Get(code)
			if err != nil {
				return script.None(), err
			}
			return t.Lookup(inv.Args...)
		}
	}
	for _, u := range used {
		extra[RulePrefix+u.ShortName] = en.nestedCall(u, args, opts)
	}
	return extra
}

// nestedCall runs a used rule with keyword arguments as parameter values,
// sharing the caller's budget and side channel. Errors of the used rule
// stop the caller.
func (en *Engine) nestedCall(used *Rule, args map[string]any, opts ExecuteOptions) script.Callable {
	name := RulePrefix + used.ShortName
	return func(ctx context.Context, inv *script.Invocation) (script.Value, error) {
		if len(inv.Args) > 0 {
			return script.None(), fmt.Errorf("%s takes keyword arguments only", name)
		}
		if err := inv.Budget.Enter(); err != nil {
			return script.None(), err
		}
		defer inv.Budget.Leave()

		child, err := en.execute(ctx, used, args, ExecuteOptions{
			Debug:      opts.Debug,
			Lenient:    opts.Lenient,
			Parameters: inv.Kwargs,
			Budget:     inv.Budget,
		}, true)
		if err != nil {
			return script.None(), err
		}
		inv.Result.Merge(child)
		if child.Aborted != nil {
			return script.None(), script.Reported(fmt.Errorf("%s: %w", name, child.Aborted))
		}
		if child.HasErrors() {
			return script.None(), script.Reported(fmt.Errorf("impossible to evaluate %s", name))
		}
		return child.Value, nil
	}
}

func newID() string { return uuid.NewString() }

// Package tools provides rule_engine.runtime, the functions every deployment
// offers to rule code: dates, rounding, generic value access and the
// extended side channel.
package tools

import (
	"fmt"
	"time"

	"github.com/liamcoop/ruleengine/catalog"
	"github.com/liamcoop/ruleengine/dispatch"
	"github.com/liamcoop/ruleengine/script"
)

// Namespace is the catalog namespace of the runtime functions.
const Namespace = "rule_engine.runtime"

// DefaultDateLayout is used by date_as_string.
const DefaultDateLayout = "02/01/2006"

// Runtime carries what the runtime functions depend on.
type Runtime struct {
	now        func() time.Time
	dateLayout string
	errors     map[string]ErrorDefinition
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock fixes the clock behind today().
func WithClock(now func() time.Time) Option {
	return func(rt *Runtime) { rt.now = now }
}

// WithDateLayout sets the layout of date_as_string.
func WithDateLayout(layout string) Option {
	return func(rt *Runtime) { rt.dateLayout = layout }
}

// WithErrorDefinitions sets the functional error table of add_error_code.
func WithErrorDefinitions(defs ...ErrorDefinition) Option {
	return func(rt *Runtime) {
		for _, d := range defs {
			rt.errors[d.Code] = d
		}
	}
}

// New returns a runtime using the wall clock unless configured otherwise.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		now:        time.Now,
		dateLayout: DefaultDateLayout,
		errors:     make(map[string]ErrorDefinition),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

type function struct {
	name        string
	description string
	parameters  []string
	fn          dispatch.Func
}

func (rt *Runtime) functions() []function {
	return []function{
		{"today", "Current date", nil, rt.today},
		{"calculation_date", "Date the calculation is made for, today when not given", nil, rt.calculationDate},
		{"years_between", "Whole years between two dates, end date included", []string{"date1", "date2"}, between("years_between", yearsBetween)},
		{"months_between", "Whole months between two dates, end date included", []string{"date1", "date2"}, between("months_between", monthsBetween)},
		{"days_between", "Days between two dates, both included", []string{"date1", "date2"}, between("days_between", daysBetween)},
		{"add_days", "Add days to a date", []string{"date", "duration"}, addDuration("add_days", unitDay)},
		{"add_weeks", "Add weeks to a date", []string{"date", "duration"}, addDuration("add_weeks", unitWeek)},
		{"add_months", "Add months to a date", []string{"date", "duration", "stick_to_end_of_month"}, addDuration("add_months", unitMonth)},
		{"add_quarters", "Add quarters to a date", []string{"date", "duration", "stick_to_end_of_month"}, addDuration("add_quarters", unitQuarter)},
		{"add_half_years", "Add half years to a date", []string{"date", "duration", "stick_to_end_of_month"}, addDuration("add_half_years", unitHalfYear)},
		{"add_years", "Add years to a date", []string{"date", "duration", "stick_to_end_of_month"}, addDuration("add_years", unitYear)},
		{"date_as_string", "Format a date for display", []string{"date"}, rt.dateAsString},
		{"round", "Round half up to a multiple of rounding_factor", []string{"amount", "rounding_factor"}, round},
		{"get", "Read a value from the execution args by dotted path", []string{"input_string"}, get},
		{"slugify", "Lower-case identifier form of a text", []string{"text", "char", "lower"}, slugify},
		{"add_error", "Record an error", []string{"error_message"}, addAt(LevelError)},
		{"add_warning", "Record a warning", []string{"error_message"}, addAt(LevelWarning)},
		{"add_info", "Record an information message", []string{"error_message"}, addAt(LevelInfo)},
		{"add_debug", "Record a debug message", []string{"the_message"}, addDebug},
		{"add_error_code", "Record a configured functional error", []string{"error_code"}, rt.addErrorCode},
		{"add_result_detail", "Attach a named value to the result", []string{"key", "value"}, addResultDetail},
	}
}

// Provider returns the implementations, for the dispatch registry.
func (rt *Runtime) Provider() dispatch.Provider {
	funcs := make(map[string]dispatch.Func)
	for _, f := range rt.functions() {
		funcs[f.name] = f.fn
	}
	return dispatch.Provider{Name: "runtime", Namespace: Namespace, Funcs: funcs}
}

// Register adds the runtime functions to cat under a "Runtime tools" folder
// and returns the folder id.
func (rt *Runtime) Register(cat *catalog.Catalog) (string, error) {
	fns := rt.functions()
	ids := make([]string, 0, len(fns))
	for _, f := range fns {
		id, err := cat.Register(catalog.KindFunction, Namespace, f.name, f.description, f.parameters)
		if err != nil {
			return "", fmt.Errorf("failed to register %s: %w", f.name, err)
		}
		ids = append(ids, id)
	}
	return cat.ComposeFolder("Runtime tools", ids...)
}

// arg returns positional argument i or, failing that, the keyword argument
// name.
func arg(call *dispatch.Call, args []script.Value, i int, name string) (script.Value, bool) {
	if i < len(args) {
		return args[i], true
	}
	if v, ok := call.Kwargs[name]; ok {
		return v, true
	}
	return script.None(), false
}

func errf(format string, a ...any) error { return fmt.Errorf(format, a...) }

package rules

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/liamcoop/ruleengine/script"
)

// Status is the lifecycle state of a rule.
type Status string

const (
	// StatusDraft rules run only in debug and test mode.
	StatusDraft Status = "draft"
	// StatusValidated rules compiled cleanly and every capability of their
	// context resolved when they were activated.
	StatusValidated Status = "validated"
)

var (
	// ErrRuleNotFound is returned for unknown rule ids.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleExists is returned when adding a rule whose id is taken.
	ErrRuleExists = errors.New("rule already exists")

	// ErrRuleNotValidated is returned when a draft rule is executed outside
	// debug mode.
	ErrRuleNotValidated = errors.New("rule is not validated")
)

// Parameter is a named value a rule reads through param_<name>().
type Parameter struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Default     script.Value `json:"default" yaml:"default"`
}

// Rule is a stored rule.
type Rule struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	ShortName  string      `json:"short_name" yaml:"short_name"`
	ContextID  string      `json:"context_id" yaml:"context"`
	Code       string      `json:"code" yaml:"code"`
	Status     Status      `json:"status" yaml:"status"`
	DebugMode  bool        `json:"debug_mode" yaml:"debug_mode"`
	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// RulesUsed are ids of rules callable as rule_<short_name>(...).
	RulesUsed []string `json:"rules_used,omitempty" yaml:"rules_used,omitempty"`

	// TablesUsed are codes of tables callable as table_<code>(...).
	TablesUsed []string `json:"tables_used,omitempty" yaml:"tables_used,omitempty"`

	TestCases     []TestCase `json:"test_cases,omitempty" yaml:"tests,omitempty"`
	LastPassingAt *time.Time `json:"last_passing_at,omitempty" yaml:"-"`
	CreatedAt     time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"-"`
}

// Parameter returns the declared parameter with the given name.
func (r *Rule) Parameter(name string) (Parameter, bool) {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Clone returns a deep copy of r.
func (r *Rule) Clone() *Rule {
	c := *r
	if r.Parameters != nil {
		c.Parameters = append([]Parameter{}, r.Parameters...)
	}
	c.RulesUsed = copyStrings(r.RulesUsed)
	c.TablesUsed = copyStrings(r.TablesUsed)
	if r.TestCases != nil {
		c.TestCases = make([]TestCase, len(r.TestCases))
		for i, tc := range r.TestCases {
			c.TestCases[i] = tc.clone()
		}
	}
	if r.LastPassingAt != nil {
		t := *r.LastPassingAt
		c.LastPassingAt = &t
	}
	return &c
}

// TestValue replaces one namespace entry during a test case. Literal uses
// the literal grammar. Entries with Override set to false document the
// live value and keep live dispatch.
type TestValue struct {
	Name     string `json:"name" yaml:"name"`
	Literal  string `json:"value" yaml:"value"`
	Override bool   `json:"override" yaml:"override"`
}

// UnmarshalJSON defaults Override to true.
func (v *TestValue) UnmarshalJSON(data []byte) error {
	type plain TestValue
	p := plain{Override: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*v = TestValue(p)
	return nil
}

// UnmarshalYAML defaults Override to true.
func (v *TestValue) UnmarshalYAML(unmarshal func(any) error) error {
	type plain TestValue
	p := plain{Override: true}
	if err := unmarshal(&p); err != nil {
		return err
	}
	*v = TestValue(p)
	return nil
}

// TestCase is a stored test of a rule.
type TestCase struct {
	ID            string        `json:"id" yaml:"id,omitempty"`
	RuleID        string        `json:"rule_id" yaml:"-"`
	Description   string        `json:"description" yaml:"description"`
	Values        []TestValue   `json:"values" yaml:"values"`
	Expected      script.Triple `json:"expected" yaml:"expected"`
	LastPassingAt *time.Time    `json:"last_passing_at,omitempty" yaml:"-"`
}

func (tc TestCase) clone() TestCase {
	c := tc
	if tc.Values != nil {
		c.Values = append([]TestValue{}, tc.Values...)
	}
	c.Expected.Messages = copyStrings(tc.Expected.Messages)
	c.Expected.Errors = copyStrings(tc.Expected.Errors)
	if tc.LastPassingAt != nil {
		t := *tc.LastPassingAt
		c.LastPassingAt = &t
	}
	return c
}

// ExecuteOptions tune one execution.
type ExecuteOptions struct {
	// Debug runs draft rules, traces every call and records the execution.
	Debug bool

	// Overrides replace namespace entries; see dispatch.Options.
	Overrides map[string][]script.Value

	// Lenient defers unresolved capabilities to call time.
	Lenient bool

	// Parameters override the declared parameter defaults.
	Parameters map[string]script.Value

	// Budget is shared with an enclosing execution. Nil starts a new one.
	Budget *script.Budget

	// Untracked debug executions are not recorded.
	Untracked bool
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

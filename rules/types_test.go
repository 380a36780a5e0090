package rules

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/ruleengine/script"
)

// TestTestValue_OverrideDefault verifies test values override unless told otherwise
func TestTestValue_OverrideDefault(t *testing.T) {
	var fromJSON []TestValue
	err := json.Unmarshal([]byte(`[
		{"name": "subscriber_birthdate", "value": "@2000-11-02"},
		{"name": "today", "value": "@2026-10-16", "override": false}
	]`), &fromJSON)
	if err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	if !fromJSON[0].Override || fromJSON[1].Override {
		t.Errorf("JSON overrides = %v, %v; want true, false", fromJSON[0].Override, fromJSON[1].Override)
	}

	var fromYAML []TestValue
	err = yaml.Unmarshal([]byte(`
- name: subscriber_birthdate
  value: "@2000-11-02"
- name: today
  value: "@2026-10-16"
  override: false
`), &fromYAML)
	if err != nil {
		t.Fatalf("yaml.Unmarshal() failed: %v", err)
	}
	if !fromYAML[0].Override || fromYAML[1].Override {
		t.Errorf("YAML overrides = %v, %v; want true, false", fromYAML[0].Override, fromYAML[1].Override)
	}
	if fromYAML[0].Literal != "@2000-11-02" {
		t.Errorf("Literal = %q", fromYAML[0].Literal)
	}
}

// TestRule_Clone verifies clones share no mutable state
func TestRule_Clone(t *testing.T) {
	passed := time.Date(2026, time.October, 16, 0, 0, 0, 0, time.UTC)
	r := &Rule{
		ID:            "r",
		Parameters:    []Parameter{{Name: "max_age", Default: script.Int(40)}},
		RulesUsed:     []string{"other"},
		LastPassingAt: &passed,
		TestCases: []TestCase{{
			Values:   []TestValue{{Name: "today", Literal: "@2026-10-16", Override: true}},
			Expected: script.Triple{Value: script.Bool(true), Messages: []string{"m"}},
		}},
	}
	c := r.Clone()

	c.Parameters[0].Name = "x"
	c.RulesUsed[0] = "x"
	c.TestCases[0].Values[0].Name = "x"
	c.TestCases[0].Expected.Messages[0] = "x"
	*c.LastPassingAt = time.Time{}

	if r.Parameters[0].Name != "max_age" || r.RulesUsed[0] != "other" ||
		r.TestCases[0].Values[0].Name != "today" || r.TestCases[0].Expected.Messages[0] != "m" ||
		!r.LastPassingAt.Equal(passed) {
		t.Errorf("original modified through clone: %+v", r)
	}
	if c.TablesUsed != nil {
		t.Errorf("nil slices should stay nil, got %v", c.TablesUsed)
	}
}

// TestRule_Parameter verifies parameter lookup by name
func TestRule_Parameter(t *testing.T) {
	r := &Rule{Parameters: []Parameter{{Name: "max_age", Default: script.Int(40)}}}
	p, ok := r.Parameter("max_age")
	if !ok || !p.Default.Equal(script.Int(40)) {
		t.Errorf("Parameter(max_age) = %+v, %v", p, ok)
	}
	if _, ok := r.Parameter("min_age"); ok {
		t.Error("Parameter(min_age) should not exist")
	}
}

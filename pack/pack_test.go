package pack

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/liamcoop/ruleengine/catalog"
	"github.com/liamcoop/ruleengine/harness"
	"github.com/liamcoop/ruleengine/offered"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/script"
)

const subscriptionPack = "testdata/subscription"

var today = time.Date(2026, time.October, 16, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return today }

func buildSubscription(t *testing.T) *Runtime {
	t.Helper()
	p, err := Load(subscriptionPack)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	rt, err := Build(p, WithClock(clock))
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	return rt
}

func subscriber(birthdate string) map[string]any {
	return map[string]any{"subscriber": map[string]any{"birthdate": birthdate}}
}

// TestLoad_Directory verifies every file of a pack directory is merged
func TestLoad_Directory(t *testing.T) {
	p, err := Load(subscriptionPack)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	got := []int{len(p.Functions), len(p.Folders), len(p.Contexts), len(p.Errors), len(p.Tables), len(p.Rules), len(p.Products)}
	want := []int{1, 2, 1, 1, 1, 2, 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry counts mismatch (-want +got):\n%s", diff)
	}

	r, ok := p.Rule("age_check")
	if !ok {
		t.Fatal("Rule(age_check) not found")
	}
	if len(r.TestCases) != 2 {
		t.Fatalf("age-check has %d test cases, want 2", len(r.TestCases))
	}
	tc := r.TestCases[1]
	if !tc.Values[0].Override {
		t.Error("test values override by default")
	}
	if tc.Values[0].Literal != "@1950-11-02" {
		t.Errorf("test value literal = %q, want @1950-11-02", tc.Values[0].Literal)
	}
	if !tc.Expected.Value.Equal(script.Bool(false)) {
		t.Errorf("expected value = %s, want False", tc.Expected.Value)
	}
	if diff := cmp.Diff([]string{"Subscriber too old (max: 40)"}, tc.Expected.Messages); diff != "" {
		t.Errorf("expected messages mismatch (-want +got):\n%s", diff)
	}
	if start := p.Products[0].Bindings[1].Start; start == nil || !start.Equal(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("pricing binding start = %v, want 2026-01-01", start)
	}
}

// TestLoad_Errors verifies unreadable packs are reported with their path
func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules:\n  - id: r\n    colour: blue\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := t.TempDir()
	if err := os.WriteFile(filepath.Join(empty, "README.md"), []byte("not a pack"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.yaml")},
		{"unknown field", bad},
		{"no pack files", empty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			var fe *FileError
			if !errors.As(err, &fe) {
				t.Fatalf("Load() error = %v, want *FileError", err)
			}
		})
	}
}

// TestParse_Empty verifies an empty document is an empty pack
func TestParse_Empty(t *testing.T) {
	p, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(p.Rules) != 0 {
		t.Errorf("got %d rules, want none", len(p.Rules))
	}
}

// TestValidate verifies references between pack entries are checked
func TestValidate(t *testing.T) {
	fn := Function{Namespace: "insurance.contract", Name: "premium"}
	ctxt := Context{ID: "c", Name: "C", Allowed: []string{RuntimeFolder}}
	rule := func(id string, used ...string) *rules.Rule {
		return &rules.Rule{ID: id, Name: id, ShortName: id, ContextID: "c", RulesUsed: used}
	}

	tests := []struct {
		name string
		pack Pack
		want string
	}{
		{"duplicate function", Pack{Functions: []Function{fn, fn}}, "already declared"},
		{"folder named like built-in", Pack{Folders: []Folder{{ID: RuntimeFolder}}}, "already declared"},
		{"unknown child", Pack{Folders: []Folder{{ID: "f", Children: []string{"nope"}}}}, "unknown child"},
		{"unknown allowed", Pack{Contexts: []Context{{ID: "c", Allowed: []string{"nope"}}}}, "unknown element"},
		{"duplicate context", Pack{Contexts: []Context{ctxt, ctxt}}, "declared twice"},
		{"rule without id", Pack{Contexts: []Context{ctxt}, Rules: []*rules.Rule{rule("")}}, "without id"},
		{"unknown context", Pack{Rules: []*rules.Rule{rule("r")}}, "unknown context"},
		{"unknown rule used", Pack{Contexts: []Context{ctxt}, Rules: []*rules.Rule{rule("r", "other")}}, "unknown rule used"},
		{"unknown type", Pack{Functions: []Function{{Namespace: "a", Name: "b", Type: "money"}}}, "unknown type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pack.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

// TestBuild_ExecutesRules verifies a built pack serves its rules
func TestBuild_ExecutesRules(t *testing.T) {
	rt := buildSubscription(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		rule      string
		birthdate string
		want      script.Triple
	}{
		{"young subscriber", "age-check", "2000-11-02", script.Triple{Value: script.Bool(true)}},
		{"old subscriber", "age-check", "1950-11-02", script.Triple{
			Value:    script.Bool(false),
			Messages: []string{"Subscriber too old (max: 40)"},
		}},
		{"premium from table", "life-premium", "2000-11-02", script.Triple{Value: script.MustDecimal("12.00")}},
		{"premium of ineligible", "life-premium", "1950-11-02", script.Triple{
			Value:    script.None(),
			Messages: []string{"Subscriber too old (max: 40)"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := rt.Engine.Execute(ctx, tt.rule, subscriber(tt.birthdate), rules.ExecuteOptions{})
			if err != nil {
				t.Fatalf("Execute() failed: %v", err)
			}
			got := res.Triple()
			if diff := cmp.Diff(tt.want, got, cmp.Comparer(script.Value.Equal), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestBuild_MissingArg verifies arg functions report missing roles
func TestBuild_MissingArg(t *testing.T) {
	rt := buildSubscription(t)

	res, err := rt.Engine.Execute(context.Background(), "age-check", map[string]any{}, rules.ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	want := []string{"line 2: subscriber_birthdate: subscriber undefined !"}
	if diff := cmp.Diff(want, res.Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

// TestBuild_RunsPackTests verifies test cases declared in the pack pass
func TestBuild_RunsPackTests(t *testing.T) {
	rt := buildSubscription(t)
	rule, err := rt.Engine.Store().Get("age-check")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	report, err := harness.New(rt.Engine, harness.WithPassingMarker(rt.Engine.Store()), harness.WithClock(clock)).RunAll(context.Background(), rule)
	if err != nil {
		t.Fatalf("RunAll() failed: %v", err)
	}
	if !report.Passed() {
		t.Fatalf("pack tests failed:\n%s", report)
	}

	stored, err := rt.Engine.Store().Get("age-check")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if stored.LastPassingAt == nil || !stored.LastPassingAt.Equal(today) {
		t.Errorf("LastPassingAt = %v, want %v", stored.LastPassingAt, today)
	}
}

// TestBuild_Products verifies products are bound to the pack rules
func TestBuild_Products(t *testing.T) {
	rt := buildSubscription(t)
	ctx := context.Background()

	v, errs, err := rt.Products.GetResult(ctx, "LIFE", "pricing", subscriber("2000-11-02"))
	if err != nil {
		t.Fatalf("GetResult() failed: %v", err)
	}
	if len(errs) != 0 || !v.Equal(script.MustDecimal("12")) {
		t.Errorf("GetResult() = %s, %v; want 12.00 without errors", v, errs)
	}

	args := subscriber("2000-11-02")
	args[offered.DateArg] = "2025-06-01"
	if _, _, err := rt.Products.GetResult(ctx, "LIFE", "pricing", args); !errors.Is(err, offered.ErrNonExistingRuleKind) {
		t.Errorf("GetResult() before the binding window error = %v, want ErrNonExistingRuleKind", err)
	}

	if _, _, err := rt.Products.GetResult(ctx, "LIFE.DEATH", "pricing", nil); !errors.Is(err, offered.ErrNonExistingRuleKind) {
		t.Errorf("GetResult() on coverage error = %v, want ErrNonExistingRuleKind", err)
	}
}

// TestBuild_CatalogFrozen verifies the catalog of a built pack is read-only
func TestBuild_CatalogFrozen(t *testing.T) {
	rt := buildSubscription(t)
	_, err := rt.Catalog.Register(catalog.KindFunction, "insurance.contract", "late", "", nil)
	if !errors.Is(err, catalog.ErrCatalogFrozen) {
		t.Errorf("Register() after Build error = %v, want ErrCatalogFrozen", err)
	}
}

// TestBuild_Cycles verifies folder and rule cycles are rejected
func TestBuild_Cycles(t *testing.T) {
	ctxt := Context{ID: "c", Name: "C", Allowed: []string{RuntimeFolder}}

	folders := &Pack{Folders: []Folder{
		{ID: "a", Children: []string{"b"}},
		{ID: "b", Children: []string{"a"}},
	}}
	if _, err := Build(folders); !errors.Is(err, catalog.ErrCycleDetected) {
		t.Errorf("Build() with folder cycle error = %v, want ErrCycleDetected", err)
	}

	rs := &Pack{Contexts: []Context{ctxt}, Rules: []*rules.Rule{
		{ID: "a", Name: "a", ShortName: "a", ContextID: "c", Code: "return rule_b()\n", RulesUsed: []string{"b"}},
		{ID: "b", Name: "b", ShortName: "b", ContextID: "c", Code: "return rule_a()\n", RulesUsed: []string{"a"}},
	}}
	if _, err := Build(rs); !errors.Is(err, ErrRuleCycle) {
		t.Errorf("Build() with rule cycle error = %v, want ErrRuleCycle", err)
	}
}

// TestArgFunc verifies nested arg lookups
func TestArgFunc(t *testing.T) {
	p := &Pack{
		Functions: []Function{
			{Namespace: "insurance.contract", Name: "premium", Arg: "contract.premium.amount"},
			{Namespace: "insurance.contract", Name: "start", Arg: "contract.start", Type: DateType},
		},
		Contexts: []Context{{ID: "c", Name: "C", Allowed: []string{"insurance.contract.premium", "insurance.contract.start"}}},
		Rules: []*rules.Rule{{
			ID: "r", Name: "r", ShortName: "r", ContextID: "c", Status: rules.StatusValidated,
			Code: "if start() < @2026-01-01:\n    return premium()\nreturn None\n",
		}},
	}
	rt, err := Build(p)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	args := map[string]any{"contract": map[string]any{
		"start":   "2025-03-01",
		"premium": map[string]any{"amount": 99.5},
	}}
	res, err := rt.Engine.Execute(context.Background(), "r", args, rules.ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(res.Errors) != 0 || !res.Value.Equal(script.MustDecimal("99.5")) {
		t.Errorf("Execute() = %s, %v; want 99.5", res.Value, res.Errors)
	}

	args["contract"] = map[string]any{"start": "2025-03-01"}
	res, err = rt.Engine.Execute(context.Background(), "r", args, rules.ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if len(res.Errors) != 0 || !res.Value.IsNone() {
		t.Errorf("Execute() with missing field = %s, %v; want None", res.Value, res.Errors)
	}
}

package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/liamcoop/ruleengine/catalog"
	"github.com/liamcoop/ruleengine/script"
)

func setup(t *testing.T) (*catalog.Context, *Registry) {
	t.Helper()
	cat := catalog.New()
	var ids []string
	for _, name := range []string{"today", "subscriber_birthdate"} {
		ns := "rule_engine.runtime"
		if name == "subscriber_birthdate" {
			ns = "offered"
		}
		id, err := cat.Register(catalog.KindFunction, ns, name, "", nil)
		if err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
		ids = append(ids, id)
	}
	ctx, err := catalog.NewContext(cat, "ctx", "eligibility", ids...)
	if err != nil {
		t.Fatalf("NewContext() failed: %v", err)
	}

	reg := NewRegistry()
	err = reg.Register(Provider{
		Name:      "runtime",
		Namespace: "rule_engine.runtime",
		Funcs: map[string]Func{
			"today": func(*Call, ...script.Value) (script.Value, error) {
				return script.DateOf(2026, time.October, 16), nil
			},
		},
	})
	if err != nil {
		t.Fatalf("Register(runtime) failed: %v", err)
	}
	return ctx, reg
}

func birthdateProvider(name string) Provider {
	return Provider{
		Name:      name,
		Namespace: "offered",
		Funcs: map[string]Func{
			"subscriber_birthdate": func(call *Call, _ ...script.Value) (script.Value, error) {
				return call.ArgValue("birthdate")
			},
		},
	}
}

func execute(t *testing.T, ns script.Funcs, code string) *script.Result {
	t.Helper()
	allowed := script.NewNameSet()
	for name := range ns {
		allowed.Add(name)
	}
	prog, err := script.Compile(code, allowed)
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	return prog.Execute(context.Background(), ns, nil)
}

// TestBuild_Unresolved verifies strict building rejects whitelisted names without implementation
func TestBuild_Unresolved(t *testing.T) {
	ctx, reg := setup(t)
	b := NewBuilder(reg)

	_, err := b.Build(ctx, Options{})
	var unresolved *UnresolvedCapabilityError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected *UnresolvedCapabilityError, got %v", err)
	}
	want := []catalog.Ref{{Namespace: "offered", Name: "subscriber_birthdate"}}
	if diff := cmp.Diff(want, unresolved.Refs); diff != "" {
		t.Errorf("Refs mismatch (-want +got):\n%s", diff)
	}
	if err := b.Check(ctx); !errors.Is(err, ErrUnresolvedCapability) {
		t.Errorf("Check() = %v, want ErrUnresolvedCapability", err)
	}
}

// TestBuild_LenientDefersToCallTime verifies ad-hoc execution records the failure as an error entry
func TestBuild_LenientDefersToCallTime(t *testing.T) {
	ctx, reg := setup(t)
	ns, err := NewBuilder(reg).Build(ctx, Options{Lenient: true})
	if err != nil {
		t.Fatalf("lenient Build() failed: %v", err)
	}

	res := execute(t, ns, "return subscriber_birthdate()")
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "no implementation registered for offered.subscriber_birthdate") {
		t.Errorf("unexpected errors: %v", res.Errors)
	}
	if !errors.Is(res.Aborted, ErrUnresolvedCapability) {
		t.Errorf("expected Aborted to wrap ErrUnresolvedCapability, got %v", res.Aborted)
	}
}

// TestResolve_LastRegisteredWins verifies provider precedence follows load order
func TestResolve_LastRegisteredWins(t *testing.T) {
	ctx, reg := setup(t)
	if err := reg.Register(birthdateProvider("base")); err != nil {
		t.Fatalf("Register(base) failed: %v", err)
	}
	err := reg.Register(Provider{
		Name:      "override",
		Namespace: "offered",
		Funcs: map[string]Func{
			"subscriber_birthdate": func(*Call, ...script.Value) (script.Value, error) {
				return script.DateOf(1990, time.January, 1), nil
			},
		},
	})
	if err != nil {
		t.Fatalf("Register(override) failed: %v", err)
	}

	if _, provider, _ := reg.Resolve("offered", "subscriber_birthdate"); provider != "override" {
		t.Errorf("Resolve() picked %q, want override", provider)
	}
	if diff := cmp.Diff([]string{"base", "override"}, reg.Providers("offered")); diff != "" {
		t.Errorf("Providers() mismatch (-want +got):\n%s", diff)
	}

	ns, err := NewBuilder(reg).Build(ctx, Options{})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	res := execute(t, ns, "return subscriber_birthdate()")
	if !res.Value.Equal(script.DateOf(1990, time.January, 1)) {
		t.Errorf("got %s, want the overriding provider's value", res.Value.Literal())
	}
}

// TestBuild_ArgsBinding verifies implementations read the execution args of their own call
func TestBuild_ArgsBinding(t *testing.T) {
	ctx, reg := setup(t)
	if err := reg.Register(birthdateProvider("base")); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	b := NewBuilder(reg)

	for _, tt := range []struct {
		args map[string]any
		want script.Value
	}{
		{map[string]any{"birthdate": time.Date(2000, 11, 2, 0, 0, 0, 0, time.UTC)}, script.DateOf(2000, time.November, 2)},
		{map[string]any{"birthdate": time.Date(1950, 11, 2, 0, 0, 0, 0, time.UTC)}, script.DateOf(1950, time.November, 2)},
	} {
		ns, err := b.Build(ctx, Options{Args: tt.args})
		if err != nil {
			t.Fatalf("Build() failed: %v", err)
		}
		res := execute(t, ns, "return subscriber_birthdate()")
		if !res.Value.Equal(tt.want) {
			t.Errorf("got %s, want %s", res.Value.Literal(), tt.want.Literal())
		}
	}

	ns, _ := b.Build(ctx, Options{})
	res := execute(t, ns, "return subscriber_birthdate()")
	if diff := cmp.Diff([]string{"line 1: subscriber_birthdate: birthdate undefined !"}, res.Errors); diff != "" {
		t.Errorf("missing arg error mismatch (-want +got):\n%s", diff)
	}
}

// TestBuild_Overrides verifies overrides replace live dispatch and are consumed in order
func TestBuild_Overrides(t *testing.T) {
	ctx, reg := setup(t)
	live := 0
	err := reg.Register(Provider{
		Namespace: "offered",
		Funcs: map[string]Func{
			"subscriber_birthdate": func(*Call, ...script.Value) (script.Value, error) {
				live++
				return script.None(), nil
			},
		},
	})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	ns, err := NewBuilder(reg).Build(ctx, Options{
		Overrides: map[string][]script.Value{
			"subscriber_birthdate": {script.DateOf(2000, time.November, 2), script.DateOf(1950, time.November, 2)},
			"today":                {script.DateOf(2020, time.January, 1)},
		},
	})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	res := execute(t, ns, `
a = subscriber_birthdate()
b = subscriber_birthdate()
c = subscriber_birthdate()
d = today()
e = today()
return a == @2000-11-02 and b == @1950-11-02 and c == @1950-11-02 and d == e and d == @2020-01-01
`)
	if !res.Value.Equal(script.Bool(true)) {
		t.Errorf("override sequence not honoured, errors: %v", res.Errors)
	}
	if live != 0 {
		t.Errorf("live implementation was called %d times", live)
	}
}

// TestBuild_Trace verifies debug builds record each call
func TestBuild_Trace(t *testing.T) {
	ctx, reg := setup(t)
	if err := reg.Register(birthdateProvider("base")); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	ns, err := NewBuilder(reg).Build(ctx, Options{
		Trace: true,
		Args:  map[string]any{"birthdate": "2000-11-02"},
	})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	res := execute(t, ns, "x = today()\nreturn subscriber_birthdate()")

	want := []script.CallTrace{
		{Name: "today", Result: script.DateOf(2026, time.October, 16)},
		{Name: "subscriber_birthdate", Result: script.String("2000-11-02")},
	}
	if diff := cmp.Diff(want, res.Calls, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

// TestBuild_ExtraCollision verifies extras cannot shadow context functions
func TestBuild_ExtraCollision(t *testing.T) {
	ctx, reg := setup(t)
	_, err := NewBuilder(reg).Build(ctx, Options{
		Lenient: true,
		Extra: map[string]script.Callable{
			"today": func(context.Context, *script.Invocation) (script.Value, error) { return script.None(), nil },
		},
	})
	if !errors.Is(err, catalog.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

// TestCall_Param verifies declared parameters are read by keyword or position
func TestCall_Param(t *testing.T) {
	call := &Call{
		Element:    catalog.TreeElement{Parameters: []string{"amount", "factor"}},
		Kwargs:     map[string]script.Value{"factor": script.Int(2)},
		positional: []script.Value{script.Int(10)},
	}
	if v, err := call.Param("amount"); err != nil || !v.Equal(script.Int(10)) {
		t.Errorf("Param(amount) = %v, %v", v.Literal(), err)
	}
	if v, err := call.Param("factor"); err != nil || !v.Equal(script.Int(2)) {
		t.Errorf("Param(factor) = %v, %v", v.Literal(), err)
	}
	if _, err := call.Param("missing"); err == nil || err.Error() != "missing undefined !" {
		t.Errorf("Param(missing) error = %v", err)
	}
}

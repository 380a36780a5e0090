package script

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func run(t *testing.T, code string, ns Funcs) *Result {
	t.Helper()
	allowed := NewNameSet()
	for name := range ns {
		allowed.Add(name)
	}
	prog, err := Compile(code, allowed)
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	return prog.Execute(context.Background(), ns, nil)
}

func constant(v Value) Callable {
	return func(context.Context, *Invocation) (Value, error) { return v, nil }
}

func yearsBetween(_ context.Context, inv *Invocation) (Value, error) {
	from, to := inv.Args[0].Time(), inv.Args[1].Time()
	years := to.Year() - from.Year()
	if to.YearDay() < from.YearDay() {
		years--
	}
	return Int(int64(years)), nil
}

const ageRule = `
age = years_between(subscriber_birthdate(), today())
if age > 40:
    append_message('Subscriber too old (max: 40)')
    return False
return True
`

// TestExecute_AgeRule verifies the result triple of an eligibility rule for both outcomes
func TestExecute_AgeRule(t *testing.T) {
	tests := []struct {
		name      string
		birthdate Value
		want      Triple
	}{
		{
			name:      "young subscriber",
			birthdate: DateOf(2000, time.November, 2),
			want:      Triple{Value: Bool(true), Messages: []string{}, Errors: []string{}},
		},
		{
			name:      "old subscriber",
			birthdate: DateOf(1950, time.November, 2),
			want: Triple{
				Value:    Bool(false),
				Messages: []string{"Subscriber too old (max: 40)"},
				Errors:   []string{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, ageRule, Funcs{
				"years_between":        yearsBetween,
				"subscriber_birthdate": constant(tt.birthdate),
				"today":                constant(DateOf(2026, time.October, 16)),
			})
			if diff := cmp.Diff(tt.want, res.Triple()); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestExecute_DecimalArithmetic verifies exact decimal semantics
func TestExecute_DecimalArithmetic(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"return 12.00 * 13 / 100", "1.56"},
		{"return 0.1 + 0.2", "0.3"},
		{"return 10 / 4", "2.5"},
		{"return 10 % 3", "1"},
		{"return -(2 - 5)", "3"},
		{"base = 12.00\ntax = base * 13 / 100\nfee = 20.00\nreturn base + tax + fee", "33.56"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			res := run(t, tt.code, Funcs{})
			if len(res.Errors) != 0 {
				t.Fatalf("unexpected errors: %v", res.Errors)
			}
			if !res.Value.Equal(MustDecimal(tt.want)) {
				t.Errorf("got %s, want %s", res.Value.Literal(), tt.want)
			}
		})
	}
}

// TestExecute_NoReturnYieldsNone verifies that finishing without return is not an error
func TestExecute_NoReturnYieldsNone(t *testing.T) {
	res := run(t, "x = 1\nif x > 2:\n    return x", Funcs{})
	if !res.Value.IsNone() {
		t.Errorf("expected None, got %s", res.Value.Literal())
	}
	if res.HasErrors() || res.Aborted != nil {
		t.Errorf("expected no errors, got %v", res.Errors)
	}
}

// TestExecute_AppendErrorDoesNotAbort verifies errors accumulate while evaluation continues
func TestExecute_AppendErrorDoesNotAbort(t *testing.T) {
	res := run(t, "append_error('first')\nappend_message('note')\nappend_error('second')\nreturn 7", Funcs{})
	want := Triple{Value: Int(7), Messages: []string{"note"}, Errors: []string{"first", "second"}}
	if diff := cmp.Diff(want, res.Triple()); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

// TestExecute_RuntimeFaultsBecomeErrors verifies faults are caught and recorded, never raised
func TestExecute_RuntimeFaultsBecomeErrors(t *testing.T) {
	boom := func(context.Context, *Invocation) (Value, error) { panic("kaboom") }
	failing := func(context.Context, *Invocation) (Value, error) { return None(), errors.New("missing contract") }

	tests := []struct {
		name string
		code string
		want string
	}{
		{"division by zero", "append_message('before')\nreturn 1 / 0", "division by zero"},
		{"undefined variable", "return y", `name "y" is not defined`},
		{"type error", "return 'a' + 1", "unsupported operand types"},
		{"bad comparison", "return 'a' < 1", "cannot compare"},
		{"panic in callable", "return boom()", "boom: kaboom"},
		{"error in callable", "return failing()", "failing: missing contract"},
		{"fractional days", "return @2020-01-01 + 0.5", "fractional number of days"},
		{"builtin arity", "append_message('a', 'b')", "takes exactly one positional argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, tt.code, Funcs{"boom": boom, "failing": failing})
			if !res.Value.IsNone() {
				t.Errorf("expected None after a fault, got %s", res.Value.Literal())
			}
			if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], tt.want) {
				t.Errorf("expected one error containing %q, got %v", tt.want, res.Errors)
			}
			if res.Aborted == nil {
				t.Error("expected Aborted to be set")
			}
		})
	}
}

// TestExecute_ReportedErrorsAreNotDuplicated verifies callables can record their own error text
func TestExecute_ReportedErrorsAreNotDuplicated(t *testing.T) {
	checked := func(_ context.Context, inv *Invocation) (Value, error) {
		inv.Result.AppendError("years_between needs date values")
		return None(), Reported(nil)
	}
	res := run(t, "return checked()", Funcs{"checked": checked})
	if diff := cmp.Diff([]string{"years_between needs date values"}, res.Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(res.Aborted, ErrReported) {
		t.Errorf("expected Aborted to wrap ErrReported, got %v", res.Aborted)
	}
}

// TestExecute_Budget verifies the step budget stops long evaluations
func TestExecute_Budget(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("x = 1 + 2 * 3\n")
	}
	prog, err := Compile(b.String(), NewNameSet())
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}

	res := prog.Execute(context.Background(), Funcs{}, NewBudget(20))
	if !errors.Is(res.Aborted, ErrExecutionBudgetExceeded) {
		t.Fatalf("expected ErrExecutionBudgetExceeded, got %v", res.Aborted)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "execution budget exceeded") {
		t.Errorf("unexpected errors: %v", res.Errors)
	}

	res = prog.Execute(context.Background(), Funcs{}, nil)
	if res.Aborted != nil {
		t.Errorf("default budget should be enough, got %v", res.Aborted)
	}
}

// TestExecute_Cancelled verifies a cancelled context stops execution
func TestExecute_Cancelled(t *testing.T) {
	prog, err := Compile("return 1", NewNameSet())
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := prog.Execute(ctx, Funcs{}, nil)
	if !errors.Is(res.Aborted, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", res.Aborted)
	}
}

// TestExecute_Dates verifies date arithmetic and comparison
func TestExecute_Dates(t *testing.T) {
	tests := []struct {
		code string
		want Value
	}{
		{"return @2024-01-31 + 1", DateOf(2024, time.February, 1)},
		{"return @2024-03-01 - 1", DateOf(2024, time.February, 29)},
		{"return @2024-03-01 - @2024-02-01", Int(29)},
		{"return @2024-03-01 > @2024-02-01", Bool(true)},
		{"return @2024-03-01 == @2024-03-01", Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			res := run(t, tt.code, Funcs{})
			if !res.Value.Equal(tt.want) {
				t.Errorf("got %s, want %s (errors: %v)", res.Value.Literal(), tt.want.Literal(), res.Errors)
			}
		})
	}
}

// TestExecute_LogicAndComparisons verifies short-circuit evaluation and comparison chains
func TestExecute_LogicAndComparisons(t *testing.T) {
	never := func(context.Context, *Invocation) (Value, error) {
		t.Fatal("short-circuited operand was evaluated")
		return None(), nil
	}
	tests := []struct {
		code string
		want Value
	}{
		{"return False and never()", Bool(false)},
		{"return True or never()", Bool(true)},
		{"return None or 'fallback'", String("fallback")},
		{"return 1 < 2 < 3", Bool(true)},
		{"return 1 < 3 < 2", Bool(false)},
		{"return not 0", Bool(true)},
		{"return 'a' + 'b' == 'ab'", Bool(true)},
		{"return 1 == '1'", Bool(false)},
		{"return 12.0 == 12.00", Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			res := run(t, tt.code, Funcs{"never": never})
			if !res.Value.Equal(tt.want) {
				t.Errorf("got %s, want %s (errors: %v)", res.Value.Literal(), tt.want.Literal(), res.Errors)
			}
		})
	}
}

// TestExecute_KeywordArguments verifies keyword arguments reach the callable
func TestExecute_KeywordArguments(t *testing.T) {
	var got *Invocation
	capture := func(_ context.Context, inv *Invocation) (Value, error) {
		got = inv
		return None(), nil
	}
	run(t, "capture(1, 'two', rate=13)", Funcs{"capture": capture})

	if got == nil {
		t.Fatal("callable was not invoked")
	}
	wantArgs := []Value{Int(1), String("two")}
	if diff := cmp.Diff(wantArgs, got.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if !got.Kwargs["rate"].Equal(Int(13)) {
		t.Errorf("rate = %s, want 13", got.Kwargs["rate"].Literal())
	}
}

// TestExecute_Idempotent verifies identical inputs give identical results
func TestExecute_Idempotent(t *testing.T) {
	ns := Funcs{
		"years_between":        yearsBetween,
		"subscriber_birthdate": constant(DateOf(1950, time.November, 2)),
		"today":                constant(DateOf(2026, time.October, 16)),
	}
	prog, err := Compile(ageRule, NewNameSet("years_between", "subscriber_birthdate", "today"))
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	first := prog.Execute(context.Background(), ns, nil)
	second := prog.Execute(context.Background(), ns, nil)
	if diff := cmp.Diff(first.Triple(), second.Triple(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("executions differ (-first +second):\n%s", diff)
	}
}

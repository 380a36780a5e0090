package script

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// TestParseLiteral_RoundTrip verifies that rendering then parsing a literal yields an equal value
func TestParseLiteral_RoundTrip(t *testing.T) {
	values := []Value{
		None(),
		Bool(true),
		Bool(false),
		MustDecimal("12.00"),
		MustDecimal("-0.0125"),
		MustDecimal("1000000000000000000000.5"),
		String(""),
		String("Subscriber too old (max: 40)"),
		String(`it's "quoted"` + "\n\ttabbed \\ done"),
		String("été"),
		DateOf(2000, time.November, 2),
		DateOf(1950, time.January, 31),
	}

	for _, v := range values {
		t.Run(v.Literal(), func(t *testing.T) {
			parsed, err := ParseLiteral(v.Literal())
			if err != nil {
				t.Fatalf("ParseLiteral(%q) failed: %v", v.Literal(), err)
			}
			if !parsed.Equal(v) {
				t.Errorf("round trip changed value: %s -> %s", v.Literal(), parsed.Literal())
			}
		})
	}
}

// TestParseLiteral_Forms verifies the accepted spellings
func TestParseLiteral_Forms(t *testing.T) {
	tests := []struct {
		text string
		want Value
	}{
		{"12.50", MustDecimal("12.5")},
		{" -3 ", Int(-3)},
		{"\"double\"", String("double")},
		{"'single'", String("single")},
		{"@2000-11-02", DateOf(2000, time.November, 2)},
		{"True", Bool(true)},
		{"None", None()},
		{"1_000", Int(1000)},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseLiteral(tt.text)
			if err != nil {
				t.Fatalf("ParseLiteral(%q) failed: %v", tt.text, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.Literal(), tt.want.Literal())
			}
		})
	}
}

// TestParseLiteral_RejectsExpressions verifies stored text is never evaluated as code
func TestParseLiteral_RejectsExpressions(t *testing.T) {
	inputs := []string{
		"",
		"1 + 2",
		"foo()",
		"x",
		"'a' 'b'",
		"-'a'",
		"(1)",
		"True and False",
		"2000-11-02",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := ParseLiteral(in)
			if !errors.Is(err, ErrSyntax) {
				t.Errorf("ParseLiteral(%q) = %v, want a syntax error", in, err)
			}
		})
	}
}

// TestValue_JSON verifies values travel through JSON as literals
func TestValue_JSON(t *testing.T) {
	in := Triple{
		Value:    DateOf(2000, time.November, 2),
		Messages: []string{"a"},
		Errors:   []string{},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out Triple
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !out.Value.Equal(in.Value) {
		t.Errorf("value changed: %s -> %s", in.Value.Literal(), out.Value.Literal())
	}
}

// TestFromInterface verifies conversion of Go values found in execution args
func TestFromInterface(t *testing.T) {
	tests := []struct {
		in   any
		want Value
	}{
		{nil, None()},
		{true, Bool(true)},
		{42, Int(42)},
		{int64(-7), Int(-7)},
		{12.5, MustDecimal("12.5")},
		{"abc", String("abc")},
		{time.Date(2000, 11, 2, 15, 4, 5, 0, time.Local), DateOf(2000, time.November, 2)},
	}
	for _, tt := range tests {
		got, err := FromInterface(tt.in)
		if err != nil {
			t.Fatalf("FromInterface(%v) failed: %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("FromInterface(%v) = %s, want %s", tt.in, got.Literal(), tt.want.Literal())
		}
	}

	if _, err := FromInterface([]int{1}); err == nil {
		t.Error("expected an error for an unsupported type")
	}
}

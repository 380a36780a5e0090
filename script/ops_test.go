package script

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// TestDateDifference verifies date subtraction counts calendar days over
// spans far beyond what a time.Duration can hold
func TestDateDifference(t *testing.T) {
	tests := []struct {
		code string
		want Value
	}{
		{"return @2020-03-01 - @2020-02-01", Int(29)},
		{"return @2500-01-01 - @1900-01-01", Int(219146)},
		{"return @1900-01-01 - @2500-01-01", Int(-219146)},
		{"return @1900-01-01 - @1600-01-01", Int(109573)},
		{"return @0001-01-01 - @0001-01-01", Int(0)},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			res := run(t, tt.code, Funcs{})
			if len(res.Errors) != 0 {
				t.Fatalf("unexpected errors: %v", res.Errors)
			}
			if !res.Value.Equal(tt.want) {
				t.Errorf("got %s, want %s", res.Value.Literal(), tt.want.Literal())
			}
		})
	}
}

// TestDayNumber verifies the day ordinal ignores the time of day and zone
func TestDayNumber(t *testing.T) {
	east := time.FixedZone("east", 5*60*60)
	tests := []struct {
		in   time.Time
		want int64
	}{
		{time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(1969, time.December, 31, 23, 59, 0, 0, time.UTC), -1},
		{time.Date(2000, time.January, 1, 23, 0, 0, 0, east), 10957},
		{time.Date(2000, time.January, 1, 1, 0, 0, 0, east), 10957},
	}
	for _, tt := range tests {
		if got := DayNumber(tt.in); got != tt.want {
			t.Errorf("DayNumber(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// TestDecodeArgs verifies JSON numbers in execution args keep every digit
// and flow into exact decimal arithmetic
func TestDecodeArgs(t *testing.T) {
	args, err := DecodeArgs(strings.NewReader(`{"amount": 1234567890.123456789, "count": 3, "rate": 0.1}`))
	if err != nil {
		t.Fatalf("DecodeArgs() failed: %v", err)
	}

	amount, err := FromInterface(args["amount"])
	if err != nil {
		t.Fatalf("FromInterface(amount) failed: %v", err)
	}
	if want := MustDecimal("1234567890.123456789"); !amount.Equal(want) {
		t.Errorf("amount = %s, want %s", amount.Literal(), want.Literal())
	}
	count, err := FromInterface(args["count"])
	if err != nil {
		t.Fatalf("FromInterface(count) failed: %v", err)
	}
	if !count.Equal(Int(3)) {
		t.Errorf("count = %s, want 3", count.Literal())
	}
	rate, err := FromInterface(args["rate"])
	if err != nil {
		t.Fatalf("FromInterface(rate) failed: %v", err)
	}

	res := run(t, "return amount() * 3 + rate() + rate() + rate()", Funcs{
		"amount": constant(amount),
		"rate":   constant(rate),
	})
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if want := MustDecimal("3703703670.670370367"); !res.Value.Equal(want) {
		t.Errorf("got %s, want %s", res.Value.Literal(), want.Literal())
	}
}

// TestDecodeArgs_Empty verifies an empty body or null yields empty args
func TestDecodeArgs_Empty(t *testing.T) {
	for _, in := range []string{"", "null", "{}"} {
		args, err := DecodeArgs(strings.NewReader(in))
		if err != nil {
			t.Fatalf("DecodeArgs(%q) failed: %v", in, err)
		}
		if args == nil || len(args) != 0 {
			t.Errorf("DecodeArgs(%q) = %v, want empty args", in, args)
		}
	}
	if _, err := DecodeArgs(strings.NewReader("[1, 2]")); err == nil {
		t.Error("DecodeArgs(list) succeeded, want an error")
	}
}

// TestFromInterface_InvalidNumber verifies a malformed json.Number is rejected
func TestFromInterface_InvalidNumber(t *testing.T) {
	if _, err := FromInterface(json.Number("12abc")); err == nil {
		t.Error("FromInterface(12abc) succeeded, want an error")
	}
}

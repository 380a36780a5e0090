package script

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the dynamic type of a Value.
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindDecimal
	KindString
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// DateLayout is the textual layout of date values.
const DateLayout = "2006-01-02"

// Value is a literal manipulated by rule code. The zero Value is None.
type Value struct {
	kind Kind
	b    bool
	d    decimal.Decimal
	s    string
	t    time.Time
}

// None returns the absence sentinel.
func None() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Decimal wraps an arbitrary-precision decimal.
func Decimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, d: d} }

// Int wraps an integer as a decimal.
func Int(i int64) Value { return Decimal(decimal.NewFromInt(i)) }

// MustDecimal parses s as a decimal and panics on malformed input.
// Intended for constants and tests.
func MustDecimal(s string) Value { return Decimal(decimal.RequireFromString(s)) }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Date wraps the calendar date of t. The time of day and location are dropped.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateOf builds a date value from its components.
func DateOf(year int, month time.Month, day int) Value {
	return Date(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DayNumber returns the days elapsed from 1970-01-01 to the calendar date
// of t, negative before.
func DayNumber(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// ParseDate parses an ISO date (YYYY-MM-DD).
func ParseDate(s string) (Value, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return None(), fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(t), nil
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNone() bool    { return v.kind == KindNone }
func (v Value) Bool() bool      { return v.b }
func (v Value) Str() string     { return v.s }
func (v Value) Time() time.Time { return v.t }

// Dec returns the decimal payload. Non-decimal values yield zero.
func (v Value) Dec() decimal.Decimal { return v.d }

// Truthy reports the boolean interpretation used by conditions.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindDecimal:
		return !v.d.IsZero()
	case KindString:
		return v.s != ""
	case KindDate:
		return true
	default:
		return false
	}
}

// Equal reports exact equality. Decimals compare by value, so 12.0 equals 12.00.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindBool:
		return v.b == o.b
	case KindDecimal:
		return v.d.Equal(o.d)
	case KindString:
		return v.s == o.s
	case KindDate:
		return v.t.Equal(o.t)
	}
	return false
}

// Literal renders v in the literal grammar accepted by ParseLiteral.
func (v Value) Literal() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindDecimal:
		return v.d.String()
	case KindString:
		return quote(v.s)
	case KindDate:
		return "@" + v.t.Format(DateLayout)
	default:
		return "None"
	}
}

// String renders v for humans: strings unquoted, dates as ISO text.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindDate:
		return v.t.Format(DateLayout)
	default:
		return v.Literal()
	}
}

// Interface converts v to a plain Go value: nil, bool, decimal.Decimal,
// string or time.Time.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindDecimal:
		return v.d
	case KindString:
		return v.s
	case KindDate:
		return v.t
	default:
		return nil
	}
}

// MarshalText encodes v as its literal so it round-trips through JSON and YAML.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.Literal()), nil
}

// UnmarshalText parses a literal.
func (v *Value) UnmarshalText(text []byte) error {
	parsed, err := ParseLiteral(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromInterface converts a Go value coming from execution args or decoded
// JSON into a Value.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return None(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case decimal.Decimal:
		return Decimal(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return None(), fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Decimal(d), nil
	case float64:
		return Decimal(decimal.NewFromFloat(t)), nil
	case float32:
		return Decimal(decimal.NewFromFloat32(t)), nil
	case string:
		return String(t), nil
	case time.Time:
		return Date(t), nil
	case fmt.Stringer:
		return String(t.String()), nil
	default:
		return None(), fmt.Errorf("unsupported value type %T", x)
	}
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

package script

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DivisionPrecision is the number of decimal places kept by "/".
const DivisionPrecision = 16

func typeError(pos Pos, op TokenType, x, y Value) error {
	return &RuntimeError{
		Pos: pos,
		Msg: fmt.Sprintf("unsupported operand types for %s: %s and %s", op, x.Kind(), y.Kind()),
	}
}

func unary(pos Pos, op TokenType, x Value) (Value, error) {
	switch op {
	case NOT:
		return Bool(!x.Truthy()), nil
	case MINUS:
		if x.Kind() == KindDecimal {
			return Decimal(x.Dec().Neg()), nil
		}
		return None(), &RuntimeError{Pos: pos, Msg: fmt.Sprintf("bad operand type for unary -: %s", x.Kind())}
	}
	return None(), &RuntimeError{Pos: pos, Msg: fmt.Sprintf("unknown unary operator %s", op)}
}

func binary(pos Pos, op TokenType, x, y Value) (Value, error) {
	xk, yk := x.Kind(), y.Kind()

	if xk == KindDecimal && yk == KindDecimal {
		a, b := x.Dec(), y.Dec()
		switch op {
		case PLUS:
			return Decimal(a.Add(b)), nil
		case MINUS:
			return Decimal(a.Sub(b)), nil
		case STAR:
			return Decimal(a.Mul(b)), nil
		case SLASH:
			if b.IsZero() {
				return None(), &RuntimeError{Pos: pos, Msg: "division by zero"}
			}
			return Decimal(a.DivRound(b, DivisionPrecision)), nil
		case PERCENT:
			if b.IsZero() {
				return None(), &RuntimeError{Pos: pos, Msg: "modulo by zero"}
			}
			return Decimal(a.Mod(b)), nil
		}
		return None(), typeError(pos, op, x, y)
	}

	switch {
	case op == PLUS && xk == KindString && yk == KindString:
		return String(x.Str() + y.Str()), nil
	case op == PLUS && xk == KindDate && yk == KindDecimal:
		return addDays(pos, x, y.Dec())
	case op == PLUS && xk == KindDecimal && yk == KindDate:
		return addDays(pos, y, x.Dec())
	case op == MINUS && xk == KindDate && yk == KindDecimal:
		return addDays(pos, x, y.Dec().Neg())
	case op == MINUS && xk == KindDate && yk == KindDate:
		return Int(DayNumber(x.Time()) - DayNumber(y.Time())), nil
	}
	return None(), typeError(pos, op, x, y)
}

func addDays(pos Pos, date Value, days decimal.Decimal) (Value, error) {
	if !days.IsInteger() {
		return None(), &RuntimeError{Pos: pos, Msg: fmt.Sprintf("cannot add a fractional number of days (%s) to a date", days)}
	}
	return Date(date.Time().AddDate(0, 0, int(days.IntPart()))), nil
}

func compare(pos Pos, op TokenType, x, y Value) (bool, error) {
	switch op {
	case EQ:
		return x.Equal(y), nil
	case NEQ:
		return !x.Equal(y), nil
	}

	var c int
	switch {
	case x.Kind() == KindDecimal && y.Kind() == KindDecimal:
		c = x.Dec().Cmp(y.Dec())
	case x.Kind() == KindString && y.Kind() == KindString:
		switch {
		case x.Str() < y.Str():
			c = -1
		case x.Str() > y.Str():
			c = 1
		}
	case x.Kind() == KindDate && y.Kind() == KindDate:
		c = x.Time().Compare(y.Time())
	default:
		return false, &RuntimeError{
			Pos: pos,
			Msg: fmt.Sprintf("cannot compare %s and %s with %s", x.Kind(), y.Kind(), op),
		}
	}

	switch op {
	case LT:
		return c < 0, nil
	case LTE:
		return c <= 0, nil
	case GT:
		return c > 0, nil
	case GTE:
		return c >= 0, nil
	}
	return false, &RuntimeError{Pos: pos, Msg: fmt.Sprintf("unknown comparison %s", op)}
}

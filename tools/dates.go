package tools

import (
	"time"

	"github.com/liamcoop/ruleengine/dispatch"
	"github.com/liamcoop/ruleengine/script"
)

func (rt *Runtime) today(*dispatch.Call, ...script.Value) (script.Value, error) {
	return script.Date(rt.now()), nil
}

// calculationDate is the "date" execution arg when the caller provides one.
func (rt *Runtime) calculationDate(call *dispatch.Call, _ ...script.Value) (script.Value, error) {
	if _, ok := call.Args["date"]; ok {
		v, err := call.ArgValue("date")
		if err != nil || v.Kind() != script.KindString {
			return v, err
		}
		return script.ParseDate(v.Str())
	}
	return rt.today(call)
}

// between wraps a date difference; non-date operands are reported as a
// business error naming the function.
func between(name string, diff func(from, to time.Time) int) dispatch.Func {
	return func(call *dispatch.Call, args ...script.Value) (script.Value, error) {
		from, _ := arg(call, args, 0, "date1")
		to, _ := arg(call, args, 1, "date2")
		if from.Kind() != script.KindDate || to.Kind() != script.KindDate {
			call.Result.AppendError(name + " needs date values")
			return script.None(), script.Reported(nil)
		}
		return script.Int(int64(diff(from.Time(), to.Time()))), nil
	}
}

// yearsBetween counts whole years with to included, negative when from is
// after to.
func yearsBetween(from, to time.Time) int {
	if from.After(to) {
		return -yearsBetween(to, from)
	}
	return monthsDiff(from, to.AddDate(0, 0, 1)) / 12
}

// monthsBetween counts whole months with to included.
func monthsBetween(from, to time.Time) int {
	return monthsDiff(from, to.AddDate(0, 0, 1))
}

// daysBetween counts days with both ends included.
func daysBetween(from, to time.Time) int {
	return int(script.DayNumber(to)-script.DayNumber(from)) + 1
}

// monthsDiff returns the number of whole months from from to to (from <= to),
// where adding a month to the 31st lands on the last day of a shorter month.
func monthsDiff(from, to time.Time) int {
	if from.After(to) {
		return -monthsDiff(to, from)
	}
	n := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if addMonths(from, n).After(to) {
		n--
	}
	return n
}

// addMonths adds n months, clamping the day to the end of the target month.
func addMonths(d time.Time, n int) time.Time {
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	day := d.Day()
	if last := endOfMonth(first).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func endOfMonth(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

func isEndOfMonth(d time.Time) bool { return d.Day() == endOfMonth(d).Day() }

type unit int

const (
	unitDay unit = iota
	unitWeek
	unitMonth
	unitQuarter
	unitHalfYear
	unitYear
)

// addDuration implements add_days, add_weeks, ... add_years. Months, quarters,
// half years and years accept stick_to_end_of_month: when the start date is
// the last day of its month, so is the result.
func addDuration(name string, u unit) dispatch.Func {
	return func(call *dispatch.Call, args ...script.Value) (script.Value, error) {
		date, ok := arg(call, args, 0, "date")
		if !ok || date.Kind() != script.KindDate {
			call.Result.AppendError(name + " needs a date value")
			return script.None(), script.Reported(nil)
		}
		duration := int64(1)
		if v, ok := arg(call, args, 1, "duration"); ok {
			if v.Kind() != script.KindDecimal {
				return script.None(), errf("duration must be a number, got %s", v.Kind())
			}
			duration = v.Dec().IntPart()
		}
		stick := false
		if v, ok := arg(call, args, 2, "stick_to_end_of_month"); ok {
			stick = v.Truthy()
		}

		d := date.Time()
		n := int(duration)
		var res time.Time
		switch u {
		case unitDay:
			res = d.AddDate(0, 0, n)
		case unitWeek:
			res = d.AddDate(0, 0, 7*n)
		case unitMonth:
			res = addMonths(d, n)
		case unitQuarter:
			res = addMonths(d, 3*n)
		case unitHalfYear:
			res = addMonths(d, 6*n)
		case unitYear:
			res = addMonths(d, 12*n)
		}
		if stick && u >= unitMonth && isEndOfMonth(d) {
			res = endOfMonth(res)
		}
		return script.Date(res), nil
	}
}

func (rt *Runtime) dateAsString(call *dispatch.Call, args ...script.Value) (script.Value, error) {
	date, ok := arg(call, args, 0, "date")
	if !ok || date.Kind() != script.KindDate {
		return script.None(), errf("date_as_string needs a date value")
	}
	return script.String(date.Time().Format(rt.dateLayout)), nil
}

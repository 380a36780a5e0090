package tools

import (
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/ruleengine/dispatch"
	"github.com/liamcoop/ruleengine/script"
)

// round implements round(amount, rounding_factor): amount / factor rounded
// half away from zero, times factor.
func round(call *dispatch.Call, args ...script.Value) (script.Value, error) {
	amount, ok := arg(call, args, 0, "amount")
	if !ok || amount.Kind() != script.KindDecimal {
		return script.None(), errf("amount must be a number")
	}
	factor, ok := arg(call, args, 1, "rounding_factor")
	if !ok || factor.Kind() != script.KindDecimal {
		return script.None(), errf("rounding_factor must be a number")
	}
	if factor.Dec().IsZero() {
		return script.None(), errf("rounding_factor cannot be zero")
	}
	return script.Decimal(RoundTo(amount.Dec(), factor.Dec())), nil
}

// RoundTo rounds d half away from zero to a multiple of factor.
func RoundTo(d, factor decimal.Decimal) decimal.Decimal {
	return d.DivRound(factor, script.DivisionPrecision).Round(0).Mul(factor)
}

// get reads "role.field.sub[0].leaf" from the execution args. Maps are
// indexed by key, structs by field name or json tag, and [0] / [-1] select
// the first or last element of a list. The leaf must be a plain value.
func get(call *dispatch.Call, args ...script.Value) (script.Value, error) {
	path, ok := arg(call, args, 0, "input_string")
	if !ok || path.Kind() != script.KindString {
		return script.None(), errf("input_string must be a string")
	}
	parts := strings.Split(path.Str(), ".")
	root, present := call.Args[parts[0]]
	if !present {
		return script.None(), errf("%s is not available in the execution args", parts[0])
	}

	cur := reflect.ValueOf(root)
	for _, part := range parts[1:] {
		field, index, err := splitIndex(part)
		if err != nil {
			return script.None(), err
		}
		cur = indirect(cur)
		if !cur.IsValid() {
			return script.None(), nil
		}
		cur, err = member(cur, field)
		if err != nil {
			return script.None(), err
		}
		if index != nil {
			cur = indirect(cur)
			if cur.Kind() != reflect.Slice && cur.Kind() != reflect.Array {
				return script.None(), errf("field %s is not a list", field)
			}
			if cur.Len() == 0 {
				return script.None(), nil
			}
			i := *index
			if i < 0 {
				i = cur.Len() + i
			}
			cur = cur.Index(i)
		}
	}

	cur = indirect(cur)
	if !cur.IsValid() {
		return script.None(), nil
	}
	v, err := script.FromInterface(cur.Interface())
	if err != nil {
		return script.None(), errf("%s: cannot return %s values", path.Str(), cur.Type())
	}
	return v, nil
}

func splitIndex(part string) (string, *int, error) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		return part, nil, nil
	}
	if !strings.HasSuffix(part, "]") {
		return "", nil, errf("malformed path element %q", part)
	}
	i, err := strconv.Atoi(part[open+1 : len(part)-1])
	if err != nil || (i != 0 && i != -1) {
		return "", nil, errf("only [0] and [-1] are supported, got %q", part)
	}
	return part[:open], &i, nil
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func member(v reflect.Value, name string) (reflect.Value, error) {
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, errf("cannot read %s from a map keyed by %s", name, v.Type().Key())
		}
		return v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key())), nil
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			tag := strings.Split(f.Tag.Get("json"), ",")[0]
			if f.Name == name || tag == name {
				return v.Field(i), nil
			}
		}
		return reflect.Value{}, errf("%s has no field %s", t, name)
	}
	return reflect.Value{}, errf("cannot read %s from %s", name, v.Kind())
}

// slugify implements slugify(text, char='_', lower=True).
func slugify(call *dispatch.Call, args ...script.Value) (script.Value, error) {
	text, ok := arg(call, args, 0, "text")
	if !ok {
		return script.None(), errf("text undefined !")
	}
	sep := "_"
	if v, ok := arg(call, args, 1, "char"); ok {
		sep = v.String()
	}
	lower := true
	if v, ok := arg(call, args, 2, "lower"); ok {
		lower = v.Truthy()
	}
	return script.String(Slugify(text.String(), sep, lower)), nil
}

// Slugify keeps letters and digits and joins the runs between them with sep.
func Slugify(text, sep string, lower bool) string {
	var words []string
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if lower {
			w = strings.ToLower(w)
		}
		words = append(words, w)
	}
	return strings.Join(words, sep)
}

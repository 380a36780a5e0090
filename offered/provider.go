package offered

import (
	"fmt"

	"github.com/liamcoop/ruleengine/catalog"
	"github.com/liamcoop/ruleengine/dispatch"
	"github.com/liamcoop/ruleengine/script"
)

// Namespace is the catalog namespace of the offered accessors.
const Namespace = "insurance.offered"

// Execution arg roles read by the accessors.
const (
	ContractArg = "contract"
	OptionArg   = "option"
	PartyArg    = "party"
)

type accessor struct {
	name        string
	description string
	parameters  []string
	fn          dispatch.Func
}

func accessors() []accessor {
	return []accessor{
		{"product_code", "Code of the product the rule runs for", nil, productCode},
		{"contract_value", "Field of the contract", []string{"field"}, field(ContractArg)},
		{"option_value", "Field of the covered option", []string{"field"}, field(OptionArg)},
		{"party_value", "Field of the subscriber", []string{"field"}, field(PartyArg)},
		{"has_option", "Whether the contract holds an option", []string{"code"}, hasOption},
	}
}

// Provider returns the accessor implementations.
func Provider() dispatch.Provider {
	funcs := make(map[string]dispatch.Func)
	for _, a := range accessors() {
		funcs[a.name] = a.fn
	}
	return dispatch.Provider{Name: "offered", Namespace: Namespace, Funcs: funcs}
}

// Register adds the accessors to cat under an "Offered" folder and returns
// the folder id.
func Register(cat *catalog.Catalog) (string, error) {
	fns := accessors()
	ids := make([]string, 0, len(fns))
	for _, a := range fns {
		id, err := cat.Register(catalog.KindFunction, Namespace, a.name, a.description, a.parameters)
		if err != nil {
			return "", fmt.Errorf("failed to register %s: %w", a.name, err)
		}
		ids = append(ids, id)
	}
	return cat.ComposeFolder("Offered", ids...)
}

func productCode(call *dispatch.Call, _ ...script.Value) (script.Value, error) {
	return call.ArgValue(ProductArg)
}

// field reads one field of a map-shaped arg. A missing field is None.
func field(role string) dispatch.Func {
	return func(call *dispatch.Call, _ ...script.Value) (script.Value, error) {
		name, err := call.Param("field")
		if err != nil {
			return script.None(), err
		}
		if name.Kind() != script.KindString {
			return script.None(), fmt.Errorf("field must be a string")
		}
		obj, err := call.Arg(role)
		if err != nil {
			return script.None(), err
		}
		m, ok := obj.(map[string]any)
		if !ok {
			return script.None(), fmt.Errorf("%s is not an object", role)
		}
		v, ok := m[name.Str()]
		if !ok {
			return script.None(), nil
		}
		return script.FromInterface(v)
	}
}

func hasOption(call *dispatch.Call, _ ...script.Value) (script.Value, error) {
	code, err := call.Param("code")
	if err != nil {
		return script.None(), err
	}
	contract, err := call.Arg(ContractArg)
	if err != nil {
		return script.None(), err
	}
	m, ok := contract.(map[string]any)
	if !ok {
		return script.None(), fmt.Errorf("%s is not an object", ContractArg)
	}
	switch options := m["options"].(type) {
	case []string:
		for _, o := range options {
			if o == code.Str() {
				return script.Bool(true), nil
			}
		}
	case []any:
		for _, o := range options {
			if s, ok := o.(string); ok && s == code.Str() {
				return script.Bool(true), nil
			}
		}
	}
	return script.Bool(false), nil
}

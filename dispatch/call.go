package dispatch

import (
	"context"
	"fmt"

	"github.com/liamcoop/ruleengine/catalog"
	"github.com/liamcoop/ruleengine/script"
)

// Call is what an implementation sees of the running execution.
type Call struct {
	Name    string
	Element catalog.TreeElement
	Args    map[string]any
	Kwargs  map[string]script.Value
	Result  *script.Result
	Budget  *script.Budget
	Data    any

	ctx        context.Context
	positional []script.Value
}

// Context returns the execution context.
func (c *Call) Context() context.Context { return c.ctx }

// Arg returns the execution arg registered under role. A missing role is
// reported as "<role> undefined !".
func (c *Call) Arg(role string) (any, error) {
	v, ok := c.Args[role]
	if !ok || v == nil {
		return nil, fmt.Errorf("%s undefined !", role)
	}
	return v, nil
}

// ArgValue is Arg converted to a rule value.
func (c *Call) ArgValue(role string) (script.Value, error) {
	v, err := c.Arg(role)
	if err != nil {
		return script.None(), err
	}
	return script.FromInterface(v)
}

// Param returns a declared parameter of the function, given either by
// keyword or at its declared position.
func (c *Call) Param(name string) (script.Value, error) {
	if v, ok := c.Kwargs[name]; ok {
		return v, nil
	}
	for i, p := range c.Element.Parameters {
		if p == name && i < len(c.positional) {
			return c.positional[i], nil
		}
	}
	return script.None(), fmt.Errorf("%s undefined !", name)
}

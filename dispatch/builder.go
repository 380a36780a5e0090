package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/liamcoop/ruleengine/catalog"
	"github.com/liamcoop/ruleengine/script"
)

// ErrUnresolvedCapability matches every *UnresolvedCapabilityError.
var ErrUnresolvedCapability = errors.New("unresolved capability")

// UnresolvedCapabilityError lists whitelisted functions without an
// implementation.
type UnresolvedCapabilityError struct {
	Refs []catalog.Ref
}

func (e *UnresolvedCapabilityError) Error() string {
	names := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		names[i] = r.String()
	}
	return "no implementation registered for " + strings.Join(names, ", ")
}

func (e *UnresolvedCapabilityError) Is(target error) bool { return target == ErrUnresolvedCapability }

// Options configure one namespace.
type Options struct {
	// Args are the execution args, keyed by role (contract, option, date...).
	Args map[string]any

	// Overrides replace namespace entries by identifier. Successive calls
	// consume the values in order; the last one stays once the list is
	// exhausted.
	Overrides map[string][]script.Value

	// Lenient defers unresolved capabilities to call time.
	Lenient bool

	// Trace records every call into the result.
	Trace bool

	// Extra entries are added next to the context functions.
	Extra map[string]script.Callable

	// Data is handed to implementations as Call.Data.
	Data any
}

// Builder turns contexts into namespaces using a registry.
type Builder struct {
	registry *Registry
}

// NewBuilder returns a builder resolving through reg.
func NewBuilder(reg *Registry) *Builder {
	return &Builder{registry: reg}
}

// Registry returns the registry used for resolution.
func (b *Builder) Registry() *Registry { return b.registry }

// Check verifies that every function of the context has an implementation.
func (b *Builder) Check(c *catalog.Context) error {
	names, err := c.Names()
	if err != nil {
		return err
	}
	var missing []catalog.Ref
	for _, e := range names {
		if _, _, ok := b.registry.Resolve(e.Namespace, e.Name); !ok {
			missing = append(missing, e.Ref())
		}
	}
	if len(missing) > 0 {
		sortRefs(missing)
		return &UnresolvedCapabilityError{Refs: missing}
	}
	return nil
}

// Build resolves the context into a namespace for one execution.
func (b *Builder) Build(c *catalog.Context, opts Options) (script.Funcs, error) {
	names, err := c.Names()
	if err != nil {
		return nil, err
	}

	ns := make(script.Funcs, len(names)+len(opts.Extra))
	var missing []catalog.Ref
	for id, e := range names {
		fn, _, ok := b.registry.Resolve(e.Namespace, e.Name)
		if !ok {
			if !opts.Lenient {
				missing = append(missing, e.Ref())
				continue
			}
			ns[id] = unresolved(e.Ref())
			continue
		}
		ns[id] = bind(id, e, fn, opts)
	}
	if len(missing) > 0 {
		sortRefs(missing)
		return nil, &UnresolvedCapabilityError{Refs: missing}
	}

	for id, fn := range opts.Extra {
		if _, dup := ns[id]; dup {
			return nil, fmt.Errorf("%w: %q", catalog.ErrDuplicateName, id)
		}
		ns[id] = fn
	}

	for id, values := range opts.Overrides {
		if len(values) == 0 {
			continue
		}
		ns[id] = override(values)
	}

	if opts.Trace {
		for id, fn := range ns {
			ns[id] = traced(fn)
		}
	}
	return ns, nil
}

func bind(id string, e catalog.TreeElement, fn Func, opts Options) script.Callable {
	return func(ctx context.Context, inv *script.Invocation) (script.Value, error) {
		call := &Call{
			Name:       id,
			Element:    e,
			Args:       opts.Args,
			Kwargs:     inv.Kwargs,
			Result:     inv.Result,
			Budget:     inv.Budget,
			Data:       opts.Data,
			ctx:        ctx,
			positional: inv.Args,
		}
		return fn(call, inv.Args...)
	}
}

func unresolved(ref catalog.Ref) script.Callable {
	return func(context.Context, *script.Invocation) (script.Value, error) {
		return script.None(), &UnresolvedCapabilityError{Refs: []catalog.Ref{ref}}
	}
}

// override replays values; the namespace is built per execution, so the
// position is never shared between executions.
func override(values []script.Value) script.Callable {
	values = append([]script.Value(nil), values...)
	next := 0
	return func(context.Context, *script.Invocation) (script.Value, error) {
		v := values[next]
		if next < len(values)-1 {
			next++
		}
		return v, nil
	}
}

func traced(fn script.Callable) script.Callable {
	return func(ctx context.Context, inv *script.Invocation) (script.Value, error) {
		before := inv.Result.Writes()
		v, err := fn(ctx, inv)
		t := script.CallTrace{Name: inv.Name, Args: inv.Args, Result: v, Effects: inv.Result.Writes() != before}
		if err != nil {
			t.Error = err.Error()
		}
		inv.Result.Trace(t)
		return v, err
	}
}

func sortRefs(refs []catalog.Ref) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
}

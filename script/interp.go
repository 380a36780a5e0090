package script

import (
	"context"
	"errors"
	"fmt"
)

// Default execution limits.
const (
	DefaultStepBudget = 100_000
	DefaultMaxDepth   = 16
)

// Invocation carries one call from rule code to a namespace entry.
type Invocation struct {
	Pos    Pos
	Name   string
	Args   []Value
	Kwargs map[string]Value
	Result *Result
	Budget *Budget
}

// Callable implements a namespace entry. A returned error stops the
// execution and is recorded in the result's errors, unless it wraps
// ErrReported.
type Callable func(ctx context.Context, inv *Invocation) (Value, error)

// Namespace resolves call targets at execution time.
type Namespace interface {
	Lookup(name string) (Callable, bool)
}

// Funcs is a map-backed Namespace.
type Funcs map[string]Callable

func (f Funcs) Lookup(name string) (Callable, bool) {
	c, ok := f[name]
	return c, ok
}

// Budget bounds the work of one top-level execution, nested rule calls
// included. It is not safe for concurrent use.
type Budget struct {
	remaining int64
	depth     int
	maxDepth  int
}

// NewBudget returns a budget of steps evaluation steps. Non-positive values
// select DefaultStepBudget.
func NewBudget(steps int64) *Budget {
	if steps <= 0 {
		steps = DefaultStepBudget
	}
	return &Budget{remaining: steps, maxDepth: DefaultMaxDepth}
}

// Remaining returns the steps left.
func (b *Budget) Remaining() int64 { return b.remaining }

// Enter accounts for one level of nested rule execution.
func (b *Budget) Enter() error {
	if b.depth >= b.maxDepth {
		return ErrNestingTooDeep
	}
	b.depth++
	return nil
}

// Leave undoes Enter.
func (b *Budget) Leave() {
	if b.depth > 0 {
		b.depth--
	}
}

func (b *Budget) spend() error {
	b.remaining--
	if b.remaining < 0 {
		return ErrExecutionBudgetExceeded
	}
	return nil
}

// Execute runs the program against ns and returns its result. Faults never
// escape: they end up in the result's errors and the value is None. A nil
// budget gets the default one.
func (p *Program) Execute(ctx context.Context, ns Namespace, budget *Budget) *Result {
	res := NewResult()
	p.ExecuteInto(ctx, ns, budget, res)
	return res
}

// ExecuteInto is Execute writing into an existing result.
func (p *Program) ExecuteInto(ctx context.Context, ns Namespace, budget *Budget, res *Result) {
	if budget == nil {
		budget = NewBudget(0)
	}
	in := &interp{
		ctx:    ctx,
		ns:     ns,
		budget: budget,
		res:    res,
		vars:   make(map[string]Value),
	}
	v, _, err := in.block(p.stmts)
	if err != nil {
		res.Value = None()
		res.Aborted = err
		if !errors.Is(err, ErrReported) {
			res.AppendError(err.Error())
		}
		return
	}
	res.Value = v
}

type interp struct {
	ctx    context.Context
	ns     Namespace
	budget *Budget
	res    *Result
	vars   map[string]Value
}

func (in *interp) step(pos Pos) error {
	if err := in.ctx.Err(); err != nil {
		return &RuntimeError{Pos: pos, Msg: "execution cancelled: " + err.Error(), Err: err}
	}
	if err := in.budget.spend(); err != nil {
		return &RuntimeError{Pos: pos, Msg: err.Error(), Err: err}
	}
	return nil
}

// block runs statements until one returns.
func (in *interp) block(stmts []Stmt) (Value, bool, error) {
	for _, s := range stmts {
		v, done, err := in.stmt(s)
		if err != nil || done {
			return v, done, err
		}
	}
	return None(), false, nil
}

func (in *interp) stmt(s Stmt) (Value, bool, error) {
	if err := in.step(s.Position()); err != nil {
		return None(), false, err
	}
	switch n := s.(type) {
	case *AssignStmt:
		v, err := in.expr(n.Value)
		if err != nil {
			return None(), false, err
		}
		in.vars[n.Name] = v
		return None(), false, nil
	case *IfStmt:
		cond, err := in.expr(n.Cond)
		if err != nil {
			return None(), false, err
		}
		if cond.Truthy() {
			return in.block(n.Then)
		}
		return in.block(n.Else)
	case *ReturnStmt:
		if n.Value == nil {
			return None(), true, nil
		}
		v, err := in.expr(n.Value)
		if err != nil {
			return None(), false, err
		}
		return v, true, nil
	case *ExprStmt:
		_, err := in.expr(n.X)
		return None(), false, err
	}
	return None(), false, &RuntimeError{Pos: s.Position(), Msg: fmt.Sprintf("unsupported statement %T", s)}
}

func (in *interp) expr(e Expr) (Value, error) {
	if err := in.step(e.Position()); err != nil {
		return None(), err
	}
	switch n := e.(type) {
	case *Literal:
		return n.Value, nil
	case *Ident:
		v, ok := in.vars[n.Name]
		if !ok {
			return None(), &RuntimeError{Pos: n.Pos, Msg: fmt.Sprintf("name %q is not defined", n.Name)}
		}
		return v, nil
	case *UnaryExpr:
		x, err := in.expr(n.X)
		if err != nil {
			return None(), err
		}
		return unary(n.Pos, n.Op, x)
	case *BinaryExpr:
		x, err := in.expr(n.X)
		if err != nil {
			return None(), err
		}
		y, err := in.expr(n.Y)
		if err != nil {
			return None(), err
		}
		return binary(n.Pos, n.Op, x, y)
	case *LogicalExpr:
		x, err := in.expr(n.X)
		if err != nil {
			return None(), err
		}
		if (n.Op == AND) != x.Truthy() {
			return x, nil
		}
		return in.expr(n.Y)
	case *CompareExpr:
		return in.compare(n)
	case *CallExpr:
		return in.call(n)
	}
	return None(), &RuntimeError{Pos: e.Position(), Msg: fmt.Sprintf("unsupported expression %T", e)}
}

func (in *interp) compare(n *CompareExpr) (Value, error) {
	left, err := in.expr(n.Operands[0])
	if err != nil {
		return None(), err
	}
	for i, op := range n.Ops {
		right, err := in.expr(n.Operands[i+1])
		if err != nil {
			return None(), err
		}
		ok, err := compare(n.Operands[i+1].Position(), op, left, right)
		if err != nil {
			return None(), err
		}
		if !ok {
			return Bool(false), nil
		}
		left = right
	}
	return Bool(true), nil
}

func (in *interp) call(n *CallExpr) (Value, error) {
	args := make([]Value, 0, len(n.Args))
	for _, a := range n.Args {
		v, err := in.expr(a)
		if err != nil {
			return None(), err
		}
		args = append(args, v)
	}
	var kwargs map[string]Value
	if len(n.Kwargs) > 0 {
		kwargs = make(map[string]Value, len(n.Kwargs))
		for _, kw := range n.Kwargs {
			v, err := in.expr(kw.Value)
			if err != nil {
				return None(), err
			}
			kwargs[kw.Name] = v
		}
	}

	if IsBuiltin(n.Name) {
		return in.builtin(n, args, kwargs)
	}

	fn, ok := in.ns.Lookup(n.Name)
	if !ok {
		return None(), &RuntimeError{Pos: n.Pos, Msg: fmt.Sprintf("%s is not available", n.Name)}
	}
	inv := &Invocation{
		Pos:    n.Pos,
		Name:   n.Name,
		Args:   args,
		Kwargs: kwargs,
		Result: in.res,
		Budget: in.budget,
	}
	return in.invoke(fn, inv)
}

func (in *interp) invoke(fn Callable, inv *Invocation) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = None()
			err = &RuntimeError{Pos: inv.Pos, Msg: fmt.Sprintf("%s: %v", inv.Name, r)}
		}
	}()
	v, err = fn(in.ctx, inv)
	if err != nil {
		return None(), &RuntimeError{Pos: inv.Pos, Msg: fmt.Sprintf("%s: %v", inv.Name, err), Err: err}
	}
	return v, nil
}

func (in *interp) builtin(n *CallExpr, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) != 1 || len(kwargs) > 0 {
		return None(), &RuntimeError{
			Pos: n.Pos,
			Msg: fmt.Sprintf("%s takes exactly one positional argument (%d given)", n.Name, len(args)+len(kwargs)),
		}
	}
	switch n.Name {
	case BuiltinAppendMessage:
		in.res.AppendMessage(args[0].String())
	case BuiltinAppendError:
		in.res.AppendError(args[0].String())
	}
	return None(), nil
}

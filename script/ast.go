package script

import "fmt"

// Pos is a position in rule source.
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (p Pos) String() string {
	if p.Line == 0 {
		return "<unknown>"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is implemented by every syntax tree node.
type Node interface {
	Position() Pos
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

type (
	// AssignStmt binds the value of an expression to a local variable.
	AssignStmt struct {
		Pos   Pos
		Name  string
		Value Expr
	}

	// IfStmt is a conditional. An elif chain is represented as a nested
	// IfStmt in Else.
	IfStmt struct {
		Pos  Pos
		Cond Expr
		Then []Stmt
		Else []Stmt
	}

	// ReturnStmt ends execution. Value is nil for a bare return.
	ReturnStmt struct {
		Pos   Pos
		Value Expr
	}

	// ExprStmt evaluates an expression for its side effects.
	ExprStmt struct {
		Pos Pos
		X   Expr
	}
)

type (
	// Ident references a local variable.
	Ident struct {
		Pos  Pos
		Name string
	}

	// Literal is a constant.
	Literal struct {
		Pos   Pos
		Value Value
	}

	// UnaryExpr is "-x" or "not x".
	UnaryExpr struct {
		Pos Pos
		Op  TokenType
		X   Expr
	}

	// BinaryExpr is an arithmetic operation.
	BinaryExpr struct {
		Pos Pos
		Op  TokenType
		X   Expr
		Y   Expr
	}

	// LogicalExpr is a short-circuit "and" or "or".
	LogicalExpr struct {
		Pos Pos
		Op  TokenType
		X   Expr
		Y   Expr
	}

	// CompareExpr is a comparison chain: a < b <= c.
	CompareExpr struct {
		Pos      Pos
		Ops      []TokenType
		Operands []Expr
	}

	// CallExpr invokes a namespace entry by name.
	CallExpr struct {
		Pos    Pos
		Name   string
		Args   []Expr
		Kwargs []Keyword
	}

	// Keyword is a name=value call argument.
	Keyword struct {
		Name  string
		Value Expr
	}
)

func (s *AssignStmt) Position() Pos { return s.Pos }
func (s *IfStmt) Position() Pos     { return s.Pos }
func (s *ReturnStmt) Position() Pos { return s.Pos }
func (s *ExprStmt) Position() Pos   { return s.Pos }

func (*AssignStmt) stmtNode() {}
func (*IfStmt) stmtNode()     {}
func (*ReturnStmt) stmtNode() {}
func (*ExprStmt) stmtNode()   {}

func (e *Ident) Position() Pos       { return e.Pos }
func (e *Literal) Position() Pos     { return e.Pos }
func (e *UnaryExpr) Position() Pos   { return e.Pos }
func (e *BinaryExpr) Position() Pos  { return e.Pos }
func (e *LogicalExpr) Position() Pos { return e.Pos }
func (e *CompareExpr) Position() Pos { return e.Pos }
func (e *CallExpr) Position() Pos    { return e.Pos }

func (*Ident) exprNode()       {}
func (*Literal) exprNode()     {}
func (*UnaryExpr) exprNode()   {}
func (*BinaryExpr) exprNode()  {}
func (*LogicalExpr) exprNode() {}
func (*CompareExpr) exprNode() {}
func (*CallExpr) exprNode()    {}

// Inspect traverses the tree rooted at each statement in depth-first order,
// calling fn for every node. If fn returns false, the children of that node
// are skipped.
func Inspect(stmts []Stmt, fn func(Node) bool) {
	for _, s := range stmts {
		inspectStmt(s, fn)
	}
}

func inspectStmt(s Stmt, fn func(Node) bool) {
	if !fn(s) {
		return
	}
	switch n := s.(type) {
	case *AssignStmt:
		inspectExpr(n.Value, fn)
	case *IfStmt:
		inspectExpr(n.Cond, fn)
		Inspect(n.Then, fn)
		Inspect(n.Else, fn)
	case *ReturnStmt:
		if n.Value != nil {
			inspectExpr(n.Value, fn)
		}
	case *ExprStmt:
		inspectExpr(n.X, fn)
	}
}

func inspectExpr(e Expr, fn func(Node) bool) {
	if !fn(e) {
		return
	}
	switch n := e.(type) {
	case *UnaryExpr:
		inspectExpr(n.X, fn)
	case *BinaryExpr:
		inspectExpr(n.X, fn)
		inspectExpr(n.Y, fn)
	case *LogicalExpr:
		inspectExpr(n.X, fn)
		inspectExpr(n.Y, fn)
	case *CompareExpr:
		for _, o := range n.Operands {
			inspectExpr(o, fn)
		}
	case *CallExpr:
		for _, a := range n.Args {
			inspectExpr(a, fn)
		}
		for _, kw := range n.Kwargs {
			inspectExpr(kw.Value, fn)
		}
	}
}

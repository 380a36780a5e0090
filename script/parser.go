package script

import (
	"fmt"
	"strings"
)

// Parse turns rule source into a list of statements.
func Parse(src string) ([]Stmt, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.program()
}

// ParseLiteral parses the textual form of a single value: a number
// (optionally negative), a quoted string, a date (@YYYY-MM-DD), True, False
// or None. Nothing else is accepted; in particular no expression is evaluated.
func ParseLiteral(text string) (Value, error) {
	toks, err := Tokenize(strings.TrimSpace(text))
	if err != nil {
		return None(), err
	}
	p := &parser{toks: toks}

	negative := p.match(MINUS)
	t := p.peek()
	var v Value
	switch t.Type {
	case NUMBER:
		v = t.Literal
		if negative {
			v = Decimal(v.Dec().Neg())
		}
	case STRING, DATE, TRUE, FALSE, NONE:
		if negative {
			return None(), p.errorf(t.Pos, "'-' applies to numbers only")
		}
		v = t.Literal
	default:
		return None(), p.errorf(t.Pos, "expected a literal, found %s", t.Type)
	}
	p.i++
	p.skipNewlines()
	if !p.atEnd() {
		return None(), p.errorf(p.peek().Pos, "unexpected %s after literal", p.peek().Type)
	}
	return v, nil
}

type parser struct {
	toks []Token
	i    int
}

func (p *parser) program() ([]Stmt, error) {
	var stmts []Stmt
	p.skipNewlines()
	for !p.atEnd() {
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		p.skipNewlines()
	}
	return stmts, nil
}

func (p *parser) statement() (Stmt, error) {
	t := p.peek()
	switch t.Type {
	case IF:
		p.i++
		return p.ifStatement(t.Pos)
	case INDENT:
		return nil, p.errorf(t.Pos, "unexpected indent")
	case ELIF, ELSE:
		return nil, p.errorf(t.Pos, "%s without matching 'if'", t.Type)
	}
	s, err := p.simpleStatement()
	if err != nil {
		return nil, err
	}
	if err := p.endOfLine(); err != nil {
		return nil, err
	}
	return s, nil
}

// simpleStatement parses a statement that fits on one line, without its
// terminating newline.
func (p *parser) simpleStatement() (Stmt, error) {
	t := p.peek()
	if t.Type == RETURN {
		p.i++
		if p.check(NEWLINE) || p.check(EOF) {
			return &ReturnStmt{Pos: t.Pos}, nil
		}
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		return &ReturnStmt{Pos: t.Pos, Value: x}, nil
	}

	if t.Type == IDENT && p.peekAt(1).Type == ASSIGN {
		p.i += 2
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		return &AssignStmt{Pos: t.Pos, Name: t.Lexeme, Value: x}, nil
	}

	x, err := p.expression()
	if err != nil {
		return nil, err
	}
	if p.check(ASSIGN) {
		return nil, p.errorf(p.peek().Pos, "can only assign to a name")
	}
	return &ExprStmt{Pos: t.Pos, X: x}, nil
}

func (p *parser) ifStatement(pos Pos) (Stmt, error) {
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	then, err := p.block()
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{Pos: pos, Cond: cond, Then: then}

	switch t := p.peek(); t.Type {
	case ELIF:
		p.i++
		nested, err := p.ifStatement(t.Pos)
		if err != nil {
			return nil, err
		}
		stmt.Else = []Stmt{nested}
	case ELSE:
		p.i++
		els, err := p.block()
		if err != nil {
			return nil, err
		}
		stmt.Else = els
	}
	return stmt, nil
}

// block parses ':' followed by either a single statement on the same line
// or an indented suite.
func (p *parser) block() ([]Stmt, error) {
	if _, err := p.expect(COLON); err != nil {
		return nil, err
	}
	if !p.check(NEWLINE) {
		s, err := p.simpleStatement()
		if err != nil {
			return nil, err
		}
		if err := p.endOfLine(); err != nil {
			return nil, err
		}
		return []Stmt{s}, nil
	}
	p.skipNewlines()
	if _, err := p.expect(INDENT); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for !p.check(DEDENT) && !p.atEnd() {
		s, err := p.statement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		p.skipNewlines()
	}
	if _, err := p.expect(DEDENT); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *parser) endOfLine() error {
	switch p.peek().Type {
	case NEWLINE:
		p.i++
		return nil
	case EOF, DEDENT:
		return nil
	}
	t := p.peek()
	return p.errorf(t.Pos, "unexpected %s", describe(t))
}

func (p *parser) expression() (Expr, error) { return p.or() }

func (p *parser) or() (Expr, error) {
	x, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.check(OR) {
		t := p.next()
		y, err := p.and()
		if err != nil {
			return nil, err
		}
		x = &LogicalExpr{Pos: t.Pos, Op: OR, X: x, Y: y}
	}
	return x, nil
}

func (p *parser) and() (Expr, error) {
	x, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.check(AND) {
		t := p.next()
		y, err := p.not()
		if err != nil {
			return nil, err
		}
		x = &LogicalExpr{Pos: t.Pos, Op: AND, X: x, Y: y}
	}
	return x, nil
}

func (p *parser) not() (Expr, error) {
	if p.check(NOT) {
		t := p.next()
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Pos: t.Pos, Op: NOT, X: x}, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Expr, error) {
	x, err := p.sum()
	if err != nil {
		return nil, err
	}
	if !isComparison(p.peek().Type) {
		return x, nil
	}
	cmp := &CompareExpr{Pos: x.Position(), Operands: []Expr{x}}
	for isComparison(p.peek().Type) {
		cmp.Ops = append(cmp.Ops, p.next().Type)
		y, err := p.sum()
		if err != nil {
			return nil, err
		}
		cmp.Operands = append(cmp.Operands, y)
	}
	return cmp, nil
}

func (p *parser) sum() (Expr, error) {
	x, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.check(PLUS) || p.check(MINUS) {
		t := p.next()
		y, err := p.term()
		if err != nil {
			return nil, err
		}
		x = &BinaryExpr{Pos: t.Pos, Op: t.Type, X: x, Y: y}
	}
	return x, nil
}

func (p *parser) term() (Expr, error) {
	x, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.check(STAR) || p.check(SLASH) || p.check(PERCENT) {
		t := p.next()
		y, err := p.unary()
		if err != nil {
			return nil, err
		}
		x = &BinaryExpr{Pos: t.Pos, Op: t.Type, X: x, Y: y}
	}
	return x, nil
}

func (p *parser) unary() (Expr, error) {
	if p.check(MINUS) || p.check(PLUS) {
		t := p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if t.Type == PLUS {
			return x, nil
		}
		return &UnaryExpr{Pos: t.Pos, Op: MINUS, X: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	t := p.next()
	switch t.Type {
	case NUMBER, STRING, DATE, TRUE, FALSE, NONE:
		return &Literal{Pos: t.Pos, Value: t.Literal}, nil
	case IDENT:
		if p.check(LPAREN) {
			return p.call(t)
		}
		return &Ident{Pos: t.Pos, Name: t.Lexeme}, nil
	case LPAREN:
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return x, nil
	}
	return nil, p.errorf(t.Pos, "unexpected %s", describe(t))
}

func (p *parser) call(name Token) (Expr, error) {
	p.i++ // '('
	c := &CallExpr{Pos: name.Pos, Name: name.Lexeme}
	seen := map[string]bool{}
	for !p.check(RPAREN) {
		if p.check(IDENT) && p.peekAt(1).Type == ASSIGN {
			kw := p.next()
			p.i++
			if seen[kw.Lexeme] {
				return nil, p.errorf(kw.Pos, "keyword argument repeated: %s", kw.Lexeme)
			}
			seen[kw.Lexeme] = true
			x, err := p.expression()
			if err != nil {
				return nil, err
			}
			c.Kwargs = append(c.Kwargs, Keyword{Name: kw.Lexeme, Value: x})
		} else {
			if len(c.Kwargs) > 0 {
				return nil, p.errorf(p.peek().Pos, "positional argument follows keyword argument")
			}
			x, err := p.expression()
			if err != nil {
				return nil, err
			}
			c.Args = append(c.Args, x)
		}
		if !p.check(COMMA) {
			break
		}
		p.i++
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) skipNewlines() {
	for p.check(NEWLINE) {
		p.i++
	}
}

func (p *parser) atEnd() bool { return p.peek().Type == EOF }

func (p *parser) peek() Token { return p.peekAt(0) }

func (p *parser) peekAt(n int) Token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) next() Token {
	t := p.peek()
	if t.Type != EOF {
		p.i++
	}
	return t
}

func (p *parser) check(tt TokenType) bool { return p.peek().Type == tt }

func (p *parser) match(tt TokenType) bool {
	if p.check(tt) {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(tt TokenType) (Token, error) {
	t := p.peek()
	if t.Type != tt {
		return t, p.errorf(t.Pos, "expected %s, found %s", tt, describe(t))
	}
	p.i++
	return t, nil
}

func (p *parser) errorf(pos Pos, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func describe(t Token) string {
	switch t.Type {
	case IDENT, NUMBER, STRING, DATE:
		return fmt.Sprintf("%s %s", t.Type, t.Lexeme)
	}
	return t.Type.String()
}

func isComparison(tt TokenType) bool {
	switch tt {
	case EQ, NEQ, LT, LTE, GT, GTE:
		return true
	}
	return false
}

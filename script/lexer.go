package script

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// TokenType represents the kind of token.
type TokenType int

const (
	EOF TokenType = iota
	ILLEGAL

	NEWLINE
	INDENT
	DEDENT

	IDENT
	NUMBER
	STRING
	DATE

	LPAREN // "("
	RPAREN // ")"
	COMMA  // ","
	COLON  // ":"

	PLUS
	MINUS
	STAR
	SLASH
	PERCENT
	ASSIGN // "="
	EQ     // "=="
	NEQ    // "!="
	LT
	LTE
	GT
	GTE

	// Keywords
	IF
	ELIF
	ELSE
	RETURN
	AND
	OR
	NOT
	TRUE
	FALSE
	NONE
)

var tokenNames = map[TokenType]string{
	EOF: "end of input", ILLEGAL: "illegal token", NEWLINE: "newline",
	INDENT: "indent", DEDENT: "dedent", IDENT: "identifier", NUMBER: "number",
	STRING: "string", DATE: "date", LPAREN: "'('", RPAREN: "')'", COMMA: "','",
	COLON: "':'", PLUS: "'+'", MINUS: "'-'", STAR: "'*'", SLASH: "'/'",
	PERCENT: "'%'", ASSIGN: "'='", EQ: "'=='", NEQ: "'!='", LT: "'<'",
	LTE: "'<='", GT: "'>'", GTE: "'>='", IF: "'if'", ELIF: "'elif'",
	ELSE: "'else'", RETURN: "'return'", AND: "'and'", OR: "'or'", NOT: "'not'",
	TRUE: "'True'", FALSE: "'False'", NONE: "'None'",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

var keywords = map[string]TokenType{
	"if":     IF,
	"elif":   ELIF,
	"else":   ELSE,
	"return": RETURN,
	"and":    AND,
	"or":     OR,
	"not":    NOT,
	"True":   TRUE,
	"False":  FALSE,
	"None":   NONE,
}

// IsKeyword reports whether name is reserved by the rule language.
func IsKeyword(name string) bool {
	_, ok := keywords[name]
	return ok
}

// Token is a lexical token with its parsed literal, if any.
type Token struct {
	Type    TokenType
	Lexeme  string
	Literal Value
	Pos     Pos
}

const tabWidth = 8

type lexer struct {
	src    string
	offset int
	line   int
	col    int

	tokens  []Token
	indents []int
	depth   int // open parentheses; newlines inside are ignored
}

// Tokenize splits src into tokens, synthesizing NEWLINE, INDENT and DEDENT
// tokens from the layout of the source.
func Tokenize(src string) ([]Token, error) {
	lx := &lexer{
		src:     strings.ReplaceAll(src, "\r\n", "\n"),
		line:    1,
		col:     1,
		indents: []int{0},
	}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.tokens, nil
}

func (lx *lexer) run() error {
	atLineStart := true
	for lx.offset < len(lx.src) {
		if atLineStart && lx.depth == 0 {
			blank, err := lx.indentation()
			if err != nil {
				return err
			}
			atLineStart = false
			if blank {
				continue
			}
		}

		r, size := utf8.DecodeRuneInString(lx.src[lx.offset:])
		switch {
		case r == '\n':
			if lx.depth == 0 && lx.lastType() != NEWLINE && len(lx.tokens) > 0 {
				lx.emit(NEWLINE, "\n", None(), lx.pos())
			}
			lx.advance(size)
			lx.line++
			lx.col = 1
			atLineStart = lx.depth == 0
		case r == ' ' || r == '\t' || r == '\f':
			lx.advance(size)
		case r == '\\' && lx.peekAt(1) == '\n':
			// explicit line continuation
			lx.advance(2)
			lx.line++
			lx.col = 1
		case r == '#':
			lx.skipComment()
		case isIdentStart(r):
			lx.identifier()
		case isDigit(r) || (r == '.' && isDigit(lx.peekAt(1))):
			if err := lx.number(); err != nil {
				return err
			}
		case r == '\'' || r == '"':
			if err := lx.str(r); err != nil {
				return err
			}
		case r == '@':
			if err := lx.date(); err != nil {
				return err
			}
		default:
			if err := lx.operator(r); err != nil {
				return err
			}
		}
	}

	if lx.depth > 0 {
		return lx.errorf(lx.pos(), "unexpected end of input: unclosed '('")
	}
	if len(lx.tokens) > 0 && lx.lastType() != NEWLINE {
		lx.emit(NEWLINE, "", None(), lx.pos())
	}
	for len(lx.indents) > 1 {
		lx.indents = lx.indents[:len(lx.indents)-1]
		lx.emit(DEDENT, "", None(), lx.pos())
	}
	lx.emit(EOF, "", None(), lx.pos())
	return nil
}

// indentation measures the leading whitespace of the current line and emits
// INDENT/DEDENT tokens. Blank and comment-only lines are reported as blank.
func (lx *lexer) indentation() (bool, error) {
	width := 0
	i := lx.offset
scan:
	for i < len(lx.src) {
		switch lx.src[i] {
		case ' ':
			width++
		case '\t':
			width += tabWidth - width%tabWidth
		case '\f':
		default:
			break scan
		}
		i++
	}
	lx.col += i - lx.offset
	lx.offset = i
	if i >= len(lx.src) || lx.src[i] == '\n' || lx.src[i] == '#' {
		if i < len(lx.src) && lx.src[i] == '#' {
			lx.skipComment()
		}
		if lx.offset < len(lx.src) {
			lx.advance(1)
			lx.line++
			lx.col = 1
		}
		return true, nil
	}

	current := lx.indents[len(lx.indents)-1]
	switch {
	case width > current:
		lx.indents = append(lx.indents, width)
		lx.emit(INDENT, "", None(), lx.pos())
	case width < current:
		for width < lx.indents[len(lx.indents)-1] {
			lx.indents = lx.indents[:len(lx.indents)-1]
			lx.emit(DEDENT, "", None(), lx.pos())
		}
		if width != lx.indents[len(lx.indents)-1] {
			return false, lx.errorf(lx.pos(), "unindent does not match any outer indentation level")
		}
	}
	return false, nil
}

func (lx *lexer) identifier() {
	start, pos := lx.offset, lx.pos()
	for lx.offset < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.offset:])
		if !isIdentStart(r) && !isDigit(r) {
			break
		}
		lx.advance(size)
	}
	word := lx.src[start:lx.offset]
	if kw, ok := keywords[word]; ok {
		lit := None()
		switch kw {
		case TRUE:
			lit = Bool(true)
		case FALSE:
			lit = Bool(false)
		}
		lx.emit(kw, word, lit, pos)
		return
	}
	lx.emit(IDENT, word, None(), pos)
}

func (lx *lexer) number() error {
	start, pos := lx.offset, lx.pos()
	seenDot := false
	for lx.offset < len(lx.src) {
		c := lx.src[lx.offset]
		if c == '.' && !seenDot {
			seenDot = true
		} else if !isDigit(rune(c)) && c != '_' {
			break
		}
		lx.advance(1)
	}
	// exponent
	if lx.offset < len(lx.src) && (lx.src[lx.offset] == 'e' || lx.src[lx.offset] == 'E') {
		next := lx.peekAt(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(lx.peekAt(2))) {
			lx.advance(2)
			for lx.offset < len(lx.src) && isDigit(rune(lx.src[lx.offset])) {
				lx.advance(1)
			}
		}
	}
	text := lx.src[start:lx.offset]
	d, err := decimal.NewFromString(strings.ReplaceAll(text, "_", ""))
	if err != nil {
		return lx.errorf(pos, "invalid number %q", text)
	}
	lx.emit(NUMBER, text, Decimal(d), pos)
	return nil
}

func (lx *lexer) str(quoteChar rune) error {
	start, pos := lx.offset, lx.pos()
	lx.advance(1)
	var b strings.Builder
	for {
		if lx.offset >= len(lx.src) {
			return lx.errorf(pos, "unterminated string")
		}
		r, size := utf8.DecodeRuneInString(lx.src[lx.offset:])
		switch r {
		case quoteChar:
			lx.advance(size)
			lx.emit(STRING, lx.src[start:lx.offset], String(b.String()), pos)
			return nil
		case '\n':
			return lx.errorf(pos, "unterminated string")
		case '\\':
			esc := lx.peekAt(1)
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteRune(esc)
			default:
				return lx.errorf(lx.pos(), "unknown escape sequence \\%c", esc)
			}
			lx.advance(2)
		default:
			b.WriteRune(r)
			lx.advance(size)
		}
	}
}

func (lx *lexer) date() error {
	pos := lx.pos()
	lx.advance(1)
	start := lx.offset
	for lx.offset < len(lx.src) && (isDigit(rune(lx.src[lx.offset])) || lx.src[lx.offset] == '-') {
		lx.advance(1)
	}
	text := lx.src[start:lx.offset]
	v, err := ParseDate(text)
	if err != nil {
		return lx.errorf(pos, "invalid date literal @%s", text)
	}
	lx.emit(DATE, "@"+text, v, pos)
	return nil
}

func (lx *lexer) operator(r rune) error {
	pos := lx.pos()
	two := ""
	if lx.offset+1 < len(lx.src) {
		two = lx.src[lx.offset : lx.offset+2]
	}
	switch two {
	case "==":
		lx.advance(2)
		lx.emit(EQ, two, None(), pos)
		return nil
	case "!=":
		lx.advance(2)
		lx.emit(NEQ, two, None(), pos)
		return nil
	case "<=":
		lx.advance(2)
		lx.emit(LTE, two, None(), pos)
		return nil
	case ">=":
		lx.advance(2)
		lx.emit(GTE, two, None(), pos)
		return nil
	}

	var tt TokenType
	switch r {
	case '(':
		tt = LPAREN
		lx.depth++
	case ')':
		if lx.depth == 0 {
			return lx.errorf(pos, "unmatched ')'")
		}
		tt = RPAREN
		lx.depth--
	case ',':
		tt = COMMA
	case ':':
		tt = COLON
	case '+':
		tt = PLUS
	case '-':
		tt = MINUS
	case '*':
		tt = STAR
	case '/':
		tt = SLASH
	case '%':
		tt = PERCENT
	case '=':
		tt = ASSIGN
	case '<':
		tt = LT
	case '>':
		tt = GT
	default:
		return lx.errorf(pos, "unexpected character %q", r)
	}
	lx.advance(1)
	lx.emit(tt, string(r), None(), pos)
	return nil
}

func (lx *lexer) skipComment() {
	for lx.offset < len(lx.src) && lx.src[lx.offset] != '\n' {
		lx.advance(1)
	}
}

func (lx *lexer) emit(tt TokenType, lexeme string, lit Value, pos Pos) {
	lx.tokens = append(lx.tokens, Token{Type: tt, Lexeme: lexeme, Literal: lit, Pos: pos})
}

func (lx *lexer) lastType() TokenType {
	if len(lx.tokens) == 0 {
		return EOF
	}
	return lx.tokens[len(lx.tokens)-1].Type
}

func (lx *lexer) advance(n int) {
	lx.offset += n
	lx.col += n
}

func (lx *lexer) peekAt(n int) rune {
	if lx.offset+n >= len(lx.src) {
		return 0
	}
	return rune(lx.src[lx.offset+n])
}

func (lx *lexer) pos() Pos { return Pos{Line: lx.line, Column: lx.col} }

func (lx *lexer) errorf(pos Pos, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

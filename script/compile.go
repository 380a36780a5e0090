package script

import "sort"

// Side channel builtins. They are callable from any rule, whatever its
// allowed names.
const (
	BuiltinAppendMessage = "append_message"
	BuiltinAppendError   = "append_error"
)

// IsBuiltin reports whether name is a side channel builtin.
func IsBuiltin(name string) bool {
	return name == BuiltinAppendMessage || name == BuiltinAppendError
}

// NameSet is a set of callable identifiers.
type NameSet map[string]struct{}

// NewNameSet builds a set from names.
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts names into the set.
func (s NameSet) Add(names ...string) {
	for _, n := range names {
		s[n] = struct{}{}
	}
}

// Has reports whether name is in the set.
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the members in lexical order.
func (s NameSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Program is compiled rule code, ready to be executed any number of times.
// A Program is immutable and safe for concurrent use.
type Program struct {
	source string
	stmts  []Stmt
	calls  []string
}

// Compile parses code and verifies that every call target, including calls
// nested inside expressions and branches, is either a builtin or a member of
// allowed.
func Compile(code string, allowed NameSet) (*Program, error) {
	stmts, err := Parse(code)
	if err != nil {
		return nil, err
	}

	var (
		calls     []string
		seen      = map[string]bool{}
		forbidden error
	)
	Inspect(stmts, func(n Node) bool {
		if forbidden != nil {
			return false
		}
		call, ok := n.(*CallExpr)
		if !ok {
			return true
		}
		if !IsBuiltin(call.Name) && !allowed.Has(call.Name) {
			forbidden = &ForbiddenReferenceError{Pos: call.Pos, Name: call.Name}
			return false
		}
		if !seen[call.Name] {
			seen[call.Name] = true
			calls = append(calls, call.Name)
		}
		return true
	})
	if forbidden != nil {
		return nil, forbidden
	}

	return &Program{source: code, stmts: stmts, calls: calls}, nil
}

// Source returns the code the program was compiled from.
func (p *Program) Source() string { return p.source }

// Calls lists the distinct call targets in order of first appearance.
func (p *Program) Calls() []string {
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// Statements exposes the parsed form.
func (p *Program) Statements() []Stmt { return p.stmts }

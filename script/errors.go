package script

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax matches every *SyntaxError.
	ErrSyntax = errors.New("syntax error")

	// ErrForbiddenReference matches every *ForbiddenReferenceError.
	ErrForbiddenReference = errors.New("forbidden reference")

	// ErrExecutionBudgetExceeded is recorded when a program runs out of steps.
	ErrExecutionBudgetExceeded = errors.New("execution budget exceeded")

	// ErrNestingTooDeep is recorded when rules call each other too deeply.
	ErrNestingTooDeep = errors.New("rule nesting too deep")

	// ErrReported marks a failure whose message is already in the result's
	// errors; the executor stops without recording it a second time.
	ErrReported = errors.New("error already reported")
)

// SyntaxError reports malformed rule source.
type SyntaxError struct {
	Pos Pos
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %s: %s", e.Pos, e.Msg)
}

func (e *SyntaxError) Is(target error) bool { return target == ErrSyntax }

// ForbiddenReferenceError reports a call to a name outside the allowed set.
type ForbiddenReferenceError struct {
	Pos  Pos
	Name string
}

func (e *ForbiddenReferenceError) Error() string {
	return fmt.Sprintf("forbidden reference to %q at %s", e.Name, e.Pos)
}

func (e *ForbiddenReferenceError) Is(target error) bool { return target == ErrForbiddenReference }

// RuntimeError is a fault raised while evaluating a program.
type RuntimeError struct {
	Pos Pos
	Msg string
	Err error
}

func (e *RuntimeError) Error() string {
	if e.Pos.Line == 0 {
		return e.Msg
	}
	return fmt.Sprintf("line %d: %s", e.Pos.Line, e.Msg)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Reported wraps err so that the executor does not record it again.
func Reported(err error) error {
	if err == nil {
		return ErrReported
	}
	return fmt.Errorf("%w: %w", ErrReported, err)
}

package task

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Predicate is a boolean expression over deployment facts, for example
// "no_release" or "no_release || maintenance". The zero value never excludes.
type Predicate struct {
	source  string
	program *vm.Program
}

// Except compiles an exclusion predicate. An empty expression never excludes.
func Except(expression string) (Predicate, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return Predicate{}, nil
	}
	program, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return Predicate{}, fmt.Errorf("%w %q: %v", ErrPredicate, expression, err)
	}
	return Predicate{source: expression, program: program}, nil
}

// MustExcept is Except for predicates known at compile time.
func MustExcept(expression string) Predicate {
	p, err := Except(expression)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Predicate) String() string { return p.source }

func (p Predicate) IsZero() bool { return p.program == nil }

// Eval evaluates the predicate against facts.
func (p Predicate) Eval(facts map[string]any) (bool, error) {
	if p.program == nil {
		return false, nil
	}
	out, err := expr.Run(p.program, facts)
	if err != nil {
		return false, fmt.Errorf("%w %q: %v", ErrPredicate, p.source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w %q: got %T, want bool (unknown fact?)", ErrPredicate, p.source, out)
	}
	return b, nil
}

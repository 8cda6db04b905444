package core

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Operator names a comparison between an observed operand and a condition value.
type Operator string

const (
	OpExists Operator = "ex"
	OpEq     Operator = "eq"
	OpNeq    Operator = "neq"
	OpGt     Operator = "gt"
	OpGte    Operator = "gte"
	OpLt     Operator = "lt"
	OpLte    Operator = "lte"
)

var ErrUnknownOperator = errors.New("unknown operator")

type comparison func(actual *string, expected string) bool

var operators = map[Operator]comparison{
	OpExists: func(actual *string, _ string) bool { return actual != nil },
	OpEq:     ordered(func(c int) bool { return c == 0 }),
	OpNeq:    ordered(func(c int) bool { return c != 0 }),
	OpGt:     ordered(func(c int) bool { return c > 0 }),
	OpGte:    ordered(func(c int) bool { return c >= 0 }),
	OpLt:     ordered(func(c int) bool { return c < 0 }),
	OpLte:    ordered(func(c int) bool { return c <= 0 }),
}

// Known reports whether the operator has a comparison bound to it.
func (op Operator) Known() bool {
	_, ok := operators[op]
	return ok
}

// Compare applies op to the observed operand and the condition value. A nil
// actual means the operand was not reported; only "ex" inspects that case and
// every other operator is false for it.
func Compare(op Operator, actual *string, expected string) (bool, error) {
	fn, ok := operators[op]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, string(op))
	}
	return fn(actual, expected), nil
}

func ordered(accept func(int) bool) comparison {
	return func(actual *string, expected string) bool {
		if actual == nil {
			return false
		}
		return accept(compareOperands(*actual, expected))
	}
}

// compareOperands orders numerically when both sides parse as numbers and
// lexically otherwise.
func compareOperands(a, b string) int {
	if na, nb, ok := asNumbers(a, b); ok {
		return cmp.Compare(na, nb)
	}
	return strings.Compare(a, b)
}

func asNumbers(a, b string) (float64, float64, bool) {
	na, ok := parseNumber(a)
	if !ok {
		return 0, 0, false
	}
	nb, ok := parseNumber(b)
	if !ok {
		return 0, 0, false
	}
	return na, nb, true
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

package rules

import (
	"strings"

	"github.com/openleads/kestrel/internal/domain"
)

// EvaluateCondition evaluates a single operator against a field value.
// found reports whether the field path resolved at all.
//
// A missing or nil field fails every operator except not_in, which is
// vacuously satisfied (the value cannot be in the list if it does not
// exist). Malformed operands never panic; they resolve to not-matched.
func EvaluateCondition(value any, found bool, op domain.Operator, expected any) bool {
	if !found || value == nil {
		return op == domain.OpNotIn
	}

	switch op {
	case domain.OpGreaterThan, domain.OpGreaterEqual, domain.OpLessThan, domain.OpLessEqual:
		return compareNumeric(value, op, expected)

	case domain.OpEqual:
		return looseEqual(value, expected)

	case domain.OpIn:
		list, ok := expected.([]any)
		if !ok {
			return false
		}
		return containsValue(list, value)

	case domain.OpNotIn:
		list, ok := expected.([]any)
		if !ok {
			return true
		}
		return !containsValue(list, value)

	case domain.OpContains:
		haystack := strings.ToLower(stringify(value))
		needle := strings.ToLower(stringify(expected))
		return needle != "" && strings.Contains(haystack, needle)

	case domain.OpRange:
		return inRange(value, expected)

	default:
		return false
	}
}

func compareNumeric(value any, op domain.Operator, expected any) bool {
	left, ok := coerceNumber(value)
	if !ok {
		return false
	}
	right, ok := coerceNumber(expected)
	if !ok {
		return false
	}

	switch op {
	case domain.OpGreaterThan:
		return left > right
	case domain.OpGreaterEqual:
		return left >= right
	case domain.OpLessThan:
		return left < right
	case domain.OpLessEqual:
		return left <= right
	}
	return false
}

// looseEqual compares numerically when both sides coerce, otherwise by
// case-sensitive string form.
func looseEqual(a, b any) bool {
	if an, ok := coerceNumber(a); ok {
		if bn, ok := coerceNumber(b); ok {
			return an == bn
		}
	}
	return stringify(a) == stringify(b)
}

func containsValue(list []any, value any) bool {
	for _, item := range list {
		if looseEqual(value, item) {
			return true
		}
	}
	return false
}

// inRange checks min <= x <= max against a two-element [min, max] operand.
func inRange(value any, expected any) bool {
	bounds, ok := expected.([]any)
	if !ok || len(bounds) != 2 {
		return false
	}
	x, ok := coerceNumber(value)
	if !ok {
		return false
	}
	lo, ok := coerceNumber(bounds[0])
	if !ok {
		return false
	}
	hi, ok := coerceNumber(bounds[1])
	if !ok {
		return false
	}
	return lo <= x && x <= hi
}

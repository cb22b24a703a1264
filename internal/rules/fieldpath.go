// Package rules provides the condition evaluator, rule matcher and the
// qualification and tagging engines.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openleads/kestrel/internal/domain"
)

// Lookup resolves a dot path against the evaluation record.
// Path-not-found is a first-class result: the second return value is false
// when any segment is missing or a non-map is traversed into.
func Lookup(record domain.FeatureRecord, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = map[string]any(record)
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// coerceNumber converts a value to float64.
// All silent numeric coercion lives here so the failure mode (condition
// resolves to not-matched) stays in one auditable place.
func coerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// stringify renders a value in its canonical string form for equality and
// substring comparisons. Numbers render without a trailing ".0" so that
// 750 and 750.0 compare equal regardless of how JSON decoded them.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	default:
		if n, ok := coerceNumber(v); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
		return fmt.Sprintf("%v", v)
	}
}

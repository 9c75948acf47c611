package engine

import (
	"reflect"
	"strings"
)

// comparison operators accepted in a Condition.
var validOps = map[string]bool{
	"<":  true,
	"<=": true,
	">":  true,
	">=": true,
	"==": true,
	"!=": true,
}

// unconditional reports whether the condition is a default route.
func (c Condition) unconditional() bool {
	return c.Metric == ""
}

// matches evaluates the condition against the post-merge state.
// A missing metric never matches.
func (c Condition) matches(state map[string]any) bool {
	if c.unconditional() {
		return true
	}
	val, ok := resolveMetric(state, c.Metric)
	if !ok {
		return false
	}
	return compare(val, c.Op, c.Value)
}

// resolveMetric walks a dotted path like "anomalies.count" through nested
// maps in the state.
func resolveMetric(state map[string]any, path string) (any, bool) {
	cur := any(state)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func compare(val any, op string, target any) bool {
	a, aNum := toFloat(val)
	b, bNum := toFloat(target)

	if aNum && bNum {
		switch op {
		case "<":
			return a < b
		case "<=":
			return a <= b
		case ">":
			return a > b
		case ">=":
			return a >= b
		case "==":
			return a == b
		case "!=":
			return a != b
		}
		return false
	}

	// Non-numeric operands only support equality.
	switch op {
	case "==":
		return reflect.DeepEqual(val, target)
	case "!=":
		return !reflect.DeepEqual(val, target)
	}
	return false
}

// toFloat normalizes the numeric types that survive a JSON round trip
// plus the native Go integer types used in tests and parameters.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

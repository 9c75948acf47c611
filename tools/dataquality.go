package tools

import (
	"context"
	"fmt"

	"github.com/smallnest/runflow/engine"
)

// Default anomaly bounds applied when the state carries no
// "anomaly_bounds" entry.
const (
	DefaultLowBound  = 0
	DefaultHighBound = 100
)

// State keys shared by the data-quality tools. Values follow JSON
// conventions: datasets are []any, numbers are float64, nulls are nil.
const (
	KeyData      = "data"
	KeyProfile   = "profile"
	KeyAnomalies = "anomalies"
	KeyRules     = "rules"
	KeyBounds    = "anomaly_bounds"
)

// RegisterBuiltins registers the data-quality tool set: profile,
// detect_anomalies, generate_rules, and apply_rules.
func RegisterBuiltins(r *engine.ToolRegistry) error {
	builtins := []struct {
		name     string
		contract engine.Contract
		fn       engine.ToolFunc
	}{
		{"profile", engine.Contract{Inputs: []string{KeyData}, Outputs: []string{KeyProfile}}, Profile},
		{"detect_anomalies", engine.Contract{Inputs: []string{KeyData}, Outputs: []string{KeyAnomalies}}, DetectAnomalies},
		{"generate_rules", engine.Contract{Outputs: []string{KeyRules}}, GenerateRules},
		{"apply_rules", engine.Contract{Inputs: []string{KeyData, KeyRules}, Outputs: []string{KeyData}}, ApplyRules},
	}
	for _, b := range builtins {
		if err := r.Register(b.name, b.contract, b.fn); err != nil {
			return err
		}
	}
	return nil
}

// Profile computes simple profile metrics over the dataset: row count
// and null count.
func Profile(ctx context.Context, input map[string]any) (map[string]any, error) {
	data, err := dataset(input)
	if err != nil {
		return nil, err
	}

	nulls := 0
	for _, v := range data {
		if v == nil {
			nulls++
		}
	}
	return map[string]any{
		KeyProfile: map[string]any{
			"rows":  float64(len(data)),
			"nulls": float64(nulls),
		},
	}, nil
}

// DetectAnomalies flags values outside the configured bounds. The first
// ten offending values are reported alongside the total count.
func DetectAnomalies(ctx context.Context, input map[string]any) (map[string]any, error) {
	data, err := dataset(input)
	if err != nil {
		return nil, err
	}
	low, high := bounds(input)

	count := 0
	values := make([]any, 0, 10)
	for _, v := range data {
		n, ok := number(v)
		if !ok {
			continue
		}
		if n < low || n > high {
			count++
			if len(values) < 10 {
				values = append(values, v)
			}
		}
	}
	return map[string]any{
		KeyAnomalies: map[string]any{
			"count":  float64(count),
			"values": values,
		},
	}, nil
}

// GenerateRules derives remediation rules from the profile and anomaly
// findings: a fill rule when nulls are present, a clip rule when values
// fall outside the bounds.
func GenerateRules(ctx context.Context, input map[string]any) (map[string]any, error) {
	rules := make([]any, 0, 2)

	if metric(input, KeyProfile, "nulls") > 0 {
		rules = append(rules, map[string]any{
			"name":   "fill_null",
			"action": "fill",
			"value":  float64(0),
		})
	}
	if metric(input, KeyAnomalies, "count") > 0 {
		low, high := bounds(input)
		rules = append(rules, map[string]any{
			"name":   "clip",
			"action": "clip",
			"low":    low,
			"high":   high,
		})
	}
	return map[string]any{KeyRules: rules}, nil
}

// ApplyRules rewrites the dataset under the generated rules: nulls are
// filled when a fill_null rule exists, and out-of-range values are
// clipped when a clip rule exists.
func ApplyRules(ctx context.Context, input map[string]any) (map[string]any, error) {
	data, err := dataset(input)
	if err != nil {
		return nil, err
	}
	rules, ok := input[KeyRules].([]any)
	if !ok {
		return nil, fmt.Errorf("rules is %T, want []any", input[KeyRules])
	}

	fill, hasFill := findRule(rules, "fill_null")
	clip, hasClip := findRule(rules, "clip")

	out := make([]any, 0, len(data))
	for _, v := range data {
		if v == nil {
			if hasFill {
				out = append(out, fill["value"])
			} else {
				out = append(out, v)
			}
			continue
		}
		n, isNum := number(v)
		if hasClip && isNum {
			low, _ := number(clip["low"])
			high, _ := number(clip["high"])
			out = append(out, max(low, min(high, n)))
		} else {
			out = append(out, v)
		}
	}
	return map[string]any{KeyData: out}, nil
}

func dataset(input map[string]any) ([]any, error) {
	data, ok := input[KeyData].([]any)
	if !ok {
		return nil, fmt.Errorf("data is %T, want []any", input[KeyData])
	}
	return data, nil
}

// bounds returns the (low, high) anomaly bounds from the state, falling
// back to the defaults. The entry may be a two-element []any or a
// map with "low" and "high" keys.
func bounds(input map[string]any) (float64, float64) {
	switch b := input[KeyBounds].(type) {
	case []any:
		if len(b) == 2 {
			low, okL := number(b[0])
			high, okH := number(b[1])
			if okL && okH {
				return low, high
			}
		}
	case map[string]any:
		low, okL := number(b["low"])
		high, okH := number(b["high"])
		if okL && okH {
			return low, high
		}
	}
	return DefaultLowBound, DefaultHighBound
}

// metric reads input[key][field] as a number, defaulting to zero.
func metric(input map[string]any, key, field string) float64 {
	m, ok := input[key].(map[string]any)
	if !ok {
		return 0
	}
	n, _ := number(m[field])
	return n
}

func findRule(rules []any, name string) (map[string]any, bool) {
	for _, r := range rules {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if m["name"] == name {
			return m, true
		}
	}
	return nil, false
}

// number accepts the same numeric types the engine's condition
// evaluation does, so a value that routes as a number also profiles as
// one.
func number(v any) (float64, bool) {
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

// Package agents implements the deterministic role agents behind the
// new_partner_implementation workflow steps. Each agent reads its slice of
// the loosely typed workflow input and returns a JSON-shaped output map,
// including the tool contracts it proposes.
package agents

import "math"

func obj(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func list(m map[string]any, key string) []any {
	l, _ := m[key].([]any)
	return l
}

func boolean(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// number coerces JSON numbers and plain Go ints alike.
func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func intField(m map[string]any, key string) int {
	return int(number(m[key]))
}

func strSlice(l []any) []string {
	out := make([]string, 0, len(l))
	for _, v := range l {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func contract(tool, purpose string, requiredInputs ...string) map[string]any {
	return map[string]any{
		"tool":           tool,
		"purpose":        purpose,
		"requiredInputs": requiredInputs,
	}
}

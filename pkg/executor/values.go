package executor

import (
	"fmt"
	"strconv"
	"strings"
)

// textKeys are the output fields read, in order, when a bundle is used as text.
var textKeys = []string{"text", "response", "result", "output"}

// Text extracts text from an input value: strings as is, bundles through
// their text-like fields, numbers formatted.
func Text(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case map[string]any:
		for _, key := range textKeys {
			if s, ok := val[key].(string); ok {
				return s, true
			}
		}

		return "", false
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

// Field reads key from an input value that is either the value itself or a
// bundle holding it under key.
func Field(v any, key string) (any, bool) {
	if m, ok := v.(map[string]any); ok {
		inner, found := m[key]

		return inner, found
	}

	if v == nil {
		return nil, false
	}

	return v, true
}

// Resolve returns the value for a parameter that can be wired through input
// handle or set in config under key. A connected input wins.
func Resolve(config, inputs map[string]any, handle, key string) (any, bool) {
	if v, ok := inputs[handle]; ok && v != nil {
		if inner, found := Field(v, key); found {
			return inner, true
		}

		return v, true
	}

	v, ok := config[key]
	if !ok || v == nil {
		return nil, false
	}

	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return nil, false
	}

	return v, true
}

// Number converts JSON-ish numeric values and numeric strings to float64.
func Number(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", val)
		}

		return f, nil
	case map[string]any:
		if s, ok := Text(val); ok {
			return Number(s)
		}

		return 0, fmt.Errorf("bundle %v has no numeric value", val)
	default:
		return 0, fmt.Errorf("%v (%T) is not a number", v, v)
	}
}

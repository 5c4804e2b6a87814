package models

// CloneMap deep-copies nested maps and slices so bundles can be handed
// between the scheduler and executors by value.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}

	return out
}

// CloneValue deep-copies maps and slices; other values are returned as is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}

		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)

		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}

		return out
	default:
		return v
	}
}

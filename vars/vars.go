// Package vars provides the dynamically-typed variable bag carried by
// workflow instances. Values are JSON-shaped: numbers, strings, booleans,
// nulls, nested objects, and arrays.
package vars

import "encoding/json"

// Map is the variable mapping of a workflow instance. Keys are variable
// names; values are dynamically typed. Insertion order is not significant.
type Map map[string]any

// Clone returns a deep copy of the map. Nested objects and arrays are
// copied; scalar values are shared (they are immutable).
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}

	out := make(Map, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge copies every entry of other into m, overwriting existing keys.
// The full merged mapping is the result; other is never mutated.
func (m Map) Merge(other Map) {
	for k, v := range other {
		m[k] = cloneValue(v)
	}
}

// GetString returns the string value for key, reporting whether the key
// exists and holds a string.
func (m Map) GetString(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// GetNumber returns the numeric value for key as a float64. Integers
// stored natively are widened.
func (m Map) GetNumber(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// GetBool returns the boolean value for key, reporting whether the key
// exists and holds a boolean.
func (m Map) GetBool(key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

// MarshalJSON encodes the map. A nil map encodes as an empty object so
// snapshots round-trip without null/empty ambiguity.
func (m Map) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

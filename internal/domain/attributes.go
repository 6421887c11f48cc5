package domain

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// Attributes is a generic structured value decoded from JSON or TOML.
// Params: string keys mapped to scalars, lists, or nested maps.
// Returns: attribute bag with typed accessors.
type Attributes map[string]any

// String reads a string attribute.
// Params: attribute key.
// Returns: string value and presence flag.
func (a Attributes) String(key string) (string, bool) {
	raw, ok := a[key]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	return value, ok
}

// Int reads an integer attribute from any numeric representation.
// Params: attribute key.
// Returns: integer value and presence flag.
func (a Attributes) Int(key string) (int64, bool) {
	raw, ok := a[key]
	if !ok {
		return 0, false
	}
	return toInt(raw)
}

// Bool reads a boolean attribute.
// Params: attribute key.
// Returns: bool value and presence flag.
func (a Attributes) Bool(key string) (bool, bool) {
	raw, ok := a[key]
	if !ok {
		return false, false
	}
	value, ok := raw.(bool)
	return value, ok
}

// Strings reads a string list attribute; a scalar string becomes a one-item list.
// Params: attribute key.
// Returns: string list or nil when absent.
func (a Attributes) Strings(key string) []string {
	raw, ok := a[key]
	if !ok || raw == nil {
		return nil
	}
	switch typed := raw.(type) {
	case string:
		return []string{typed}
	case []string:
		return append([]string(nil), typed...)
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// Map reads a nested attribute map.
// Params: attribute key.
// Returns: nested attributes and presence flag.
func (a Attributes) Map(key string) (Attributes, bool) {
	raw, ok := a[key]
	if !ok {
		return nil, false
	}
	return AsAttributes(raw)
}

// Clone returns a deep copy of the attribute tree.
// Params: none.
// Returns: independent copy safe for mutation.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	return cloneValue(map[string]any(a)).(map[string]any)
}

// AsAttributes converts nested map representations into Attributes.
// Params: raw decoded value.
// Returns: attributes and true when value is a string-keyed map.
func AsAttributes(raw any) (Attributes, bool) {
	switch typed := raw.(type) {
	case Attributes:
		return typed, true
	case map[string]any:
		return Attributes(typed), true
	case Check:
		return Attributes(typed), true
	case Client:
		return Attributes(typed), true
	default:
		return nil, false
	}
}

// DeepMerge merges overlay into base recursively; overlay wins on conflicts.
// Params: base and overlay attribute trees (neither is mutated).
// Returns: merged attribute tree.
func DeepMerge(base, overlay Attributes) Attributes {
	out := base.Clone()
	if out == nil {
		out = Attributes{}
	}
	for key, value := range overlay {
		nextOverlay, overlayIsMap := AsAttributes(value)
		current, baseIsMap := AsAttributes(out[key])
		if overlayIsMap && baseIsMap {
			out[key] = map[string]any(DeepMerge(current, nextOverlay))
			continue
		}
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(raw any) any {
	switch typed := raw.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = cloneValue(value)
		}
		return out
	case Attributes:
		return cloneValue(map[string]any(typed))
	case Check:
		return cloneValue(map[string]any(typed))
	case Client:
		return cloneValue(map[string]any(typed))
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = cloneValue(value)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return typed
	}
}

// toInt converts decoded numeric values into int64.
// Params: raw value from JSON (float64/json.Number) or TOML (int64).
// Returns: integer and true when value is an integral number.
func toInt(raw any) (int64, bool) {
	switch typed := raw.(type) {
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case uint64:
		return int64(typed), true
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) || typed != math.Trunc(typed) {
			return 0, false
		}
		return int64(typed), true
	case json.Number:
		value, err := typed.Int64()
		return value, err == nil
	case string:
		value, err := strconv.ParseInt(typed, 10, 64)
		return value, err == nil
	default:
		return 0, false
	}
}

// Equal compares two decoded values with numeric normalization.
// Params: two scalar or composite values.
// Returns: true when values are structurally equal.
func Equal(left, right any) bool {
	if leftInt, ok := numeric(left); ok {
		rightInt, ok := numeric(right)
		return ok && leftInt == rightInt
	}
	leftMap, leftIsMap := AsAttributes(left)
	rightMap, rightIsMap := AsAttributes(right)
	if leftIsMap || rightIsMap {
		if !leftIsMap || !rightIsMap || len(leftMap) != len(rightMap) {
			return false
		}
		for key, value := range leftMap {
			other, ok := rightMap[key]
			if !ok || !Equal(value, other) {
				return false
			}
		}
		return true
	}
	leftList, leftIsList := asList(left)
	rightList, rightIsList := asList(right)
	if leftIsList || rightIsList {
		if !leftIsList || !rightIsList || len(leftList) != len(rightList) {
			return false
		}
		for i := range leftList {
			if !Equal(leftList[i], rightList[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(left, right)
}

func numeric(raw any) (float64, bool) {
	switch typed := raw.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	case json.Number:
		value, err := typed.Float64()
		return value, err == nil
	default:
		return 0, false
	}
}

func asList(raw any) ([]any, bool) {
	switch typed := raw.(type) {
	case []any:
		return typed, true
	case []string:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = value
		}
		return out, true
	default:
		return nil, false
	}
}

package normalize

import (
	"encoding/json"
	"math"
	"sort"
)

// object is a decoded JSON object with typed accessors. Accessors never panic.
type object map[string]any

func asObject(v any) (object, bool) {
	switch m := v.(type) {
	case map[string]any:
		return object(m), true
	case object:
		return m, true
	default:
		return nil, false
	}
}

func (o object) has(key string) bool {
	_, ok := o[key]
	return ok
}

// str returns a non-empty string field.
func (o object) str(key string) (string, bool) {
	s, ok := o[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// firstStr returns the first non-empty string among keys.
func (o object) firstStr(keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := o.str(k); ok {
			return s, true
		}
	}
	return "", false
}

// optStr reads an optional string field. valid is false when the field is
// present with a non-string, non-null value.
func (o object) optStr(key string) (value *string, valid bool) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return nil, true
	}
	s, ok := raw.(string)
	if !ok {
		return nil, false
	}
	return &s, true
}

// lenientStr is optStr for coercing contexts: wrong types read as absent.
func (o object) lenientStr(key string) *string {
	v, _ := o.optStr(key)
	return v
}

func (o object) num(key string) *float64 {
	v, ok := number(o[key])
	if !ok {
		return nil
	}
	return &v
}

func (o object) boolean(key string) *bool {
	b, ok := o[key].(bool)
	if !ok {
		return nil
	}
	return &b
}

// strings returns a string list. Absent or non-array values read as nil;
// non-string elements are dropped.
func (o object) strings(key string) []string {
	items, ok := o[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// number converts JSON numbers to a finite float64.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true
	}
	return f, true
}

// entries walks a keyed collection that arrives either as an array of objects
// or as an object keyed by id. Object keys are visited in sorted order so the
// result is deterministic.
func entries(v any, visit func(fallbackKey string, raw any)) bool {
	switch c := v.(type) {
	case []any:
		for _, item := range c {
			visit("", item)
		}
		return true
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			visit(k, c[k])
		}
		return true
	default:
		return false
	}
}

package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Violation is a single contract breach found while validating a value.
type Violation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Value  any    `json:"value,omitempty"`
}

// ValidationError aggregates every violation found in one pass, ordered by path.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Path+": "+v.Reason)
	}
	return fmt.Sprintf("validation failed (%d violations): %s", len(e.Violations), strings.Join(parts, "; "))
}

// Paths lists the violated paths in order.
func (e *ValidationError) Paths() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Path)
	}
	return out
}

// Validate checks value against f and returns the coerced value. Objects come
// back as map[string]any holding only declared members, numbers as float64.
// Coercions are lossless: numeric strings and json.Number become numbers,
// "true" and "false" become booleans. Nothing is clamped or invented.
func Validate(value any, f *Field) (any, error) {
	v := &validator{}
	out := v.walk("", value, f)
	if len(v.violations) > 0 {
		sort.SliceStable(v.violations, func(i, j int) bool {
			return v.violations[i].Path < v.violations[j].Path
		})
		return nil, &ValidationError{Violations: v.violations}
	}
	return out, nil
}

type validator struct {
	violations []Violation
}

func (v *validator) fail(path, reason string, value any) {
	if path == "" {
		path = "$"
	}
	v.violations = append(v.violations, Violation{Path: path, Reason: reason, Value: value})
}

func (v *validator) walk(path string, value any, f *Field) any {
	if value == nil {
		if !f.Optional {
			v.fail(path, "required", nil)
		}
		return nil
	}
	switch f.Kind {
	case KindString:
		s, ok := value.(string)
		if !ok {
			v.fail(path, "expected string, got "+typeName(value), value)
			return nil
		}
		if f.MinLen > 0 && len([]rune(strings.TrimSpace(s))) < f.MinLen {
			if f.MinLen == 1 {
				v.fail(path, "must not be empty", value)
			} else {
				v.fail(path, fmt.Sprintf("must be at least %d characters", f.MinLen), value)
			}
			return nil
		}
		return s
	case KindNumber:
		n, ok := toNumber(value)
		if !ok {
			v.fail(path, "expected number, got "+typeName(value), value)
			return nil
		}
		bad := false
		if f.Min != nil && n < *f.Min {
			v.fail(path, "must be >= "+formatNumber(*f.Min), value)
			bad = true
		}
		if f.Max != nil && n > *f.Max {
			v.fail(path, "must be <= "+formatNumber(*f.Max), value)
			bad = true
		}
		if f.Integral && n != math.Trunc(n) {
			v.fail(path, "must be a whole number", value)
			bad = true
		}
		if bad {
			return nil
		}
		return n
	case KindBoolean:
		switch b := value.(type) {
		case bool:
			return b
		case string:
			switch b {
			case "true":
				return true
			case "false":
				return false
			}
		}
		v.fail(path, "expected boolean, got "+typeName(value), value)
		return nil
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			v.fail(path, "expected one of ["+strings.Join(f.Enum, ", ")+"], got "+typeName(value), value)
			return nil
		}
		for _, allowed := range f.Enum {
			if s == allowed {
				return s
			}
		}
		v.fail(path, fmt.Sprintf("%q is not one of [%s]", s, strings.Join(f.Enum, ", ")), value)
		return nil
	case KindObject:
		m, ok := value.(map[string]any)
		if !ok {
			v.fail(path, "expected object, got "+typeName(value), value)
			return nil
		}
		return v.members(path, m, f.Fields)
	case KindArray:
		items, ok := value.([]any)
		if !ok {
			v.fail(path, "expected array, got "+typeName(value), value)
			return nil
		}
		if f.ExactLen != nil && len(items) != *f.ExactLen {
			v.fail(path, fmt.Sprintf("must contain exactly %d items, got %d", *f.ExactLen, len(items)), nil)
		}
		if f.MaxLen != nil && len(items) > *f.MaxLen {
			v.fail(path, fmt.Sprintf("must contain at most %d items, got %d", *f.MaxLen, len(items)), nil)
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = v.walk(fmt.Sprintf("%s[%d]", path, i), item, f.Items)
		}
		return out
	case KindMap:
		m, ok := value.(map[string]any)
		if !ok {
			v.fail(path, "expected object, got "+typeName(value), value)
			return nil
		}
		out := make(map[string]any, len(m))
		for _, k := range sortedKeys(m) {
			out[k] = v.walk(join(path, k), m[k], f.Values)
		}
		return out
	case KindVariant:
		m, ok := value.(map[string]any)
		if !ok {
			v.fail(path, "expected object, got "+typeName(value), value)
			return nil
		}
		tagPath := join(path, f.Tag)
		raw, present := m[f.Tag]
		if !present || raw == nil {
			v.fail(tagPath, "required", nil)
			return nil
		}
		tag, ok := raw.(string)
		alt := f.Variants[tag]
		if !ok || alt == nil {
			v.fail(tagPath, fmt.Sprintf("%v is not one of [%s]", raw, strings.Join(variantTags(f), ", ")), raw)
			return nil
		}
		out := v.members(path, m, alt.Fields)
		out[f.Tag] = tag
		return out
	}
	v.fail(path, "unsupported kind "+string(f.Kind), value)
	return nil
}

func (v *validator) members(path string, m map[string]any, fields []*Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, c := range fields {
		raw, present := m[c.Name]
		if !present || raw == nil {
			if !c.Optional {
				v.fail(join(path, c.Name), "required", nil)
			}
			continue
		}
		out[c.Name] = v.walk(join(path, c.Name), raw, c)
	}
	return out
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func toNumber(value any) (float64, bool) {
	var n float64
	switch x := value.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int8:
		n = float64(x)
	case int16:
		n = float64(x)
	case int32:
		n = float64(x)
	case int64:
		n = float64(x)
	case uint:
		n = float64(x)
	case uint8:
		n = float64(x)
	case uint16:
		n = float64(x)
	case uint32:
		n = float64(x)
	case uint64:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		// Named numeric types such as `type Percent float64`.
		rv := reflect.ValueOf(value)
		switch {
		case rv.CanInt():
			n = float64(rv.Int())
		case rv.CanUint():
			n = float64(rv.Uint())
		case rv.CanFloat():
			n = rv.Float()
		default:
			return 0, false
		}
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func typeName(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", value)
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package schema

// JSONSchema renders f as a JSON Schema document (draft 2020-12 subset) that
// backends with structured output support accept as a response format.
func JSONSchema(f *Field) map[string]any {
	out := map[string]any{}
	if f.Description != "" {
		out["description"] = f.Description
	}
	switch f.Kind {
	case KindString:
		out["type"] = "string"
		if f.MinLen > 0 {
			out["minLength"] = f.MinLen
		}
	case KindNumber:
		if f.Integral {
			out["type"] = "integer"
		} else {
			out["type"] = "number"
		}
		if f.Min != nil {
			out["minimum"] = *f.Min
		}
		if f.Max != nil {
			out["maximum"] = *f.Max
		}
	case KindBoolean:
		out["type"] = "boolean"
	case KindEnum:
		out["type"] = "string"
		enum := make([]any, len(f.Enum))
		for i, v := range f.Enum {
			enum[i] = v
		}
		out["enum"] = enum
	case KindObject:
		objectSchema(out, f.Fields)
	case KindArray:
		out["type"] = "array"
		out["items"] = JSONSchema(f.Items)
		if f.ExactLen != nil {
			out["minItems"] = *f.ExactLen
			out["maxItems"] = *f.ExactLen
		}
		if f.MaxLen != nil {
			out["maxItems"] = *f.MaxLen
		}
	case KindMap:
		out["type"] = "object"
		out["additionalProperties"] = JSONSchema(f.Values)
	case KindVariant:
		alts := make([]any, 0, len(f.Variants))
		for _, tag := range variantTags(f) {
			alt := map[string]any{}
			objectSchema(alt, f.Variants[tag].Fields)
			props := alt["properties"].(map[string]any)
			props[f.Tag] = map[string]any{"type": "string", "enum": []any{tag}}
			alt["required"] = append([]any{f.Tag}, alt["required"].([]any)...)
			alts = append(alts, alt)
		}
		out["anyOf"] = alts
	}
	return out
}

func objectSchema(out map[string]any, fields []*Field) {
	props := make(map[string]any, len(fields))
	required := make([]any, 0, len(fields))
	for _, c := range fields {
		props[c.Name] = JSONSchema(c)
		if !c.Optional {
			required = append(required, c.Name)
		}
	}
	out["type"] = "object"
	out["properties"] = props
	out["required"] = required
	out["additionalProperties"] = false
}

// HasKind reports whether any node of the tree has kind k.
func HasKind(f *Field, k Kind) bool {
	if f == nil {
		return false
	}
	if f.Kind == k {
		return true
	}
	for _, c := range f.Fields {
		if HasKind(c, k) {
			return true
		}
	}
	for _, alt := range f.Variants {
		if HasKind(alt, k) {
			return true
		}
	}
	return HasKind(f.Items, k) || HasKind(f.Values, k)
}

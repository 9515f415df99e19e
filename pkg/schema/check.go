package schema

import (
	"fmt"
	"strings"
)

// DefinitionError reports a malformed schema tree. It is a programming error
// surfaced at registration time, never at call time.
type DefinitionError struct {
	Problems []string
}

func (e *DefinitionError) Error() string {
	return "invalid schema: " + strings.Join(e.Problems, "; ")
}

// Check verifies the structural invariants of a schema tree: unique member
// names per object, closed non-empty enums, coherent numeric and length
// bounds, and complete array, map and variant declarations.
func Check(f *Field) error {
	if f == nil {
		return &DefinitionError{Problems: []string{"nil schema"}}
	}
	var problems []string
	check(f, rootPath(f), &problems)
	if len(problems) > 0 {
		return &DefinitionError{Problems: problems}
	}
	return nil
}

func rootPath(f *Field) string {
	if f.Name == "" {
		return "$"
	}
	return f.Name
}

func check(f *Field, path string, problems *[]string) {
	add := func(format string, args ...any) {
		*problems = append(*problems, path+": "+fmt.Sprintf(format, args...))
	}
	switch f.Kind {
	case KindString:
		if f.MinLen < 0 {
			add("negative minimum length")
		}
	case KindBoolean:
	case KindNumber:
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			add("minimum %v greater than maximum %v", *f.Min, *f.Max)
		}
	case KindEnum:
		if len(f.Enum) == 0 {
			add("enum declares no values")
		}
		seen := map[string]bool{}
		for _, v := range f.Enum {
			if seen[v] {
				add("duplicate enum value %q", v)
			}
			seen[v] = true
		}
	case KindObject:
		seen := map[string]bool{}
		for _, c := range f.Fields {
			if c == nil {
				add("nil member")
				continue
			}
			if strings.TrimSpace(c.Name) == "" {
				add("member without a name")
				continue
			}
			if seen[c.Name] {
				add("duplicate member %q", c.Name)
				continue
			}
			seen[c.Name] = true
			check(c, path+"."+c.Name, problems)
		}
	case KindArray:
		if f.Items == nil {
			add("array without item schema")
		} else {
			check(f.Items, path+"[]", problems)
		}
		if f.ExactLen != nil && f.MaxLen != nil {
			add("array declares both exact and maximum length")
		}
		if f.ExactLen != nil && *f.ExactLen < 0 {
			add("negative exact length")
		}
		if f.MaxLen != nil && *f.MaxLen < 0 {
			add("negative maximum length")
		}
	case KindMap:
		if f.Values == nil {
			add("map without value schema")
		} else {
			check(f.Values, path+".*", problems)
		}
	case KindVariant:
		if strings.TrimSpace(f.Tag) == "" {
			add("variant without tag")
		}
		if len(f.Variants) == 0 {
			add("variant declares no alternatives")
		}
		for _, tag := range variantTags(f) {
			v := f.Variants[tag]
			if v == nil || v.Kind != KindObject {
				add("variant %q must be an object", tag)
				continue
			}
			if _, clash := v.Child(f.Tag); clash {
				add("variant %q redeclares tag %q", tag, f.Tag)
			}
			check(v, path+"<"+tag+">", problems)
		}
	default:
		add("unknown kind %q", f.Kind)
	}
}

// Package schema describes the structural contracts of generative tasks and
// validates concrete values against them.
//
// A contract is a tree of *Field values. The root is usually an object whose
// Fields are the top-level keys of the task input or output.
package schema

import "sort"

type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindMap     Kind = "map"
	KindVariant Kind = "variant"
)

// Field is a node of a schema tree. Only the constraint fields that belong to
// the node's Kind are consulted.
type Field struct {
	Name        string
	Kind        Kind
	Description string
	Optional    bool

	// enum
	Enum []string

	// number
	Min      *float64
	Max      *float64
	Integral bool

	// string
	MinLen int

	// array
	Items    *Field
	ExactLen *int
	MaxLen   *int

	// object
	Fields []*Field

	// map: string keys, every value described by Values
	Values *Field

	// variant: an object discriminated by the string at key Tag
	Tag      string
	Variants map[string]*Field
}

func String(name, description string) *Field {
	return &Field{Name: name, Kind: KindString, Description: description}
}

func Number(name, description string) *Field {
	return &Field{Name: name, Kind: KindNumber, Description: description}
}

func Boolean(name, description string) *Field {
	return &Field{Name: name, Kind: KindBoolean, Description: description}
}

func Enum(name, description string, values ...string) *Field {
	return &Field{Name: name, Kind: KindEnum, Description: description, Enum: values}
}

func Object(name, description string, fields ...*Field) *Field {
	return &Field{Name: name, Kind: KindObject, Description: description, Fields: fields}
}

func Array(name, description string, items *Field) *Field {
	return &Field{Name: name, Kind: KindArray, Description: description, Items: items}
}

func Map(name, description string, values *Field) *Field {
	return &Field{Name: name, Kind: KindMap, Description: description, Values: values}
}

// Variant declares a tagged union. Each entry of variants must be an object
// field; its Fields are the keys allowed next to the tag.
func Variant(name, description, tag string, variants map[string]*Field) *Field {
	return &Field{Name: name, Kind: KindVariant, Description: description, Tag: tag, Variants: variants}
}

// NonEmpty requires a string with at least one non-space character.
func (f *Field) NonEmpty() *Field {
	f.MinLen = 1
	return f
}

func (f *Field) Range(min, max float64) *Field {
	f.Min = &min
	f.Max = &max
	return f
}

func (f *Field) AtLeast(min float64) *Field {
	f.Min = &min
	return f
}

func (f *Field) Whole() *Field {
	f.Integral = true
	return f
}

func (f *Field) Length(n int) *Field {
	f.ExactLen = &n
	return f
}

func (f *Field) AtMost(n int) *Field {
	f.MaxLen = &n
	return f
}

func (f *Field) Opt() *Field {
	f.Optional = true
	return f
}

// Child returns the direct object member called name.
func (f *Field) Child(name string) (*Field, bool) {
	if f == nil || f.Kind != KindObject {
		return nil, false
	}
	for _, c := range f.Fields {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Lookup resolves a dotted path of object members, e.g. ["riskProfile", "valueAtRisk"].
func (f *Field) Lookup(path []string) (*Field, bool) {
	cur := f
	for _, p := range path {
		next, ok := cur.Child(p)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func variantTags(f *Field) []string {
	tags := make([]string, 0, len(f.Variants))
	for t := range f.Variants {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

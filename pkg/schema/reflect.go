package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// CheckStruct reports every mismatch between f and the JSON shape of Go type
// t: members missing on either side and primitive kinds that cannot carry
// each other's values. Catalogue tasks keep a schema and a struct per
// contract; this keeps the two from drifting apart.
func CheckStruct(f *Field, t reflect.Type) error {
	var problems []string
	compare(f, t, rootPath(f), &problems)
	if len(problems) > 0 {
		sort.Strings(problems)
		return &DefinitionError{Problems: problems}
	}
	return nil
}

func compare(f *Field, t reflect.Type, path string, problems *[]string) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	add := func(format string, args ...any) {
		*problems = append(*problems, path+": "+fmt.Sprintf(format, args...))
	}
	switch f.Kind {
	case KindString, KindEnum:
		if t.Kind() != reflect.String {
			add("schema %s, struct %s", f.Kind, t.Kind())
		}
	case KindBoolean:
		if t.Kind() != reflect.Bool {
			add("schema boolean, struct %s", t.Kind())
		}
	case KindNumber:
		switch t.Kind() {
		case reflect.Float32, reflect.Float64:
		case reflect.Int, reflect.Int32, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
			if !f.Integral {
				add("fractional number carried by %s", t.Kind())
			}
		default:
			add("schema number, struct %s", t.Kind())
		}
	case KindArray:
		if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
			add("schema array, struct %s", t.Kind())
			return
		}
		compare(f.Items, t.Elem(), path+"[]", problems)
	case KindMap:
		if t.Kind() != reflect.Map || t.Key().Kind() != reflect.String {
			add("schema map, struct %s", t)
			return
		}
		compare(f.Values, t.Elem(), path+".*", problems)
	case KindObject:
		if t.Kind() != reflect.Struct {
			add("schema object, struct %s", t.Kind())
			return
		}
		compareMembers(f.Fields, t, path, problems)
	case KindVariant:
		if t.Kind() != reflect.Struct {
			add("schema variant, struct %s", t.Kind())
			return
		}
		// The struct carries the union of every alternative plus the tag.
		union := []*Field{Enum(f.Tag, "", variantTags(f)...)}
		seen := map[string]bool{f.Tag: true}
		for _, tag := range variantTags(f) {
			for _, c := range f.Variants[tag].Fields {
				if !seen[c.Name] {
					seen[c.Name] = true
					union = append(union, c)
				}
			}
		}
		compareMembers(union, t, path, problems)
	}
}

func compareMembers(fields []*Field, t reflect.Type, path string, problems *[]string) {
	members := jsonMembers(t)
	declared := map[string]bool{}
	for _, c := range fields {
		declared[c.Name] = true
		sf, ok := members[c.Name]
		if !ok {
			*problems = append(*problems, path+"."+c.Name+": missing from struct "+t.Name())
			continue
		}
		compare(c, sf.Type, path+"."+c.Name, problems)
	}
	for name := range members {
		if !declared[name] {
			*problems = append(*problems, path+"."+name+": missing from schema")
		}
	}
}

func jsonMembers(t reflect.Type) map[string]reflect.StructField {
	out := map[string]reflect.StructField{}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag, ok := sf.Tag.Lookup("json"); ok {
			head, _, _ := strings.Cut(tag, ",")
			if head == "-" {
				continue
			}
			if head != "" {
				name = head
			}
		}
		out[name] = sf
	}
	return out
}

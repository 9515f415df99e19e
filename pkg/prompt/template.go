// Package prompt parses and renders the placeholder templates that turn a
// validated task input into the text sent to a language model.
//
// The syntax is deliberately small: {{path}} or {{{path}}} substitutes the
// value at a dotted input path. There are no sections, helpers or pipes.
package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ResolutionError reports a placeholder that cannot be bound, either at
// definition time against the input schema or at render time against a value.
type ResolutionError struct {
	Placeholder string
	Reason      string
}

func (e *ResolutionError) Error() string {
	if e.Placeholder == "" {
		return "template: " + e.Reason
	}
	return fmt.Sprintf("template placeholder {{%s}}: %s", e.Placeholder, e.Reason)
}

type segment struct {
	literal  string
	path     []string
	optional bool
}

func (s segment) isPlaceholder() bool { return s.path != nil }

// Template is an immutable parsed prompt. Safe for concurrent use.
type Template struct {
	text     string
	segments []segment
}

// Parse splits text into literals and placeholders and binds every
// placeholder to a member of the input schema.
func Parse(text string, input *schema.Field) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ResolutionError{Reason: "template is empty"}
	}
	t := &Template{text: text}
	rest := text
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			t.appendLiteral(rest)
			break
		}
		t.appendLiteral(rest[:open])
		rest = rest[open:]

		closer := "}}"
		start := 2
		if strings.HasPrefix(rest, "{{{") {
			closer, start = "}}}", 3
		}
		end := strings.Index(rest[start:], closer)
		if end < 0 {
			return nil, &ResolutionError{Placeholder: strings.TrimSpace(rest[start:]), Reason: "unterminated placeholder"}
		}
		expr := strings.TrimSpace(rest[start : start+end])
		rest = rest[start+end+len(closer):]

		seg, err := bind(expr, input)
		if err != nil {
			return nil, err
		}
		t.segments = append(t.segments, seg)
	}
	return t, nil
}

// MustParse is Parse for templates declared in package-level catalogues.
func MustParse(text string, input *schema.Field) *Template {
	t, err := Parse(text, input)
	if err != nil {
		panic(err)
	}
	return t
}

func bind(expr string, input *schema.Field) (segment, error) {
	switch {
	case expr == "":
		return segment{}, &ResolutionError{Reason: "empty placeholder"}
	case strings.ContainsAny(expr[:1], "#/^>!&"), expr == "else":
		return segment{}, &ResolutionError{Placeholder: expr, Reason: "control flow is not supported"}
	case strings.ContainsAny(expr, " \t\n|()"):
		return segment{}, &ResolutionError{Placeholder: expr, Reason: "helpers and pipes are not supported"}
	case !pathPattern.MatchString(expr):
		return segment{}, &ResolutionError{Placeholder: expr, Reason: "invalid path"}
	}
	path := strings.Split(expr, ".")
	optional := false
	cur := input
	for i, p := range path {
		next, ok := cur.Child(p)
		if !ok {
			return segment{}, &ResolutionError{
				Placeholder: expr,
				Reason:      fmt.Sprintf("%q is not a field of the input schema", strings.Join(path[:i+1], ".")),
			}
		}
		optional = optional || next.Optional
		cur = next
	}
	return segment{path: path, optional: optional}, nil
}

func (t *Template) appendLiteral(s string) {
	if s == "" {
		return
	}
	t.segments = append(t.segments, segment{literal: s})
}

// Text returns the source the template was parsed from.
func (t *Template) Text() string { return t.text }

// Placeholders lists the distinct placeholder paths in order of appearance.
func (t *Template) Placeholders() []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range t.segments {
		if !s.isPlaceholder() {
			continue
		}
		p := strings.Join(s.path, ".")
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Render substitutes every placeholder with the value at its path. Absent
// optional members render as the empty string; any other gap fails.
func (t *Template) Render(input map[string]any) (string, error) {
	var b strings.Builder
	for _, s := range t.segments {
		if !s.isPlaceholder() {
			b.WriteString(s.literal)
			continue
		}
		v, err := lookup(input, s.path)
		if err != nil {
			if s.optional {
				continue
			}
			return "", err
		}
		text, err := stringify(v)
		if err != nil {
			return "", &ResolutionError{Placeholder: strings.Join(s.path, "."), Reason: err.Error()}
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func lookup(input map[string]any, path []string) (any, error) {
	var cur any = input
	for i, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, &ResolutionError{
				Placeholder: strings.Join(path, "."),
				Reason:      fmt.Sprintf("%q is not an object", strings.Join(path[:i], ".")),
			}
		}
		cur, ok = m[p]
		if !ok || cur == nil {
			return nil, &ResolutionError{
				Placeholder: strings.Join(path, "."),
				Reason:      fmt.Sprintf("%q is missing", strings.Join(path[:i+1], ".")),
			}
		}
	}
	return cur, nil
}

func stringify(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case json.Number:
		return x.String(), nil
	}
	raw, err := schema.Canonical(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

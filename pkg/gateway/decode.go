package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ErrTruncated reports model output that stops before its JSON object is
// closed. Such output is never repaired.
var ErrTruncated = errors.New("truncated JSON object")

// Decode recovers a JSON object from model text. It tries the text as-is,
// then the first fenced code block, then the outermost brace pair, and
// finally a syntactic repair of each candidate. Numbers stay json.Number.
// Repair only fixes syntax such as trailing commas or single quotes; an
// object cut off before its closing brace fails with ErrTruncated.
func Decode(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty response")
	}
	candidates := []string{trimmed}
	body := trimmed
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		body = strings.TrimSpace(m[1])
		candidates = append(candidates, body)
	}
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		candidates = append(candidates, trimmed[start:end+1])
	}

	var lastErr error
	for _, c := range candidates {
		obj, err := decodeObject(c)
		if err == nil {
			return obj, nil
		}
		lastErr = err
	}
	if truncated(body) {
		return nil, ErrTruncated
	}
	for _, c := range candidates[1:] {
		if obj, err := repairObject(c); err == nil {
			return obj, nil
		}
	}
	if obj, err := repairObject(trimmed); err == nil {
		return obj, nil
	}
	return nil, lastErr
}

func repairObject(text string) (map[string]any, error) {
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, err
	}
	return decodeObject(repaired)
}

// truncated reports whether the object starting at the first brace of text
// is still open when the text ends. Both quote styles count as strings so
// that repairable single-quoted output is not mistaken for a cut-off.
func truncated(text string) bool {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return false
	}
	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == quote:
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return false
			}
		}
	}
	return true
}

func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("response is not a JSON object")
	}
	return obj, nil
}

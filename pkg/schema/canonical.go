package schema

import (
	"bytes"
	"encoding/json"
)

// Canonical encodes v as compact JSON with sorted object keys and without
// HTML escaping. Equal values always produce identical bytes.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Normalize turns a Go value (typically a tagged struct or a map) into the
// generic JSON tree Validate expects. Numbers come back as json.Number.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return decodeNumbers(x)
	case []byte:
		return decodeNumbers(x)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeNumbers(raw)
}

func decodeNumbers(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

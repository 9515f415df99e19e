package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name string
		text string
		want map[string]any
	}{
		{"plain", `{"a":1}`, map[string]any{"a": json.Number("1")}},
		{"surrounding whitespace", "\n  {\"a\":\"x\"}\n", map[string]any{"a": "x"}},
		{"code fence", "Here you go:\n```json\n{\"a\":2}\n```\nAnything else?", map[string]any{"a": json.Number("2")}},
		{"bare fence", "```\n{\"a\":true}\n```", map[string]any{"a": true}},
		{"prose around object", "The answer is {\"a\":[1,2]} as requested.", map[string]any{"a": []any{json.Number("1"), json.Number("2")}}},
		{"trailing comma", `{"a":"x",}`, map[string]any{"a": "x"}},
		{"single quotes", `{'a': 'x'}`, map[string]any{"a": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeFailures(t *testing.T) {
	for _, text := range []string{"", "   ", `[1,2,3]`, `"just a string"`, `{"a":"x"`} {
		_, err := Decode(text)
		assert.Error(t, err, "text %q", text)
	}
}

func TestDecodeRejectsTruncatedObject(t *testing.T) {
	for _, text := range []string{
		`{"regime":"Bull","confidence":0.82,"rationale":"Moving aver`,
		`{"regime":"Bull","confidence":0.82,"rationale":"ok"`,
		`{"trades":[{"side":"buy"},{"side":"se`,
		"Here it is:\n```json\n{\"regime\":\"Bull\",\"rationale\":\"it's",
		`{'regime': 'Bull', 'rationale': 'cut`,
	} {
		got, err := Decode(text)
		assert.ErrorIs(t, err, ErrTruncated, "text %q", text)
		assert.Nil(t, got)
	}
}

func TestTruncated(t *testing.T) {
	assert.False(t, truncated(`no json here`))
	assert.False(t, truncated(`{"a":"}{ it's \" fine"} trailing {`))
	assert.False(t, truncated(`{'a': 'x',}`))
	assert.True(t, truncated(`prefix {"a":{"b":1}`))
	assert.True(t, truncated(`{"a":"escaped \"`))
}

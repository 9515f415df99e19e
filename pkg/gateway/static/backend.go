// Package static is a canned backend for local development and integration
// tests. It answers every task with a configured JSON document.
package static

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/fpilot/pkg/gateway"
)

type backendConfig struct {
	// Responses maps a task name to the raw text returned for it.
	Responses map[string]json.RawMessage `json:"responses"`

	// Default is returned for tasks without an entry.
	Default json.RawMessage `json:"default,omitempty"`
}

type Backend struct {
	responses map[string]string
	fallback  string
}

func NewFromJSON(raw json.RawMessage) (*Backend, error) {
	b := &Backend{responses: map[string]string{}}
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return b, nil
	}
	var cfg backendConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("static llm: invalid config: %w", err)
	}
	for task, resp := range cfg.Responses {
		b.responses[task] = text(resp)
	}
	b.fallback = text(cfg.Default)
	return b, nil
}

// New builds a backend from a map of task name to response text.
func New(responses map[string]string) *Backend {
	b := &Backend{responses: map[string]string{}}
	for k, v := range responses {
		b.responses[k] = v
	}
	return b
}

// text unwraps JSON strings so both {"responses":{"t":"..."}} and
// {"responses":{"t":{...}}} are accepted.
func text(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func (b *Backend) Name() string { return "static" }

func (b *Backend) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{StructuredOutput: false}
}

func (b *Backend) Complete(ctx context.Context, req gateway.CompletionRequest) (*gateway.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, ok := b.responses[req.Task]
	if !ok {
		resp = b.fallback
	}
	if resp == "" {
		return nil, &gateway.BackendUnavailableError{Provider: b.Name(), Err: errors.New("no canned response for task " + req.Task)}
	}
	return &gateway.Completion{
		Text:  resp,
		Model: "static",
		Usage: gateway.Usage{PromptTokens: len(strings.Fields(req.Prompt)), CompletionTokens: len(strings.Fields(resp))},
	}, nil
}

func init() {
	gateway.RegisterBackend("static", func(cfg gateway.BackendConfig) (gateway.Backend, error) {
		return NewFromJSON(cfg.Config)
	})
}

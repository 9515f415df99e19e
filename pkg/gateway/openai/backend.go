// Package openai talks to any OpenAI-compatible /chat/completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/fpilot/pkg/gateway"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	systemPrompt   = "You are a quantitative trading assistant. Answer with JSON only."
	maxErrorBody   = 2048
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type Backend struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func New(cfg gateway.BackendConfig) (gateway.Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Backend{apiKey: cfg.APIKey, baseURL: baseURL, model: model, httpClient: client}, nil
}

func (b *Backend) Name() string { return providerName }

func (b *Backend) Capabilities() gateway.Capabilities {
	return gateway.Capabilities{StructuredOutput: true}
}

func (b *Backend) Complete(ctx context.Context, req gateway.CompletionRequest) (*gateway.Completion, error) {
	model := req.Model.Model
	if model == "" {
		model = b.model
	}
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: req.Model.Temperature,
		MaxTokens:   req.Model.MaxOutputTokens,
	}
	if req.ResponseSchema != nil {
		body.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   schemaName(req.Task),
				Schema: schema.JSONSchema(req.ResponseSchema),
			},
		}
	} else {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, &gateway.BackendUnavailableError{Provider: providerName, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &gateway.BackendUnavailableError{Provider: providerName, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapStatus(resp.StatusCode, respBody, resp.Header)
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &gateway.MalformedResponseError{Provider: providerName, Text: string(respBody), Err: err}
	}
	if out.Error != nil {
		return nil, &gateway.BackendUnavailableError{Provider: providerName, Err: errors.New(out.Error.Message)}
	}
	if len(out.Choices) == 0 {
		return nil, &gateway.MalformedResponseError{Provider: providerName, Text: string(respBody), Err: errors.New("no choices returned")}
	}
	choice := out.Choices[0]
	if choice.FinishReason == "length" {
		return nil, &gateway.MalformedResponseError{Provider: providerName, Text: choice.Message.Content, Err: gateway.ErrTruncated}
	}
	return &gateway.Completion{
		Text:  choice.Message.Content,
		Model: out.Model,
		Usage: gateway.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

func mapStatus(status int, body []byte, headers http.Header) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &gateway.AuthenticationError{Provider: providerName, Message: msg}
	case status == http.StatusTooManyRequests:
		return &gateway.RateLimitError{Provider: providerName, RetryAfter: parseRetryAfter(headers.Get("Retry-After")), Message: msg}
	case status >= 500 || status == http.StatusRequestTimeout:
		return &gateway.BackendUnavailableError{Provider: providerName, Err: fmt.Errorf("status %d: %s", status, msg)}
	}
	return &gateway.BackendUnavailableError{Provider: providerName, Status: status, Err: errors.New(msg)}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func schemaName(task string) string {
	if task == "" {
		return "response"
	}
	return task
}

func init() {
	gateway.RegisterBackend(providerName, New)
}

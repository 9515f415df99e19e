package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/osvaldoandrade/fpilot/pkg/gateway"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) gateway.Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := New(gateway.BackendConfig{APIKey: "test-key", BaseURL: srv.URL + "/", Model: "test-model"})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	return b
}

func TestCompleteSuccess(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload["model"] != "test-model" {
			t.Errorf("unexpected model: %v", payload["model"])
		}
		format, _ := payload["response_format"].(map[string]any)
		if format["type"] != "json_schema" {
			t.Errorf("expected json_schema response format, got %v", format)
		}
		js, _ := format["json_schema"].(map[string]any)
		if js["name"] != "predictMarketRegime" {
			t.Errorf("unexpected schema name %v", js["name"])
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model-2024",
			"choices": []any{
				map[string]any{"message": map[string]any{"content": `{"regime":"Bull"}`}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7},
		})
	})

	out, err := b.Complete(context.Background(), gateway.CompletionRequest{
		Task:           "predictMarketRegime",
		Prompt:         "hello",
		ResponseSchema: schema.Object("", "", schema.Enum("regime", "", "Bull", "Bear")),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != `{"regime":"Bull"}` {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if out.Model != "test-model-2024" {
		t.Fatalf("unexpected model %q", out.Model)
	}
	if out.Usage.TotalTokens != 7 || out.Usage.PromptTokens != 3 || out.Usage.CompletionTokens != 4 {
		t.Fatalf("unexpected usage %+v", out.Usage)
	}
}

func TestCompleteErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header map[string]string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				if _, ok := err.(*gateway.AuthenticationError); !ok {
					t.Fatalf("expected AuthenticationError, got %T", err)
				}
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				if _, ok := err.(*gateway.AuthenticationError); !ok {
					t.Fatalf("expected AuthenticationError, got %T", err)
				}
			},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			header: map[string]string{"Retry-After": "30"},
			check: func(t *testing.T, err error) {
				rl, ok := err.(*gateway.RateLimitError)
				if !ok {
					t.Fatalf("expected RateLimitError, got %T", err)
				}
				if rl.RetryAfter != 30*time.Second {
					t.Fatalf("expected 30s retry-after, got %s", rl.RetryAfter)
				}
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				un, ok := err.(*gateway.BackendUnavailableError)
				if !ok {
					t.Fatalf("expected BackendUnavailableError, got %T", err)
				}
				if un.Timeout {
					t.Fatalf("5xx must not be reported as timeout")
				}
			},
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				un, ok := err.(*gateway.BackendUnavailableError)
				if !ok || un.Status != http.StatusBadRequest {
					t.Fatalf("expected rejected BackendUnavailableError, got %T (%v)", err, err)
				}
				if gateway.Retryable(err) {
					t.Fatalf("rejected request must not be retried")
				}
			},
		},
		{
			name:   "unknown model",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				un, ok := err.(*gateway.BackendUnavailableError)
				if !ok || un.Status != http.StatusNotFound {
					t.Fatalf("expected rejected BackendUnavailableError, got %T (%v)", err, err)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			})
			_, err := b.Complete(context.Background(), gateway.CompletionRequest{Task: "t", Prompt: "p"})
			if err == nil {
				t.Fatalf("expected error")
			}
			tc.check(t, err)
		})
	}
}

func TestCompleteLengthFinishIsTruncated(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": `{"regime":"Bull","rationale":"Moving`}, "finish_reason": "length"},
			},
		})
	})
	_, err := b.Complete(context.Background(), gateway.CompletionRequest{Task: "t", Prompt: "p"})
	mal, ok := err.(*gateway.MalformedResponseError)
	if !ok {
		t.Fatalf("expected MalformedResponseError, got %T (%v)", err, err)
	}
	if !errors.Is(err, gateway.ErrTruncated) || mal.Text != `{"regime":"Bull","rationale":"Moving` {
		t.Fatalf("unexpected truncation error %+v", mal)
	}
}

func TestCompleteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b, err := New(gateway.BackendConfig{APIKey: "k", BaseURL: url})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	_, err = b.Complete(context.Background(), gateway.CompletionRequest{Task: "t", Prompt: "p"})
	if _, ok := err.(*gateway.BackendUnavailableError); !ok {
		t.Fatalf("expected BackendUnavailableError, got %T (%v)", err, err)
	}
}

func TestFreeTextRequestsJSONObject(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		format, _ := payload["response_format"].(map[string]any)
		if format["type"] != "json_object" {
			t.Errorf("expected json_object, got %v", format)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "{}"}}},
		})
	})
	if _, err := b.Complete(context.Background(), gateway.CompletionRequest{Task: "t", Prompt: "p"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(gateway.BackendConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("5"); got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("expected 0 for garbage, got %s", got)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 || got > time.Minute {
		t.Fatalf("unexpected duration for http date: %s", got)
	}
}

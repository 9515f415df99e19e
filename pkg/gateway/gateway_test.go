package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

type fakeBackend struct {
	structured bool
	calls      atomic.Int32
	lastReq    CompletionRequest
	complete   func(ctx context.Context, req CompletionRequest) (*Completion, error)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Capabilities() Capabilities {
	return Capabilities{StructuredOutput: f.structured}
}

func (f *fakeBackend) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	f.calls.Add(1)
	f.lastReq = req
	return f.complete(ctx, req)
}

func answer(text string) func(context.Context, CompletionRequest) (*Completion, error) {
	return func(context.Context, CompletionRequest) (*Completion, error) {
		return &Completion{Text: text, Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
	}
}

func regimeSchema() *schema.Field {
	return schema.Object("", "",
		schema.Enum("regime", "", "Bull", "Bear", "Sideways"),
		schema.Number("confidence", "").Range(0, 1),
		schema.String("rationale", ""),
	)
}

func newGateway(t *testing.T, b Backend, timeout time.Duration) *Gateway {
	t.Helper()
	g, err := New(b, Options{Timeout: timeout, Model: ModelConfig{Model: "test-model"}})
	require.NoError(t, err)
	return g
}

func TestInvokeStructured(t *testing.T) {
	b := &fakeBackend{structured: true, complete: answer(`{"regime":"Bull","confidence":0.82,"rationale":"trend"}`)}
	g := newGateway(t, b, time.Second)

	res, err := g.Invoke(context.Background(), Request{Task: "predictMarketRegime", Prompt: "p", OutputSchema: regimeSchema()})
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.calls.Load())
	assert.True(t, res.Structured)
	assert.Equal(t, "p", b.lastReq.Prompt)
	assert.NotNil(t, b.lastReq.ResponseSchema)
	assert.Equal(t, "test-model", b.lastReq.Model.Model)
	assert.Equal(t, json.Number("0.82"), res.Payload["confidence"])
	assert.Equal(t, "fake", res.Provider)
	assert.Equal(t, "test-model", res.Model)
	assert.Equal(t, 15, res.Usage.TotalTokens)
}

func TestInvokeFreeTextAppendsShapeHint(t *testing.T) {
	b := &fakeBackend{complete: answer("Sure!\n```json\n{\"regime\":\"Bear\",\"confidence\":0.4,\"rationale\":\"x\"}\n```")}
	g := newGateway(t, b, time.Second)

	res, err := g.Invoke(context.Background(), Request{Task: "predictMarketRegime", Prompt: "p", OutputSchema: regimeSchema()})
	require.NoError(t, err)
	assert.False(t, res.Structured)
	assert.Nil(t, b.lastReq.ResponseSchema)
	assert.True(t, strings.HasPrefix(b.lastReq.Prompt, "p\n\nRespond with a single JSON object"))
	assert.Contains(t, b.lastReq.Prompt, `"enum":["Bull","Bear","Sideways"]`)
	assert.Equal(t, "Bear", res.Payload["regime"])
}

func TestInvokeMalformed(t *testing.T) {
	b := &fakeBackend{structured: true, complete: answer("I cannot help with that.")}
	g := newGateway(t, b, time.Second)

	_, err := g.Invoke(context.Background(), Request{Task: "t", Prompt: "p"})
	var mal *MalformedResponseError
	require.ErrorAs(t, err, &mal)
	assert.Equal(t, "I cannot help with that.", mal.Text)
}

func TestInvokeTruncatedOutputIsMalformed(t *testing.T) {
	for _, text := range []string{
		`{"regime":"Bull","confidence":0.82,"rationale":"Moving aver`,
		`{"regime":"Bull","confidence":0.82,"rationale":"ok"`,
	} {
		b := &fakeBackend{structured: true, complete: answer(text)}
		g := newGateway(t, b, time.Second)

		res, err := g.Invoke(context.Background(), Request{Task: "predictMarketRegime", Prompt: "p", OutputSchema: regimeSchema()})
		var mal *MalformedResponseError
		require.ErrorAs(t, err, &mal, "text %q", text)
		assert.ErrorIs(t, err, ErrTruncated)
		assert.Nil(t, res)
		assert.False(t, Retryable(err))
		assert.Equal(t, "malformed", Outcome(err))
	}
}

func TestInvokeTimeout(t *testing.T) {
	b := &fakeBackend{complete: func(ctx context.Context, _ CompletionRequest) (*Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	g := newGateway(t, b, 20*time.Millisecond)

	_, err := g.Invoke(context.Background(), Request{Task: "t", Prompt: "p"})
	var un *BackendUnavailableError
	require.ErrorAs(t, err, &un)
	assert.True(t, un.Timeout)
	assert.True(t, Retryable(err))
	assert.Equal(t, "timeout", Outcome(err))
}

func TestInvokeCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &fakeBackend{complete: func(ctx context.Context, _ CompletionRequest) (*Completion, error) {
		cancel()
		<-ctx.Done()
		return nil, errors.New("transport: connection closed")
	}}
	g := newGateway(t, b, time.Second)

	_, err := g.Invoke(ctx, Request{Task: "t", Prompt: "p"})
	require.ErrorIs(t, err, ErrCancelled)
	assert.False(t, Retryable(err))
}

func TestInvokeAlreadyCancelledSkipsBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &fakeBackend{complete: answer("{}")}
	g := newGateway(t, b, time.Second)

	_, err := g.Invoke(ctx, Request{Task: "t", Prompt: "p"})
	require.ErrorIs(t, err, ErrCancelled)
	assert.EqualValues(t, 0, b.calls.Load())
}

func TestInvokePassesBackendErrorsThrough(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		outcome string
	}{
		{"auth", &AuthenticationError{Provider: "fake", Message: "bad key"}, "auth"},
		{"rate limit", &RateLimitError{Provider: "fake", RetryAfter: 3 * time.Second}, "rate_limited"},
		{"unavailable", &BackendUnavailableError{Provider: "fake", Err: errors.New("502")}, "unavailable"},
		{"rejected", &BackendUnavailableError{Provider: "fake", Status: 404, Err: errors.New("unknown model")}, "rejected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{complete: func(context.Context, CompletionRequest) (*Completion, error) { return nil, tc.err }}
			g := newGateway(t, b, time.Second)
			_, err := g.Invoke(context.Background(), Request{Task: "t", Prompt: "p"})
			assert.Same(t, tc.err, err)
			assert.Equal(t, tc.outcome, Outcome(err))
			assert.EqualValues(t, 1, b.calls.Load())
		})
	}
}

func TestModelOverride(t *testing.T) {
	b := &fakeBackend{structured: true, complete: answer("{}")}
	g := newGateway(t, b, time.Second)
	temp := 0.2
	_, err := g.Invoke(context.Background(), Request{Task: "t", Prompt: "p", Model: ModelConfig{Model: "other", Temperature: &temp, MaxOutputTokens: 256}})
	require.NoError(t, err)
	assert.Equal(t, "other", b.lastReq.Model.Model)
	assert.Equal(t, 0.2, *b.lastReq.Model.Temperature)
	assert.Equal(t, 256, b.lastReq.Model.MaxOutputTokens)
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}

func TestRejectedRequestIsNotRetryable(t *testing.T) {
	rejected := &BackendUnavailableError{Provider: "fake", Status: 400, Err: errors.New("invalid schema")}
	assert.False(t, Retryable(rejected))
	assert.Contains(t, rejected.Error(), "status 400")

	assert.True(t, Retryable(&BackendUnavailableError{Provider: "fake", Status: 408, Err: errors.New("slow")}))
	assert.True(t, Retryable(&BackendUnavailableError{Provider: "fake", Status: 503, Err: errors.New("busy")}))
	assert.True(t, Retryable(&RateLimitError{Provider: "fake"}))
}

package flow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osvaldoandrade/fpilot/pkg/domain"
	"github.com/osvaldoandrade/fpilot/pkg/gateway"
	"github.com/osvaldoandrade/fpilot/pkg/prompt"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

func TestCode(t *testing.T) {
	val := &schema.ValidationError{Violations: []schema.Violation{{Path: "x", Reason: "required"}}}
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&RunError{Stage: StageLookup, Err: &UnknownTaskError{Task: "x"}}, "unknown_task"},
		{&DuplicateTaskError{Task: "x"}, "duplicate_task"},
		{&RunError{Stage: StageInputValidation, Err: val}, "invalid_input"},
		{&RunError{Stage: StageOutputValidation, Err: val}, "invalid_output"},
		{&RunError{Stage: StageRendering, Err: &prompt.ResolutionError{Placeholder: "a"}}, "template_error"},
		{fmt.Errorf("wrapped: %w", &RunError{Stage: StageInvoking, Err: gateway.ErrCancelled}), "cancelled"},
		{&gateway.BackendUnavailableError{Timeout: true}, "backend_timeout"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Code(tc.err), "%v", tc.err)
	}
}

func TestStageOf(t *testing.T) {
	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
	err := fmt.Errorf("ctx: %w", &RunError{Task: "t", Stage: StageRendering, Err: errors.New("x")})
	assert.Equal(t, StageRendering, StageOf(err))
	assert.Contains(t, err.Error(), "t failed at rendering")
}

func TestCallPropagatesErrors(t *testing.T) {
	failure := &RunError{Stage: StageInvoking, Err: &gateway.AuthenticationError{Provider: "stub"}}
	next := &scriptedExecutor{errs: []error{failure}}
	_, err := SummarizeMarketSentiment(context.Background(), next, domain.SummarizeMarketSentimentInput{Cryptocurrency: "BTC"})
	assert.Same(t, failure, err)

	out, err := SummarizeMarketSentiment(context.Background(), next, domain.SummarizeMarketSentimentInput{Cryptocurrency: "BTC"})
	require.NoError(t, err)
	assert.Equal(t, "calm", out.Summary)
	assert.Equal(t, domain.SummarizeMarketSentimentInput{Cryptocurrency: "BTC"}, next.inputs[1])
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	stub := newStub().answer(TaskSummarizeMarketSentiment, map[string]any{"summary": "calm"})
	r := newTestRunner(t, stub, WithObserver(Observers{LogObserver(logger), nil}))

	_, err := r.Run(context.Background(), TaskSummarizeMarketSentiment, map[string]any{"cryptocurrency": "BTC"})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), TaskSummarizeMarketSentiment, map[string]any{})
	require.Error(t, err)

	logs := buf.String()
	assert.Contains(t, logs, `"msg":"task run succeeded"`)
	assert.Contains(t, logs, `"msg":"task run failed"`)
	assert.Contains(t, logs, `"code":"invalid_input"`)
	assert.Contains(t, logs, `"state":"Rendering"`)
}

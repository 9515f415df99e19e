// Package gateway sends rendered prompts to a hosted language model and
// returns the decoded JSON payload with usage and latency metadata.
//
// A Gateway performs exactly one backend call per Invoke. Retries and caching
// are the caller's business (see the flow package decorators).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/fpilot/internal/metrics"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

// ModelConfig selects the model and sampling settings for one request. Zero
// values fall back to the backend defaults.
type ModelConfig struct {
	Model           string   `json:"model,omitempty" yaml:"model"`
	Temperature     *float64 `json:"temperature,omitempty" yaml:"temperature"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty" yaml:"maxOutputTokens"`
}

type Request struct {
	Task         string
	Prompt       string
	OutputSchema *schema.Field
	Model        ModelConfig
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type Result struct {
	Text    string
	Payload map[string]any
	// Structured is true when the backend was asked for schema-constrained output.
	Structured bool
	Latency    time.Duration
	Usage      Usage
	Provider   string
	Model      string
}

type Capabilities struct {
	StructuredOutput bool
}

// CompletionRequest is what a Backend receives. ResponseSchema is nil when the
// backend did not advertise structured output.
type CompletionRequest struct {
	Task           string
	Prompt         string
	ResponseSchema *schema.Field
	Model          ModelConfig
}

type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Backend is one hosted completion service. Implementations classify their own
// failures into the error types of this package and must honour ctx.
type Backend interface {
	Name() string
	Capabilities() Capabilities
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

type Options struct {
	Timeout time.Duration
	Model   ModelConfig
	Logger  *slog.Logger
}

type Gateway struct {
	backend Backend
	timeout time.Duration
	model   ModelConfig
	logger  *slog.Logger
}

func New(backend Backend, opts Options) (*Gateway, error) {
	if backend == nil {
		return nil, errors.New("gateway: backend is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		backend: backend,
		timeout: opts.Timeout,
		model:   opts.Model,
		logger:  opts.Logger,
	}, nil
}

func (g *Gateway) Provider() string { return g.backend.Name() }

func (g *Gateway) Invoke(ctx context.Context, req Request) (*Result, error) {
	provider := g.backend.Name()
	model := g.mergeModel(req.Model)

	ctx, span := otel.Tracer("fpilot/gateway").Start(ctx, "gateway.invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("fpilot.task", req.Task),
		attribute.String("fpilot.provider", provider),
		attribute.String("fpilot.model", model.Model),
	)

	if err := ctx.Err(); err != nil {
		return nil, g.finish(span, req.Task, provider, 0, ErrCancelled)
	}

	structured := g.backend.Capabilities().StructuredOutput
	creq := CompletionRequest{Task: req.Task, Prompt: req.Prompt, Model: model}
	if structured {
		creq.ResponseSchema = req.OutputSchema
	} else if req.OutputSchema != nil {
		creq.Prompt = req.Prompt + shapeHint(req.OutputSchema)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	completion, err := g.backend.Complete(callCtx, creq)
	latency := time.Since(start)
	metrics.BackendLatencySeconds.WithLabelValues(provider).Observe(latency.Seconds())

	if err != nil {
		return nil, g.finish(span, req.Task, provider, latency, g.classifyContext(ctx, callCtx, provider, err))
	}

	payload, err := Decode(completion.Text)
	if err != nil {
		return nil, g.finish(span, req.Task, provider, latency, &MalformedResponseError{Provider: provider, Text: completion.Text, Err: err})
	}

	if completion.Model == "" {
		completion.Model = model.Model
	}
	metrics.BackendTokensTotal.WithLabelValues(provider, "prompt").Add(float64(completion.Usage.PromptTokens))
	metrics.BackendTokensTotal.WithLabelValues(provider, "completion").Add(float64(completion.Usage.CompletionTokens))
	span.SetAttributes(
		attribute.Int("fpilot.tokens.prompt", completion.Usage.PromptTokens),
		attribute.Int("fpilot.tokens.completion", completion.Usage.CompletionTokens),
	)
	_ = g.finish(span, req.Task, provider, latency, nil)

	return &Result{
		Text:       completion.Text,
		Payload:    payload,
		Structured: structured,
		Latency:    latency,
		Usage:      completion.Usage,
		Provider:   provider,
		Model:      completion.Model,
	}, nil
}

// classifyContext separates caller cancellation from the gateway deadline.
// Backends may surface either as a transport error of their own.
func (g *Gateway) classifyContext(parent, call context.Context, provider string, err error) error {
	if parent.Err() != nil {
		return ErrCancelled
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		return &BackendUnavailableError{Provider: provider, Timeout: true, Err: context.DeadlineExceeded}
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendUnavailableError{Provider: provider, Timeout: true, Err: err}
	}
	return err
}

func (g *Gateway) finish(span trace.Span, task, provider string, latency time.Duration, err error) error {
	outcome := Outcome(err)
	metrics.BackendRequestsTotal.WithLabelValues(provider, outcome).Inc()
	if err == nil {
		g.logger.Debug("backend call completed", "task", task, "provider", provider, "latency_ms", latency.Milliseconds())
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	g.logger.Warn("backend call failed", "task", task, "provider", provider, "outcome", outcome, "latency_ms", latency.Milliseconds(), "err", err)
	return err
}

func (g *Gateway) mergeModel(m ModelConfig) ModelConfig {
	out := g.model
	if strings.TrimSpace(m.Model) != "" {
		out.Model = m.Model
	}
	if m.Temperature != nil {
		out.Temperature = m.Temperature
	}
	if m.MaxOutputTokens > 0 {
		out.MaxOutputTokens = m.MaxOutputTokens
	}
	return out
}

func shapeHint(f *schema.Field) string {
	raw, err := json.Marshal(schema.JSONSchema(f))
	if err != nil {
		return ""
	}
	return fmt.Sprintf("\n\nRespond with a single JSON object and nothing else. It must conform to this JSON Schema:\n%s\n", raw)
}

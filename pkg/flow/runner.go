// Package flow runs named generative tasks: it validates the input, renders
// the prompt, invokes the model gateway once and validates the output.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/fpilot/internal/metrics"
	"github.com/osvaldoandrade/fpilot/pkg/gateway"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

// Output is a validated result: only declared members, numbers as float64.
type Output = map[string]any

// Result is a validated output together with the invocation metadata.
type Result struct {
	Task     string
	Output   Output
	Provider string
	Model    string
	Usage    gateway.Usage
	// Latency is the backend round trip; Elapsed covers the whole run.
	Latency  time.Duration
	Elapsed  time.Duration
	Attempts int
	Cached   bool
}

// Executor runs a task by name. Runner and its decorators implement it.
type Executor interface {
	Execute(ctx context.Context, task string, input any) (*Result, error)
}

// Invoker is the single network call of a run. *gateway.Gateway implements it.
type Invoker interface {
	Invoke(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

type Runner struct {
	registry *Registry
	invoker  Invoker
	observer Observer
}

type RunnerOption func(*Runner)

func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

func NewRunner(registry *Registry, invoker Invoker, opts ...RunnerOption) *Runner {
	r := &Runner{registry: registry, invoker: invoker, observer: Observers(nil)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Registry() *Registry { return r.registry }

// Run executes task and returns only the validated output.
func (r *Runner) Run(ctx context.Context, task string, input any) (Output, error) {
	res, err := r.Execute(ctx, task, input)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

func (r *Runner) Execute(ctx context.Context, task string, input any) (*Result, error) {
	start := time.Now()
	ctx, span := otel.Tracer("fpilot/flow").Start(ctx, "flow.run")
	defer span.End()
	span.SetAttributes(attribute.String("fpilot.task", task))

	c, err := r.registry.Get(task)
	if err != nil {
		return nil, r.fail(ctx, span, task, StageLookup, err, start)
	}

	r.emit(ctx, Event{Task: task, State: StateInputValidating, Elapsed: time.Since(start)})
	in, err := normalizeInput(input, c.Input)
	if err != nil {
		return nil, r.fail(ctx, span, task, StageInputValidation, err, start)
	}

	r.emit(ctx, Event{Task: task, State: StateRendering, Elapsed: time.Since(start)})
	text, err := c.Template.Render(in)
	if err != nil {
		return nil, r.fail(ctx, span, task, StageRendering, err, start)
	}

	r.emit(ctx, Event{Task: task, State: StateInvoking, Elapsed: time.Since(start)})
	inv, err := r.invoker.Invoke(ctx, gateway.Request{
		Task:         task,
		Prompt:       text,
		OutputSchema: c.Output,
		Model:        c.Model,
	})
	if err != nil {
		return nil, r.fail(ctx, span, task, StageInvoking, err, start)
	}

	r.emit(ctx, Event{Task: task, State: StateOutputValidating, Elapsed: time.Since(start)})
	validated, err := schema.Validate(inv.Payload, c.Output)
	if err != nil {
		return nil, r.fail(ctx, span, task, StageOutputValidation, err, start)
	}

	res := &Result{
		Task:     task,
		Output:   validated.(map[string]any),
		Provider: inv.Provider,
		Model:    inv.Model,
		Usage:    inv.Usage,
		Latency:  inv.Latency,
		Elapsed:  time.Since(start),
		Attempts: 1,
	}
	metrics.FlowRunsTotal.WithLabelValues(task, "succeeded").Inc()
	metrics.FlowRunLatencySeconds.WithLabelValues(task, "succeeded").Observe(res.Elapsed.Seconds())
	r.emit(ctx, Event{Task: task, State: StateSucceeded, Result: res, Elapsed: res.Elapsed})
	return res, nil
}

// normalizeInput accepts typed structs, maps or raw JSON and returns the
// validated generic form the template renders from.
func normalizeInput(input any, f *schema.Field) (map[string]any, error) {
	raw, err := schema.Normalize(input)
	if err != nil {
		return nil, &schema.ValidationError{Violations: []schema.Violation{{
			Path:   "$",
			Reason: fmt.Sprintf("input is not a JSON document: %v", err),
		}}}
	}
	validated, err := schema.Validate(raw, f)
	if err != nil {
		return nil, err
	}
	return validated.(map[string]any), nil
}

func (r *Runner) fail(ctx context.Context, span trace.Span, task string, stage Stage, err error, start time.Time) error {
	runErr := &RunError{Task: task, Stage: stage, Err: err}
	elapsed := time.Since(start)

	span.RecordError(err)
	span.SetStatus(codes.Error, string(stage))
	span.SetAttributes(attribute.String("fpilot.stage", string(stage)))

	label := task
	var unknown *UnknownTaskError
	if errors.As(err, &unknown) {
		// Keep arbitrary client-supplied names out of metric labels.
		label = "unknown"
	}
	metrics.FlowRunsTotal.WithLabelValues(label, "failed").Inc()
	metrics.FlowStageFailuresTotal.WithLabelValues(label, string(stage)).Inc()
	metrics.FlowRunLatencySeconds.WithLabelValues(label, "failed").Observe(elapsed.Seconds())

	r.emit(ctx, Event{Task: task, State: StateFailed, Stage: stage, Err: runErr, Elapsed: elapsed})
	return runErr
}

func (r *Runner) emit(ctx context.Context, ev Event) {
	if r.observer != nil {
		r.observer.OnEvent(ctx, ev)
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/fpilot/internal/tracing"
	"github.com/osvaldoandrade/fpilot/pkg/domain"
	"github.com/osvaldoandrade/fpilot/pkg/flow"
	"github.com/osvaldoandrade/fpilot/pkg/gateway"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("run service is shutting down")

// RunService executes catalogue tasks on behalf of an owner and keeps the
// run history.
type RunService interface {
	// Run executes synchronously. The record is returned even when the run
	// fails, together with the run error.
	Run(ctx context.Context, owner, task string, input any) (*domain.RunRecord, error)
	// Submit records a PENDING run and executes it in the background.
	Submit(ctx context.Context, owner, task string, input any, webhook string) (*domain.RunRecord, error)
	Get(ctx context.Context, owner, id string) (*domain.RunRecord, error)
	List(ctx context.Context, owner string, limit int) ([]*domain.RunRecord, error)
	// Shutdown stops accepting submissions and waits for background runs.
	Shutdown(ctx context.Context) error
}

type RunServiceOptions struct {
	// MaxBackground bounds concurrently executing asynchronous runs.
	MaxBackground int
	// BackgroundTimeout bounds one asynchronous run, retries included.
	BackgroundTimeout time.Duration
}

type runService struct {
	exec     flow.Executor
	registry *flow.Registry
	runs     persistence.RunStorage
	callback ResultCallbackService
	logger   *slog.Logger
	now      func() time.Time
	opts     RunServiceOptions

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	base   context.Context
	cancel context.CancelFunc
}

func NewRunService(exec flow.Executor, registry *flow.Registry, runs persistence.RunStorage, callback ResultCallbackService, logger *slog.Logger, now func() time.Time, opts RunServiceOptions) RunService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if opts.MaxBackground <= 0 {
		opts.MaxBackground = 16
	}
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = 5 * time.Minute
	}
	base, cancel := context.WithCancel(context.Background())
	return &runService{
		exec:     exec,
		registry: registry,
		runs:     runs,
		callback: callback,
		logger:   logger,
		now:      now,
		opts:     opts,
		sem:      make(chan struct{}, opts.MaxBackground),
		base:     base,
		cancel:   cancel,
	}
}

func (s *runService) Run(ctx context.Context, owner, task string, input any) (*domain.RunRecord, error) {
	if _, err := s.registry.Get(task); err != nil {
		return nil, &flow.RunError{Task: task, Stage: flow.StageLookup, Err: err}
	}
	rec := s.newRecord(owner, task, input, false, "")
	rec.Status = domain.RunRunning
	res, runErr := s.exec.Execute(ctx, task, input)
	s.complete(rec, res, runErr)
	// History is best effort for synchronous runs; the caller already has the answer.
	if err := s.runs.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.WarnContext(ctx, "run history save failed", "run_id", rec.ID, "err", err)
	}
	return rec, runErr
}

func (s *runService) Submit(ctx context.Context, owner, task string, input any, webhook string) (*domain.RunRecord, error) {
	if _, err := s.registry.Get(task); err != nil {
		return nil, &flow.RunError{Task: task, Stage: flow.StageLookup, Err: err}
	}
	if err := validateWebhook(webhook); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	ctx, span := tracing.Tracer("runs").Start(ctx, "fpilot.run.submit",
		trace.WithAttributes(attribute.String("fpilot.task", task)))
	defer span.End()

	rec := s.newRecord(owner, task, input, true, webhook)
	rec.TraceParent, rec.TraceState = tracing.Parent(ctx)
	if err := s.runs.SaveRun(ctx, rec); err != nil {
		s.wg.Done()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("save run: %w", err)
	}
	span.SetAttributes(attribute.String("fpilot.run_id", rec.ID))

	snapshot := *rec
	go func() {
		defer s.wg.Done()
		s.background(&snapshot, input)
	}()
	return rec, nil
}

func (s *runService) background(rec *domain.RunRecord, input any) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-s.base.Done():
		s.complete(rec, nil, &flow.RunError{Task: rec.Task, Stage: flow.StageInvoking, Err: gateway.ErrCancelled})
		s.finish(s.base, rec)
		return
	}

	ctx := tracing.Resume(s.base, rec.TraceParent, rec.TraceState)
	ctx, cancel := context.WithTimeout(ctx, s.opts.BackgroundTimeout)
	defer cancel()
	ctx, span := tracing.Tracer("runs").Start(ctx, "fpilot.run.execute",
		trace.WithAttributes(
			attribute.String("fpilot.task", rec.Task),
			attribute.String("fpilot.run_id", rec.ID),
		))
	defer span.End()

	rec.Status = domain.RunRunning
	rec.UpdatedAt = s.now()
	if err := s.runs.SaveRun(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "run status save failed", "run_id", rec.ID, "err", err)
	}

	res, runErr := s.exec.Execute(ctx, rec.Task, input)
	s.complete(rec, res, runErr)
	if runErr != nil {
		span.SetStatus(codes.Error, rec.ErrorCode)
	}
	s.finish(ctx, rec)
}

// finish persists the terminal record and hands it to the webhook. Delivery
// outlives the run's own deadline but stops when the service is cancelled.
func (s *runService) finish(ctx context.Context, rec *domain.RunRecord) {
	if err := s.runs.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.ErrorContext(ctx, "run result save failed", "run_id", rec.ID, "err", err)
	}
	if s.callback != nil {
		s.callback.Send(trace.ContextWithSpanContext(s.base, trace.SpanContextFromContext(ctx)), *rec)
	}
}

func (s *runService) Get(ctx context.Context, owner, id string) (*domain.RunRecord, error) {
	return s.runs.GetRun(ctx, owner, id)
}

func (s *runService) List(ctx context.Context, owner string, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.runs.ListRuns(ctx, owner, limit)
}

func (s *runService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		if s.callback != nil {
			s.callback.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		// Cancel in-flight runs; their records end as FAILED/cancelled.
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *runService) newRecord(owner, task string, input any, async bool, webhook string) *domain.RunRecord {
	now := s.now()
	rec := &domain.RunRecord{
		ID:        uuid.NewString(),
		Owner:     owner,
		Task:      task,
		Async:     async,
		Status:    domain.RunPending,
		Webhook:   webhook,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if norm, err := schema.Normalize(input); err == nil {
		if m, ok := norm.(map[string]any); ok {
			rec.Input = m
		}
	}
	return rec
}

func (s *runService) complete(rec *domain.RunRecord, res *flow.Result, runErr error) {
	now := s.now()
	rec.UpdatedAt = now
	rec.CompletedAt = &now
	if runErr != nil {
		rec.Status = domain.RunFailed
		rec.FailedStage = string(flow.StageOf(runErr))
		rec.ErrorCode = flow.Code(runErr)
		rec.Error = runErr.Error()
		return
	}
	rec.Status = domain.RunSucceeded
	rec.Output = res.Output
	rec.Provider = res.Provider
	rec.Model = res.Model
	rec.LatencyMs = res.Latency.Milliseconds()
	rec.Usage = &domain.TokenUsage{
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
	}
}

func validateWebhook(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &schema.ValidationError{Violations: []schema.Violation{{Path: "webhook", Reason: "must be an absolute http(s) URL", Value: raw}}}
	}
	return nil
}

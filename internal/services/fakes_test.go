package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/osvaldoandrade/fpilot/pkg/flow"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
	"github.com/osvaldoandrade/fpilot/pkg/persistence/memory"
)

type handlerFunc func(ctx context.Context, input any) (flow.Output, error)

type executedCall struct {
	task  string
	input any
}

// fakeExecutor answers tasks from per-task handlers; unknown tasks fail the
// way the registry does.
type fakeExecutor struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	calls    []executedCall
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{handlers: map[string]handlerFunc{}}
}

func (f *fakeExecutor) on(task string, h handlerFunc) *fakeExecutor {
	f.mu.Lock()
	f.handlers[task] = h
	f.mu.Unlock()
	return f
}

func (f *fakeExecutor) reply(task string, out flow.Output) *fakeExecutor {
	return f.on(task, func(context.Context, any) (flow.Output, error) { return out, nil })
}

func (f *fakeExecutor) Execute(ctx context.Context, task string, input any) (*flow.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, executedCall{task: task, input: input})
	h := f.handlers[task]
	f.mu.Unlock()
	if h == nil {
		return nil, &flow.RunError{Task: task, Stage: flow.StageLookup, Err: &flow.UnknownTaskError{Task: task}}
	}
	out, err := h(ctx, input)
	if err != nil {
		return nil, err
	}
	return &flow.Result{Task: task, Output: out, Provider: "fake", Model: "fake-1", Latency: 12 * time.Millisecond, Attempts: 1}, nil
}

func (f *fakeExecutor) callsFor(task string) []executedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []executedCall
	for _, c := range f.calls {
		if c.task == task {
			out = append(out, c)
		}
	}
	return out
}

func newMemoryStore(t *testing.T) persistence.PluginPersistence {
	t.Helper()
	store, err := memory.NewPlugin(persistence.PluginConfig{})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

package flow

import (
	"context"
	"log/slog"
	"time"
)

// State is a node of the per-run state machine:
// Idle → InputValidating → Rendering → Invoking → OutputValidating → Succeeded | Failed.
type State string

const (
	StateIdle             State = "Idle"
	StateInputValidating  State = "InputValidating"
	StateRendering        State = "Rendering"
	StateInvoking         State = "Invoking"
	StateOutputValidating State = "OutputValidating"
	StateSucceeded        State = "Succeeded"
	StateFailed           State = "Failed"
)

// Event is emitted on every state transition. Stage and Err are set only
// when State is Failed; Result only when State is Succeeded.
type Event struct {
	Task    string
	State   State
	Stage   Stage
	Err     error
	Result  *Result
	Elapsed time.Duration
}

// Observer watches runs. It cannot change their outcome.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Observers fans one event out to several observers in order.
type Observers []Observer

func (o Observers) OnEvent(ctx context.Context, ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(ctx, ev)
		}
	}
}

// LogObserver logs transitions at debug level and failures at warn.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(ctx context.Context, ev Event) {
		switch ev.State {
		case StateFailed:
			logger.WarnContext(ctx, "task run failed", "task", ev.Task, "stage", ev.Stage, "code", Code(ev.Err), "elapsed_ms", ev.Elapsed.Milliseconds(), "err", ev.Err)
		case StateSucceeded:
			logger.InfoContext(ctx, "task run succeeded", "task", ev.Task, "elapsed_ms", ev.Elapsed.Milliseconds(), "provider", ev.Result.Provider, "tokens", ev.Result.Usage.TotalTokens)
		default:
			logger.DebugContext(ctx, "task run transition", "task", ev.Task, "state", ev.State)
		}
	})
}

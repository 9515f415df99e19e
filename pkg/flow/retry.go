package flow

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/osvaldoandrade/fpilot/internal/backoff"
	"github.com/osvaldoandrade/fpilot/pkg/gateway"
)

type RetryPolicy struct {
	// MaxAttempts counts the first try; values below 2 disable retries.
	MaxAttempts int
	Policy      backoff.Policy
	Base        time.Duration
	Max         time.Duration
}

// Retrying re-executes runs that failed at the Invoking stage with a rate
// limit or an unavailable backend. Every other failure is returned at once.
type Retrying struct {
	next   Executor
	policy RetryPolicy

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrying(next Executor, policy RetryPolicy) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Base <= 0 {
		policy.Base = time.Second
	}
	if policy.Max <= 0 {
		policy.Max = 30 * time.Second
	}
	return &Retrying{
		next:   next,
		policy: policy,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepOrDone,
	}
}

func (r *Retrying) Run(ctx context.Context, task string, input any) (Output, error) {
	res, err := r.Execute(ctx, task, input)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

func (r *Retrying) Execute(ctx context.Context, task string, input any) (*Result, error) {
	for attempt := 0; ; attempt++ {
		res, err := r.next.Execute(ctx, task, input)
		if err == nil {
			res.Attempts = attempt + 1
			return res, nil
		}
		if attempt+1 >= r.policy.MaxAttempts || !retryable(err) {
			return nil, err
		}
		if r.sleep(ctx, r.delay(attempt, err)) != nil {
			return nil, &RunError{Task: task, Stage: StageInvoking, Err: gateway.ErrCancelled}
		}
	}
}

func retryable(err error) bool {
	return StageOf(err) == StageInvoking && gateway.Retryable(err)
}

// delay honours a backend Retry-After hint when it is longer than the policy
// delay, capped at the policy maximum.
func (r *Retrying) delay(attempt int, err error) time.Duration {
	r.mu.Lock()
	d := backoff.Delay(r.policy.Policy, r.policy.Base, r.policy.Max, attempt, r.rng)
	r.mu.Unlock()

	var rl *gateway.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > d {
		d = rl.RetryAfter
		if d > r.policy.Max {
			d = r.policy.Max
		}
	}
	return d
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

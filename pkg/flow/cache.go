package flow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/osvaldoandrade/fpilot/internal/metrics"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

type CacheOptions struct {
	Size int
	TTL  time.Duration
	// Tasks lists the cacheable task names. Nothing is cached when empty.
	Tasks []string
}

// Caching memoises successful results per task and canonical input. Only
// tasks whose answers may be reused for a while (sentiment, regime) should
// be listed; failures are never cached.
type Caching struct {
	next  Executor
	tasks map[string]bool
	lru   *expirable.LRU[string, Result]
}

func NewCaching(next Executor, opts CacheOptions) *Caching {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	tasks := make(map[string]bool, len(opts.Tasks))
	for _, t := range opts.Tasks {
		tasks[t] = true
	}
	return &Caching{
		next:  next,
		tasks: tasks,
		lru:   expirable.NewLRU[string, Result](opts.Size, nil, opts.TTL),
	}
}

func (c *Caching) Run(ctx context.Context, task string, input any) (Output, error) {
	res, err := c.Execute(ctx, task, input)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

func (c *Caching) Execute(ctx context.Context, task string, input any) (*Result, error) {
	if !c.tasks[task] {
		return c.next.Execute(ctx, task, input)
	}
	key, ok := cacheKey(task, input)
	if !ok {
		return c.next.Execute(ctx, task, input)
	}
	if hit, found := c.lru.Get(key); found {
		metrics.FlowCacheTotal.WithLabelValues(task, "hit").Inc()
		hit.Cached = true
		hit.Output = copyOutput(hit.Output)
		return &hit, nil
	}
	metrics.FlowCacheTotal.WithLabelValues(task, "miss").Inc()

	res, err := c.next.Execute(ctx, task, input)
	if err != nil {
		return nil, err
	}
	stored := *res
	stored.Output = copyOutput(res.Output)
	c.lru.Add(key, stored)
	return res, nil
}

// Len reports the number of live entries.
func (c *Caching) Len() int { return c.lru.Len() }

func cacheKey(task string, input any) (string, bool) {
	norm, err := schema.Normalize(input)
	if err != nil {
		return "", false
	}
	raw, err := schema.Canonical(norm)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(raw)
	return task + ":" + hex.EncodeToString(sum[:]), true
}

// copyOutput keeps callers from mutating cached maps. Nested values are
// shared; outputs are treated as read-only below the top level.
func copyOutput(o Output) Output {
	out := make(Output, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

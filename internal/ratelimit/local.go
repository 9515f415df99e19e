package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LocalLimiter applies the same token bucket as RedisLimiter inside the
// process. It serves single-replica deployments that run without Redis.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *bucketState]
	now     func() time.Time
}

type bucketState struct {
	tokens float64
	ts     time.Time
}

// NewLocalLimiter keeps at most size subjects; idle buckets are forgotten
// after ttl, which is when they would have refilled anyway.
func NewLocalLimiter(size int, ttl time.Duration) *LocalLimiter {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LocalLimiter{
		buckets: expirable.NewLRU[string, *bucketState](size, nil, ttl),
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := bucketKey(scope, subject)
	capacity := float64(bucket.BurstSize)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.buckets.Get(key)
	if !ok {
		st = &bucketState{tokens: capacity, ts: now}
	}
	if now.Before(st.ts) {
		st.ts = now
	}
	st.tokens = math.Min(capacity, st.tokens+now.Sub(st.ts).Seconds()*bucket.perSecond())
	st.ts = now

	allowed := st.tokens >= 1
	if allowed {
		st.tokens--
	}
	l.buckets.Add(key, st)
	return decide(allowed, st.tokens, bucket), nil
}

package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket refills RequestsPerMinute tokens per minute and holds at most
// BurstSize of them. A zero bucket disables limiting.
type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

func (b Bucket) perSecond() float64 {
	return float64(b.RequestsPerMinute) / 60.0
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter takes one token from the bucket of subject within scope.
type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

// NewLimiter shares buckets across replicas through Redis when a client is
// configured and keeps them in process otherwise.
func NewLimiter(rdb *redis.Client) Limiter {
	if rdb != nil {
		return NewRedisLimiter(rdb)
	}
	return NewLocalLimiter(0, 0)
}

// bucketKey hashes the subject; it may be a bearer token.
func bucketKey(scope, subject string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	sum := sha256.Sum256([]byte(subject))
	return scope + ":" + hex.EncodeToString(sum[:])
}

// decide turns the tokens left after a refill into a decision.
func decide(allowed bool, tokens float64, b Bucket) Decision {
	if allowed {
		return Decision{Allowed: true}
	}
	rate := b.perSecond()
	if rate <= 0 {
		return Decision{RetryAfter: time.Minute}
	}
	wait := time.Duration(math.Ceil((1-tokens)/rate*1000)) * time.Millisecond
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return Decision{RetryAfter: wait}
}

// idleTTL keeps bucket state for two full refills, bounded to [30s, 1h].
func idleTTL(b Bucket) time.Duration {
	const (
		minTTL = 30 * time.Second
		maxTTL = time.Hour
	)
	rate := b.perSecond()
	if rate <= 0 {
		return 2 * time.Minute
	}
	ttl := time.Duration(math.Ceil(float64(b.BurstSize)/rate*2))*time.Second + 5*time.Second
	return min(max(ttl, minTTL), maxTTL)
}

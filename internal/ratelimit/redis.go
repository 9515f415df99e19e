package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "fpilot:rl:"

// RedisLimiter keeps one hash per bucket and refills it atomically in Lua,
// so every replica sees the same token count.
type RedisLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, now: time.Now}
}

// takeToken returns {allowed, tokens}; tokens is a string because Redis
// truncates Lua numbers to integers.
var takeToken = redis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(redis.call("HGET", KEYS[1], "tokens")) or capacity
local ts = tonumber(redis.call("HGET", KEYS[1], "ts")) or now
if now < ts then ts = now end

tokens = math.min(capacity, tokens + (now - ts) * rate / 1000.0)
local allowed = 0
if tokens >= 1.0 then
  allowed = 1
  tokens = tokens - 1.0
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {allowed, tostring(tokens)}
`)

func (l *RedisLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	res, err := takeToken.Run(ctx, l.rdb, []string{keyPrefix + bucketKey(scope, subject)},
		bucket.perSecond(), bucket.BurstSize, l.now().UnixMilli(), idleTTL(bucket).Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %T", res)
	}
	allowed, _ := vals[0].(int64)
	raw, _ := vals[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: bad token count %q", raw)
	}
	return decide(allowed == 1, tokens, bucket), nil
}

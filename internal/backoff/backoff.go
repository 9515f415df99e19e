package backoff

import (
	"math"
	"math/rand"
	"time"
)

type Policy string

const (
	Fixed          Policy = "fixed"
	Linear         Policy = "linear"
	Exponential    Policy = "exponential"
	ExpEqualJitter Policy = "exp_equal_jitter"
	ExpFullJitter  Policy = "exp_full_jitter"
)

// Valid reports whether p names a known policy. The empty policy is valid and
// behaves as ExpFullJitter.
func (p Policy) Valid() bool {
	switch p {
	case "", Fixed, Linear, Exponential, ExpEqualJitter, ExpFullJitter:
		return true
	}
	return false
}

// Delay returns the wait before retry number attempt (0-based) under policy.
// base defaults to one second and max defaults to base.
func Delay(policy Policy, base, max time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case Fixed:
		return minDuration(base, max)
	case Linear:
		return minDuration(base*time.Duration(maxInt(1, attempt)), max)
	case Exponential:
		return exponential(base, max, attempt)
	case ExpEqualJitter:
		ceiling := exponential(base, max, attempt)
		half := ceiling / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default: // exp_full_jitter
		ceiling := exponential(base, max, attempt)
		if ceiling <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(ceiling) + 1))
	}
}

func exponential(base, max time.Duration, attempt int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if d >= float64(max) {
		return max
	}
	return time.Duration(d)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

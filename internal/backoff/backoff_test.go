package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestDelayFixed(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		attempts int
		want     time.Duration
	}{
		{"base 5 max 10", 5 * time.Second, 10 * time.Second, 0, 5 * time.Second},
		{"base 5 max 10 many attempts", 5 * time.Second, 10 * time.Second, 100, 5 * time.Second},
		{"base exceeds max", 20 * time.Second, 10 * time.Second, 0, 10 * time.Second},
		{"zero base defaults to 1s", 0, 10 * time.Second, 0, time.Second},
		{"negative base defaults to 1s", -5, 10 * time.Second, 0, time.Second},
		{"zero max equals base", 5 * time.Second, 0, 0, 5 * time.Second},
		{"sub-second base", 250 * time.Millisecond, time.Second, 3, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			got := Delay(Fixed, tt.base, tt.max, tt.attempts, rng)
			if got != tt.want {
				t.Errorf("Delay(fixed) = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDelayLinear(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		attempts int
		want     time.Duration
	}{
		{"zero attempts", 5 * time.Second, 100 * time.Second, 0, 5 * time.Second},
		{"one attempt", 5 * time.Second, 100 * time.Second, 1, 5 * time.Second},
		{"two attempts", 5 * time.Second, 100 * time.Second, 2, 10 * time.Second},
		{"three attempts", 5 * time.Second, 100 * time.Second, 3, 15 * time.Second},
		{"capped at max", 5 * time.Second, 20 * time.Second, 10, 20 * time.Second},
		{"negative attempts treated as zero", 5 * time.Second, 100 * time.Second, -1, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(Linear, tt.base, tt.max, tt.attempts, nil)
			if got != tt.want {
				t.Errorf("Delay(linear) = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDelayExponential(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		attempts int
		want     time.Duration
	}{
		{"zero attempts", 5 * time.Second, 1000 * time.Second, 0, 5 * time.Second},
		{"one attempt", 5 * time.Second, 1000 * time.Second, 1, 10 * time.Second},
		{"two attempts", 5 * time.Second, 1000 * time.Second, 2, 20 * time.Second},
		{"three attempts", 5 * time.Second, 1000 * time.Second, 3, 40 * time.Second},
		{"capped at max", 5 * time.Second, 50 * time.Second, 10, 50 * time.Second},
		{"huge attempt count stays capped", time.Second, time.Minute, 500, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(Exponential, tt.base, tt.max, tt.attempts, nil)
			if got != tt.want {
				t.Errorf("Delay(exponential) = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDelayJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for attempt := 0; attempt < 8; attempt++ {
		ceiling := Delay(Exponential, time.Second, 30*time.Second, attempt, nil)

		full := Delay(ExpFullJitter, time.Second, 30*time.Second, attempt, rng)
		if full < 0 || full > ceiling {
			t.Errorf("full jitter attempt %d = %s, want within [0, %s]", attempt, full, ceiling)
		}

		equal := Delay(ExpEqualJitter, time.Second, 30*time.Second, attempt, rng)
		if equal < ceiling/2 || equal > ceiling {
			t.Errorf("equal jitter attempt %d = %s, want within [%s, %s]", attempt, equal, ceiling/2, ceiling)
		}
	}
}

func TestDelayUnknownPolicyUsesFullJitter(t *testing.T) {
	got := Delay("", time.Second, 4*time.Second, 2, rand.New(rand.NewSource(1)))
	if got < 0 || got > 4*time.Second {
		t.Errorf("Delay(default) = %s, want within [0, 4s]", got)
	}
}

func TestPolicyValid(t *testing.T) {
	for _, p := range []Policy{"", Fixed, Linear, Exponential, ExpEqualJitter, ExpFullJitter} {
		if !p.Valid() {
			t.Errorf("%q should be valid", p)
		}
	}
	if Policy("fibonacci").Valid() {
		t.Errorf("unknown policy reported valid")
	}
}

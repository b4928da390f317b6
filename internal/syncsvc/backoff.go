// Package syncsvc owns the sync lifecycle: the recovery state machine,
// retry scheduling with exponential backoff, and the persisted sync state
// snapshot exposed to the rest of the agent.
package syncsvc

import (
	"math"
	"math/rand"
	"time"
)

// Policy tunes retry behavior.
//
// Invariants:
//   - Delays never exceed MaxDelay and are never negative.
//   - Retries are never unbounded: once attempts reach MaxRetries, nothing
//     further is scheduled automatically.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	JitterFactor float64
	MaxRetries   int
}

func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 2 * time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
		JitterFactor: 0.2,
		MaxRetries:   5,
	}
}

// Delay computes the backoff delay for the given zero-based attempt.
//
// delay = clamp(InitialDelay * Multiplier^attempt, 0, MaxDelay), then
// jittered by ±JitterFactor·delay (uniform). Jitter avoids synchronized
// retry storms when many devices regain connectivity together.
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	if base < 0 {
		base = 0
	}

	if p.JitterFactor > 0 && rng != nil {
		// Uniform in [-jitter, +jitter].
		jitter := (rng.Float64()*2 - 1) * p.JitterFactor * base
		base += jitter
	}
	if base < 0 {
		base = 0
	}
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	return time.Duration(base)
}

// ShouldRetry reports whether another automatic attempt is allowed after
// `attempt` attempts have already failed.
func (p Policy) ShouldRetry(attempt int, retryable bool) bool {
	if !retryable {
		return false
	}
	return attempt < p.MaxRetries
}

package delivery

import (
	"time"

	"go.uber.org/atomic"
)

// Breaker is a per-provider circuit breaker. It opens after a run of
// consecutive failures inside the window and allows a single probe once
// the cooldown passes.
type Breaker struct {
	threshold int32
	cooldown  time.Duration
	window    time.Duration

	failures    atomic.Int32
	lastFailure atomic.Int64
	openUntil   atomic.Int64
}

// NewBreaker builds a breaker that opens after threshold consecutive
// failures within window and stays open for cooldown. A threshold below
// one disables opening; a window below or equal to zero keeps failure
// runs alive indefinitely.
func NewBreaker(threshold int, cooldown, window time.Duration) *Breaker {
	return &Breaker{threshold: int32(threshold), cooldown: cooldown, window: window}
}

// Allow reports whether a call may proceed at the given instant.
func (b *Breaker) Allow(now time.Time) bool {
	until := b.openUntil.Load()
	if until == 0 {
		return true
	}
	return now.UnixNano() >= until
}

// Success resets the failure run and closes the breaker.
func (b *Breaker) Success() {
	b.failures.Store(0)
	b.lastFailure.Store(0)
	b.openUntil.Store(0)
}

// Failure records a failed call, opening the breaker when the run reaches
// the threshold. A run whose previous failure is older than the window is
// stale and restarts at one. The returned bool reports whether this call
// opened it.
func (b *Breaker) Failure(now time.Time) bool {
	if b.threshold < 1 {
		return false
	}

	prev := b.lastFailure.Swap(now.UnixNano())
	var n int32
	if b.window > 0 && prev != 0 && now.UnixNano()-prev > int64(b.window) {
		b.failures.Store(1)
		n = 1
	} else {
		n = b.failures.Add(1)
	}
	if n < b.threshold {
		return false
	}

	b.failures.Store(0)
	b.openUntil.Store(now.Add(b.cooldown).UnixNano())
	return true
}

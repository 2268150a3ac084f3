package ratelimit

import "golang.org/x/time/rate"

// GlobalGuard is a process-wide token bucket protecting the system from
// aggregate issue floods, independent of per-identifier windows.
//
// It is intentionally in-process: the guard bounds what one instance will
// dispatch, not what the fleet admits.
type GlobalGuard struct {
	limiter *rate.Limiter
}

// NewGlobalGuard builds a guard allowing perMinute events with a burst of
// the same size. A non-positive perMinute disables the guard.
func NewGlobalGuard(perMinute int) *GlobalGuard {
	if perMinute <= 0 {
		return &GlobalGuard{}
	}

	return &GlobalGuard{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
}

// Allow reports whether one more event fits the global budget.
func (g *GlobalGuard) Allow() bool {
	if g.limiter == nil {
		return true
	}
	return g.limiter.Allow()
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport failures so callers can decide
// whether to fail open or closed.
var ErrRedisUnavailable = errors.New("ratelimit: redis unavailable")

// Action names the operation being limited. Limits are configured per action.
type Action string

const (
	// ActionIssue covers challenge issuance.
	ActionIssue Action = "issue"
	// ActionVerify covers code verification calls.
	ActionVerify Action = "verify"
	// ActionResend covers resend requests.
	ActionResend Action = "resend"
)

// Limit is one sliding-window budget.
type Limit struct {
	// Max is the number of events allowed inside Window. Zero disables
	// this limit.
	Max int
	// Window is the sliding window length.
	Window time.Duration
}

// Enabled reports whether this limit should be enforced.
func (l Limit) Enabled() bool {
	return l.Max > 0 && l.Window > 0
}

// Decision is the outcome of a limiter check.
type Decision struct {
	// Allowed reports whether the event was admitted and recorded.
	Allowed bool
	// Remaining is the budget left in the current window after this event.
	Remaining int
	// RetryAfter is how long until a slot frees up; zero when Allowed.
	RetryAfter time.Duration
}

type clocker interface {
	Now() time.Time
}

// SlidingWindow is a Redis-backed sliding-window limiter.
type SlidingWindow struct {
	redis  redis.UniversalClient
	clock  clocker
	prefix string
}

// NewSlidingWindow creates a limiter using the given Redis client.
func NewSlidingWindow(rdb redis.UniversalClient, clock clocker) *SlidingWindow {
	return &SlidingWindow{
		redis:  rdb,
		clock:  clock,
		prefix: "rl:",
	}
}

// Allow records an event for (key, action) and reports whether it fits the
// limit. The event is always recorded, so denied requests still consume
// budget; this penalizes flooding rather than rewarding it.
func (s *SlidingWindow) Allow(ctx context.Context, key string, action Action, limit Limit) (Decision, error) {
	if !limit.Enabled() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	now := s.clock.Now()
	windowStart := now.Add(-limit.Window)
	rkey := s.key(key, action)

	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := s.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, rkey)
	oldestCmd := pipe.ZRangeWithScores(ctx, rkey, 0, 0)
	pipe.Expire(ctx, rkey, limit.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	count := int(countCmd.Val())
	if count <= limit.Max {
		return Decision{Allowed: true, Remaining: limit.Max - count}, nil
	}

	retryAfter := limit.Window
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		oldestAt := time.Unix(0, int64(oldest[0].Score))
		if d := oldestAt.Add(limit.Window).Sub(now); d > 0 {
			retryAfter = d
		}
	}

	return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
}

// Peek returns the current count for (key, action) without recording an
// event. Used by the risk engine as a velocity signal.
func (s *SlidingWindow) Peek(ctx context.Context, key string, action Action, window time.Duration) (int, error) {
	now := s.clock.Now()
	rkey := s.key(key, action)

	count, err := s.redis.ZCount(ctx, rkey,
		strconv.FormatInt(now.Add(-window).UnixNano(), 10),
		strconv.FormatInt(now.UnixNano(), 10),
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(count), nil
}

// Reset clears the window for (key, action). Called after a successful
// verification so a legitimate user is not penalized by their own retries.
func (s *SlidingWindow) Reset(ctx context.Context, key string, action Action) error {
	if err := s.redis.Del(ctx, s.key(key, action)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *SlidingWindow) key(key string, action Action) string {
	return s.prefix + string(action) + ":" + key
}

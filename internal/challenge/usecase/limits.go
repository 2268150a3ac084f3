package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/ratelimit"
)

func (s *Usecase) limitFromConfig(prefix string) ratelimit.Limit {
	return ratelimit.Limit{
		Max:    s.cfg.GetInt(prefix + "_max"),
		Window: s.cfg.GetSecond(prefix + "_window_seconds"),
	}
}

// enforceLimit applies one sliding-window budget. Redis outages follow the
// rate_limits.fail_open setting.
func (s *Usecase) enforceLimit(ctx context.Context, key string, action ratelimit.Action, prefix string) error {
	dec, err := s.limiter.Allow(ctx, key, action, s.limitFromConfig(prefix))
	if err != nil {
		if errors.Is(err, ratelimit.ErrRedisUnavailable) && s.cfg.GetBool("rate_limits.fail_open") {
			slog.WarnContext(ctx, "rate limiter unavailable, failing open",
				"action", string(action), "error", err)
			return nil
		}
		slog.ErrorContext(ctx, "rate limiter unavailable", "action", string(action), "error", err)
		return goerror.NewServer(err)
	}

	if !dec.Allowed {
		return goerror.NewRetryable("too many requests", goerror.CodeTooManyRequest, dec.RetryAfter)
	}

	return nil
}

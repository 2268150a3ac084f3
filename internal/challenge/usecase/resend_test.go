package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/ratelimit"
	"github.com/arvikon/otpgate/internal/pkg/valueobject"
)

// seedPending stores a resendable pending challenge for the default slot.
func seedPending(e *env, mutate func(*entity.Challenge)) entity.Challenge {
	now := e.clock.Now()
	ch := entity.Challenge{
		RowID:       55,
		ID:          "ch-old",
		Identifier:  "user@example.com",
		Purpose:     entity.Purpose("login"),
		Channel:     entity.ChannelEmail,
		State:       entity.StatePending,
		MaxAttempts: 3,
		ResendCount: 0,
		CooldownAt:  now.Add(-time.Second),
		CreatedAt:   now.Add(-time.Minute),
		ExpiresAt:   now.Add(4 * time.Minute),
		Metadata:    valueobject.JSONMap{},
	}
	if mutate != nil {
		mutate(&ch)
	}
	e.repo.pending[pendingKey(ch.Identifier, ch.Purpose)] = ch
	return ch
}

func resendInput() ResendInput {
	return ResendInput{Identifier: "user@example.com", Purpose: "login"}
}

func TestResend(t *testing.T) {
	t.Run("ReissuesWithFreshCode", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedPending(e, nil)

		// Act
		out, err := e.uc.Resend(context.Background(), resendInput())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.ChallengeID == "ch-old" || out.ChallengeID == "" {
			t.Errorf("expected a fresh handle, got %q", out.ChallengeID)
		}
		if out.ResendCount != 1 {
			t.Errorf("expected resend count 1, got %d", out.ResendCount)
		}

		if len(e.repo.issued) != 1 {
			t.Fatalf("expected 1 reissued challenge, got %d", len(e.repo.issued))
		}
		reissued := e.repo.issued[0]
		if reissued.Channel != entity.ChannelEmail || reissued.ResendCount != 1 {
			t.Errorf("unexpected reissued row %+v", reissued)
		}
		if e.disp.calls != 1 {
			t.Errorf("expected 1 dispatch, got %d", e.disp.calls)
		}

		e.flush(t)
		if names := e.audit.eventNames(); len(names) != 1 || names[0] != "challenge_resent" {
			t.Errorf("expected challenge_resent audit, got %v", names)
		}
	})

	t.Run("CooldownActive", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedPending(e, func(ch *entity.Challenge) {
			ch.CooldownAt = e.clock.Now().Add(20 * time.Second)
		})

		// Act
		_, err := e.uc.Resend(context.Background(), resendInput())

		// Assert
		ge := assertCode(t, err, goerror.CodeCooldown)
		if ge.RetryAfter() != 20*time.Second {
			t.Errorf("expected 20s retry hint, got %v", ge.RetryAfter())
		}
		if len(e.repo.issued) != 0 {
			t.Error("expected no reissue during cooldown")
		}
	})

	t.Run("CeilingReached", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedPending(e, func(ch *entity.Challenge) {
			ch.ResendCount = 2
		})

		// Act
		_, err := e.uc.Resend(context.Background(), resendInput())

		// Assert
		assertCode(t, err, goerror.CodeTooManyRequest)
	})

	t.Run("NoPendingChallenge", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		// Act
		_, err := e.uc.Resend(context.Background(), resendInput())

		// Assert
		assertCode(t, err, goerror.CodeNotFound)
	})

	t.Run("ExpiredPrior", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedPending(e, func(ch *entity.Challenge) {
			ch.ExpiresAt = e.clock.Now().Add(-time.Second)
		})

		// Act
		_, err := e.uc.Resend(context.Background(), resendInput())

		// Assert
		assertCode(t, err, goerror.CodeExpired)
		if len(e.repo.expired) != 1 || e.repo.expired[0] != 55 {
			t.Errorf("expected row 55 marked expired, got %v", e.repo.expired)
		}
	})

	t.Run("RateLimited", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedPending(e, nil)
		e.limiter.decisions[ratelimit.ActionResend] = ratelimit.Decision{Allowed: false, RetryAfter: 15 * time.Second}

		// Act
		_, err := e.uc.Resend(context.Background(), resendInput())

		// Assert
		assertCode(t, err, goerror.CodeTooManyRequest)
	})

	t.Run("CarriesStepUpFlag", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedPending(e, func(ch *entity.Challenge) {
			ch.Metadata = valueobject.JSONMap{"step_up_required": true}
		})

		// Act
		_, err := e.uc.Resend(context.Background(), resendInput())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !e.repo.issued[0].Metadata.GetBool("step_up_required") {
			t.Error("expected step-up flag to carry over to the reissue")
		}
	})
}

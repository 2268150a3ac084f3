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

// seedChallenge stores a pending challenge whose code is 424242.
func seedChallenge(t *testing.T, e *env, mutate func(*entity.Challenge)) entity.Challenge {
	t.Helper()

	codeHash, err := e.hmac.Hash("salt-x:424242")
	if err != nil {
		t.Fatalf("failed to hash code: %v", err)
	}

	now := e.clock.Now()
	ch := entity.Challenge{
		RowID:       77,
		ID:          "ch-1",
		Identifier:  "user@example.com",
		Purpose:     entity.Purpose("login"),
		Channel:     entity.ChannelEmail,
		State:       entity.StatePending,
		CodeHash:    codeHash,
		CodeSalt:    []byte("salt-x"),
		MaxAttempts: 3,
		CooldownAt:  now.Add(30 * time.Second),
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
		LastSentAt:  now,
		Metadata:    valueobject.JSONMap{},
	}
	if mutate != nil {
		mutate(&ch)
	}
	e.repo.byID[ch.ID] = ch
	return ch
}

func verifyInput() VerifyChallengeInput {
	return VerifyChallengeInput{
		ChallengeID: "ch-1",
		Code:        "424242",
		IP:          "203.0.113.10",
	}
}

func TestVerifyChallenge(t *testing.T) {
	t.Run("CorrectCode", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedChallenge(t, e, nil)

		// Act
		out, err := e.uc.VerifyChallenge(context.Background(), verifyInput())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !out.Verified || out.SecondFactorRequired {
			t.Errorf("expected plain verification, got %+v", out)
		}
		if out.Identifier != "user@example.com" || out.Purpose != "login" {
			t.Errorf("unexpected subject fields %+v", out)
		}
		if len(e.repo.consumed) != 1 || e.repo.consumed[0] != 77 {
			t.Errorf("expected row 77 consumed, got %v", e.repo.consumed)
		}
		if len(e.limiter.resets) != 1 || e.limiter.resets[0] != "verify:ip:203.0.113.10" {
			t.Errorf("expected verify limiter reset, got %v", e.limiter.resets)
		}

		e.flush(t)
		if len(e.riskHist.recorded) != 1 {
			t.Errorf("expected verified signal recorded in history, got %d", len(e.riskHist.recorded))
		}
		if names := e.audit.eventNames(); len(names) != 1 || names[0] != "challenge_verified" {
			t.Errorf("expected challenge_verified audit, got %v", names)
		}
	})

	t.Run("WrongCodeDecrements", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedChallenge(t, e, nil)
		e.repo.failedAttempts = 1
		e.repo.failedState = entity.StatePending

		in := verifyInput()
		in.Code = "999999"

		// Act
		_, err := e.uc.VerifyChallenge(context.Background(), in)

		// Assert
		ge := assertCode(t, err, goerror.CodeUnauthorized)
		if ge.RemainingAttempts() != 2 {
			t.Errorf("expected 2 attempts left, got %d", ge.RemainingAttempts())
		}
		if len(e.repo.consumed) != 0 {
			t.Error("expected challenge not consumed")
		}
	})

	t.Run("LockoutAtBudget", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedChallenge(t, e, nil)
		e.repo.failedAttempts = 3
		e.repo.failedState = entity.StateLocked

		in := verifyInput()
		in.Code = "999999"

		// Act
		_, err := e.uc.VerifyChallenge(context.Background(), in)

		// Assert
		assertCode(t, err, goerror.CodeLocked)

		e.flush(t)
		if names := e.audit.eventNames(); len(names) != 1 || names[0] != "challenge_locked" {
			t.Errorf("expected challenge_locked audit, got %v", names)
		}
	})

	t.Run("LazyExpiry", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedChallenge(t, e, func(ch *entity.Challenge) {
			ch.ExpiresAt = e.clock.Now().Add(-time.Second)
		})

		// Act
		_, err := e.uc.VerifyChallenge(context.Background(), verifyInput())

		// Assert
		assertCode(t, err, goerror.CodeExpired)
		if len(e.repo.expired) != 1 || e.repo.expired[0] != 77 {
			t.Errorf("expected row 77 marked expired, got %v", e.repo.expired)
		}
	})

	t.Run("ConsumedBehavesAsMissing", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedChallenge(t, e, func(ch *entity.Challenge) {
			ch.State = entity.StateConsumed
		})

		// Act
		_, err := e.uc.VerifyChallenge(context.Background(), verifyInput())

		// Assert
		assertCode(t, err, goerror.CodeNotFound)
	})

	t.Run("LockedState", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedChallenge(t, e, func(ch *entity.Challenge) {
			ch.State = entity.StateLocked
		})

		// Act
		_, err := e.uc.VerifyChallenge(context.Background(), verifyInput())

		// Assert
		assertCode(t, err, goerror.CodeLocked)
	})

	t.Run("UnknownHandle", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		// Act
		_, err := e.uc.VerifyChallenge(context.Background(), verifyInput())

		// Assert
		assertCode(t, err, goerror.CodeNotFound)
	})

	t.Run("ConsumeRace", func(t *testing.T) {
		// Arrange: another writer consumed the row between read and update.
		e := newEnv(t)
		seedChallenge(t, e, nil)
		e.repo.consumeErr = goerror.ErrConflict

		// Act
		_, err := e.uc.VerifyChallenge(context.Background(), verifyInput())

		// Assert
		assertCode(t, err, goerror.CodeNotFound)
	})

	t.Run("IPRateLimited", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedChallenge(t, e, nil)
		e.limiter.decisions[ratelimit.ActionVerify] = ratelimit.Decision{Allowed: false, RetryAfter: 10 * time.Second}

		// Act
		_, err := e.uc.VerifyChallenge(context.Background(), verifyInput())

		// Assert
		assertCode(t, err, goerror.CodeTooManyRequest)
	})

	t.Run("StepUpTicketIssued", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedChallenge(t, e, func(ch *entity.Challenge) {
			ch.Metadata = valueobject.JSONMap{"step_up_required": true}
		})
		e.verifiers.verifiers["totp"] = &fakeVerifier{factor: "totp"}

		// Act
		out, err := e.uc.VerifyChallenge(context.Background(), verifyInput())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.Verified {
			t.Error("expected final verification to wait for the second factor")
		}
		if !out.SecondFactorRequired || out.StepUpTicket == "" {
			t.Fatalf("expected a step-up ticket, got %+v", out)
		}
		if len(out.Factors) != 1 || out.Factors[0] != "totp" {
			t.Errorf("expected factors [totp], got %v", out.Factors)
		}

		claims, err := e.jwt.Verify(out.StepUpTicket)
		if err != nil {
			t.Fatalf("expected ticket to verify, got %v", err)
		}
		if claims.Subject != "user@example.com" || claims.ChallengeID != "ch-1" {
			t.Errorf("unexpected ticket claims %+v", claims)
		}
		if !claims.AllowsFactor("totp") {
			t.Error("expected ticket to allow totp")
		}
	})
}

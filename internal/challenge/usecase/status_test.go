package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
)

func TestStatus(t *testing.T) {
	t.Run("Pending", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedChallenge(t, e, func(ch *entity.Challenge) {
			ch.Attempts = 1
			ch.ResendCount = 2
		})

		// Act
		out, err := e.uc.Status(context.Background(), StatusInput{ChallengeID: "ch-1"})

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.State != "pending" || out.Channel != "email" {
			t.Errorf("unexpected status %+v", out)
		}
		if out.RemainingAttempts != 2 {
			t.Errorf("expected 2 attempts remaining, got %d", out.RemainingAttempts)
		}
		if out.ResendCount != 2 {
			t.Errorf("expected resend count 2, got %d", out.ResendCount)
		}
	})

	t.Run("LazyExpiry", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		seedChallenge(t, e, func(ch *entity.Challenge) {
			ch.ExpiresAt = e.clock.Now().Add(-time.Minute)
		})

		// Act
		out, err := e.uc.Status(context.Background(), StatusInput{ChallengeID: "ch-1"})

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.State != "expired" {
			t.Errorf("expected expired state, got %q", out.State)
		}
		if len(e.repo.expired) != 1 || e.repo.expired[0] != 77 {
			t.Errorf("expected row 77 marked expired, got %v", e.repo.expired)
		}
	})

	t.Run("UnknownHandle", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		// Act
		_, err := e.uc.Status(context.Background(), StatusInput{ChallengeID: "missing"})

		// Assert
		assertCode(t, err, goerror.CodeNotFound)
	})
}

package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
)

type StatusInput struct {
	ChallengeID string `validate:"required,max=64"`
}

// StatusOutput exposes only fields safe to show a client. Code material
// never leaves the store.
type StatusOutput struct {
	ChallengeID       string
	State             string
	Channel           string
	ExpiresAt         time.Time
	RemainingAttempts int16
	ResendCooldownAt  time.Time
	ResendCount       int16
}

func (s *Usecase) Status(ctx context.Context, in StatusInput) (*StatusOutput, error) {
	ctx, span := s.startSpan(ctx, "Status")
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		return nil, goerror.NewInvalidInput(err)
	}

	ch, err := s.repoDB.GetByID(ctx, in.ChallengeID)
	if errors.Is(err, goerror.ErrNotFound) {
		return nil, goerror.NewBusiness("challenge not found", goerror.CodeNotFound)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to load challenge", "challenge_id", in.ChallengeID, "error", err)
		return nil, goerror.NewServer(err)
	}

	state := ch.State
	if state == entity.StatePending && ch.IsExpiredAt(s.clock.Now()) {
		if err := s.repoDB.MarkExpired(ctx, ch.RowID); err != nil {
			slog.ErrorContext(ctx, "failed to mark challenge expired", "challenge_id", ch.ID, "error", err)
		}
		state = entity.StateExpired
	}

	return &StatusOutput{
		ChallengeID:       ch.ID,
		State:             state.String(),
		Channel:           ch.Channel.String(),
		ExpiresAt:         ch.ExpiresAt,
		RemainingAttempts: ch.RemainingAttempts(),
		ResendCooldownAt:  ch.CooldownAt,
		ResendCount:       ch.ResendCount,
	}, nil
}

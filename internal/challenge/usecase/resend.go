package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/ratelimit"
)

type ResendInput struct {
	Identifier string `validate:"required,identifier"`
	Purpose    string `validate:"required,max=64"`
	Locale     string `validate:"max=16"`
}

type ResendOutput struct {
	ChallengeID string
	ExpiresAt   time.Time
	ResendCount int16
	ProviderID  string
}

// Resend reissues the pending challenge for (identifier, purpose) with
// fresh code material, keeping the resend count and honoring cooldown and
// ceiling.
func (s *Usecase) Resend(ctx context.Context, in ResendInput) (*ResendOutput, error) {
	ctx, span := s.startSpan(ctx, "Resend")
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		return nil, goerror.NewInvalidInput(err)
	}

	if err := s.enforceLimit(ctx, "id:"+in.Identifier, ratelimit.ActionResend, "rate_limits.resend_per_identifier"); err != nil {
		return nil, err
	}

	purpose := entity.Purpose(in.Purpose)
	prior, err := s.repoDB.GetPending(ctx, in.Identifier, purpose)
	if errors.Is(err, goerror.ErrNotFound) {
		return nil, goerror.NewBusiness("no pending challenge", goerror.CodeNotFound)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to load pending challenge", "identifier", in.Identifier, "error", err)
		return nil, goerror.NewServer(err)
	}

	now := s.clock.Now()
	if prior.IsExpiredAt(now) {
		if err := s.repoDB.MarkExpired(ctx, prior.RowID); err != nil {
			slog.ErrorContext(ctx, "failed to mark challenge expired", "challenge_id", prior.ID, "error", err)
		}
		return nil, goerror.NewBusiness("challenge expired", goerror.CodeExpired)
	}

	if !prior.CanResendAt(now) {
		return nil, goerror.NewRetryable("resend cooldown active", goerror.CodeCooldown, prior.CooldownAt.Sub(now))
	}

	maxResends := int16(s.cfg.GetInt("otp.max_resends"))
	if maxResends > 0 && prior.ResendCount >= maxResends {
		slog.WarnContext(ctx, "resend ceiling reached", "challenge_id", prior.ID)
		return nil, goerror.NewBusiness("resend limit reached", goerror.CodeTooManyRequest)
	}

	stepUp := prior.Metadata.GetBool(metadataKeyStepUp)
	ch, code, err := s.issue(ctx, in.Identifier, purpose, prior.Channel, prior.ResendCount+1, stepUp)
	if err != nil {
		return nil, err
	}

	providerID, err := s.dispatch(ctx, ch, code, in.Locale)
	if err != nil {
		return nil, err
	}

	s.publishAudit(ctx, ChallengeAuditEvent{
		Event:       "challenge_resent",
		ChallengeID: ch.ID,
		Identifier:  ch.Identifier,
		Purpose:     ch.Purpose.String(),
		Channel:     ch.Channel.String(),
		State:       ch.State.String(),
		ProviderID:  providerID,
		OccurredAt:  s.clock.Now(),
	})

	return &ResendOutput{
		ChallengeID: ch.ID,
		ExpiresAt:   ch.ExpiresAt,
		ResendCount: ch.ResendCount,
		ProviderID:  providerID,
	}, nil
}

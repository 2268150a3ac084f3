package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/jwt"
	"github.com/arvikon/otpgate/internal/pkg/ratelimit"
	"github.com/arvikon/otpgate/internal/risk"
)

type VerifyChallengeInput struct {
	ChallengeID string `validate:"required,max=64"`
	Code        string `validate:"required,max=16"`
	IP          string `validate:"required,ip"`
	Fingerprint string `validate:"max=128"`
	Latitude    *float64
	Longitude   *float64
}

type VerifyChallengeOutput struct {
	Verified             bool
	SecondFactorRequired bool
	StepUpTicket         string
	Factors              []string
	Identifier           string
	Purpose              string
}

func (s *Usecase) VerifyChallenge(ctx context.Context, in VerifyChallengeInput) (*VerifyChallengeOutput, error) {
	ctx, span := s.startSpan(ctx, "VerifyChallenge")
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		return nil, goerror.NewInvalidInput(err)
	}

	if err := s.enforceLimit(ctx, "ip:"+in.IP, ratelimit.ActionVerify, "rate_limits.verify_per_ip"); err != nil {
		return nil, err
	}

	ch, err := s.repoDB.GetByID(ctx, in.ChallengeID)
	if errors.Is(err, goerror.ErrNotFound) {
		return nil, goerror.NewBusiness("challenge not found", goerror.CodeNotFound)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to load challenge", "challenge_id", in.ChallengeID, "error", err)
		return nil, goerror.NewServer(err)
	}

	if ch.State == entity.StatePending && ch.IsExpiredAt(s.clock.Now()) {
		if err := s.repoDB.MarkExpired(ctx, ch.RowID); err != nil {
			slog.ErrorContext(ctx, "failed to mark challenge expired", "challenge_id", ch.ID, "error", err)
		}
		return nil, goerror.NewBusiness("challenge expired", goerror.CodeExpired)
	}

	switch ch.State {
	case entity.StateExpired:
		return nil, goerror.NewBusiness("challenge expired", goerror.CodeExpired)
	case entity.StateLocked:
		return nil, goerror.NewBusiness("challenge locked", goerror.CodeLocked)
	case entity.StateConsumed, entity.StateVerified:
		return nil, goerror.NewBusiness("challenge not found", goerror.CodeNotFound)
	}

	if !s.hmac.Verify(string(ch.CodeHash), string(ch.CodeSalt)+":"+in.Code) {
		return nil, s.failAttempt(ctx, ch)
	}

	if err := s.repoDB.Consume(ctx, ch.RowID); err != nil {
		if errors.Is(err, goerror.ErrConflict) {
			return nil, goerror.NewBusiness("challenge not found", goerror.CodeNotFound)
		}
		slog.ErrorContext(ctx, "failed to consume challenge", "challenge_id", ch.ID, "error", err)
		return nil, goerror.NewServer(err)
	}

	if err := s.limiter.Reset(ctx, "ip:"+in.IP, ratelimit.ActionVerify); err != nil {
		slog.WarnContext(ctx, "failed to reset verify limiter", "error", err)
	}

	sig := risk.Signal{Identifier: ch.Identifier, IP: in.IP, Fingerprint: in.Fingerprint}
	if in.Latitude != nil && in.Longitude != nil {
		sig.Location = &risk.Location{Latitude: *in.Latitude, Longitude: *in.Longitude}
	}
	s.goroutine.Go(ctx, func(ctx context.Context) error {
		return s.riskHist.Record(ctx, ch.Identifier, sig)
	})

	s.publishAudit(ctx, ChallengeAuditEvent{
		Event:       "challenge_verified",
		ChallengeID: ch.ID,
		Identifier:  ch.Identifier,
		Purpose:     ch.Purpose.String(),
		Channel:     ch.Channel.String(),
		State:       entity.StateConsumed.String(),
		OccurredAt:  s.clock.Now(),
	})

	if ch.Metadata.GetBool(metadataKeyStepUp) {
		factors := s.verifiers.Factors()

		ticket, err := s.jwt.Generate(jwt.Ticket{
			Identifier:  ch.Identifier,
			Purpose:     ch.Purpose.String(),
			ChallengeID: ch.ID,
			Factors:     factors,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to generate step-up ticket", "challenge_id", ch.ID, "error", err)
			return nil, goerror.NewServer(err)
		}

		return &VerifyChallengeOutput{
			SecondFactorRequired: true,
			StepUpTicket:         ticket,
			Factors:              factors,
			Identifier:           ch.Identifier,
			Purpose:              ch.Purpose.String(),
		}, nil
	}

	return &VerifyChallengeOutput{
		Verified:   true,
		Identifier: ch.Identifier,
		Purpose:    ch.Purpose.String(),
	}, nil
}

// failAttempt records a code mismatch, locking the challenge once the
// budget runs out.
func (s *Usecase) failAttempt(ctx context.Context, ch entity.Challenge) error {
	attempts, state, err := s.repoDB.RecordFailedAttempt(ctx, ch.RowID)
	if errors.Is(err, goerror.ErrNotFound) {
		// Another writer moved the row out of pending first.
		return goerror.NewBusiness("challenge not found", goerror.CodeNotFound)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to record attempt", "challenge_id", ch.ID, "error", err)
		return goerror.NewServer(err)
	}

	if state == entity.StateLocked {
		slog.WarnContext(ctx, "challenge locked after exhausted attempts", "challenge_id", ch.ID)
		s.publishAudit(ctx, ChallengeAuditEvent{
			Event:       "challenge_locked",
			ChallengeID: ch.ID,
			Identifier:  ch.Identifier,
			Purpose:     ch.Purpose.String(),
			Channel:     ch.Channel.String(),
			State:       state.String(),
			OccurredAt:  s.clock.Now(),
		})
		return goerror.NewBusiness("challenge locked", goerror.CodeLocked)
	}

	remaining := int(ch.MaxAttempts - attempts)
	return goerror.NewAttempts("invalid code", goerror.CodeUnauthorized, remaining)
}

package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/jwt"
	"github.com/arvikon/otpgate/internal/stepup"
)

type CompleteStepUpInput struct {
	Factor string `validate:"required,max=32"`
	Proof  string `validate:"required"`
}

type CompleteStepUpOutput struct {
	Completed  bool
	Identifier string
	Purpose    string
}

// CompleteStepUp finishes a verification that the risk engine escalated.
// The step-up ticket from VerifyChallenge arrives via the request context.
func (s *Usecase) CompleteStepUp(ctx context.Context, in CompleteStepUpInput) (*CompleteStepUpOutput, error) {
	ctx, span := s.startSpan(ctx, "CompleteStepUp")
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		return nil, goerror.NewInvalidInput(err)
	}

	claims, err := s.ticketFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if !claims.AllowsFactor(in.Factor) {
		slog.WarnContext(ctx, "step-up factor not allowed by ticket",
			"identifier", claims.Subject, "factor", in.Factor)
		return nil, goerror.NewBusiness("factor not allowed", goerror.CodeForbidden)
	}

	verifier, err := s.verifiers.Get(in.Factor)
	if err != nil {
		return nil, goerror.NewBusiness("factor not enabled", goerror.CodeInvalidInput)
	}

	if err := verifier.Verify(ctx, claims.Subject, in.Proof); err != nil {
		switch {
		case errors.Is(err, stepup.ErrNotEnrolled):
			slog.WarnContext(ctx, "step-up subject not enrolled",
				"identifier", claims.Subject, "factor", in.Factor)
			return nil, goerror.NewBusiness("factor not enrolled", goerror.CodeForbidden)
		case errors.Is(err, stepup.ErrVerificationFailed):
			slog.WarnContext(ctx, "step-up verification failed",
				"identifier", claims.Subject, "factor", in.Factor)
			return nil, goerror.NewBusiness("verification failed", goerror.CodeUnauthorized)
		default:
			slog.ErrorContext(ctx, "step-up verifier error",
				"identifier", claims.Subject, "factor", in.Factor, "error", err)
			return nil, goerror.NewServer(err)
		}
	}

	s.publishAudit(ctx, ChallengeAuditEvent{
		Event:       "stepup_completed",
		ChallengeID: claims.ChallengeID,
		Identifier:  claims.Subject,
		Purpose:     claims.Purpose,
		OccurredAt:  s.clock.Now(),
	})

	return &CompleteStepUpOutput{
		Completed:  true,
		Identifier: claims.Subject,
		Purpose:    claims.Purpose,
	}, nil
}

type BeginWebAuthnOutput struct {
	Options *protocol.CredentialAssertion
}

// BeginWebAuthn opens an assertion ceremony for a ticket holder whose
// ticket allows the webauthn factor.
func (s *Usecase) BeginWebAuthn(ctx context.Context) (*BeginWebAuthnOutput, error) {
	ctx, span := s.startSpan(ctx, "BeginWebAuthn")
	defer span.End()

	claims, err := s.ticketFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if !claims.AllowsFactor(stepup.FactorWebAuthn) {
		return nil, goerror.NewBusiness("factor not allowed", goerror.CodeForbidden)
	}

	verifier, err := s.verifiers.Get(stepup.FactorWebAuthn)
	if err != nil {
		return nil, goerror.NewBusiness("factor not enabled", goerror.CodeInvalidInput)
	}

	beginner, ok := verifier.(interface {
		Begin(ctx context.Context, subject string) (*protocol.CredentialAssertion, error)
	})
	if !ok {
		return nil, goerror.NewBusiness("factor not enabled", goerror.CodeInvalidInput)
	}

	options, err := beginner.Begin(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, stepup.ErrNotEnrolled) {
			return nil, goerror.NewBusiness("factor not enrolled", goerror.CodeForbidden)
		}
		slog.ErrorContext(ctx, "failed to begin webauthn ceremony",
			"identifier", claims.Subject, "error", err)
		return nil, goerror.NewServer(err)
	}

	return &BeginWebAuthnOutput{Options: options}, nil
}

func (s *Usecase) ticketFromContext(ctx context.Context) (jwt.Claims, error) {
	claims, ok := jwt.GetTicket(ctx)
	if !ok {
		return jwt.Claims{}, goerror.NewBusiness("step-up ticket required", goerror.CodeUnauthorized)
	}
	return claims, nil
}

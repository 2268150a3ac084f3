package usecase

import (
	"context"
	"log/slog"

	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/stepup"
)

type EnrollBackupCodesInput struct {
	Identifier string `validate:"required,identifier"`
}

type EnrollBackupCodesOutput struct {
	Codes []string
}

// EnrollBackupCodes issues a fresh backup code set for the subject,
// replacing any prior set. The plaintext codes are returned exactly once;
// only argon2id hashes are stored.
func (s *Usecase) EnrollBackupCodes(ctx context.Context, in EnrollBackupCodesInput) (*EnrollBackupCodesOutput, error) {
	ctx, span := s.startSpan(ctx, "EnrollBackupCodes")
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		return nil, goerror.NewInvalidInput(err)
	}

	exists, err := s.subjects.Exists(ctx, in.Identifier)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check subject", "identifier", in.Identifier, "error", err)
		return nil, goerror.NewServer(err)
	}
	if !exists {
		return nil, goerror.NewBusiness("unknown identifier", goerror.CodeNotFound)
	}

	codes, err := s.backupGen.Generate()
	if err != nil {
		slog.ErrorContext(ctx, "failed to generate backup codes", "error", err)
		return nil, goerror.NewServer(err)
	}

	stored := make([]stepup.StoredBackupCode, 0, len(codes))
	for _, code := range codes {
		h, err := s.backupHash.Hash(code)
		if err != nil {
			slog.ErrorContext(ctx, "failed to hash backup code", "error", err)
			return nil, goerror.NewServer(err)
		}
		stored = append(stored, stepup.StoredBackupCode{ID: s.uid.Generate(), Hash: h})
	}

	if err := s.repoDB.ReplaceBackupCodes(ctx, in.Identifier, stored, s.clock.Now()); err != nil {
		slog.ErrorContext(ctx, "failed to store backup codes", "identifier", in.Identifier, "error", err)
		return nil, goerror.NewServer(err)
	}

	s.publishAudit(ctx, ChallengeAuditEvent{
		Event:      "backup_codes_enrolled",
		Identifier: in.Identifier,
		OccurredAt: s.clock.Now(),
	})

	return &EnrollBackupCodesOutput{Codes: codes}, nil
}

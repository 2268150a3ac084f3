package stepup

import (
	"context"
	"fmt"
	"time"

	"github.com/arvikon/otpgate/internal/pkg/mfa"
)

type totpValidator interface {
	Validate(code, secret string, at time.Time) bool
}

type totpClocker interface {
	Now() time.Time
}

// SeedStore reads a subject's encrypted TOTP seed. Implementations return
// ErrNotEnrolled when no seed exists.
type SeedStore interface {
	EncryptedSeed(ctx context.Context, subject string) ([]byte, error)
}

// TOTPVerifier checks time-based codes against a seed held encrypted at
// rest and only decrypted for the duration of the check.
type TOTPVerifier struct {
	validator totpValidator
	encryptor mfa.Encryptor
	seeds     SeedStore
	clock     totpClocker
}

func NewTOTPVerifier(validator totpValidator, enc mfa.Encryptor, seeds SeedStore, clock totpClocker) *TOTPVerifier {
	return &TOTPVerifier{validator: validator, encryptor: enc, seeds: seeds, clock: clock}
}

func (v *TOTPVerifier) Factor() string { return FactorTOTP }

func (v *TOTPVerifier) Verify(ctx context.Context, subject, proof string) error {
	ciphertext, err := v.seeds.EncryptedSeed(ctx, subject)
	if err != nil {
		return err
	}

	scope := mfa.Scope{Identifier: subject, Purpose: mfa.PurposeTOTPSeed}
	seed, err := v.encryptor.Decrypt(ciphertext, scope)
	if err != nil {
		return fmt.Errorf("stepup: decrypt totp seed: %w", err)
	}

	if !v.validator.Validate(proof, string(seed), v.clock.Now()) {
		return ErrVerificationFailed
	}
	return nil
}

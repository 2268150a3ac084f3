package stepup

import (
	"context"

	"github.com/arvikon/otpgate/internal/pkg/hash"
)

// StoredBackupCode is one unused backup code hash.
type StoredBackupCode struct {
	ID   int64
	Hash []byte
}

// BackupCodeStore reads and consumes a subject's backup codes. Unused
// returns only codes that have not been spent; implementations return
// ErrNotEnrolled when the subject has no code set at all.
type BackupCodeStore interface {
	Unused(ctx context.Context, subject string) ([]StoredBackupCode, error)
	MarkUsed(ctx context.Context, subject string, id int64) error
}

// BackupCodeVerifier checks single-use backup codes hashed with argon2id.
// Every stored hash is checked even after a match so the work done does
// not reveal which position matched.
type BackupCodeVerifier struct {
	hasher hash.Hash
	store  BackupCodeStore
}

func NewBackupCodeVerifier(hasher hash.Hash, store BackupCodeStore) *BackupCodeVerifier {
	return &BackupCodeVerifier{hasher: hasher, store: store}
}

func (v *BackupCodeVerifier) Factor() string { return FactorBackupCode }

func (v *BackupCodeVerifier) Verify(ctx context.Context, subject, proof string) error {
	codes, err := v.store.Unused(ctx, subject)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return ErrVerificationFailed
	}

	matched := int64(-1)
	for _, c := range codes {
		if v.hasher.Verify(string(c.Hash), proof) && matched < 0 {
			matched = c.ID
		}
	}
	if matched < 0 {
		return ErrVerificationFailed
	}

	if err := v.store.MarkUsed(ctx, subject, matched); err != nil {
		return err
	}
	return nil
}

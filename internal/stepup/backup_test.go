package stepup

import (
	"context"
	"errors"
	"testing"

	"github.com/arvikon/otpgate/internal/pkg/hash"
)

type fakeBackupStore struct {
	codes   map[string][]StoredBackupCode
	used    []int64
	usedErr error
}

func (f *fakeBackupStore) Unused(_ context.Context, subject string) ([]StoredBackupCode, error) {
	codes, ok := f.codes[subject]
	if !ok {
		return nil, ErrNotEnrolled
	}
	return codes, nil
}

func (f *fakeBackupStore) MarkUsed(_ context.Context, _ string, id int64) error {
	if f.usedErr != nil {
		return f.usedErr
	}
	f.used = append(f.used, id)
	return nil
}

func TestBackupCodeVerifier(t *testing.T) {
	const subject = "user@example.com"

	hasher := hash.NewArgon2id("test-pepper")

	hashOf := func(t *testing.T, code string) []byte {
		t.Helper()
		h, err := hasher.Hash(code)
		if err != nil {
			t.Fatalf("failed to hash code: %v", err)
		}
		return h
	}

	t.Run("MatchConsumesCode", func(t *testing.T) {
		// Arrange
		store := &fakeBackupStore{codes: map[string][]StoredBackupCode{subject: {
			{ID: 1, Hash: hashOf(t, "AAAA-BBBB-CCCC")},
			{ID: 2, Hash: hashOf(t, "DDDD-EEEE-FFFF")},
		}}}
		verifier := NewBackupCodeVerifier(hasher, store)

		// Act
		err := verifier.Verify(context.Background(), subject, "DDDD-EEEE-FFFF")

		// Assert
		if err != nil {
			t.Fatalf("expected match, got %v", err)
		}
		if len(store.used) != 1 || store.used[0] != 2 {
			t.Errorf("expected code 2 marked used, got %v", store.used)
		}
	})

	t.Run("WrongCode", func(t *testing.T) {
		// Arrange
		store := &fakeBackupStore{codes: map[string][]StoredBackupCode{subject: {
			{ID: 1, Hash: hashOf(t, "AAAA-BBBB-CCCC")},
		}}}
		verifier := NewBackupCodeVerifier(hasher, store)

		// Act
		err := verifier.Verify(context.Background(), subject, "ZZZZ-ZZZZ-ZZZZ")

		// Assert
		if !errors.Is(err, ErrVerificationFailed) {
			t.Errorf("expected ErrVerificationFailed, got %v", err)
		}
		if len(store.used) != 0 {
			t.Errorf("expected no codes consumed, got %v", store.used)
		}
	})

	t.Run("AllCodesSpent", func(t *testing.T) {
		// Arrange
		store := &fakeBackupStore{codes: map[string][]StoredBackupCode{subject: {}}}
		verifier := NewBackupCodeVerifier(hasher, store)

		// Act
		err := verifier.Verify(context.Background(), subject, "AAAA-BBBB-CCCC")

		// Assert
		if !errors.Is(err, ErrVerificationFailed) {
			t.Errorf("expected ErrVerificationFailed, got %v", err)
		}
	})

	t.Run("NotEnrolled", func(t *testing.T) {
		// Arrange
		store := &fakeBackupStore{codes: map[string][]StoredBackupCode{}}
		verifier := NewBackupCodeVerifier(hasher, store)

		// Act
		err := verifier.Verify(context.Background(), "stranger@example.com", "AAAA-BBBB-CCCC")

		// Assert
		if !errors.Is(err, ErrNotEnrolled) {
			t.Errorf("expected ErrNotEnrolled, got %v", err)
		}
	})

	t.Run("MarkUsedFailure", func(t *testing.T) {
		// Arrange
		store := &fakeBackupStore{
			codes:   map[string][]StoredBackupCode{subject: {{ID: 1, Hash: hashOf(t, "AAAA-BBBB-CCCC")}}},
			usedErr: errors.New("db down"),
		}
		verifier := NewBackupCodeVerifier(hasher, store)

		// Act
		err := verifier.Verify(context.Background(), subject, "AAAA-BBBB-CCCC")

		// Assert
		if err == nil {
			t.Error("expected error when consuming the code fails")
		}
	})
}

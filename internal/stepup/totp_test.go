package stepup

import (
	"context"
	"errors"
	"testing"
	"time"

	libOTP "github.com/pquerna/otp"

	"github.com/arvikon/otpgate/internal/pkg/mfa"
	"github.com/arvikon/otpgate/internal/pkg/otp"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeSeedStore struct {
	seeds map[string][]byte
	err   error
}

func (f *fakeSeedStore) EncryptedSeed(_ context.Context, subject string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	blob, ok := f.seeds[subject]
	if !ok {
		return nil, ErrNotEnrolled
	}
	return blob, nil
}

func testEncryptor() *mfa.AESGCMEncryptor {
	key := make([]byte, 32)
	for i := range key {
		key[i] = 0x3C
	}
	return mfa.NewAESGCMEncryptor(mfa.StaticKeyProvider{KeyBytes: key})
}

func TestTOTPVerifier(t *testing.T) {
	const subject = "user@example.com"
	const secret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	at := time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)
	validator := otp.NewTOTP("otpgate", 30, 1, libOTP.DigitsSix)
	enc := testEncryptor()

	sealed, err := enc.Encrypt([]byte(secret), mfa.Scope{Identifier: subject, Purpose: mfa.PurposeTOTPSeed})
	if err != nil {
		t.Fatalf("failed to seal seed: %v", err)
	}

	seeds := &fakeSeedStore{seeds: map[string][]byte{subject: sealed}}
	verifier := NewTOTPVerifier(validator, enc, seeds, fixedClock{now: at})

	t.Run("ValidCode", func(t *testing.T) {
		// Arrange
		code, err := validator.GenerateCode(secret, at)
		if err != nil {
			t.Fatalf("failed to generate code: %v", err)
		}

		// Act
		err = verifier.Verify(context.Background(), subject, code)

		// Assert
		if err != nil {
			t.Errorf("expected valid code to pass, got %v", err)
		}
	})

	t.Run("WrongCode", func(t *testing.T) {
		// Act
		err := verifier.Verify(context.Background(), subject, "000000")

		// Assert
		if !errors.Is(err, ErrVerificationFailed) {
			t.Errorf("expected ErrVerificationFailed, got %v", err)
		}
	})

	t.Run("StaleCode", func(t *testing.T) {
		// Arrange: a code from well outside the skew window.
		code, err := validator.GenerateCode(secret, at.Add(-10*time.Minute))
		if err != nil {
			t.Fatalf("failed to generate code: %v", err)
		}

		// Act
		err = verifier.Verify(context.Background(), subject, code)

		// Assert
		if !errors.Is(err, ErrVerificationFailed) {
			t.Errorf("expected ErrVerificationFailed, got %v", err)
		}
	})

	t.Run("NotEnrolled", func(t *testing.T) {
		// Act
		err := verifier.Verify(context.Background(), "stranger@example.com", "123456")

		// Assert
		if !errors.Is(err, ErrNotEnrolled) {
			t.Errorf("expected ErrNotEnrolled, got %v", err)
		}
	})

	t.Run("CorruptSeed", func(t *testing.T) {
		// Arrange
		bad := append([]byte(nil), sealed...)
		bad[len(bad)-1] ^= 0xFF
		store := &fakeSeedStore{seeds: map[string][]byte{subject: bad}}
		v := NewTOTPVerifier(validator, enc, store, fixedClock{now: at})

		// Act
		err := v.Verify(context.Background(), subject, "123456")

		// Assert
		if !errors.Is(err, mfa.ErrDecryptFailed) {
			t.Errorf("expected decrypt failure, got %v", err)
		}
	})
}

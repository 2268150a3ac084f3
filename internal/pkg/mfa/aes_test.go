package mfa

import (
	"bytes"
	"errors"
	"testing"
)

func testEncryptor() *AESGCMEncryptor {
	key := bytes.Repeat([]byte{0xA5}, 32)
	return NewAESGCMEncryptor(StaticKeyProvider{KeyBytes: key})
}

func TestAESGCMRoundTrip(t *testing.T) {
	enc := testEncryptor()
	scope := Scope{Identifier: "user@example.com", Purpose: PurposeTOTPSeed}

	ct, err := enc.Encrypt([]byte("JBSWY3DPEHPK3PXP"), scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pt, err := enc.Decrypt(ct, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(pt) != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("plaintext = %q, want original seed", pt)
	}
}

func TestAESGCMScopeBinding(t *testing.T) {
	enc := testEncryptor()
	ct, err := enc.Encrypt([]byte("secret"), Scope{Identifier: "alice", Purpose: PurposeTOTPSeed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("WrongIdentifier", func(t *testing.T) {
		if _, err := enc.Decrypt(ct, Scope{Identifier: "bob", Purpose: PurposeTOTPSeed}); !errors.Is(err, ErrDecryptFailed) {
			t.Fatalf("error = %v, want ErrDecryptFailed", err)
		}
	})

	t.Run("WrongPurpose", func(t *testing.T) {
		if _, err := enc.Decrypt(ct, Scope{Identifier: "alice", Purpose: PurposeWebAuthnCredential}); !errors.Is(err, ErrDecryptFailed) {
			t.Fatalf("error = %v, want ErrDecryptFailed", err)
		}
	})
}

func TestAESGCMInvalidInputs(t *testing.T) {
	enc := testEncryptor()
	scope := Scope{Identifier: "alice", Purpose: PurposeTOTPSeed}

	t.Run("EmptyPlaintext", func(t *testing.T) {
		if _, err := enc.Encrypt(nil, scope); !errors.Is(err, ErrPlaintextEmpty) {
			t.Fatalf("error = %v, want ErrPlaintextEmpty", err)
		}
	})

	t.Run("TruncatedCiphertext", func(t *testing.T) {
		if _, err := enc.Decrypt([]byte{0, 1, 2}, scope); !errors.Is(err, ErrCiphertextTooShort) {
			t.Fatalf("error = %v, want ErrCiphertextTooShort", err)
		}
	})

	t.Run("TamperedCiphertext", func(t *testing.T) {
		ct, err := enc.Encrypt([]byte("secret"), scope)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ct[len(ct)-1] ^= 0xFF
		if _, err := enc.Decrypt(ct, scope); !errors.Is(err, ErrDecryptFailed) {
			t.Fatalf("error = %v, want ErrDecryptFailed", err)
		}
	})

	t.Run("ShortKey", func(t *testing.T) {
		bad := NewAESGCMEncryptor(StaticKeyProvider{KeyBytes: []byte("short")})
		if _, err := bad.Encrypt([]byte("secret"), scope); !errors.Is(err, ErrInvalidKeyLength) {
			t.Fatalf("error = %v, want ErrInvalidKeyLength", err)
		}
	})
}

package stepup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/arvikon/otpgate/internal/pkg/mfa"
)

// StoredCredential is one WebAuthn credential as persisted, encrypted at
// rest.
type StoredCredential struct {
	ID   int64
	Blob []byte
}

// EncryptedCredentialSource reads and writes credential ciphertexts.
type EncryptedCredentialSource interface {
	EncryptedCredentials(ctx context.Context, subject string) ([]StoredCredential, error)
	UpdateCredential(ctx context.Context, subject string, id int64, blob []byte) error
}

// CredentialVault implements CredentialStore over an encrypted source,
// sealing each credential blob per subject.
type CredentialVault struct {
	source    EncryptedCredentialSource
	encryptor mfa.Encryptor
}

func NewCredentialVault(source EncryptedCredentialSource, enc mfa.Encryptor) *CredentialVault {
	return &CredentialVault{source: source, encryptor: enc}
}

func (v *CredentialVault) Credentials(ctx context.Context, subject string) ([]webauthn.Credential, error) {
	stored, err := v.source.EncryptedCredentials(ctx, subject)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, ErrNotEnrolled
	}

	scope := mfa.Scope{Identifier: subject, Purpose: mfa.PurposeWebAuthnCredential}

	out := make([]webauthn.Credential, 0, len(stored))
	for _, sc := range stored {
		plain, err := v.encryptor.Decrypt(sc.Blob, scope)
		if err != nil {
			return nil, fmt.Errorf("stepup: decrypt credential: %w", err)
		}

		var cred webauthn.Credential
		if err := json.Unmarshal(plain, &cred); err != nil {
			return nil, fmt.Errorf("stepup: decode credential: %w", err)
		}
		out = append(out, cred)
	}

	return out, nil
}

func (v *CredentialVault) UpdateSignCount(ctx context.Context, subject string, credentialID []byte, count uint32) error {
	stored, err := v.source.EncryptedCredentials(ctx, subject)
	if err != nil {
		return err
	}

	scope := mfa.Scope{Identifier: subject, Purpose: mfa.PurposeWebAuthnCredential}

	for _, sc := range stored {
		plain, err := v.encryptor.Decrypt(sc.Blob, scope)
		if err != nil {
			return fmt.Errorf("stepup: decrypt credential: %w", err)
		}

		var cred webauthn.Credential
		if err := json.Unmarshal(plain, &cred); err != nil {
			return fmt.Errorf("stepup: decode credential: %w", err)
		}
		if !bytes.Equal(cred.ID, credentialID) {
			continue
		}

		cred.Authenticator.SignCount = count
		updated, err := json.Marshal(cred)
		if err != nil {
			return fmt.Errorf("stepup: encode credential: %w", err)
		}

		sealed, err := v.encryptor.Encrypt(updated, scope)
		if err != nil {
			return fmt.Errorf("stepup: encrypt credential: %w", err)
		}

		return v.source.UpdateCredential(ctx, subject, sc.ID, sealed)
	}

	return ErrNotEnrolled
}

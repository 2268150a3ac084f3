package mfa

// Purpose identifies the MFA encryption purpose.
type Purpose string

const (
	// PurposeTOTPSeed scopes encryption to TOTP seeds.
	PurposeTOTPSeed Purpose = "totp_seed"
	// PurposeBackupCodes scopes encryption to backup code sets.
	PurposeBackupCodes Purpose = "backup_codes"
	// PurposeWebAuthnCredential scopes encryption to WebAuthn credential blobs.
	PurposeWebAuthnCredential Purpose = "webauthn_credential"
)

// Scope binds encryption to a subject and purpose.
// It is used as AAD (Additional Authenticated Data) in AES-GCM.
type Scope struct {
	// Identifier is the subject the material belongs to.
	Identifier string
	// Purpose is the encryption purpose.
	Purpose Purpose
}

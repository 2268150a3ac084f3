package stepup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

// CredentialStore reads a subject's registered WebAuthn credentials.
// Implementations return ErrNotEnrolled when the subject has none.
type CredentialStore interface {
	Credentials(ctx context.Context, subject string) ([]webauthn.Credential, error)
	UpdateSignCount(ctx context.Context, subject string, credentialID []byte, count uint32) error
}

// CeremonyStore holds the login ceremony session between Begin and Verify.
type CeremonyStore interface {
	Save(ctx context.Context, subject string, session *webauthn.SessionData) error
	// Take returns and deletes the pending session, making each ceremony
	// single use.
	Take(ctx context.Context, subject string) (*webauthn.SessionData, error)
}

// WebAuthnVerifier runs the assertion ceremony. Begin issues the challenge
// options; Verify consumes the stored ceremony and validates the signed
// assertion carried in proof.
type WebAuthnVerifier struct {
	wa       *webauthn.WebAuthn
	creds    CredentialStore
	ceremony CeremonyStore
}

func NewWebAuthnVerifier(wa *webauthn.WebAuthn, creds CredentialStore, ceremony CeremonyStore) *WebAuthnVerifier {
	return &WebAuthnVerifier{wa: wa, creds: creds, ceremony: ceremony}
}

func (v *WebAuthnVerifier) Factor() string { return FactorWebAuthn }

// Begin starts a login ceremony and returns the assertion options for the
// client.
func (v *WebAuthnVerifier) Begin(ctx context.Context, subject string) (*protocol.CredentialAssertion, error) {
	user, err := v.user(ctx, subject)
	if err != nil {
		return nil, err
	}

	options, session, err := v.wa.BeginLogin(user)
	if err != nil {
		return nil, fmt.Errorf("stepup: begin webauthn login: %w", err)
	}

	if err := v.ceremony.Save(ctx, subject, session); err != nil {
		return nil, err
	}
	return options, nil
}

func (v *WebAuthnVerifier) Verify(ctx context.Context, subject, proof string) error {
	session, err := v.ceremony.Take(ctx, subject)
	if err != nil {
		return err
	}

	response, err := protocol.ParseCredentialRequestResponseBody(strings.NewReader(proof))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	user, err := v.user(ctx, subject)
	if err != nil {
		return err
	}

	credential, err := v.wa.ValidateLogin(user, *session, response)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	err = v.creds.UpdateSignCount(ctx, subject, credential.ID, credential.Authenticator.SignCount)
	if err != nil {
		slog.WarnContext(ctx, "failed to update webauthn sign counter",
			"subject", subject, "error", err)
	}
	return nil
}

func (v *WebAuthnVerifier) user(ctx context.Context, subject string) (*assertionUser, error) {
	creds, err := v.creds.Credentials(ctx, subject)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, ErrNotEnrolled
	}
	return &assertionUser{subject: subject, creds: creds}, nil
}

// assertionUser adapts a subject identifier to the webauthn.User interface
// for login ceremonies.
type assertionUser struct {
	subject string
	creds   []webauthn.Credential
}

func (u *assertionUser) WebAuthnID() []byte { return []byte(u.subject) }
func (u *assertionUser) WebAuthnName() string { return u.subject }
func (u *assertionUser) WebAuthnDisplayName() string { return u.subject }
func (u *assertionUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

// RedisCeremonyStore keeps pending login ceremonies in Redis with a TTL so
// abandoned ceremonies expire on their own.
type RedisCeremonyStore struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func NewRedisCeremonyStore(rdb redis.UniversalClient, ttl time.Duration) *RedisCeremonyStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCeremonyStore{redis: rdb, ttl: ttl}
}

func (s *RedisCeremonyStore) Save(ctx context.Context, subject string, session *webauthn.SessionData) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("stepup: encode ceremony session: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(subject), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("stepup: save ceremony session: %w", err)
	}
	return nil
}

func (s *RedisCeremonyStore) Take(ctx context.Context, subject string) (*webauthn.SessionData, error) {
	raw, err := s.redis.GetDel(ctx, s.key(subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrVerificationFailed
		}
		return nil, fmt.Errorf("stepup: load ceremony session: %w", err)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("stepup: decode ceremony session: %w", err)
	}
	return &session, nil
}

func (s *RedisCeremonyStore) key(subject string) string {
	return "stepup:webauthn:" + subject
}

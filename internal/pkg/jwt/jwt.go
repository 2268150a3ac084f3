// Package jwt signs and verifies the short-lived step-up tickets that bind a
// successfully verified OTP to a still-pending second factor.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidSigningMethod is returned when the JWT signing method is not supported.
	ErrInvalidSigningMethod = errors.New("invalid JWT signing method")

	// ErrSigningKeyTooShort is returned when the HS512 signing key is less than 64 bytes.
	ErrSigningKeyTooShort = errors.New("HS512 signing key must be at least 64 bytes (512 bits)")

	// ErrTokenExpired is returned when the ticket has expired.
	ErrTokenExpired = errors.New("ticket has expired")

	// ErrInvalidToken is returned when the ticket is malformed or fails validation.
	ErrInvalidToken = errors.New("invalid ticket")
)

// JWT defines the minimal operations needed by the app: generate and verify
// a step-up ticket.
type JWT interface {
	// Generate creates a signed ticket for a verified challenge that still
	// requires a second factor.
	Generate(ticket Ticket) (string, error)
	// Verify parses and validates the ticket string.
	Verify(tokenStr string) (Claims, error)
}

type clocker interface {
	Now() time.Time
}

type generator interface {
	Generate() string
}

// Config defines the inputs for building a JWT implementation.
type Config struct {
	// Secret is the HMAC signing key.
	Secret []byte
	// Issuer is the ticket issuer value.
	Issuer string
	// Audiences are the accepted ticket audiences.
	Audiences []string
	// TTL is the ticket time-to-live.
	TTL time.Duration
	// Clock provides the current time source.
	Clock clocker
	// UUID generates ticket IDs.
	UUID generator
}

// Ticket is the payload of a step-up ticket.
type Ticket struct {
	// Identifier is the subject that passed the first factor.
	Identifier string
	// Purpose is the authentication context of the verified challenge.
	Purpose string
	// ChallengeID is the handle of the consumed challenge.
	ChallengeID string
	// Factors lists the second-factor kinds that may complete this ticket.
	Factors []string
}

// Claims wraps registered claims with the step-up payload.
type Claims struct {
	// RegisteredClaims holds the standard JWT claims.
	jwt.RegisteredClaims
	// Purpose is the authentication context of the verified challenge.
	Purpose string `json:"purpose"`
	// ChallengeID is the handle of the consumed challenge.
	ChallengeID string `json:"challenge_id"`
	// Factors lists the accepted second-factor kinds.
	Factors []string `json:"factors"`
}

// AllowsFactor reports whether the ticket accepts the given factor kind.
func (c Claims) AllowsFactor(factor string) bool {
	for _, f := range c.Factors {
		if f == factor {
			return true
		}
	}
	return false
}

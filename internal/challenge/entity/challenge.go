package entity

import (
	"time"

	"github.com/arvikon/otpgate/internal/pkg/valueobject"
)

// Purpose labels what a challenge proves, such as "login" or "password-reset".
// Purposes are free form; limits and policies key off the exact string.
type Purpose string

func (p Purpose) String() string { return string(p) }

// Challenge is a single issued code bound to one identifier and purpose.
// At most one pending challenge exists per (identifier, purpose) pair.
type Challenge struct {
	RowID       int64
	ID          string
	Identifier  string
	Purpose     Purpose
	Channel     Channel
	State       State
	CodeHash    []byte
	CodeSalt    []byte
	Attempts    int16
	MaxAttempts int16
	ResendCount int16
	CooldownAt  time.Time
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastSentAt  time.Time
	Metadata    valueobject.JSONMap
}

// IsExpiredAt reports whether the challenge deadline has passed. A pending
// row past its deadline behaves as expired even before the sweeper marks it.
func (c *Challenge) IsExpiredAt(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// RemainingAttempts returns how many verification attempts are left before
// the challenge locks.
func (c *Challenge) RemainingAttempts() int16 {
	if c.Attempts >= c.MaxAttempts {
		return 0
	}
	return c.MaxAttempts - c.Attempts
}

// CanResendAt reports whether a resend is allowed at the given instant.
func (c *Challenge) CanResendAt(now time.Time) bool {
	return !now.Before(c.CooldownAt)
}

// DeliveryAttempt records one provider call made while delivering a
// challenge code, successful or not.
type DeliveryAttempt struct {
	RowID          int64
	ChallengeRowID int64
	ProviderID     string
	Channel        Channel
	Status         AttemptStatus
	ErrorKind      ErrorKind
	Detail         string
	Elapsed        time.Duration
	CreatedAt      time.Time
}

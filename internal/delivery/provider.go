// Package delivery routes challenge codes to external providers with
// priority fallback, retry on transient faults, and per-provider circuit
// breaking.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arvikon/otpgate/internal/challenge/entity"
)

// Message is the provider-facing payload for one code delivery.
type Message struct {
	Recipient string
	Code      string
	Purpose   string
	TTL       time.Duration
	Locale    string
}

// Receipt is what a vendor acknowledges for an accepted message.
type Receipt struct {
	// ProviderID is filled in by the dispatcher.
	ProviderID string
	// VendorMessageID is the vendor's own reference, when it returns one.
	VendorMessageID string
}

// Provider sends a challenge code over a single upstream vendor. Send must
// honor ctx cancellation and return a *SendError for classifiable failures.
type Provider interface {
	ID() string
	Channels() []entity.Channel
	Priority() int
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// SendError carries the failure classification a provider assigns to a
// delivery call.
type SendError struct {
	Kind   entity.ErrorKind
	Detail string
	Err    error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery: %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("delivery: %s: %s", e.Kind, e.Detail)
}

func (e *SendError) Unwrap() error { return e.Err }

// Classify extracts the error kind from a provider failure. Deadline
// expiry maps to timeout, unclassified errors to network.
func Classify(err error) entity.ErrorKind {
	if err == nil {
		return entity.ErrorKindNone
	}

	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return entity.ErrorKindTimeout
	}

	return entity.ErrorKindNetwork
}

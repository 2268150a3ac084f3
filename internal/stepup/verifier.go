// Package stepup verifies second factors after a challenge code passes.
// Which verifiers are active is decided by configuration flags, never by
// what happens to be enrolled or deployed.
package stepup

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/samber/lo"
)

const (
	FactorTOTP       = "totp"
	FactorBackupCode = "backup-code"
	FactorWebAuthn   = "webauthn"
)

var (
	// ErrFactorNotEnabled means the requested factor has no registered
	// verifier.
	ErrFactorNotEnabled = errors.New("stepup: factor not enabled")
	// ErrNotEnrolled means the subject has no material for the factor.
	ErrNotEnrolled = errors.New("stepup: subject not enrolled")
	// ErrVerificationFailed means the proof did not check out.
	ErrVerificationFailed = errors.New("stepup: verification failed")
)

// Verifier checks one kind of second-factor proof for a subject.
type Verifier interface {
	Factor() string
	Verify(ctx context.Context, subject, proof string) error
}

// Registry holds the verifiers enabled by configuration.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]Verifier)}
}

// Register enables a verifier, replacing any earlier one for the factor.
func (r *Registry) Register(v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[v.Factor()] = v
}

// Get returns the verifier for a factor.
func (r *Registry) Get(factor string) (Verifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.verifiers[factor]
	if !ok {
		return nil, ErrFactorNotEnabled
	}
	return v, nil
}

// Factors lists the enabled factor names, sorted.
func (r *Registry) Factors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := lo.Keys(r.verifiers)
	sort.Strings(keys)
	return keys
}

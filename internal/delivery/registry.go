package delivery

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/arvikon/otpgate/internal/challenge/entity"
)

// Registry holds the configured providers and the breaker attached to each.
type Registry struct {
	mu       sync.RWMutex
	entries  []*registryEntry
	breakers map[string]*Breaker
	newBreak func() *Breaker
}

type registryEntry struct {
	provider Provider
}

// NewRegistry builds an empty registry. makeBreaker supplies the breaker
// for each registered provider; nil disables circuit breaking.
func NewRegistry(makeBreaker func() *Breaker) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		newBreak: makeBreaker,
	}
}

// Register adds a provider. Registering the same ID twice replaces the
// earlier entry and keeps its breaker state.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = lo.Reject(r.entries, func(e *registryEntry, _ int) bool {
		return e.provider.ID() == p.ID()
	})
	r.entries = append(r.entries, &registryEntry{provider: p})

	if _, ok := r.breakers[p.ID()]; !ok && r.newBreak != nil {
		r.breakers[p.ID()] = r.newBreak()
	}
}

// Candidates returns the providers serving a channel, highest priority
// first. Ties keep registration order.
func (r *Registry) Candidates(ch entity.Channel) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := lo.Filter(r.entries, func(e *registryEntry, _ int) bool {
		return lo.Contains(e.provider.Channels(), ch)
	})

	out := lo.Map(matched, func(e *registryEntry, _ int) Provider { return e.provider })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() > out[j].Priority() })
	return out
}

// BreakerFor returns the breaker attached to a provider, or nil when
// breaking is disabled or the ID is unknown.
func (r *Registry) BreakerFor(id string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[id]
}

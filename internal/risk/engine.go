// Package risk scores challenge requests before issuance. A denied request
// never reaches code generation or dispatch.
package risk

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/samber/lo"

	"github.com/arvikon/otpgate/internal/pkg/ratelimit"
)

// Decision is the outcome of a risk evaluation.
type Decision int16

const (
	DecisionAllow     Decision = 1
	DecisionChallenge Decision = 2
	DecisionDeny      Decision = 3
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionChallenge:
		return "challenge"
	case DecisionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Signal is the request context fed into the engine.
type Signal struct {
	Identifier  string
	IP          string
	Fingerprint string
	Location    *Location
}

// Assessment is the scored result. Factors holds the per-factor
// contribution for the audit trail; callers must not expose it to clients.
type Assessment struct {
	Decision Decision
	Score    float64
	Factors  map[string]float64
}

// History reads previously observed client attributes for an identifier.
type History interface {
	Locations(ctx context.Context, identifier string, limit int) ([]Location, error)
	KnownFingerprint(ctx context.Context, identifier, fingerprint string) (bool, error)
}

type velocityPeeker interface {
	Peek(ctx context.Context, key string, action ratelimit.Action, window time.Duration) (int, error)
}

// Weights are the per-factor multipliers. Factors score in [0,1] before
// weighting.
type Weights struct {
	IPVelocity         float64
	IdentifierVelocity float64
	GeoDistance        float64
	NewFingerprint     float64
}

// Config holds engine tuning.
type Config struct {
	Weights Weights
	// LowThreshold and HighThreshold split the score into
	// allow < low <= challenge < high <= deny.
	LowThreshold  float64
	HighThreshold float64
	// VelocityWindow and VelocitySoftLimit normalize observed request
	// counts into a [0,1] factor.
	VelocityWindow    time.Duration
	VelocitySoftLimit int
	// GeoMaxKm is the distance at which the geo factor saturates to 1.
	GeoMaxKm float64
	// Blocklist and Allowlist hold identifiers and IPs or CIDRs. Allowlist
	// wins over everything; blocklist forces a deny.
	Blocklist []string
	Allowlist []string
}

// Engine computes a weighted risk score from velocity, geography,
// fingerprint novelty, and list membership.
type Engine struct {
	cfg     Config
	peeker  velocityPeeker
	history History

	blockIdents map[string]struct{}
	allowIdents map[string]struct{}
	blockNets   []netip.Prefix
	allowNets   []netip.Prefix
}

func NewEngine(cfg Config, peeker velocityPeeker, history History) *Engine {
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = 10 * time.Minute
	}
	if cfg.VelocitySoftLimit <= 0 {
		cfg.VelocitySoftLimit = 10
	}
	if cfg.GeoMaxKm <= 0 {
		cfg.GeoMaxKm = 500
	}

	e := &Engine{
		cfg:         cfg,
		peeker:      peeker,
		history:     history,
		blockIdents: make(map[string]struct{}),
		allowIdents: make(map[string]struct{}),
	}
	e.blockNets = e.indexList(cfg.Blocklist, e.blockIdents)
	e.allowNets = e.indexList(cfg.Allowlist, e.allowIdents)
	return e
}

func (e *Engine) indexList(items []string, idents map[string]struct{}) []netip.Prefix {
	return lo.FilterMap(items, func(item string, _ int) (netip.Prefix, bool) {
		if p, err := netip.ParsePrefix(item); err == nil {
			return p, true
		}
		if addr, err := netip.ParseAddr(item); err == nil {
			return netip.PrefixFrom(addr, addr.BitLen()), true
		}
		idents[item] = struct{}{}
		return netip.Prefix{}, false
	})
}

// Evaluate scores a request. Factor read failures degrade that factor to
// zero rather than failing the evaluation.
func (e *Engine) Evaluate(ctx context.Context, sig Signal) Assessment {
	factors := make(map[string]float64)

	if e.listed(sig, e.allowIdents, e.allowNets) {
		factors["allowlist"] = 1
		return Assessment{Decision: DecisionAllow, Score: 0, Factors: factors}
	}
	if e.listed(sig, e.blockIdents, e.blockNets) {
		factors["blocklist"] = 1
		return Assessment{Decision: DecisionDeny, Score: 1, Factors: factors}
	}

	w := e.cfg.Weights
	score := 0.0

	if v := e.velocity(ctx, "ip:"+sig.IP); v > 0 {
		factors["ip_velocity"] = v
		score += v * w.IPVelocity
	}
	if v := e.velocity(ctx, "id:"+sig.Identifier); v > 0 {
		factors["identifier_velocity"] = v
		score += v * w.IdentifierVelocity
	}
	if v := e.geo(ctx, sig); v > 0 {
		factors["geo_distance"] = v
		score += v * w.GeoDistance
	}
	if v := e.fingerprint(ctx, sig); v > 0 {
		factors["new_fingerprint"] = v
		score += v * w.NewFingerprint
	}

	decision := DecisionAllow
	switch {
	case score >= e.cfg.HighThreshold:
		decision = DecisionDeny
	case score >= e.cfg.LowThreshold:
		decision = DecisionChallenge
	}

	return Assessment{Decision: decision, Score: score, Factors: factors}
}

func (e *Engine) listed(sig Signal, idents map[string]struct{}, nets []netip.Prefix) bool {
	if _, ok := idents[sig.Identifier]; ok {
		return true
	}

	addr, err := netip.ParseAddr(sig.IP)
	if err != nil {
		return false
	}
	return lo.SomeBy(nets, func(p netip.Prefix) bool { return p.Contains(addr) })
}

func (e *Engine) velocity(ctx context.Context, key string) float64 {
	if e.peeker == nil || key == "ip:" || key == "id:" {
		return 0
	}

	count, err := e.peeker.Peek(ctx, key, ratelimit.ActionIssue, e.cfg.VelocityWindow)
	if err != nil {
		slog.WarnContext(ctx, "velocity factor unavailable", "key", key, "error", err)
		return 0
	}

	v := float64(count) / float64(e.cfg.VelocitySoftLimit)
	if v > 1 {
		v = 1
	}
	return v
}

func (e *Engine) geo(ctx context.Context, sig Signal) float64 {
	if e.history == nil || sig.Location == nil {
		return 0
	}

	seen, err := e.history.Locations(ctx, sig.Identifier, 5)
	if err != nil {
		slog.WarnContext(ctx, "geo factor unavailable", "identifier", sig.Identifier, "error", err)
		return 0
	}
	if len(seen) == 0 {
		return 0
	}

	min := -1.0
	for _, loc := range seen {
		if d := DistanceKm(*sig.Location, loc); min < 0 || d < min {
			min = d
		}
	}

	v := min / e.cfg.GeoMaxKm
	if v > 1 {
		v = 1
	}
	return v
}

func (e *Engine) fingerprint(ctx context.Context, sig Signal) float64 {
	if e.history == nil || sig.Fingerprint == "" {
		return 0
	}

	known, err := e.history.KnownFingerprint(ctx, sig.Identifier, sig.Fingerprint)
	if err != nil {
		slog.WarnContext(ctx, "fingerprint factor unavailable", "identifier", sig.Identifier, "error", err)
		return 0
	}
	if known {
		return 0
	}
	return 1
}

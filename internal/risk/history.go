package risk

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHistory keeps recently observed client attributes per identifier in
// Redis. Entries age out with TTL so the history tracks active behavior.
type RedisHistory struct {
	redis redis.UniversalClient
	ttl   time.Duration
	keep  int64
}

func NewRedisHistory(rdb redis.UniversalClient, ttl time.Duration) *RedisHistory {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisHistory{redis: rdb, ttl: ttl, keep: 10}
}

// Locations returns up to limit recently recorded locations, newest first.
func (h *RedisHistory) Locations(ctx context.Context, identifier string, limit int) ([]Location, error) {
	raw, err := h.redis.LRange(ctx, h.locKey(identifier), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("risk: read location history: %w", err)
	}

	out := make([]Location, 0, len(raw))
	for _, item := range raw {
		var loc Location
		if _, err := fmt.Sscanf(item, "%f,%f", &loc.Latitude, &loc.Longitude); err != nil {
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}

// KnownFingerprint reports whether the fingerprint was seen before for the
// identifier.
func (h *RedisHistory) KnownFingerprint(ctx context.Context, identifier, fingerprint string) (bool, error) {
	ok, err := h.redis.SIsMember(ctx, h.fpKey(identifier), fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("risk: read fingerprint history: %w", err)
	}
	return ok, nil
}

// Record stores the attributes of a request that passed verification, so
// future evaluations treat them as familiar.
func (h *RedisHistory) Record(ctx context.Context, identifier string, sig Signal) error {
	pipe := h.redis.TxPipeline()

	if sig.Fingerprint != "" {
		key := h.fpKey(identifier)
		pipe.SAdd(ctx, key, sig.Fingerprint)
		pipe.Expire(ctx, key, h.ttl)
	}

	if sig.Location != nil {
		key := h.locKey(identifier)
		val := strconv.FormatFloat(sig.Location.Latitude, 'f', 6, 64) + "," +
			strconv.FormatFloat(sig.Location.Longitude, 'f', 6, 64)
		pipe.LPush(ctx, key, val)
		pipe.LTrim(ctx, key, 0, h.keep-1)
		pipe.Expire(ctx, key, h.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("risk: record history: %w", err)
	}
	return nil
}

func (h *RedisHistory) fpKey(identifier string) string {
	return "risk:fp:" + identifier
}

func (h *RedisHistory) locKey(identifier string) string {
	return "risk:loc:" + identifier
}

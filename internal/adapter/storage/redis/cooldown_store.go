package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mccapes-reconciler/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// extendScript sets the deadline only when it moves later than the stored one.
// KEYS[1] cooldown key, ARGV[1] deadline unix millis, ARGV[2] ttl millis.
var extendScript = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// CooldownStore implements ports.CooldownStore so every reconciler process
// sharing a provider API key sees the same backoff window.
type CooldownStore struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewCooldownStore creates a Redis-backed provider cooldown store.
func NewCooldownStore(client goredis.UniversalClient) *CooldownStore {
	return &CooldownStore{
		client: client,
		prefix: "cooldown:",
		now:    time.Now,
	}
}

// NotBefore returns the stored retry-not-before deadline, or the zero time.
func (s *CooldownStore) NotBefore(ctx context.Context, provider domain.Provider) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.prefix+string(provider)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("redis cooldown get: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis cooldown parse %q: %w", raw, err)
	}
	return time.UnixMilli(ms), nil
}

// Extend pushes the deadline to until. Earlier deadlines are ignored.
func (s *CooldownStore) Extend(ctx context.Context, provider domain.Provider, until time.Time) error {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	err := extendScript.Run(ctx, s.client,
		[]string{s.prefix + string(provider)},
		until.UnixMilli(), ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis cooldown extend: %w", err)
	}
	return nil
}

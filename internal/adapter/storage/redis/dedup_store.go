package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DedupStore implements ports.WebhookDedupStore using Redis SET NX.
type DedupStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewDedupStore creates a Redis-backed webhook dedup store.
func NewDedupStore(client goredis.UniversalClient) *DedupStore {
	return &DedupStore{
		client: client,
		prefix: "webhook:seen:",
	}
}

// CheckAndSet atomically claims key. It returns false if the key was already claimed.
func (s *DedupStore) CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetArgs(ctx, s.prefix+key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis dedup check: %w", err)
	}
	return result == "OK", nil
}

// Release forgets key so a redelivery can be processed again.
func (s *DedupStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis dedup release: %w", err)
	}
	return nil
}

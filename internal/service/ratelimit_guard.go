package service

import (
	"context"
	"sync"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"

	"github.com/rs/zerolog"
)

// DefaultProviderCooldown applies when a 429 carries no usable Retry-After.
const DefaultProviderCooldown = 60 * time.Second

// ProviderRateLimiter implements ports.RateLimiter. One instance is shared by
// every chain client and the reconciler, since the remote limit is per API key
// and not per address.
type ProviderRateLimiter struct {
	store           ports.CooldownStore
	defaultCooldown time.Duration
	now             func() time.Time
	log             zerolog.Logger
}

// NewProviderRateLimiter creates the process-wide provider guard.
func NewProviderRateLimiter(store ports.CooldownStore, defaultCooldown time.Duration, log zerolog.Logger) *ProviderRateLimiter {
	if defaultCooldown <= 0 {
		defaultCooldown = DefaultProviderCooldown
	}
	return &ProviderRateLimiter{
		store:           store,
		defaultCooldown: defaultCooldown,
		now:             time.Now,
		log:             log,
	}
}

// Check fails fast with *domain.RateLimitedError while the provider is backing off.
// A store failure is logged and the call is let through.
func (g *ProviderRateLimiter) Check(ctx context.Context, provider domain.Provider) error {
	if wait := g.Remaining(ctx, provider); wait > 0 {
		return &domain.RateLimitedError{Provider: provider, RetryAfter: wait}
	}
	return nil
}

// Backoff starts or extends the provider cooldown and returns the wait applied.
func (g *ProviderRateLimiter) Backoff(ctx context.Context, provider domain.Provider, wait time.Duration) time.Duration {
	if wait <= 0 {
		wait = g.defaultCooldown
	}
	until := g.now().Add(wait)
	if err := g.store.Extend(ctx, provider, until); err != nil {
		g.log.Warn().Err(err).
			Str("provider", string(provider)).
			Msg("Failed to record provider cooldown")
	}

	g.log.Warn().
		Str("provider", string(provider)).
		Dur("retry_after", wait).
		Msg("Provider rate limited, backing off")
	return wait
}

// Remaining returns how long the provider stays in backoff.
func (g *ProviderRateLimiter) Remaining(ctx context.Context, provider domain.Provider) time.Duration {
	notBefore, err := g.store.NotBefore(ctx, provider)
	if err != nil {
		g.log.Warn().Err(err).
			Str("provider", string(provider)).
			Msg("Failed to read provider cooldown, failing open")
		return 0
	}
	if d := notBefore.Sub(g.now()); d > 0 {
		return d
	}
	return 0
}

// MemoryCooldownStore implements ports.CooldownStore for a single process.
type MemoryCooldownStore struct {
	mu        sync.Mutex
	notBefore map[domain.Provider]time.Time
}

// NewMemoryCooldownStore creates an empty in-process cooldown store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{notBefore: make(map[domain.Provider]time.Time)}
}

// NotBefore returns the provider's cooldown deadline, or the zero time when
// it has none.
func (s *MemoryCooldownStore) NotBefore(_ context.Context, provider domain.Provider) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notBefore[provider], nil
}

// Extend only ever moves the deadline later.
func (s *MemoryCooldownStore) Extend(_ context.Context, provider domain.Provider, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until.After(s.notBefore[provider]) {
		s.notBefore[provider] = until
	}
	return nil
}

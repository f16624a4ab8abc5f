package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestGuard(now *time.Time) *ProviderRateLimiter {
	g := NewProviderRateLimiter(NewMemoryCooldownStore(), time.Minute, newTestLogger())
	g.now = func() time.Time { return *now }
	return g
}

// ==================== ProviderRateLimiter Tests ====================

func TestGuard_NoBackoffAllowsCall(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGuard(&now)

	assert.NoError(t, g.Check(context.Background(), domain.ProviderBlockCypher))
	assert.Zero(t, g.Remaining(context.Background(), domain.ProviderBlockCypher))
}

func TestGuard_BackoffFailsFastWithRemainingWait(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGuard(&now)
	ctx := context.Background()

	applied := g.Backoff(ctx, domain.ProviderBlockCypher, 30*time.Second)
	assert.Equal(t, 30*time.Second, applied)

	now = now.Add(10 * time.Second)
	err := g.Check(ctx, domain.ProviderBlockCypher)
	require.Error(t, err)

	var rl *domain.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, domain.ProviderBlockCypher, rl.Provider)
	assert.Equal(t, 20*time.Second, rl.RetryAfter)

	assert.NoError(t, g.Check(ctx, domain.ProviderHelius), "other provider is unaffected")
}

func TestGuard_BackoffExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGuard(&now)
	ctx := context.Background()

	g.Backoff(ctx, domain.ProviderHelius, 5*time.Second)
	now = now.Add(5 * time.Second)

	assert.NoError(t, g.Check(ctx, domain.ProviderHelius))
}

func TestGuard_DefaultCooldownWhenNoRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGuard(&now)

	applied := g.Backoff(context.Background(), domain.ProviderHelius, 0)
	assert.Equal(t, time.Minute, applied)
	assert.Equal(t, time.Minute, g.Remaining(context.Background(), domain.ProviderHelius))
}

func TestGuard_ShorterBackoffNeverShortensWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGuard(&now)
	ctx := context.Background()

	g.Backoff(ctx, domain.ProviderBlockCypher, 2*time.Minute)
	g.Backoff(ctx, domain.ProviderBlockCypher, 5*time.Second)

	assert.Equal(t, 2*time.Minute, g.Remaining(ctx, domain.ProviderBlockCypher))
}

func TestGuard_SharedAcrossConcurrentCallers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGuard(&now)
	ctx := context.Background()

	g.Backoff(ctx, domain.ProviderBlockCypher, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	limited := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if domain.IsRateLimited(g.Check(ctx, domain.ProviderBlockCypher)) {
				mu.Lock()
				limited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, limited)
}

func TestGuard_StoreErrorFailsOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockCooldownStore(ctrl)
	g := NewProviderRateLimiter(store, 0, newTestLogger())

	store.EXPECT().NotBefore(gomock.Any(), domain.ProviderHelius).Return(time.Time{}, errors.New("redis down"))

	assert.NoError(t, g.Check(context.Background(), domain.ProviderHelius))
}

func TestGuard_StoreExtendErrorStillReportsWait(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockCooldownStore(ctrl)
	g := NewProviderRateLimiter(store, 0, newTestLogger())

	store.EXPECT().Extend(gomock.Any(), domain.ProviderHelius, gomock.Any()).Return(errors.New("redis down"))

	assert.Equal(t, DefaultProviderCooldown, g.Backoff(context.Background(), domain.ProviderHelius, 0))
}

// ==================== MemoryCooldownStore Tests ====================

func TestMemoryCooldownStore_ExtendOnlyLater(t *testing.T) {
	s := NewMemoryCooldownStore()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.Extend(ctx, domain.ProviderHelius, base.Add(time.Minute)))
	require.NoError(t, s.Extend(ctx, domain.ProviderHelius, base))

	nb, err := s.NotBefore(ctx, domain.ProviderHelius)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Minute), nb)
}

func TestMemoryCooldownStore_NotBeforeZeroWithoutCooldown(t *testing.T) {
	nb, err := NewMemoryCooldownStore().NotBefore(context.Background(), domain.ProviderBlockCypher)
	require.NoError(t, err)
	assert.True(t, nb.IsZero())
}

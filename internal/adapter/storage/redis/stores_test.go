package redis

import (
	"context"
	"io"
	"strconv"
	"testing"
	"time"

	"mccapes-reconciler/config"
	"mccapes-reconciler/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== CooldownStore Tests ====================

func TestCooldownStore_EmptyIsZero(t *testing.T) {
	_, client := newTestClient(t)
	store := NewCooldownStore(client)

	nb, err := store.NotBefore(context.Background(), domain.ProviderBlockCypher)
	require.NoError(t, err)
	assert.True(t, nb.IsZero())
}

func TestCooldownStore_ExtendOnlyMovesLater(t *testing.T) {
	_, client := newTestClient(t)
	now := time.UnixMilli(1_700_000_000_000)
	store := NewCooldownStore(client)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	later := now.Add(60 * time.Second)
	require.NoError(t, store.Extend(ctx, domain.ProviderHelius, later))

	require.NoError(t, store.Extend(ctx, domain.ProviderHelius, now.Add(5*time.Second)))

	nb, err := store.NotBefore(ctx, domain.ProviderHelius)
	require.NoError(t, err)
	assert.Equal(t, later.UnixMilli(), nb.UnixMilli())

	even := now.Add(90 * time.Second)
	require.NoError(t, store.Extend(ctx, domain.ProviderHelius, even))
	nb, err = store.NotBefore(ctx, domain.ProviderHelius)
	require.NoError(t, err)
	assert.Equal(t, even.UnixMilli(), nb.UnixMilli())
}

func TestCooldownStore_ProvidersAreIndependent(t *testing.T) {
	_, client := newTestClient(t)
	store := NewCooldownStore(client)
	ctx := context.Background()

	require.NoError(t, store.Extend(ctx, domain.ProviderBlockCypher, time.Now().Add(time.Minute)))

	nb, err := store.NotBefore(ctx, domain.ProviderHelius)
	require.NoError(t, err)
	assert.True(t, nb.IsZero())
}

func TestCooldownStore_PastDeadlineIgnored(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewCooldownStore(client)

	require.NoError(t, store.Extend(context.Background(), domain.ProviderHelius, time.Now().Add(-time.Second)))
	assert.Empty(t, mr.Keys())
}

func TestCooldownStore_ExpiresWithTTL(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewCooldownStore(client)

	require.NoError(t, store.Extend(context.Background(), domain.ProviderBlockCypher, time.Now().Add(30*time.Second)))
	assert.True(t, mr.Exists("cooldown:blockcypher"))

	mr.FastForward(31 * time.Second)
	assert.False(t, mr.Exists("cooldown:blockcypher"))
}

// ==================== DedupStore Tests ====================

func TestDedupStore_FirstSeen(t *testing.T) {
	_, client := newTestClient(t)
	store := NewDedupStore(client)

	ok, err := store.CheckAndSet(context.Background(), "blockcypher:abc:bc1q", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDedupStore_Redelivery(t *testing.T) {
	_, client := newTestClient(t)
	store := NewDedupStore(client)
	ctx := context.Background()

	ok, err := store.CheckAndSet(ctx, "helius:sig:addr", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.CheckAndSet(ctx, "helius:sig:addr", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "redelivered notice should be reported as seen")
}

func TestDedupStore_ReleaseAllowsRetry(t *testing.T) {
	_, client := newTestClient(t)
	store := NewDedupStore(client)
	ctx := context.Background()

	_, err := store.CheckAndSet(ctx, "k", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "k"))

	ok, err := store.CheckAndSet(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDedupStore_Expires(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewDedupStore(client)
	ctx := context.Background()

	_, err := store.CheckAndSet(ctx, "k", time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	ok, err := store.CheckAndSet(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

// ==================== Health Tests ====================

func TestHealthCheck(t *testing.T) {
	_, client := newTestClient(t)
	hc := NewHealthCheck(client)

	assert.Equal(t, "redis", hc.Name())
	assert.NoError(t, hc.Ping(context.Background()))

	down := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer down.Close()
	assert.Error(t, NewHealthCheck(down).Ping(context.Background()))
}

func TestNewClient(t *testing.T) {
	mr, _ := newTestClient(t)
	cfg := config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr.Port())}

	client, err := NewClient(context.Background(), cfg, newTestLogger())
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func mustPort(t *testing.T, p string) int {
	t.Helper()
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	MSI  float64 `json:"msi"`
	Tier string  `json:"tier"`
}

func TestKeyAndPattern(t *testing.T) {
	assert.Equal(t, "risk:cycle:AAPL", Key("risk", "cycle", "AAPL"))
	assert.Equal(t, "risk", Key("risk"))
	assert.Equal(t, "risk:*", Pattern("risk"))
}

func TestMemoryCacheRoundTripsJSON(t *testing.T) {
	c := NewMemoryCache(WithMemoryMaxSize(10))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, Key("state", "system"), snapshot{MSI: 71.5, Tier: "ELEVATED_RISK"}, time.Minute))
	var got snapshot
	require.NoError(t, c.Get(ctx, "state:system", &got))
	assert.Equal(t, snapshot{MSI: 71.5, Tier: "ELEVATED_RISK"}, got)

	require.NoError(t, c.Set(ctx, "raw", "plain", time.Minute))
	var s string
	require.NoError(t, c.Get(ctx, "raw", &s))
	assert.Equal(t, "plain", s)

	assert.ErrorIs(t, c.Get(ctx, "missing", &got), ErrCacheMiss)
	assert.Error(t, c.Get(ctx, "raw", &got))
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", 1, time.Second))
	require.NoError(t, c.Set(ctx, "forever", 2, 0))
	now = now.Add(time.Hour)

	var v int
	assert.ErrorIs(t, c.Get(ctx, "short", &v), ErrCacheMiss)
	require.NoError(t, c.Get(ctx, "forever", &v))
	assert.Equal(t, 2, v)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(WithMemoryMaxSize(2))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	var v int
	require.NoError(t, c.Get(ctx, "a", &v))
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	assert.Equal(t, 2, c.Len())
	assert.ErrorIs(t, c.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, c.Get(ctx, "a", &v))
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.MSet(ctx, map[string]interface{}{
		"risk:state":      1,
		"risk:cycle:AAPL": 2,
		"queue:messages":  3,
	}, time.Minute))
	require.NoError(t, c.DeleteByPattern(ctx, Pattern("risk")))

	var v int
	assert.ErrorIs(t, c.Get(ctx, "risk:state", &v), ErrCacheMiss)
	assert.ErrorIs(t, c.Get(ctx, "risk:cycle:AAPL", &v), ErrCacheMiss)
	assert.NoError(t, c.Get(ctx, "queue:messages", &v))

	assert.Error(t, c.DeleteByPattern(ctx, "[bad"))
}

func TestMemoryCacheLockOwnership(t *testing.T) {
	a, b := NewMemoryCache(), NewMemoryCache()
	defer a.Close()
	defer b.Close()
	ctx := context.Background()

	ok, err := a.TryLock(ctx, "lock:stress", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.TryLock(ctx, "lock:stress", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// a foreign owner token must not release the lease
	require.NoError(t, b.Set(ctx, "lock:stress", "someone-else", time.Minute))
	require.NoError(t, b.Unlock(ctx, "lock:stress"))
	var holder string
	require.NoError(t, b.Get(ctx, "lock:stress", &holder))
	assert.Equal(t, "someone-else", holder)

	require.NoError(t, a.Unlock(ctx, "lock:stress"))
	ok, _ = a.TryLock(ctx, "lock:stress", time.Minute)
	assert.True(t, ok)
}

func TestWithRedisOptions(t *testing.T) {
	cfg := defaultRedisConfig()
	WithRedisAddr("redis.internal:6380")(cfg)
	WithRedisPool(0, 0, 0)(cfg)
	assert.Equal(t, "redis.internal:6380", cfg.Addr)
	assert.Equal(t, 10, cfg.PoolSize)

	WithRedisAddr("")(cfg)
	assert.Equal(t, "redis.internal:6380", cfg.Addr)
}

func TestLayeredShadowTTL(t *testing.T) {
	lc := &LayeredCache{l1TTL: 5 * time.Second}
	assert.Equal(t, time.Second, lc.shadowTTL(time.Second))
	assert.Equal(t, 5*time.Second, lc.shadowTTL(time.Minute))
	assert.Equal(t, 5*time.Second, lc.shadowTTL(0))
}

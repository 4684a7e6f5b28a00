package cache

import (
	"context"
	"time"
)

// LayeredCache fronts Redis with a short-lived in-process copy. Writes go
// to Redis first; locks and pattern deletes are always authoritative in
// Redis.
type LayeredCache struct {
	l1     *MemoryCache
	l2     *RedisCache
	l1TTL  time.Duration
	l1Size int
}

var _ Service = (*LayeredCache)(nil)

func NewLayeredCache(l2 *RedisCache, opts ...LayeredOption) *LayeredCache {
	lc := &LayeredCache{l2: l2, l1TTL: 5 * time.Second, l1Size: 1000}
	for _, o := range opts {
		o(lc)
	}
	lc.l1 = NewMemoryCache(WithMemoryMaxSize(lc.l1Size))
	return lc
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.l2.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	lc.l1.setRaw(key, data, lc.shadowTTL(ttl))
	return nil
}

func (lc *LayeredCache) MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) error {
	if err := lc.l2.MSet(ctx, values, ttl); err != nil {
		return err
	}
	return lc.l1.MSet(ctx, values, lc.shadowTTL(ttl))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if data, ok := lc.l1.raw(key); ok {
		return decode(data, dest)
	}
	data, err := lc.l2.raw(ctx, key)
	if err != nil {
		return err
	}
	lc.l1.setRaw(key, data, lc.l1TTL)
	return decode(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.l1.DeleteByPattern(ctx, pattern)
	return lc.l2.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.l2.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.l2.Unlock(ctx, key)
}

// Close releases the in-process layer and the Redis connection.
func (lc *LayeredCache) Close() error {
	_ = lc.l1.Close()
	return lc.l2.Close()
}

func (lc *LayeredCache) shadowTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < lc.l1TTL {
		return ttl
	}
	return lc.l1TTL
}

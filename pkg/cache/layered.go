package cache

import (
	"context"
	"time"
)

// LayeredCache reads through an in-process L1 to Redis. L1 entries live at
// most the configured L1 TTL, which bounds how long another replica's invalidation
// takes to be seen here.
type LayeredCache struct {
	l1    *MemoryCache
	l2    *RedisCache
	l1TTL time.Duration
}

func NewLayeredCache(l2 *RedisCache, opts ...LayeredOption) *LayeredCache {
	st := &layeredSettings{l1Size: 1000, l1TTL: 30 * time.Second}
	for _, opt := range opts {
		opt(st)
	}
	return &LayeredCache{
		l1:    NewMemoryCache(WithMemoryMaxSize(st.l1Size)),
		l2:    l2,
		l1TTL: st.l1TTL,
	}
}

func (lc *LayeredCache) l1Expiry(expiration time.Duration) time.Duration {
	if expiration > 0 && expiration < lc.l1TTL {
		return expiration
	}
	return lc.l1TTL
}

// Set writes Redis first; L1 is only filled once Redis accepted the value.
func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.l2.Set(ctx, key, data, expiration); err != nil {
		return err
	}
	lc.l1.setRaw(key, data, lc.l1Expiry(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if data, ok := lc.l1.getRaw(key); ok {
		return decode(data, dest)
	}
	data, err := lc.l2.getRaw(ctx, key)
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
	if err := lc.l1.DeleteByPattern(ctx, pattern); err != nil {
		return err
	}
	return lc.l2.DeleteByPattern(ctx, pattern)
}

// Close stops L1. The Redis client is owned and closed by whoever made it.
func (lc *LayeredCache) Close() error {
	return lc.l1.Close()
}

var _ Service = (*LayeredCache)(nil)

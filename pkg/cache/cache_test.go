package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Tenant string `json:"tenant"`
	N      int    `json:"n"`
}

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	rc, err := NewRedisCache(WithRedisHost(mr.Host()), WithRedisPort(port), WithRedisPrefix("cp"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestMemoryCacheGetTyped(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(10))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "s", "hello", time.Minute))
	var s string
	require.NoError(t, mc.Get(ctx, "s", &s))
	assert.Equal(t, "hello", s)

	require.NoError(t, mc.Set(ctx, "p", payload{Tenant: "t1", N: 3}, time.Minute))
	var p payload
	require.NoError(t, mc.Get(ctx, "p", &p))
	assert.Equal(t, payload{Tenant: "t1", N: 3}, p)

	var m map[string]interface{}
	require.NoError(t, mc.Get(ctx, "p", &m))
	assert.Equal(t, "t1", m["tenant"])

	assert.ErrorIs(t, mc.Get(ctx, "missing", &s), ErrCacheMiss)
}

func TestMemoryCacheExpiryAndEviction(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s)) // a is now most recent
	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))

	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
	assert.Equal(t, 2, mc.Len())

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, mc.Get(ctx, "a", &s), ErrCacheMiss)
	assert.Equal(t, 1, mc.Len())
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	for _, k := range []string{"api:t1:risk", "api:t1:insights", "api:t2:risk"} {
		require.NoError(t, mc.Set(ctx, k, "x", time.Minute))
	}
	require.NoError(t, mc.DeleteByPattern(ctx, BuildPattern("api:t1:")))

	var s string
	assert.ErrorIs(t, mc.Get(ctx, "api:t1:risk", &s), ErrCacheMiss)
	assert.ErrorIs(t, mc.Get(ctx, "api:t1:insights", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "api:t2:risk", &s))

	assert.Error(t, mc.DeleteByPattern(ctx, "api:["))
}

func TestMemoryCacheLockOwnership(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "lock:a", "w1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "lock:a", "w2", time.Minute)
	assert.False(t, ok)

	released, _ := mc.Unlock(ctx, "lock:a", "w2")
	assert.False(t, released)
	released, _ = mc.Unlock(ctx, "lock:a", "w1")
	assert.True(t, released)

	ok, _ = mc.TryLock(ctx, "lock:a", "w2", time.Minute)
	assert.True(t, ok)
}

func TestRedisCacheLockOwnership(t *testing.T) {
	ctx := context.Background()
	rc, mr := newRedis(t)

	ok, err := rc.TryLock(ctx, "lock:t1", "w1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	v, err := mr.Get("cp:lock:t1")
	require.NoError(t, err)
	assert.Equal(t, "w1", v)

	released, err := rc.Unlock(ctx, "lock:t1", "w2")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("cp:lock:t1"))

	released, err = rc.Unlock(ctx, "lock:t1", "w1")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("cp:lock:t1"))
}

func TestRedisCacheDeleteByPatternScans(t *testing.T) {
	ctx := context.Background()
	rc, mr := newRedis(t)

	for i := 0; i < scanBatch+20; i++ {
		require.NoError(t, rc.Set(ctx, Key("api", "t1", i), "x", time.Minute))
	}
	require.NoError(t, rc.Set(ctx, "api:t2:0", payload{Tenant: "t2"}, time.Minute))

	require.NoError(t, rc.DeleteByPattern(ctx, BuildPattern("api:t1:")))
	assert.Len(t, mr.Keys(), 1)

	var p payload
	require.NoError(t, rc.Get(ctx, "api:t2:0", &p))
	assert.Equal(t, "t2", p.Tenant)
}

func TestLayeredCache(t *testing.T) {
	ctx := context.Background()
	rc, mr := newRedis(t)

	lc := NewLayeredCache(rc, WithLayeredMemorySize(8), WithLayeredMemoryTTL(time.Minute))
	defer lc.Close()

	require.NoError(t, lc.Set(ctx, "api:t1:risk", `{"rows":1}`, time.Minute))
	assert.True(t, mr.Exists("cp:api:t1:risk"))

	// L1 miss falls through to Redis and is promoted.
	require.NoError(t, lc.l1.Delete(ctx, "api:t1:risk"))
	var s string
	require.NoError(t, lc.Get(ctx, "api:t1:risk", &s))
	assert.Equal(t, `{"rows":1}`, s)
	var again string
	require.NoError(t, lc.l1.Get(ctx, "api:t1:risk", &again))
	assert.Equal(t, s, again)

	require.NoError(t, lc.DeleteByPattern(ctx, BuildPattern("api:t1:")))
	assert.False(t, mr.Exists("cp:api:t1:risk"))
	assert.ErrorIs(t, lc.Get(ctx, "api:t1:risk", &s), ErrCacheMiss)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "api:t1:risk:delinquency", Key("api", "t1", "risk", "delinquency"))
	assert.Equal(t, "api", Key("api"))
	assert.Equal(t, "api:*", BuildPattern("api:"))
	assert.Len(t, HashKey("x"), 32)
}

package lock

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"ClinicPulse/pkg/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(ctx, "t1:forecast")
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, k.slots)
}

func TestKeyedMutexContextCancel(t *testing.T) {
	k := NewKeyedMutex()
	release, err := k.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := k.Acquire(context.Background(), "b")
	require.NoError(t, err)
	other()

	release()
	release()
	assert.Empty(t, k.slots)
}

func newRedisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	c, err := cache.NewRedisCache(cache.WithRedisHost(mr.Host()), cache.WithRedisPort(port), cache.WithRedisPrefix("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestDistributedLockerHoldsRedisKey(t *testing.T) {
	c, mr := newRedisCache(t)
	l := NewDistributedLocker(c, WithTTL(time.Minute), WithRetry(5*time.Millisecond))

	release, err := l.Acquire(context.Background(), "t1:risk")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:t1:risk"))

	// a second process sees the key as held
	peer := NewDistributedLocker(c, WithRetry(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = peer.Acquire(ctx, "t1:risk")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.False(t, mr.Exists("test:lock:t1:risk"))

	again, err := peer.Acquire(context.Background(), "t1:risk")
	require.NoError(t, err)
	again()
}

func TestDistributedLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	c, mr := newRedisCache(t)
	l := NewDistributedLocker(c, WithTTL(time.Second), WithRetry(5*time.Millisecond))

	release, err := l.Acquire(context.Background(), "t1:cohorts")
	require.NoError(t, err)

	// the TTL lapses and another replica takes the lock
	mr.FastForward(2 * time.Second)
	peer := NewDistributedLocker(c, WithTTL(time.Minute))
	peerRelease, err := peer.Acquire(context.Background(), "t1:cohorts")
	require.NoError(t, err)

	release()
	assert.True(t, mr.Exists("test:lock:t1:cohorts"))

	peerRelease()
	assert.False(t, mr.Exists("test:lock:t1:cohorts"))
}

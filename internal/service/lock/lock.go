package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	domrepo "ClinicPulse/internal/domain/repository"
	"ClinicPulse/pkg/cache"

	"github.com/google/uuid"
)

// KeyedMutex serializes holders of the same key inside one process.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

var _ domrepo.Locker = (*KeyedMutex)(nil)

// Acquire blocks until key is free or ctx is done.
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				k.drop(key, s)
			})
		}, nil
	case <-ctx.Done():
		k.drop(key, s)
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) drop(key string, s *slot) {
	k.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
	k.mu.Unlock()
}

// DistributedLocker holds a cache lock (SET NX with TTL and an owner token) so
// only one process recomputes a key at a time. The TTL bounds a crashed holder.
type DistributedLocker struct {
	cache cache.LockService
	local *KeyedMutex
	ttl   time.Duration
	retry time.Duration
}

// Option configures DistributedLocker.
type Option func(*DistributedLocker)

func WithTTL(d time.Duration) Option {
	return func(l *DistributedLocker) {
		if d > 0 {
			l.ttl = d
		}
	}
}

func WithRetry(d time.Duration) Option {
	return func(l *DistributedLocker) {
		if d > 0 {
			l.retry = d
		}
	}
}

func NewDistributedLocker(c cache.LockService, opts ...Option) *DistributedLocker {
	l := &DistributedLocker{
		cache: c,
		local: NewKeyedMutex(),
		ttl:   5 * time.Minute,
		retry: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ domrepo.Locker = (*DistributedLocker)(nil)

func (l *DistributedLocker) Acquire(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := l.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	lockKey := "lock:" + key
	owner := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.cache.TryLock(ctx, lockKey, owner, l.ttl)
		if err != nil {
			releaseLocal()
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			releaseLocal()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = l.cache.Unlock(ctx, lockKey, owner)
			releaseLocal()
		})
	}, nil
}

package cache

import (
	"container/list"
	"context"
	"fmt"
	"path"
	"sync"
	"time"
)

type memEntry struct {
	key      string
	data     []byte
	expireAt time.Time
}

// MemoryCache is a size-bounded LRU held in process. Expired entries are
// dropped on access and by a periodic sweep.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	lru        *list.List // front is most recently used
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	st := &memorySettings{maxSize: 1000, defaultTTL: 24 * time.Hour, sweepEvery: 5 * time.Minute}
	for _, opt := range opts {
		opt(st)
	}

	mc := &MemoryCache{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		maxSize:    st.maxSize,
		defaultTTL: st.defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go mc.sweep(st.sweepEvery)
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.setRaw(key, data, expiration)
	return nil
}

func (mc *MemoryCache) setRaw(key string, data []byte, expiration time.Duration) {
	if expiration <= 0 {
		expiration = mc.defaultTTL
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	e := &memEntry{key: key, data: data, expireAt: mc.now().Add(expiration)}
	if el, ok := mc.items[key]; ok {
		el.Value = e
		mc.lru.MoveToFront(el)
		return
	}
	for mc.lru.Len() >= mc.maxSize {
		mc.removeElement(mc.lru.Back())
	}
	mc.items[key] = mc.lru.PushFront(e)
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	data, ok := mc.getRaw(key)
	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (mc *MemoryCache) getRaw(key string) ([]byte, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	el, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memEntry)
	if !mc.now().Before(e.expireAt) {
		mc.removeElement(el)
		return nil, false
	}
	mc.lru.MoveToFront(el)
	return e.data, true
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		if el, ok := mc.items[k]; ok {
			mc.removeElement(el)
		}
	}
	return nil
}

// DeleteByPattern accepts path.Match globs, which covers BuildPattern output.
func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("cache: pattern %q: %w", pattern, err)
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for k, el := range mc.items {
		if ok, _ := path.Match(pattern, k); ok {
			mc.removeElement(el)
		}
	}
	return nil
}

// Len counts entries, expired or not.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.lru.Len()
}

func (mc *MemoryCache) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if el, ok := mc.items[key]; ok && mc.now().Before(el.Value.(*memEntry).expireAt) {
		return false, nil
	}
	if el, ok := mc.items[key]; ok {
		mc.removeElement(el)
	}
	mc.items[key] = mc.lru.PushFront(&memEntry{key: key, data: []byte(owner), expireAt: mc.now().Add(ttl)})
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key, owner string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	el, ok := mc.items[key]
	if !ok || string(el.Value.(*memEntry).data) != owner {
		return false, nil
	}
	mc.removeElement(el)
	return true, nil
}

func (mc *MemoryCache) removeElement(el *list.Element) {
	mc.lru.Remove(el)
	delete(mc.items, el.Value.(*memEntry).key)
}

func (mc *MemoryCache) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-t.C:
			mc.mu.Lock()
			now := mc.now()
			for _, el := range mc.items {
				if !now.Before(el.Value.(*memEntry).expireAt) {
					mc.removeElement(el)
				}
			}
			mc.mu.Unlock()
		}
	}
}

// Close stops the sweeper.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}

var (
	_ Service     = (*MemoryCache)(nil)
	_ LockService = (*MemoryCache)(nil)
)

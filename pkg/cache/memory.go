package cache

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"
)

type memEntry struct {
	key      string
	data     []byte
	expireAt time.Time // zero means no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemoryCache is an in-process LRU cache. A ttl <= 0 means no expiry, as
// in Redis.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List // front is most recently used
	max     int
	owner   string
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once
}

var _ Service = (*MemoryCache)(nil)

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &memoryConfig{maxEntries: 1000, sweepEvery: time.Minute}
	for _, o := range opts {
		o(cfg)
	}
	c := &MemoryCache{
		items: make(map[string]*list.Element),
		lru:   list.New(),
		max:   cfg.maxEntries,
		owner: newOwner(),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	go c.sweep(cfg.sweepEvery)
	return c
}

func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.put(key, data, ttl)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) error {
	encoded := make(map[string][]byte, len(values))
	for k, v := range values {
		data, err := encode(v)
		if err != nil {
			return err
		}
		encoded[k] = data
	}
	c.mu.Lock()
	for k, data := range encoded {
		c.put(k, data, ttl)
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	data, ok := c.raw(key)
	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (c *MemoryCache) raw(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memEntry)
	if e.expired(c.now()) {
		c.remove(el)
		return nil, false
	}
	c.lru.MoveToFront(el)
	return e.data, true
}

func (c *MemoryCache) setRaw(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	c.put(key, data, ttl)
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		if el, ok := c.items[k]; ok {
			c.remove(el)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return err
	}
	c.mu.Lock()
	for k, el := range c.items {
		if ok, _ := path.Match(pattern, k); ok {
			c.remove(el)
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok && !el.Value.(*memEntry).expired(c.now()) {
		return false, nil
	}
	c.put(key, []byte(c.owner), ttl)
	return true, nil
}

func (c *MemoryCache) Unlock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok && string(el.Value.(*memEntry).data) == c.owner {
		c.remove(el)
	}
	return nil
}

// Len counts live and not yet swept entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *MemoryCache) Close() error {
	c.stopped.Do(func() { close(c.stop) })
	return nil
}

// put requires c.mu.
func (c *MemoryCache) put(key string, data []byte, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	if el, ok := c.items[key]; ok {
		e := el.Value.(*memEntry)
		e.data, e.expireAt = data, exp
		c.lru.MoveToFront(el)
		return
	}
	c.items[key] = c.lru.PushFront(&memEntry{key: key, data: data, expireAt: exp})
	for c.max > 0 && c.lru.Len() > c.max {
		c.remove(c.lru.Back())
	}
}

func (c *MemoryCache) remove(el *list.Element) {
	c.lru.Remove(el)
	delete(c.items, el.Value.(*memEntry).key)
}

func (c *MemoryCache) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.mu.Lock()
			now := c.now()
			for el := c.lru.Back(); el != nil; {
				prev := el.Prev()
				if el.Value.(*memEntry).expired(now) {
					c.remove(el)
				}
				el = prev
			}
			c.mu.Unlock()
		}
	}
}

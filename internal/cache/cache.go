package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"dify2ollama/internal/core"
)

// LRUCache is a thread-safe, capacity-bounded cache whose entries expire.
// A background worker sweeps expired entries until Stop is called.
type LRUCache struct {
	capacity int
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List
	now      func() time.Time
	cancel   context.CancelFunc
	stopOnce sync.Once
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// NewCache creates a cache holding at most capacity entries. A non-positive
// capacity falls back to core.CacheDefaultCapacity.
func NewCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = core.CacheDefaultCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &LRUCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
		cancel:   cancel,
	}
	go c.cleanupLoop(ctx, core.CacheCleanupInterval)
	return c
}

func (c *LRUCache) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates the cleanup worker. It is safe to call more than once.
func (c *LRUCache) Stop() {
	c.stopOnce.Do(c.cancel)
}

// Set stores value under key for ttl, evicting the least recently used entry
// when the cache is full.
func (c *LRUCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	for len(c.items) > c.capacity {
		c.removeElement(c.order.Back())
	}
}

// Get returns the value for key; expired entries are dropped and reported missing.
func (c *LRUCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Delete removes key if present.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of stored entries, including ones not yet swept.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear drops every entry.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

func (c *LRUCache) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

func (c *LRUCache) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeElement(el)
		}
		el = prev
	}
}

var _ core.Cache = (*LRUCache)(nil)

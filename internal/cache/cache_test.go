package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"dify2ollama/internal/core"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, capacity int) (*LRUCache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache(capacity)
	c.now = clock.Now
	t.Cleanup(c.Stop)
	return c, clock
}

func TestLRUCache_BasicSetGet(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Set("key1", "value1", time.Hour)

	value, found := c.Get("key1")
	if !found {
		t.Fatal("Expected to find key1")
	}
	if value != "value1" {
		t.Errorf("Expected 'value1', got '%v'", value)
	}
}

func TestLRUCache_GetNonExistent(t *testing.T) {
	c, _ := newTestCache(t, 10)
	if _, found := c.Get("nonexistent"); found {
		t.Error("Should not find nonexistent key")
	}
}

func TestLRUCache_Expiration(t *testing.T) {
	c, clock := newTestCache(t, 10)
	c.Set("key", "value", time.Minute)

	if _, found := c.Get("key"); !found {
		t.Fatal("Key should be found immediately after set")
	}
	clock.Advance(2 * time.Minute)
	if _, found := c.Get("key"); found {
		t.Error("Key should be expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired key should be dropped on read, Len=%d", c.Len())
	}
}

func TestLRUCache_Eviction(t *testing.T) {
	c, _ := newTestCache(t, 2)
	c.Set("key1", "value1", time.Hour)
	c.Set("key2", "value2", time.Hour)
	c.Set("key3", "value3", time.Hour)

	if _, found := c.Get("key1"); found {
		t.Error("key1 should be evicted")
	}
	for _, key := range []string{"key2", "key3"} {
		if _, found := c.Get(key); !found {
			t.Errorf("%s should exist", key)
		}
	}
}

func TestLRUCache_LRUOrder(t *testing.T) {
	c, _ := newTestCache(t, 2)
	c.Set("key1", "value1", time.Hour)
	c.Set("key2", "value2", time.Hour)
	c.Get("key1")
	c.Set("key3", "value3", time.Hour)

	if _, found := c.Get("key2"); found {
		t.Error("key2 should be evicted as least recently used")
	}
	if _, found := c.Get("key1"); !found {
		t.Error("key1 was touched and should survive")
	}
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Set("key", "old", time.Hour)
	c.Set("key", "new", time.Hour)

	value, _ := c.Get("key")
	if value != "new" {
		t.Errorf("期望 'new'，实际 '%v'", value)
	}
	if c.Len() != 1 {
		t.Errorf("期望 1 个条目，实际 %d", c.Len())
	}
}

func TestLRUCache_Delete(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Set("key", "value", time.Hour)
	c.Delete("key")
	c.Delete("missing")

	if _, found := c.Get("key"); found {
		t.Error("deleted key should be gone")
	}
}

func TestLRUCache_Clear(t *testing.T) {
	c, _ := newTestCache(t, 10)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Hour)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("期望 0，实际 %d", c.Len())
	}
	c.Set("after", 1, time.Hour)
	if _, found := c.Get("after"); !found {
		t.Error("cache should be usable after Clear")
	}
}

func TestLRUCache_PurgeExpired(t *testing.T) {
	c, clock := newTestCache(t, 10)
	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	clock.Advance(time.Minute)

	c.purgeExpired()

	if c.Len() != 1 {
		t.Fatalf("期望 1，实际 %d", c.Len())
	}
	if _, found := c.Get("long"); !found {
		t.Error("long-lived key should survive purge")
	}
}

func TestLRUCache_NonPositiveTTL(t *testing.T) {
	c, clock := newTestCache(t, 10)
	c.Set("zero", "v", 0)
	c.Set("negative", "v", -time.Second)
	clock.Advance(time.Nanosecond)

	if _, found := c.Get("zero"); found {
		t.Error("zero TTL entries should expire immediately")
	}
	if _, found := c.Get("negative"); found {
		t.Error("negative TTL entries should never be readable")
	}
}

func TestLRUCache_DefaultCapacity(t *testing.T) {
	c := NewCache(0)
	defer c.Stop()
	if c.capacity != core.CacheDefaultCapacity {
		t.Errorf("期望 %d，实际 %d", core.CacheDefaultCapacity, c.capacity)
	}
}

func TestLRUCache_StopIdempotent(t *testing.T) {
	c := NewCache(1)
	c.Stop()
	c.Stop()
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, 100)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", n, j%10)
				c.Set(key, j, time.Hour)
				c.Get(key)
				if j%7 == 0 {
					c.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("cache grew past capacity: %d", c.Len())
	}
}

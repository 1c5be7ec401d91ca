package session

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"dify2ollama/internal/cache"
	"dify2ollama/internal/core"
)

// MemoryStore keeps sessions in a bounded in-process LRU cache.
type MemoryStore struct {
	cache *cache.LRUCache
}

// NewMemoryStore creates a store holding at most capacity sessions.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{cache: cache.NewCache(capacity)}
}

// Save implements core.SessionStore.
func (m *MemoryStore) Save(_ context.Context, s *core.Session, ttl time.Duration) error {
	copied := *s
	m.cache.Set(s.ID, &copied, ttl)
	return nil
}

// Load implements core.SessionStore.
func (m *MemoryStore) Load(_ context.Context, id string) (*core.Session, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, nil
	}
	s, ok := v.(*core.Session)
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

// Delete implements core.SessionStore.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.cache.Delete(id)
	return nil
}

// Close stops the cache cleanup worker.
func (m *MemoryStore) Close() error {
	m.cache.Stop()
	return nil
}

// RedisStore keeps sessions as JSON values with a Redis TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore uses client; keys are prefixed with core.SessionRedisPrefix.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: core.SessionRedisPrefix}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Save implements core.SessionStore.
func (r *RedisStore) Save(ctx context.Context, s *core.Session, ttl time.Duration) error {
	data, err := sonic.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(s.ID), data, ttl).Err()
}

// Load implements core.SessionStore.
func (r *RedisStore) Load(ctx context.Context, id string) (*core.Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var s core.Session
	if err := sonic.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Delete implements core.SessionStore.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

// Close is a no-op; the shared client is closed by its owner.
func (r *RedisStore) Close() error {
	return nil
}

// NewStore picks Redis when a client is available, memory otherwise.
func NewStore(client *redis.Client, logger core.Logger) core.SessionStore {
	if client != nil {
		logger.Info("Using Redis session store")
		return NewRedisStore(client)
	}
	logger.Info("Using in-memory session store")
	return NewMemoryStore(core.SessionCacheCapacity)
}

var (
	_ core.SessionStore = (*MemoryStore)(nil)
	_ core.SessionStore = (*RedisStore)(nil)
)

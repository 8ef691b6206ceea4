package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Store.Get when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Entry is one cached value plus the per-key version counter observed
// when it was stored. Entries whose version lags the key's current
// counter are stale and must not be served.
type Entry struct {
	Value   []byte `json:"value"`
	Version int64  `json:"version"`
}

// Store is a key-value backend with TTL and an atomic per-key version
// counter used as an invalidation tombstone.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Bump(ctx context.Context, key string) error
	Version(ctx context.Context, key string) (int64, error)
}

const (
	redisEntryPrefix   = "cache:"
	redisVersionPrefix = "cachever:"
)

// RedisStore backs the cache with Redis, using INCR for version bumps.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	raw, err := s.client.Get(ctx, redisEntryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Undecodable payload is as good as a miss.
		return Entry{}, ErrMiss
	}
	return e, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisEntryPrefix+key, raw, ttl).Err()
}

func (s *RedisStore) Bump(ctx context.Context, key string) error {
	return s.client.Incr(ctx, redisVersionPrefix+key).Err()
}

func (s *RedisStore) Version(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, redisVersionPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// MemoryStore is an in-process Store used when Redis is not configured,
// and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	versions map[string]int64
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		versions: make(map[string]int64),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrMiss
	}
	if time.Now().After(me.expiresAt) {
		delete(s.entries, key)
		return Entry{}, ErrMiss
	}
	return me.entry, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{entry: e, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Bump(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[key]++
	return nil
}

func (s *MemoryStore) Version(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[key], nil
}

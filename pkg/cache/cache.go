// Package cache is the edge-node read cache for video verdicts. Nodes
// consult it before paying for a full lookup; hits mean a video already
// known to the mesh skips re-analysis.
//
// Two implementations share one interface: Redis for multi-process fleets
// and an in-memory TTL map for single-node deployments and tests.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinelmesh/core/pkg/contracts"
)

// ErrMiss is returned when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// DefaultTTL is how long a cached verdict stays fresh.
const DefaultTTL = 15 * time.Minute

// VerdictCache stores and retrieves video verdicts by content hash.
type VerdictCache interface {
	GetVerdict(ctx context.Context, hash contracts.Hash) (contracts.VideoRecord, error)
	PutVerdict(ctx context.Context, rec contracts.VideoRecord) error
	Invalidate(ctx context.Context, hash contracts.Hash) error
}

func verdictKey(hash contracts.Hash) string {
	return "video:" + hash.String()
}

// RedisCache is the Redis-backed verdict cache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects a cache to Redis.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb, ttl: ttl}
}

// GetVerdict fetches a cached record.
func (c *RedisCache) GetVerdict(ctx context.Context, hash contracts.Hash) (contracts.VideoRecord, error) {
	raw, err := c.client.Get(ctx, verdictKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return contracts.VideoRecord{}, ErrMiss
	}
	if err != nil {
		return contracts.VideoRecord{}, fmt.Errorf("cache: get %s: %w", hash.Short(), err)
	}
	var rec contracts.VideoRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return contracts.VideoRecord{}, fmt.Errorf("cache: corrupt entry %s: %w", hash.Short(), err)
	}
	return rec, nil
}

// PutVerdict stores a record with the configured TTL.
func (c *RedisCache) PutVerdict(ctx context.Context, rec contracts.VideoRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, verdictKey(rec.ContentHash), raw, c.ttl).Err()
}

// Invalidate drops a cached record.
func (c *RedisCache) Invalidate(ctx context.Context, hash contracts.Hash) error {
	return c.client.Del(ctx, verdictKey(hash)).Err()
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

type memoryEntry struct {
	rec       contracts.VideoRecord
	expiresAt time.Time
}

// MemoryCache is the in-process fallback. Safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	clock   func() time.Time
}

// NewMemoryCache creates an in-process cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *MemoryCache) WithClock(clock func() time.Time) *MemoryCache {
	c.clock = clock
	return c
}

// GetVerdict fetches a cached record, expiring it lazily.
func (c *MemoryCache) GetVerdict(_ context.Context, hash contracts.Hash) (contracts.VideoRecord, error) {
	key := verdictKey(hash)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return contracts.VideoRecord{}, ErrMiss
	}
	if c.clock().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return contracts.VideoRecord{}, ErrMiss
	}
	return e.rec, nil
}

// PutVerdict stores a record with the configured TTL.
func (c *MemoryCache) PutVerdict(_ context.Context, rec contracts.VideoRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[verdictKey(rec.ContentHash)] = memoryEntry{
		rec:       rec,
		expiresAt: c.clock().Add(c.ttl),
	}
	return nil
}

// Invalidate drops a cached record.
func (c *MemoryCache) Invalidate(_ context.Context, hash contracts.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, verdictKey(hash))
	return nil
}

// Len returns the number of live entries, counting expired-but-unswept ones.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

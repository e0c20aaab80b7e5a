package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/logging"
)

// LoadFunc fetches the full project list from the record store.
type LoadFunc func(ctx context.Context) ([]Project, error)

// Cache holds the project list for a fixed TTL. On a miss or after expiry it
// calls load and keeps the result. Load errors are returned and not cached.
type Cache interface {
	GetOrRefresh(ctx context.Context, load LoadFunc) ([]Project, error)
	// Invalidate drops the cached list so the next call reloads it.
	Invalidate(ctx context.Context) error
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)

// MemoryCache is a process-local Cache. It is safe for concurrent use.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	projects []Project
	loadedAt time.Time
	loaded   bool
}

// NewMemoryCache creates a process-local cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return NewMemoryCacheWithClock(ttl, time.Now)
}

// NewMemoryCacheWithClock is NewMemoryCache with an injectable clock for tests.
func NewMemoryCacheWithClock(ttl time.Duration, now func() time.Time) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: now}
}

// GetOrRefresh implements Cache.
func (c *MemoryCache) GetOrRefresh(ctx context.Context, load LoadFunc) ([]Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && c.now().Sub(c.loadedAt) < c.ttl {
		return c.projects, nil
	}

	projects, err := load(ctx)
	if err != nil {
		return nil, err
	}

	c.projects = projects
	c.loadedAt = c.now()
	c.loaded = true
	return projects, nil
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects = nil
	c.loaded = false
	return nil
}

// RedisCache shares the project list between workers through Redis.
// The list is stored as JSON under "<prefix>:projects" with a TTL.
// If Redis is unreachable the list is loaded directly and not cached.
type RedisCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
	log *logging.Logger
}

// NewRedisCache creates a Redis-backed cache. log may be nil.
func NewRedisCache(opts *redis.Options, prefix string, ttl time.Duration, log *logging.Logger) (*RedisCache, error) {
	if prefix == "" {
		return nil, fmt.Errorf("cache key prefix cannot be empty")
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &RedisCache{
		rdb: redis.NewClient(opts),
		key: ProjectsKey(prefix),
		ttl: ttl,
		log: log,
	}, nil
}

// ProjectsKey returns the Redis key holding the project list.
func ProjectsKey(prefix string) string {
	return prefix + ":projects"
}

// Ping verifies Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// GetOrRefresh implements Cache.
func (c *RedisCache) GetOrRefresh(ctx context.Context, load LoadFunc) ([]Project, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		var projects []Project
		if jsonErr := json.Unmarshal(data, &projects); jsonErr == nil {
			return projects, nil
		}
		c.log.Warn(ctx, "discarding malformed cached project list", zap.String("key", c.key))
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn(ctx, "project cache read failed", zap.Error(err))
	}

	projects, err := load(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(projects)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project list: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, payload, c.ttl).Err(); err != nil {
		c.log.Warn(ctx, "project cache write failed", zap.Error(err))
	}
	return projects, nil
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}

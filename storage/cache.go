package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

const (
	projectsCacheKey  = "projects"
	overridesCacheKey = "overrides"
)

type backend interface {
	LoadProjects(ctx context.Context) ([]domain.Project, error)
	SaveProjects(ctx context.Context, projects []domain.Project) error
	LoadOverrides(ctx context.Context) (domain.Overrides, error)
	PutOverride(ctx context.Context, id string, o domain.StatusOverride) error
	DeleteOverride(ctx context.Context, id string) error
	PublishChange(ctx context.Context, ev domain.ChangeEvent) error
}

// Cache wraps a backend with Redis-backed caching for the two documents.
// Every write bumps the generation of its key; a load that started before the
// bump does not repopulate the cache.
type Cache struct {
	base   backend
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger

	mu   sync.Mutex
	gens map[string]uint64
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client disables caching.
func NewCache(base backend, client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{base: base, redis: client, ttl: ttl, logger: logger, gens: map[string]uint64{}}
}

func (c *Cache) LoadProjects(ctx context.Context) ([]domain.Project, error) {
	var projects []domain.Project
	if c.load(ctx, projectsCacheKey, &projects) {
		return projects, nil
	}
	gen := c.generation(projectsCacheKey)
	projects, err := c.base.LoadProjects(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, projectsCacheKey, gen, projects)
	return projects, nil
}

func (c *Cache) SaveProjects(ctx context.Context, projects []domain.Project) error {
	if err := c.base.SaveProjects(ctx, projects); err != nil {
		return err
	}
	c.evict(ctx, projectsCacheKey)
	return nil
}

func (c *Cache) LoadOverrides(ctx context.Context) (domain.Overrides, error) {
	var overrides domain.Overrides
	if c.load(ctx, overridesCacheKey, &overrides) {
		return overrides, nil
	}
	gen := c.generation(overridesCacheKey)
	overrides, err := c.base.LoadOverrides(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, overridesCacheKey, gen, overrides)
	return overrides, nil
}

func (c *Cache) PutOverride(ctx context.Context, id string, o domain.StatusOverride) error {
	if err := c.base.PutOverride(ctx, id, o); err != nil {
		return err
	}
	c.evict(ctx, overridesCacheKey)
	return nil
}

func (c *Cache) DeleteOverride(ctx context.Context, id string) error {
	if err := c.base.DeleteOverride(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, overridesCacheKey)
	return nil
}

func (c *Cache) PublishChange(ctx context.Context, ev domain.ChangeEvent) error {
	return c.base.PublishChange(ctx, ev)
}

// Invalidate drops both cached documents so the next load hits the backend.
func (c *Cache) Invalidate(ctx context.Context) {
	c.evict(ctx, projectsCacheKey, overridesCacheKey)
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			c.logger.WithFields(log.Fields{"key": key, "error": err}).Warn("Cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key]
}

// store caches v unless key was written since gen was read.
func (c *Cache) store(ctx context.Context, key string, gen uint64, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithFields(log.Fields{"key": key, "error": err}).Warn("Cache write failed")
	}
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.gens[k]++
	}
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

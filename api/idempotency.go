package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	idempotencyKeyPrefix = "caribou:idem:"
)

// RedisDeduper stores seen idempotency keys in Redis so a retried write is
// applied once.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(editor, key string) string {
	return fmt.Sprintf("%s%s:%s", idempotencyKeyPrefix, editor, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, editor, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(editor, key), 1, r.ttl).Result()
}

// Remove deletes a recorded key so the caller may retry a failed write.
func (r *RedisDeduper) Remove(ctx context.Context, editor, key string) error {
	return r.client.Del(ctx, r.key(editor, key)).Err()
}

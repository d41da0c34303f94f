package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache abstracts the Redis operations used by the use case to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	// IncrWindow increments a counter that expires window after its
	// first increment and returns the new value.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

var incrWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// IncrWindow implements Cache with a single round trip script.
func (c *RedisCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}
	return incrWindowScript.Run(ctx, c.client, []string{key}, windowMillis).Int64()
}

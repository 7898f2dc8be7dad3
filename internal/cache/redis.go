package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const generationKey = "analytics:gen"

// RedisAnalyticsCache namespaces every entry under a generation counter.
// Invalidate bumps the counter, so stale entries become unreachable and
// expire on their own TTL.
type RedisAnalyticsCache struct {
	client *redis.Client
	prefix string
}

func NewRedisAnalyticsCache(addr string, password string, db int) *RedisAnalyticsCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisAnalyticsCache{client: client, prefix: "rollyshop:"}
}

func (c *RedisAnalyticsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisAnalyticsCache) Close() error {
	return c.client.Close()
}

// Generation is the current namespace counter; zero before the first
// invalidation.
func (c *RedisAnalyticsCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.prefix+generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisAnalyticsCache) Get(ctx context.Context, gen int64, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, entryKey(c.prefix, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisAnalyticsCache) Set(ctx context.Context, gen int64, key string, value []byte, ttl time.Duration) error {
	if len(value) == 0 {
		return nil
	}
	return c.client.Set(ctx, entryKey(c.prefix, gen, key), value, ttl).Err()
}

func (c *RedisAnalyticsCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.prefix+generationKey).Err()
}

func entryKey(prefix string, gen int64, key string) string {
	return fmt.Sprintf("%sanalytics:%d:%s", prefix, gen, key)
}

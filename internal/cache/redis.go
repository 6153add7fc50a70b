// Package cache holds recently fetched availability payloads so the HTTP API
// can answer without hitting the upstream on every request. Entries carry
// their stored-at time; readers decide how much staleness they tolerate.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// envelope wraps cached bytes with the time they were stored so age survives
// the round trip through redis.
type envelope struct {
	StoredAt time.Time `json:"stored_at"`
	Data     []byte    `json:"data"`
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	data, age, ok, _ := c.get(ctx, key)
	return data, age, ok
}

// get separates "redis unreachable" from a plain miss so the failover tier
// can tell them apart.
func (c *RedisCache) get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	raw, err := c.client.Get(ctx, "cache:"+key).Bytes()
	if err == redis.Nil {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, false, nil
	}
	return env.Data, time.Since(env.StoredAt), true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, data []byte) error {
	raw, err := json.Marshal(envelope{StoredAt: time.Now(), Data: data})
	if err != nil {
		return fmt.Errorf("encode cache envelope: %w", err)
	}
	if err := c.client.Set(ctx, "cache:"+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Ping lets callers verify connectivity before trusting the redis tier.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

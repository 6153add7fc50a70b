package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// retryAfter is how long a failed redis tier stays benched before the next
// probe.
const retryAfter = time.Minute

// FailoverCache serves from redis while it is healthy and degrades to the
// in-process tier when it is not. Writes always land in the memory tier too,
// so a redis outage never empties the cache.
type FailoverCache struct {
	primary  *RedisCache
	fallback *MemoryCache
	logger   *zerolog.Logger
	isDown   atomic.Bool
	downAt   atomic.Int64
}

func NewFailoverCache(primary *RedisCache, fallback *MemoryCache, logger *zerolog.Logger) *FailoverCache {
	return &FailoverCache{primary: primary, fallback: fallback, logger: logger}
}

func (c *FailoverCache) markDown(err error) {
	if c.isDown.CompareAndSwap(false, true) {
		c.logger.Error().Err(err).Msg("redis cache failed, falling back to memory")
	}
	c.downAt.Store(time.Now().UnixNano())
}

func (c *FailoverCache) shouldProbe() bool {
	return time.Since(time.Unix(0, c.downAt.Load())) > retryAfter
}

func (c *FailoverCache) Get(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	if !c.isDown.Load() || c.shouldProbe() {
		data, age, ok, err := c.primary.get(ctx, key)
		if err == nil {
			if c.isDown.CompareAndSwap(true, false) {
				c.logger.Info().Msg("redis cache recovered")
			}
			if ok {
				return data, age, true
			}
			// genuine miss in redis; the memory tier may still hold it
			return c.fallback.Get(ctx, key)
		}
		c.markDown(err)
	}
	return c.fallback.Get(ctx, key)
}

func (c *FailoverCache) Put(ctx context.Context, key string, data []byte) error {
	_ = c.fallback.Put(ctx, key, data)

	if !c.isDown.Load() || c.shouldProbe() {
		if err := c.primary.Put(ctx, key, data); err != nil {
			c.markDown(err)
			return nil
		}
		if c.isDown.CompareAndSwap(true, false) {
			c.logger.Info().Msg("redis cache recovered")
		}
	}
	return nil
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, ttl), mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c, _ := newRedisCache(t, time.Minute)
	ctx := context.Background()

	_, _, ok := c.Get(ctx, "availability:downtown:2026-09-10:2")
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "availability:downtown:2026-09-10:2", []byte(`{"slots":[]}`)))

	data, age, ok := c.Get(ctx, "availability:downtown:2026-09-10:2")
	require.True(t, ok)
	assert.Equal(t, `{"slots":[]}`, string(data))
	assert.GreaterOrEqual(t, age, time.Duration(0))
	assert.Less(t, age, time.Minute)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := newRedisCache(t, time.Second)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v")))
	mr.FastForward(2 * time.Second)

	_, _, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(50 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v")))
	_, _, ok := c.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, _, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestFailoverCache_DegradesToMemory(t *testing.T) {
	rc, mr := newRedisCache(t, time.Minute)
	mem := NewMemoryCache(time.Minute)
	logger := zerolog.Nop()
	fc := NewFailoverCache(rc, mem, &logger)
	ctx := context.Background()

	require.NoError(t, fc.Put(ctx, "k", []byte("v")))
	data, _, ok := fc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(data))

	// kill redis; reads must keep working from the memory tier
	mr.Close()
	data, _, ok = fc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(data))

	// writes while down land in memory and do not error
	require.NoError(t, fc.Put(ctx, "k2", []byte("v2")))
	data, _, ok = fc.Get(ctx, "k2")
	require.True(t, ok)
	assert.Equal(t, "v2", string(data))
}

func TestFailoverCache_MissFallsThrough(t *testing.T) {
	rc, _ := newRedisCache(t, time.Minute)
	mem := NewMemoryCache(time.Minute)
	logger := zerolog.Nop()
	fc := NewFailoverCache(rc, mem, &logger)
	ctx := context.Background()

	// seed only the memory tier
	require.NoError(t, mem.Put(ctx, "mem-only", []byte("x")))

	data, _, ok := fc.Get(ctx, "mem-only")
	require.True(t, ok, "redis miss should still consult the memory tier")
	assert.Equal(t, "x", string(data))
}

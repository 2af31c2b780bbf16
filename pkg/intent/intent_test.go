package intent

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudcareercoach/api/pkg/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := cache.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, ttl), mr
}

func sampleIntent(sessionID string) PendingIntent {
	return PendingIntent{
		SessionID:     sessionID,
		PackageID:     "monthly",
		DisplayAmount: "$29.99",
		InitiatedAt:   time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}
}

// cacheContract runs the behaviour every Cache implementation must share
func cacheContract(t *testing.T, c Cache) {
	ctx := context.Background()

	t.Run("empty scope", func(t *testing.T) {
		in, ok, err := c.Get(ctx, "browser-empty")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, in)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "browser-a", sampleIntent("cs_test_1")))

		in, ok, err := c.Get(ctx, "browser-a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, sampleIntent("cs_test_1"), *in)
	})

	t.Run("put overwrites", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "browser-b", sampleIntent("cs_test_old")))
		newer := sampleIntent("cs_test_new")
		newer.PackageID = "yearly"
		newer.DisplayAmount = "$299.99"
		require.NoError(t, c.Put(ctx, "browser-b", newer))

		in, ok, err := c.Get(ctx, "browser-b")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, newer, *in)
	})

	t.Run("scopes are isolated", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "browser-c", sampleIntent("cs_test_c")))
		require.NoError(t, c.Clear(ctx, "browser-d"))

		_, ok, err := c.Get(ctx, "browser-c")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "browser-e", sampleIntent("cs_test_e")))
		require.NoError(t, c.Clear(ctx, "browser-e"))

		_, ok, err := c.Get(ctx, "browser-e")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("clear session only removes matching intent", func(t *testing.T) {
		require.NoError(t, c.Put(ctx, "browser-f", sampleIntent("cs_test_newer")))

		cleared, err := c.ClearSession(ctx, "browser-f", "cs_test_older")
		require.NoError(t, err)
		assert.False(t, cleared)
		_, ok, _ := c.Get(ctx, "browser-f")
		assert.True(t, ok)

		cleared, err = c.ClearSession(ctx, "browser-f", "cs_test_newer")
		require.NoError(t, err)
		assert.True(t, cleared)
		_, ok, _ = c.Get(ctx, "browser-f")
		assert.False(t, ok)
	})

	t.Run("clear session on empty scope", func(t *testing.T) {
		cleared, err := c.ClearSession(ctx, "browser-none", "cs_test_x")
		require.NoError(t, err)
		assert.False(t, cleared)
	})
}

func TestRedisCache_Contract(t *testing.T) {
	c, _ := setupRedisCache(t, time.Hour)
	cacheContract(t, c)
}

func TestMemoryCache_Contract(t *testing.T) {
	c := NewMemoryCache(time.Hour, 0)
	defer c.Close()
	cacheContract(t, c)
}

func TestRedisCache_UsesConstantSlotKey(t *testing.T) {
	c, mr := setupRedisCache(t, time.Hour)

	require.NoError(t, c.Put(context.Background(), "browser-1", sampleIntent("cs_test_1")))

	assert.True(t, mr.Exists("pending_intent:browser-1"))
	assert.Equal(t, "cs_test_1", mr.HGet("pending_intent:browser-1", "session_id"))
}

func TestRedisCache_Expires(t *testing.T) {
	c, mr := setupRedisCache(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "browser-1", sampleIntent("cs_test_1")))
	mr.FastForward(31 * time.Minute)

	_, ok, err := c.Get(ctx, "browser-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_CorruptTimestamp(t *testing.T) {
	c, mr := setupRedisCache(t, time.Hour)
	mr.HSet("pending_intent:browser-1", "session_id", "cs_test_1")
	mr.HSet("pending_intent:browser-1", "initiated_at", "yesterday")

	_, _, err := c.Get(context.Background(), "browser-1")
	assert.Error(t, err)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute, 0)
	defer c.Close()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "browser-1", sampleIntent("cs_test_1")))
	now = now.Add(2 * time.Minute)

	_, ok, err := c.Get(ctx, "browser-1")
	require.NoError(t, err)
	assert.False(t, ok)

	c.sweep()
	assert.Zero(t, c.Count())
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Millisecond)
	c.Close()
	c.Close()
}

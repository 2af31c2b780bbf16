package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudcareercoach/api/pkg/cache"
	"github.com/redis/go-redis/v9"
)

const (
	fieldSessionID     = "session_id"
	fieldPackageID     = "package_id"
	fieldDisplayAmount = "display_amount"
	fieldInitiatedAt   = "initiated_at"
)

var clearSessionScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "session_id") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache keeps intents as Redis hashes that expire with the browser session
type RedisCache struct {
	client *cache.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed intent cache
func NewRedisCache(client *cache.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Put replaces the scope's intent in one transaction
func (c *RedisCache) Put(ctx context.Context, scope string, in PendingIntent) error {
	k := key(scope)
	_, err := c.client.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			fieldSessionID, in.SessionID,
			fieldPackageID, in.PackageID,
			fieldDisplayAmount, in.DisplayAmount,
			fieldInitiatedAt, in.InitiatedAt.UTC().Format(time.RFC3339Nano),
		)
		if c.ttl > 0 {
			pipe.Expire(ctx, k, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store pending intent: %w", err)
	}
	return nil
}

// Get returns the scope's intent, false when there is none
func (c *RedisCache) Get(ctx context.Context, scope string) (*PendingIntent, bool, error) {
	fields, err := c.client.Redis.HGetAll(ctx, key(scope)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read pending intent: %w", err)
	}
	if len(fields) == 0 || fields[fieldSessionID] == "" {
		return nil, false, nil
	}

	in := &PendingIntent{
		SessionID:     fields[fieldSessionID],
		PackageID:     fields[fieldPackageID],
		DisplayAmount: fields[fieldDisplayAmount],
	}
	if raw := fields[fieldInitiatedAt]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, false, fmt.Errorf("corrupt pending intent timestamp: %w", err)
		}
		in.InitiatedAt = at
	}
	return in, true, nil
}

// Clear drops the scope's intent
func (c *RedisCache) Clear(ctx context.Context, scope string) error {
	if err := c.client.Delete(ctx, key(scope)); err != nil {
		return fmt.Errorf("failed to clear pending intent: %w", err)
	}
	return nil
}

// ClearSession drops the intent only when it belongs to sessionID
func (c *RedisCache) ClearSession(ctx context.Context, scope, sessionID string) (bool, error) {
	n, err := clearSessionScript.Run(ctx, c.client.Redis, []string{key(scope)}, sessionID).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to clear pending intent: %w", err)
	}
	return n > 0, nil
}

var _ Cache = (*RedisCache)(nil)

/**
 * @description
 * Redis-backed team snapshot cache and settlement lock, shared by every
 * replica of the service.
 */
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/transfa/referral-service/internal/domain"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSnapshotCache stores team snapshots as JSON with a TTL.
type RedisSnapshotCache struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	maxDepth int
	logger   *slog.Logger
}

// NewRedisSnapshotCache creates a snapshot cache. maxDepth bounds the keys
// dropped on invalidation.
func NewRedisSnapshotCache(client redis.UniversalClient, prefix string, ttl time.Duration, maxDepth int, logger *slog.Logger) *RedisSnapshotCache {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "referral:team"
	}
	return &RedisSnapshotCache{client: client, prefix: trimmedPrefix, ttl: ttl, maxDepth: maxDepth, logger: logger}
}

func (c *RedisSnapshotCache) key(rootID int64, depth int) string {
	return fmt.Sprintf("%s:%d:%d", c.prefix, rootID, depth)
}

// Get returns a cached snapshot. Redis errors are treated as misses.
func (c *RedisSnapshotCache) Get(ctx context.Context, rootID int64, depth int) (*domain.TeamSnapshot, bool) {
	raw, err := c.client.Get(ctx, c.key(rootID, depth)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("team cache read failed", "user_id", rootID, "error", err)
		}
		return nil, false
	}

	var snapshot domain.TeamSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		c.logger.Warn("team cache entry is corrupt", "user_id", rootID, "error", err)
		return nil, false
	}
	return &snapshot, true
}

// Set stores a snapshot under its root and depth.
func (c *RedisSnapshotCache) Set(ctx context.Context, snapshot *domain.TeamSnapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("team cache encode failed", "user_id", snapshot.RootID, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(snapshot.RootID, snapshot.MaxDepth), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("team cache write failed", "user_id", snapshot.RootID, "error", err)
	}
}

// Invalidate drops every cached depth of the given roots.
func (c *RedisSnapshotCache) Invalidate(ctx context.Context, rootIDs ...int64) {
	if len(rootIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(rootIDs)*c.maxDepth)
	for _, rootID := range rootIDs {
		for depth := 1; depth <= c.maxDepth; depth++ {
			keys = append(keys, c.key(rootID, depth))
		}
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("team cache invalidation failed", "error", err)
	}
}

// RedisLocker hands out leases with SET NX and releases them only when the
// token still matches.
type RedisLocker struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client redis.UniversalClient, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{client: client, logger: logger}
}

// Acquire takes the lease on key for at most ttl.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	return func() { l.release(key, token) }, true, nil
}

// release drops the lease if token still owns it. A failed release leaves the
// key held until its TTL runs out.
func (l *RedisLocker) release(key, token string) {
	// The caller's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deleted, err := releaseLockScript.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		l.logger.Error("lock release failed, lease held until it expires", "key", key, "error", err)
		return
	}
	if deleted == 0 {
		l.logger.Warn("lock lease expired before release", "key", key)
	}
}

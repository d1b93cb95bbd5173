// Package cache holds the Redis-backed task status snapshots and the request
// counters used by the API rate limiter.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/redis/go-redis/v9"
)

// putSnapshot writes ARGV[2] unless the stored snapshot is newer than ARGV[1]
// (unix nanos). Returns 1 when written.
var putSnapshot = redis.NewScript(`
local at = redis.call("HGET", KEYS[1], "at")
if at and tonumber(at) > tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "at", ARGV[1], "snap", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// RedisCache is safe for concurrent use.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache from a redis:// URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// SetTaskSnapshot stores the latest observable state of a task so status polls
// can skip the database. A snapshot older than the stored one is dropped, so
// a late progress write cannot overwrite a terminal status.
func (c *RedisCache) SetTaskSnapshot(ctx context.Context, snap models.TaskSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal task snapshot: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	err = putSnapshot.Run(ctx, c.client, []string{TaskSnapshotKey(snap.ID)},
		snap.UpdatedAt.UnixNano(), data, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("store task snapshot: %w", err)
	}
	return nil
}

func (c *RedisCache) GetTaskSnapshot(ctx context.Context, taskID uuid.UUID) (*models.TaskSnapshot, bool, error) {
	data, err := c.client.HGet(ctx, TaskSnapshotKey(taskID), "snap").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load task snapshot: %w", err)
	}
	var snap models.TaskSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("unmarshal task snapshot: %w", err)
	}
	return &snap, true, nil
}

// DeleteTaskSnapshot drops the cached state of a task.
func (c *RedisCache) DeleteTaskSnapshot(ctx context.Context, taskID uuid.UUID) error {
	return c.client.Del(ctx, TaskSnapshotKey(taskID)).Err()
}

// IncrWithExpiry increments key and (re)arms its expiry in one round trip.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// internal/services/approvals/cache.go
package approvals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"compliance-workflow/internal/models"

	"github.com/redis/go-redis/v9"
)

// StatsCache holds the last computed approval stats. Values are tagged with
// the generation current when they were read; Invalidate starts a new
// generation, so a write carrying an older one is never served.
type StatsCache interface {
	Get(ctx context.Context) (stats *models.ApprovalStats, gen int64, ok bool, err error)
	Set(ctx context.Context, gen int64, stats models.ApprovalStats) error
	Invalidate(ctx context.Context) error
}

// RedisStatsCache keeps a generation counter at <key>:gen and the stats of
// each generation as one JSON value at <key>:<gen> with a TTL.
type RedisStatsCache struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

func NewRedisStatsCache(rdb redis.Cmdable, key string, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{rdb: rdb, key: key, ttl: ttl}
}

func (c *RedisStatsCache) genKey() string { return c.key + ":gen" }

func (c *RedisStatsCache) valueKey(gen int64) string { return fmt.Sprintf("%s:%d", c.key, gen) }

func (c *RedisStatsCache) Get(ctx context.Context) (*models.ApprovalStats, int64, bool, error) {
	gen, err := c.rdb.Get(ctx, c.genKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("get %s: %w", c.genKey(), err)
	}

	key := c.valueKey(gen)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("get %s: %w", key, err)
	}
	var stats models.ApprovalStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, gen, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return &stats, gen, true, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, gen int64, stats models.ApprovalStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	key := c.valueKey(gen)
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (c *RedisStatsCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, c.genKey()).Err(); err != nil {
		return fmt.Errorf("incr %s: %w", c.genKey(), err)
	}
	return nil
}

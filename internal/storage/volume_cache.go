package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subgraph-volume/internal/types"
)

// CacheKeyVolume prefixes cached volume results
const CacheKeyVolume = "volume"

// VolumeCache caches fetch results of closed days in Redis
type VolumeCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewVolumeCache creates a new volume cache
func NewVolumeCache(redis *RedisCache, ttl time.Duration) *VolumeCache {
	return &VolumeCache{redis: redis, ttl: ttl}
}

// Key returns the cache key for a chain and end timestamp.
// Format: volume:<chain>:<timestamp>
func (c *VolumeCache) Key(chain types.ChainID, timestamp int64) string {
	return fmt.Sprintf("%s:%s:%d", CacheKeyVolume, strings.ToLower(string(chain)), timestamp)
}

type cachedVolume struct {
	Timestamp      int64    `json:"timestamp"`
	Block          *uint64  `json:"block,omitempty"`
	TotalVolume    *float64 `json:"totalVolume,omitempty"`
	DailyVolume    *float64 `json:"dailyVolume,omitempty"`
	DailyVolumeUSD *string  `json:"dailyVolumeUsd,omitempty"`
}

// Get returns the cached result, or false on a miss
func (c *VolumeCache) Get(ctx context.Context, chain types.ChainID, timestamp int64) (*types.VolumeResult, bool, error) {
	raw, err := c.redis.Get(ctx, c.Key(chain, timestamp))
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached volume: %w", err)
	}

	var cv cachedVolume
	if err := json.Unmarshal([]byte(raw), &cv); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached volume: %w", err)
	}
	return &types.VolumeResult{
		Timestamp:      cv.Timestamp,
		Block:          cv.Block,
		TotalVolume:    cv.TotalVolume,
		DailyVolume:    cv.DailyVolume,
		DailyVolumeUSD: cv.DailyVolumeUSD,
	}, true, nil
}

// Set stores a result with the configured TTL
func (c *VolumeCache) Set(ctx context.Context, chain types.ChainID, result *types.VolumeResult) error {
	data, err := json.Marshal(cachedVolume{
		Timestamp:      result.Timestamp,
		Block:          result.Block,
		TotalVolume:    result.TotalVolume,
		DailyVolume:    result.DailyVolume,
		DailyVolumeUSD: result.DailyVolumeUSD,
	})
	if err != nil {
		return fmt.Errorf("failed to encode volume: %w", err)
	}
	return c.redis.Set(ctx, c.Key(chain, result.Timestamp), data, c.ttl)
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/types"
)

// CachedBlockResolver memoizes timestamp lookups in Redis.
// Resolved blocks never change, so entries only expire to bound memory.
type CachedBlockResolver struct {
	chain  types.ChainID
	inner  Resolver
	client redis.Cmdable
	ttl    time.Duration
}

// NewCachedBlockResolver wraps inner with a Redis cache
func NewCachedBlockResolver(chain types.ChainID, inner Resolver, client redis.Cmdable, ttl time.Duration) *CachedBlockResolver {
	return &CachedBlockResolver{
		chain:  chain,
		inner:  inner,
		client: client,
		ttl:    ttl,
	}
}

func (c *CachedBlockResolver) key(timestamp int64) string {
	return fmt.Sprintf("block:%s:%d", c.chain, timestamp)
}

// BlockAt returns the cached block for timestamp or resolves and stores it.
// Cache failures are logged and never fail the lookup.
func (c *CachedBlockResolver) BlockAt(ctx context.Context, timestamp int64) (uint64, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"chain":     c.chain,
		"timestamp": timestamp,
	})
	key := c.key(timestamp)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if block, parseErr := strconv.ParseUint(cached, 10, 64); parseErr == nil {
			return block, nil
		}
		logger.WithField("value", cached).Warn("Discarding malformed cached block")
	case !errors.Is(err, redis.Nil):
		logger.WithError(err).Warn("Block cache read failed")
	}

	block, err := c.inner.BlockAt(ctx, timestamp)
	if err != nil {
		return 0, err
	}

	if err := c.client.Set(ctx, key, strconv.FormatUint(block, 10), c.ttl).Err(); err != nil {
		logger.WithError(err).Warn("Block cache write failed")
	}
	return block, nil
}

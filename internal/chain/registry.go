package chain

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subgraph-volume/internal/config"
	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/types"
)

type dialFunc func(ctx context.Context, chain types.ChainID, rpcURL string) (*BlockResolver, error)

// Registry holds the block resolver of every chain with an RPC endpoint
type Registry struct {
	resolvers map[types.ChainID]*BlockResolver
	funcs     map[types.ChainID]types.BlockResolverFunc
}

// DialAll connects to the RPC endpoint of every enabled chain. Chains without
// an endpoint, or whose endpoint cannot be reached, are skipped with a warning
// and report no block. cache may be nil.
func DialAll(ctx context.Context, chains config.ChainsConfig, cache redis.Cmdable, ttl time.Duration, logger *logging.Logger) *Registry {
	return dialAll(ctx, chains, cache, ttl, logger, Dial)
}

func dialAll(ctx context.Context, chains config.ChainsConfig, cache redis.Cmdable, ttl time.Duration, logger *logging.Logger, dial dialFunc) *Registry {
	reg := &Registry{
		resolvers: make(map[types.ChainID]*BlockResolver),
		funcs:     make(map[types.ChainID]types.BlockResolverFunc),
	}

	for _, name := range chains.Enabled {
		chain := types.NormalizeChainID(name)
		log := logger.WithField("chain", chain)

		chainCfg, ok := chains.Chains[name]
		if !ok || chainCfg.RPCURL == "" {
			log.Warn("No RPC endpoint configured, total volume will use the latest indexed block")
			continue
		}

		resolver, err := dial(ctx, chain, chainCfg.RPCURL)
		if err != nil {
			log.WithError(err).Warn("Failed to connect block resolver")
			continue
		}
		reg.resolvers[chain] = resolver

		var r Resolver = resolver
		if cache != nil {
			r = NewCachedBlockResolver(chain, resolver, cache, ttl)
		}
		reg.funcs[chain] = Func(r)
		log.Info("Block resolver initialized")
	}

	return reg
}

// Funcs returns the block resolver function of every connected chain
func (r *Registry) Funcs() map[types.ChainID]types.BlockResolverFunc {
	return r.funcs
}

// Close closes every RPC connection
func (r *Registry) Close() {
	for _, resolver := range r.resolvers {
		resolver.Close()
	}
}

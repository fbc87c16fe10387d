package volume

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/pricing"
	"github.com/subgraph-volume/internal/types"
)

// GasTokenResolver converts a daily volume denominated in the chain's native
// token into a USD string. Total volume is not carried over.
type GasTokenResolver struct {
	inner      VolumeResolver
	priceToken string
	balances   pricing.BalancesFactory
	logger     *logging.Logger
}

var _ VolumeResolver = (*GasTokenResolver)(nil)

// NewGasTokenResolver wraps inner. priceToken must be fully qualified, e.g. "coingecko:ethereum".
func NewGasTokenResolver(inner VolumeResolver, priceToken string, balances pricing.BalancesFactory, logger *logging.Logger) *GasTokenResolver {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &GasTokenResolver{
		inner:      inner,
		priceToken: priceToken,
		balances:   balances,
		logger:     logger,
	}
}

// Resolve implements VolumeResolver
func (g *GasTokenResolver) Resolve(ctx context.Context, chain types.ChainID, opts types.FetchOptions) *types.VolumeResult {
	basic := g.inner.Resolve(ctx, chain, opts)

	result := &types.VolumeResult{
		Timestamp: opts.EndTimestamp,
		Block:     basic.Block,
	}
	if basic.DailyVolume == nil {
		return result
	}

	balances := g.balances.New(chain, opts.EndTimestamp)
	balances.Add(g.priceToken, decimal.NewFromFloat(*basic.DailyVolume).Round(0), pricing.SkipChain())

	usd, err := balances.GetUSDString(ctx)
	if err != nil {
		g.logger.WithFields(map[string]interface{}{
			"chain":      chain,
			"priceToken": g.priceToken,
			"timestamp":  opts.EndTimestamp,
		}).WithError(err).Error("Failed to price gas token volume")
		return result
	}
	result.DailyVolumeUSD = &usd
	return result
}

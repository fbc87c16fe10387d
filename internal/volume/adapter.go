package volume

import (
	"context"
	"sort"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/pricing"
	"github.com/subgraph-volume/internal/subgraph"
	"github.com/subgraph-volume/internal/types"
)

// FetchFunc returns the volume observation for one chain
type FetchFunc func(ctx context.Context, opts types.FetchOptions) *types.VolumeResult

// StartFunc returns the earliest timestamp with volume data for one chain
type StartFunc func(ctx context.Context) (int64, error)

// ChainAdapter is the per-chain surface of an adapter
type ChainAdapter struct {
	Fetch FetchFunc
	Start StartFunc

	// ReportsTotal is set when a complete Fetch result carries a total volume
	ReportsTotal bool
}

// Adapter maps every configured chain to its fetch and start functions
type Adapter struct {
	Version int
	Chains  map[types.ChainID]ChainAdapter
}

// NewAdapter builds one ChainAdapter per endpoint, all sharing resolver.
// Start discovery is seeded with the plural of the daily entity.
func NewAdapter(endpoints types.ChainEndpoints, resolver VolumeResolver, discoverer StartDiscoverer, daily DailyEntityField) *Adapter {
	start := StartQuery{
		DailyDataField: Pluralize(daily.Entity),
		VolumeField:    daily.Field,
		DateField:      daily.DateField,
	}

	chains := make(map[types.ChainID]ChainAdapter, len(endpoints))
	for chain := range endpoints {
		chain := chain
		chains[chain] = ChainAdapter{
			Fetch: func(ctx context.Context, opts types.FetchOptions) *types.VolumeResult {
				return resolver.Resolve(ctx, chain, opts)
			},
			Start: func(ctx context.Context) (int64, error) {
				return discoverer.StartTimestamp(ctx, endpoints, chain, start)
			},
		}
	}

	return &Adapter{
		Version: types.AdapterVersion,
		Chains:  chains,
	}
}

// ChainIDs returns the adapter's chains in sorted order
func (a *Adapter) ChainIDs() []types.ChainID {
	ids := make([]types.ChainID, 0, len(a.Chains))
	for id := range a.Chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Chain returns the adapter for chain
func (a *Adapter) Chain(chain types.ChainID) (ChainAdapter, error) {
	ca, ok := a.Chains[chain]
	if !ok {
		return ChainAdapter{}, apperrors.NewUnknownChainError(chain)
	}
	return ca, nil
}

// UniV2Options names the entities and fields of a Uniswap V2 style subgraph.
// Empty names fall back to the Uniswap V2 defaults. HasTotalVolume has no
// fallback: its zero value disables the total query, so callers should start
// from DefaultUniV2Options and override what differs.
type UniV2Options struct {
	FactoriesName             string
	DayData                   string
	TotalVolume               string
	DailyVolume               string
	DailyVolumeTimestampField string
	HasTotalVolume            bool
}

// DefaultUniV2Options returns the options of a stock Uniswap V2 subgraph
func DefaultUniV2Options() UniV2Options {
	return UniV2Options{
		FactoriesName:             DefaultTotalVolumeFactory,
		DayData:                   DefaultDailyVolumeFactory,
		TotalVolume:               DefaultTotalVolumeField,
		DailyVolume:               DefaultDailyVolumeField,
		DailyVolumeTimestampField: DefaultDateField,
		HasTotalVolume:            true,
	}
}

// QueryConfig converts the options to a resolver configuration
func (o UniV2Options) QueryConfig() QueryConfig {
	cfg := DefaultUniswapV2Config()
	if o.FactoriesName != "" {
		cfg.TotalVolume.Entity = o.FactoriesName
	}
	if o.TotalVolume != "" {
		cfg.TotalVolume.Field = o.TotalVolume
	}
	if o.DayData != "" {
		cfg.DailyVolume.Entity = o.DayData
	}
	if o.DailyVolume != "" {
		cfg.DailyVolume.Field = o.DailyVolume
	}
	if o.DailyVolumeTimestampField != "" {
		cfg.DailyVolume.DateField = o.DailyVolumeTimestampField
	}
	cfg.HasTotalVolume = o.HasTotalVolume
	return cfg
}

// Deps are the capabilities shared by every chain of an adapter
type Deps struct {
	Executor   subgraph.Executor
	Balances   pricing.BalancesFactory // required by UniV2GasTokenAdapter
	Discoverer StartDiscoverer         // defaults to querying the subgraph
	Logger     *logging.Logger
}

func (d Deps) discoverer() StartDiscoverer {
	if d.Discoverer != nil {
		return d.Discoverer
	}
	return NewSubgraphStartDiscoverer(d.Executor)
}

// UniV2Adapter assembles an adapter whose daily volume is reported as a number
func UniV2Adapter(endpoints types.ChainEndpoints, opts UniV2Options, deps Deps) (*Adapter, error) {
	cfg := opts.QueryConfig()
	resolver, err := NewResolver(endpoints, cfg, deps.Executor, deps.Logger)
	if err != nil {
		return nil, err
	}
	adapter := NewAdapter(endpoints, resolver, deps.discoverer(), cfg.DailyVolume)
	for chain, ca := range adapter.Chains {
		ca.ReportsTotal = cfg.HasTotalVolume
		adapter.Chains[chain] = ca
	}
	return adapter, nil
}

// UniV2GasTokenAdapter assembles an adapter whose daily volume is counted in
// gasToken and reported as a USD string. Its results never carry a total.
func UniV2GasTokenAdapter(endpoints types.ChainEndpoints, opts UniV2Options, gasToken string, deps Deps) (*Adapter, error) {
	if gasToken == "" {
		return nil, apperrors.NewInvalidParameterError("gasToken", "must not be empty")
	}
	if deps.Balances == nil {
		return nil, apperrors.NewInvalidParameterError("balances", "a balances factory is required to price gas token volume")
	}

	cfg := opts.QueryConfig()
	basic, err := NewResolver(endpoints, cfg, deps.Executor, deps.Logger)
	if err != nil {
		return nil, err
	}
	resolver := NewGasTokenResolver(basic, gasToken, deps.Balances, deps.Logger)
	return NewAdapter(endpoints, resolver, deps.discoverer(), cfg.DailyVolume), nil
}

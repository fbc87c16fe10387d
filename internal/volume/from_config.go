package volume

import (
	"sort"

	"github.com/subgraph-volume/internal/config"
	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/types"
)

// OptionsFromConfig returns the subgraph names shared by every configured chain
func OptionsFromConfig(cfg config.VolumeConfig) UniV2Options {
	return UniV2Options{
		FactoriesName:             cfg.FactoriesName,
		DayData:                   cfg.DayData,
		TotalVolume:               cfg.TotalVolumeField,
		DailyVolume:               cfg.DailyVolumeField,
		DailyVolumeTimestampField: cfg.DateField,
		HasTotalVolume:            cfg.HasTotalVolume,
	}
}

// FromConfig assembles one adapter over every enabled chain with a subgraph URL.
// Chains with a gas token are resolved through UniV2GasTokenAdapter using the
// gas volume fields, all others through UniV2Adapter.
func FromConfig(cfg *config.Config, deps Deps) (*Adapter, error) {
	plain := types.ChainEndpoints{}
	byGasToken := map[string]types.ChainEndpoints{}

	for _, name := range cfg.Chains.Enabled {
		chainCfg, ok := cfg.Chains.Chains[name]
		if !ok || chainCfg.SubgraphURL == "" {
			if deps.Logger != nil {
				deps.Logger.WithField("chain", name).Warn("Skipping chain without subgraph URL")
			}
			continue
		}

		chain := types.NormalizeChainID(name)
		if chainCfg.GasToken == "" {
			plain[chain] = chainCfg.SubgraphURL
			continue
		}
		if byGasToken[chainCfg.GasToken] == nil {
			byGasToken[chainCfg.GasToken] = types.ChainEndpoints{}
		}
		byGasToken[chainCfg.GasToken][chain] = chainCfg.SubgraphURL
	}

	if len(plain) == 0 && len(byGasToken) == 0 {
		return nil, apperrors.NewInvalidParameterError("ENABLED_CHAINS", "no enabled chain has a subgraph URL")
	}

	opts := OptionsFromConfig(cfg.Volume)
	var adapters []*Adapter

	if len(plain) > 0 {
		adapter, err := UniV2Adapter(plain, opts, deps)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}

	gasOpts := opts
	gasOpts.TotalVolume = cfg.Volume.GasTotalVolumeField
	gasOpts.DailyVolume = cfg.Volume.GasDailyVolumeField

	tokens := make([]string, 0, len(byGasToken))
	for token := range byGasToken {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		adapter, err := UniV2GasTokenAdapter(byGasToken[token], gasOpts, token, deps)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}

	return Merge(adapters...), nil
}

// Merge combines the chains of several adapters. Later adapters win on conflicts.
func Merge(adapters ...*Adapter) *Adapter {
	merged := &Adapter{
		Version: types.AdapterVersion,
		Chains:  make(map[types.ChainID]ChainAdapter),
	}
	for _, a := range adapters {
		for chain, ca := range a.Chains {
			merged.Chains[chain] = ca
		}
	}
	return merged
}

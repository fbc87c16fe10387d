// Package types provides common type definitions for the subgraph volume adapters.
package types

import (
	"context"
	"encoding/json"
	"strings"
)

// AdapterVersion identifies the shape of the adapters produced by this module
const AdapterVersion = 2

// ChainID represents a chain key as used in endpoint maps
type ChainID string

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
	// ChainPolygon represents the Polygon network
	ChainPolygon ChainID = "polygon"
	// ChainArbitrum represents the Arbitrum network
	ChainArbitrum ChainID = "arbitrum"
	// ChainOptimism represents the Optimism network
	ChainOptimism ChainID = "optimism"
	// ChainBase represents the Base network
	ChainBase ChainID = "base"
	// ChainBSC represents the BNB Smart Chain
	ChainBSC ChainID = "bsc"
	// ChainAvalanche represents the Avalanche C-Chain
	ChainAvalanche ChainID = "avax"
	// ChainFantom represents the Fantom Opera network
	ChainFantom ChainID = "fantom"
)

// NormalizeChainID lower-cases and trims a chain key
func NormalizeChainID(chain string) ChainID {
	return ChainID(strings.ToLower(strings.TrimSpace(chain)))
}

// ChainEndpoints maps a chain to its subgraph query URL
type ChainEndpoints map[ChainID]string

// Chains returns the configured chain keys
func (e ChainEndpoints) Chains() []ChainID {
	chains := make([]ChainID, 0, len(e))
	for chain := range e {
		chains = append(chains, chain)
	}
	return chains
}

// BlockResolverFunc maps a Unix timestamp to a historical block number
type BlockResolverFunc func(ctx context.Context, timestamp int64) (uint64, error)

// FetchOptions is the time window passed to a chain fetch function
type FetchOptions struct {
	EndTimestamp int64
	GetEndBlock  BlockResolverFunc
}

// VolumeResult is the volume observation for one chain and one end timestamp.
// A nil field means the value could not be determined; zero is a real observation.
type VolumeResult struct {
	Timestamp      int64
	Block          *uint64
	TotalVolume    *float64
	DailyVolume    *float64
	DailyVolumeUSD *string // set by the gas token normalizer instead of DailyVolume
}

type volumeResultJSON struct {
	Timestamp   int64           `json:"timestamp"`
	Block       *uint64         `json:"block,omitempty"`
	TotalVolume *float64        `json:"totalVolume,omitempty"`
	DailyVolume json.RawMessage `json:"dailyVolume,omitempty"`
}

// MarshalJSON emits dailyVolume as a string when it was normalized to USD
func (r VolumeResult) MarshalJSON() ([]byte, error) {
	out := volumeResultJSON{
		Timestamp:   r.Timestamp,
		Block:       r.Block,
		TotalVolume: r.TotalVolume,
	}

	var err error
	switch {
	case r.DailyVolumeUSD != nil:
		out.DailyVolume, err = json.Marshal(*r.DailyVolumeUSD)
	case r.DailyVolume != nil:
		out.DailyVolume, err = json.Marshal(*r.DailyVolume)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(out)
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

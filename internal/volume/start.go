package volume

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/subgraph"
	"github.com/subgraph-volume/internal/types"
)

// startScanSize is how many of the earliest day records are inspected
const startScanSize = 1000

// StartQuery names the collection and fields used to find the first day with volume
type StartQuery struct {
	DailyDataField string // plural per-day collection, e.g. "uniswapDayDatas"
	VolumeField    string
	DateField      string
}

// StartDiscoverer finds the earliest timestamp for which a chain has volume data
type StartDiscoverer interface {
	StartTimestamp(ctx context.Context, endpoints types.ChainEndpoints, chain types.ChainID, q StartQuery) (int64, error)
}

// SubgraphStartDiscoverer reads the earliest per-day records from the subgraph
type SubgraphStartDiscoverer struct {
	executor subgraph.Executor
}

var _ StartDiscoverer = (*SubgraphStartDiscoverer)(nil)

// NewSubgraphStartDiscoverer creates a discoverer over executor
func NewSubgraphStartDiscoverer(executor subgraph.Executor) *SubgraphStartDiscoverer {
	return &SubgraphStartDiscoverer{executor: executor}
}

// StartTimestamp returns the date of the earliest record with non-zero volume
func (d *SubgraphStartDiscoverer) StartTimestamp(ctx context.Context, endpoints types.ChainEndpoints, chain types.ChainID, q StartQuery) (int64, error) {
	for name, value := range map[string]string{
		"dailyDataField": q.DailyDataField,
		"volumeField":    q.VolumeField,
		"dateField":      q.DateField,
	} {
		if err := validateIdentifier(name, value); err != nil {
			return 0, err
		}
	}

	endpoint, ok := endpoints[chain]
	if !ok {
		return 0, apperrors.NewUnknownChainError(chain)
	}

	data, err := d.executor.Query(ctx, endpoint, RenderStartQuery(q, startScanSize), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to query start of %s: %w", chain, err)
	}

	var records []map[string]json.RawMessage
	found, err := data.Decode(q.DailyDataField, &records)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, apperrors.NewShapeError(q.DailyDataField, q.DateField)
	}

	var earliest int64
	seen := false
	for _, record := range records {
		volume, ok := parseAmount(record[q.VolumeField])
		if !ok || volume.IsZero() {
			continue
		}
		date, ok := parseAmount(record[q.DateField])
		if !ok {
			return 0, apperrors.NewShapeError(q.DailyDataField, q.DateField)
		}
		if ts := date.IntPart(); !seen || ts < earliest {
			earliest = ts
			seen = true
		}
	}

	if !seen {
		return 0, apperrors.NewNotFoundError("volume data", string(chain))
	}
	return earliest, nil
}

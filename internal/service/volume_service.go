// Package service exposes volume adapters to the API and the backfill tool.
package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/models"
	"github.com/subgraph-volume/internal/types"
	"github.com/subgraph-volume/internal/volume"
)

// maxHistoryDays bounds a single history request
const maxHistoryDays = 366

// VolumeCacher caches fetch results of closed days
type VolumeCacher interface {
	Get(ctx context.Context, chain types.ChainID, timestamp int64) (*types.VolumeResult, bool, error)
	Set(ctx context.Context, chain types.ChainID, result *types.VolumeResult) error
}

// VolumeHistory reads stored daily volumes
type VolumeHistory interface {
	GetRange(ctx context.Context, chain types.ChainID, from, to time.Time) ([]*models.DailyVolume, error)
}

// VolumeService fetches volume for a chain at a timestamp
type VolumeService struct {
	adapter *volume.Adapter
	blocks  map[types.ChainID]types.BlockResolverFunc
	cache   VolumeCacher
	history VolumeHistory
	monitor *FetchMonitor
	now     func() time.Time
}

// NewVolumeService creates a new volume service. cache and history may be nil.
func NewVolumeService(
	adapter *volume.Adapter,
	blocks map[types.ChainID]types.BlockResolverFunc,
	cache VolumeCacher,
	history VolumeHistory,
) *VolumeService {
	return &VolumeService{
		adapter: adapter,
		blocks:  blocks,
		cache:   cache,
		history: history,
		monitor: NewFetchMonitor(),
		now:     time.Now,
	}
}

// AdapterInfo describes the adapter served by this service
type AdapterInfo struct {
	Version int             `json:"version"`
	Chains  []types.ChainID `json:"chains"`
}

// Info returns the adapter version and chains
func (s *VolumeService) Info() *AdapterInfo {
	return &AdapterInfo{
		Version: s.adapter.Version,
		Chains:  s.adapter.ChainIDs(),
	}
}

// Chains returns the served chains
func (s *VolumeService) Chains() []types.ChainID {
	return s.adapter.ChainIDs()
}

// Stats returns fetch statistics
func (s *VolumeService) Stats() *FetchStats {
	return s.monitor.GetStats()
}

// Fetch returns the volume of chain for the day ending at timestamp.
// Results for days that have already closed are served from cache when possible.
func (s *VolumeService) Fetch(ctx context.Context, chain types.ChainID, timestamp int64) (*types.VolumeResult, error) {
	ca, err := s.adapter.Chain(chain)
	if err != nil {
		return nil, err
	}
	if timestamp <= 0 {
		return nil, apperrors.NewInvalidParameterError("timestamp", "must be a positive Unix timestamp")
	}
	now := s.now().Unix()
	if timestamp > now {
		return nil, apperrors.NewInvalidParameterError("timestamp", "must not be in the future")
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"chain":     chain,
		"timestamp": timestamp,
	})
	start := time.Now()
	closed := volume.StartOfDay(timestamp)+volume.SecondsPerDay <= now

	if closed && s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, chain, timestamp)
		if err != nil {
			logger.WithError(err).Warn("Volume cache read failed")
		} else if ok {
			s.monitor.Record(time.Since(start), true, cached)
			return cached, nil
		}
	}

	result := ca.Fetch(ctx, types.FetchOptions{
		EndTimestamp: timestamp,
		GetEndBlock:  s.blocks[chain],
	})
	s.monitor.Record(time.Since(start), false, result)

	if closed && s.cache != nil && cacheable(ca, result) {
		if err := s.cache.Set(ctx, chain, result); err != nil {
			logger.WithError(err).Warn("Volume cache write failed")
		}
	}
	return result, nil
}

// Start returns the earliest timestamp with volume data for chain
func (s *VolumeService) Start(ctx context.Context, chain types.ChainID) (int64, error) {
	ca, err := s.adapter.Chain(chain)
	if err != nil {
		return 0, err
	}
	return ca.Start(ctx)
}

// History returns the stored daily volumes of chain between from and to inclusive
func (s *VolumeService) History(ctx context.Context, chain types.ChainID, from, to time.Time) ([]*models.DailyVolume, error) {
	if _, err := s.adapter.Chain(chain); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, apperrors.NewInternalError("volume history store is not configured", nil)
	}
	if to.Before(from) {
		return nil, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	if to.Sub(from) > maxHistoryDays*24*time.Hour {
		return nil, apperrors.NewInvalidParameterError("to", fmt.Sprintf("range must not exceed %d days", maxHistoryDays))
	}

	records, err := s.history.GetRange(ctx, chain, from.UTC(), to.UTC())
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read volume history", err)
	}
	if records == nil {
		records = []*models.DailyVolume{}
	}
	return records, nil
}

func hasDailyVolume(result *types.VolumeResult) bool {
	return result != nil && (result.DailyVolume != nil || result.DailyVolumeUSD != nil)
}

// cacheable reports whether result is complete enough to serve from cache.
// A chain that reports a total must have one.
func cacheable(ca volume.ChainAdapter, result *types.VolumeResult) bool {
	if !hasDailyVolume(result) {
		return false
	}
	return !ca.ReportsTotal || result.TotalVolume != nil
}

// Package models holds the records persisted by the volume history store.
package models

import (
	"time"

	"github.com/subgraph-volume/internal/types"
)

// DailyVolume is one stored observation of a chain's volume for a UTC day.
// Nil values were not determinable when the day was fetched.
type DailyVolume struct {
	Chain          types.ChainID `json:"chain"`
	Day            time.Time     `json:"day"`
	DayID          int64         `json:"dayId"`
	Timestamp      int64         `json:"timestamp"`
	Block          *uint64       `json:"block,omitempty"`
	TotalVolume    *float64      `json:"totalVolume,omitempty"`
	DailyVolume    *float64      `json:"dailyVolume,omitempty"`
	DailyVolumeUSD *string       `json:"dailyVolumeUsd,omitempty"`
	RunID          string        `json:"runId"`
	FetchedAt      time.Time     `json:"fetchedAt"`
}

// NewDailyVolume converts a fetch result into a storable record
func NewDailyVolume(chain types.ChainID, dayStart, dayID int64, result *types.VolumeResult, runID string, fetchedAt time.Time) *DailyVolume {
	return &DailyVolume{
		Chain:          chain,
		Day:            time.Unix(dayStart, 0).UTC(),
		DayID:          dayID,
		Timestamp:      result.Timestamp,
		Block:          result.Block,
		TotalVolume:    result.TotalVolume,
		DailyVolume:    result.DailyVolume,
		DailyVolumeUSD: result.DailyVolumeUSD,
		RunID:          runID,
		FetchedAt:      fetchedAt,
	}
}

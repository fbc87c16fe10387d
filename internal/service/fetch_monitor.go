package service

import (
	"sort"
	"sync"
	"time"

	"github.com/subgraph-volume/internal/types"
)

// slowFetchThreshold marks fetches that took long enough to be worth counting
const slowFetchThreshold = 5 * time.Second

// FetchMonitor tracks fetch latency and how often results come back incomplete
type FetchMonitor struct {
	mu          sync.RWMutex
	liveTimes   []time.Duration
	cacheHits   int64
	cacheMisses int64
	incomplete  int64
	slowFetches int64
	total       int64
	maxSamples  int
}

// NewFetchMonitor creates a new fetch monitor keeping the last 1000 samples
func NewFetchMonitor() *FetchMonitor {
	return &FetchMonitor{
		liveTimes:  make([]time.Duration, 0, 1000),
		maxSamples: 1000,
	}
}

// Record records one fetch
func (m *FetchMonitor) Record(duration time.Duration, cached bool, result *types.VolumeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if cached {
		m.cacheHits++
	} else {
		m.cacheMisses++
		m.liveTimes = append(m.liveTimes, duration)
		if len(m.liveTimes) > m.maxSamples {
			m.liveTimes = m.liveTimes[len(m.liveTimes)-m.maxSamples:]
		}
	}

	if duration > slowFetchThreshold {
		m.slowFetches++
	}
	if result != nil && result.DailyVolume == nil && result.DailyVolumeUSD == nil {
		m.incomplete++
	}
}

// FetchStats contains fetch statistics
type FetchStats struct {
	TotalFetches      int64   `json:"totalFetches"`
	CacheHits         int64   `json:"cacheHits"`
	CacheMisses       int64   `json:"cacheMisses"`
	IncompleteResults int64   `json:"incompleteResults"`
	SlowFetches       int64   `json:"slowFetches"`
	CacheHitRate      float64 `json:"cacheHitRate"` // Percentage
	AvgLiveFetchMs    float64 `json:"avgLiveFetchMs"`
	P95LiveFetchMs    float64 `json:"p95LiveFetchMs"`
}

// GetStats returns current statistics
func (m *FetchMonitor) GetStats() *FetchStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &FetchStats{
		TotalFetches:      m.total,
		CacheHits:         m.cacheHits,
		CacheMisses:       m.cacheMisses,
		IncompleteResults: m.incomplete,
		SlowFetches:       m.slowFetches,
	}

	if m.total > 0 {
		stats.CacheHitRate = float64(m.cacheHits) / float64(m.total) * 100
	}

	if n := len(m.liveTimes); n > 0 {
		sorted := make([]time.Duration, n)
		copy(sorted, m.liveTimes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		stats.AvgLiveFetchMs = float64(total.Milliseconds()) / float64(n)

		p95 := int(float64(n) * 0.95)
		if p95 >= n {
			p95 = n - 1
		}
		stats.P95LiveFetchMs = float64(sorted[p95].Milliseconds())
	}

	return stats
}

// Reset clears all statistics
func (m *FetchMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.liveTimes = make([]time.Duration, 0, m.maxSamples)
	m.cacheHits = 0
	m.cacheMisses = 0
	m.incomplete = 0
	m.slowFetches = 0
	m.total = 0
}

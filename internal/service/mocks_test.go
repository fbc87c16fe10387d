package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/subgraph-volume/internal/models"
	"github.com/subgraph-volume/internal/types"
	"github.com/subgraph-volume/internal/volume"
)

const (
	// 2023-11-20 12:00:00 UTC
	testNow      = int64(1700481600)
	testToday    = int64(1700438400)
	testStartDay = int64(1699747200) // 2023-11-12
)

var testEndpoints = types.ChainEndpoints{
	types.ChainEthereum: "https://graph.example/eth",
	types.ChainPolygon:  "https://graph.example/polygon",
}

func fixedNow() time.Time {
	return time.Unix(testNow, 0).UTC()
}

func dayAt(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

// mockResolver reports the day id as daily volume unless told to come back empty
type mockResolver struct {
	mu     sync.Mutex
	calls  []int64
	empty  bool
	total  *float64
	onCall func(ts int64)
}

func (m *mockResolver) Resolve(ctx context.Context, chain types.ChainID, opts types.FetchOptions) *types.VolumeResult {
	m.mu.Lock()
	m.calls = append(m.calls, opts.EndTimestamp)
	onCall := m.onCall
	m.mu.Unlock()

	if onCall != nil {
		onCall(opts.EndTimestamp)
	}

	result := &types.VolumeResult{Timestamp: opts.EndTimestamp}
	if opts.GetEndBlock != nil {
		if block, err := opts.GetEndBlock(ctx, opts.EndTimestamp); err == nil {
			result.Block = &block
		}
	}
	if !m.empty {
		daily := float64(volume.DayBucketID(opts.EndTimestamp))
		result.DailyVolume = &daily
	}
	result.TotalVolume = m.total
	return result
}

func (m *mockResolver) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockDiscoverer struct {
	start int64
	err   error
}

func (m *mockDiscoverer) StartTimestamp(ctx context.Context, endpoints types.ChainEndpoints, chain types.ChainID, q volume.StartQuery) (int64, error) {
	return m.start, m.err
}

func newTestAdapter(resolver volume.VolumeResolver, discoverer volume.StartDiscoverer) *volume.Adapter {
	return volume.NewAdapter(testEndpoints, resolver, discoverer, volume.DefaultUniswapV2Config().DailyVolume)
}

func testBlocks() map[types.ChainID]types.BlockResolverFunc {
	return map[types.ChainID]types.BlockResolverFunc{
		types.ChainEthereum: func(ctx context.Context, timestamp int64) (uint64, error) {
			return uint64(timestamp / 12), nil
		},
	}
}

// mockCache is an in-memory VolumeCacher
type mockCache struct {
	mu      sync.Mutex
	entries map[string]*types.VolumeResult
	getErr  error
	sets    int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*types.VolumeResult)}
}

func cacheKey(chain types.ChainID, ts int64) string {
	return string(chain) + ":" + time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func (m *mockCache) Get(ctx context.Context, chain types.ChainID, timestamp int64) (*types.VolumeResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	r, ok := m.entries[cacheKey(chain, timestamp)]
	return r, ok, nil
}

func (m *mockCache) Set(ctx context.Context, chain types.ChainID, result *types.VolumeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.entries[cacheKey(chain, result.Timestamp)] = result
	return nil
}

// mockHistory returns stored records within the requested range
type mockHistory struct {
	records []*models.DailyVolume
	err     error
}

func (m *mockHistory) GetRange(ctx context.Context, chain types.ChainID, from, to time.Time) ([]*models.DailyVolume, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.DailyVolume
	for _, r := range m.records {
		if r.Chain == chain && !r.Day.Before(from) && !r.Day.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

// mockWriter collects inserted batches
type mockWriter struct {
	mu      sync.Mutex
	batches [][]*models.DailyVolume
	failOn  int // 1-based batch number to fail, 0 never
}

func (m *mockWriter) BatchInsert(ctx context.Context, records []*models.DailyVolume) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn > 0 && len(m.batches)+1 == m.failOn {
		return errors.New("clickhouse unavailable")
	}
	m.batches = append(m.batches, records)
	return nil
}

func (m *mockWriter) all() []*models.DailyVolume {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DailyVolume
	for _, b := range m.batches {
		out = append(out, b...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DayID < out[j].DayID })
	return out
}

// mockRuns keeps every saved version of each run
type mockRuns struct {
	mu    sync.Mutex
	saved []models.BackfillRun
	err   error
}

func (m *mockRuns) Save(ctx context.Context, run *models.BackfillRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, *run)
	return nil
}

func (m *mockRuns) statuses() []models.BackfillStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BackfillStatus, len(m.saved))
	for i, r := range m.saved {
		out[i] = r.Status
	}
	return out
}

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/models"
	"github.com/subgraph-volume/internal/service"
	"github.com/subgraph-volume/internal/types"
)

// 2023-11-20 12:00:00 UTC, last closed day 2023-11-19
var testNow = time.Date(2023, 11, 20, 12, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type fakeBackfiller struct {
	mu       sync.Mutex
	requests []service.BackfillRequest
	err      error

	// when set, every fetched day is stored with this completeness
	progress *fakeProgress
	complete bool
}

func (f *fakeBackfiller) Run(ctx context.Context, req service.BackfillRequest) (*models.BackfillRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	days := int64(req.To.Sub(req.From)/(24*time.Hour)) + 1
	if f.progress != nil {
		for d := req.From; !d.After(req.To); d = d.AddDate(0, 0, 1) {
			f.progress.store(req.Chain, d, f.complete)
		}
	}
	return &models.BackfillRun{
		RunID:       "run",
		Chain:       req.Chain,
		FromDay:     req.From,
		ToDay:       req.To,
		Status:      models.BackfillStatusCompleted,
		DaysFetched: days,
	}, nil
}

func (f *fakeBackfiller) calls() []service.BackfillRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.BackfillRequest(nil), f.requests...)
}

// fakeProgress reports the latest complete day from seeded values and from
// the days a fakeBackfiller stores through it
type fakeProgress struct {
	mu     sync.Mutex
	latest map[types.ChainID]time.Time
	stored map[types.ChainID]map[time.Time]bool
	err    error
}

func (f *fakeProgress) store(chain types.ChainID, day time.Time, complete bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		f.stored = make(map[types.ChainID]map[time.Time]bool)
	}
	if f.stored[chain] == nil {
		f.stored[chain] = make(map[time.Time]bool)
	}
	f.stored[chain][day] = complete
}

func (f *fakeProgress) LatestCompleteDay(ctx context.Context, chain types.ChainID) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	latest, ok := f.latest[chain]
	for d, complete := range f.stored[chain] {
		if complete && (!ok || d.After(latest)) {
			latest, ok = d, true
		}
	}
	return latest, ok, nil
}

func newTestWorker(t *testing.T, backfiller Backfiller, progress ProgressReader, chains ...types.ChainID) *DailySyncWorker {
	t.Helper()
	w, err := NewDailySyncWorker(&DailySyncConfig{
		Chains:     chains,
		Backfiller: backfiller,
		Progress:   progress,
		MaxDays:    5,
		Logger:     logging.Nop(),
	})
	require.NoError(t, err)
	w.now = func() time.Time { return testNow }
	return w
}

func TestNewDailySyncWorker_Validation(t *testing.T) {
	bf := &fakeBackfiller{}
	pr := &fakeProgress{}

	tests := []struct {
		name string
		cfg  DailySyncConfig
	}{
		{"no backfiller", DailySyncConfig{Progress: pr, Chains: []types.ChainID{types.ChainEthereum}}},
		{"no progress", DailySyncConfig{Backfiller: bf, Chains: []types.ChainID{types.ChainEthereum}}},
		{"no chains", DailySyncConfig{Backfiller: bf, Progress: pr}},
		{"interval too short", DailySyncConfig{Backfiller: bf, Progress: pr, Chains: []types.ChainID{types.ChainEthereum}, PollInterval: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := NewDailySyncWorker(&cfg)
			assert.Error(t, err)
		})
	}

	w, err := NewDailySyncWorker(&DailySyncConfig{Backfiller: bf, Progress: pr, Chains: []types.ChainID{types.ChainEthereum}})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, w.pollInterval)
	assert.Equal(t, 30, w.maxDays)
}

func TestSyncChain_ResumesAfterLatestDay(t *testing.T) {
	bf := &fakeBackfiller{}
	pr := &fakeProgress{latest: map[types.ChainID]time.Time{types.ChainEthereum: day("2023-11-16")}}
	w := newTestWorker(t, bf, pr, types.ChainEthereum)

	days, err := w.SyncChain(context.Background(), types.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, int64(3), days)

	calls := bf.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, day("2023-11-17"), calls[0].From)
	assert.Equal(t, day("2023-11-19"), calls[0].To)
	assert.Equal(t, day("2023-11-19"), w.GetStatus().LastSynced[types.ChainEthereum])
}

func TestSyncChain_CatchUpIsCapped(t *testing.T) {
	bf := &fakeBackfiller{}
	pr := &fakeProgress{latest: map[types.ChainID]time.Time{types.ChainEthereum: day("2023-10-01")}}
	w := newTestWorker(t, bf, pr, types.ChainEthereum)

	days, err := w.SyncChain(context.Background(), types.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, int64(5), days)

	calls := bf.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, day("2023-10-02"), calls[0].From)
	assert.Equal(t, day("2023-10-06"), calls[0].To)
}

func TestSyncChain_UpToDate(t *testing.T) {
	bf := &fakeBackfiller{}
	pr := &fakeProgress{latest: map[types.ChainID]time.Time{types.ChainEthereum: day("2023-11-19")}}
	w := newTestWorker(t, bf, pr, types.ChainEthereum)

	days, err := w.SyncChain(context.Background(), types.ChainEthereum)
	require.NoError(t, err)
	assert.Zero(t, days)
	assert.Empty(t, bf.calls())
}

func TestSyncChain_RefetchesIncompleteDays(t *testing.T) {
	pr := &fakeProgress{latest: map[types.ChainID]time.Time{types.ChainEthereum: day("2023-11-16")}}
	bf := &fakeBackfiller{progress: pr}
	w := newTestWorker(t, bf, pr, types.ChainEthereum)

	// the subgraph is down: days are stored without a daily figure
	_, err := w.SyncChain(context.Background(), types.ChainEthereum)
	require.NoError(t, err)

	// next poll fetches the same days again and they complete
	bf.complete = true
	_, err = w.SyncChain(context.Background(), types.ChainEthereum)
	require.NoError(t, err)

	calls := bf.calls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Equal(t, day("2023-11-17"), call.From)
		assert.Equal(t, day("2023-11-19"), call.To)
	}

	// now up to date
	days, err := w.SyncChain(context.Background(), types.ChainEthereum)
	require.NoError(t, err)
	assert.Zero(t, days)
	assert.Len(t, bf.calls(), 2)
}

func TestSyncChain_SeedsRecentDays(t *testing.T) {
	bf := &fakeBackfiller{}
	w := newTestWorker(t, bf, &fakeProgress{}, types.ChainPolygon)

	days, err := w.SyncChain(context.Background(), types.ChainPolygon)
	require.NoError(t, err)
	assert.Equal(t, int64(5), days)

	calls := bf.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, types.ChainPolygon, calls[0].Chain)
	assert.Equal(t, day("2023-11-15"), calls[0].From)
	assert.Equal(t, day("2023-11-19"), calls[0].To)
}

func TestSyncChain_Errors(t *testing.T) {
	t.Run("progress", func(t *testing.T) {
		w := newTestWorker(t, &fakeBackfiller{}, &fakeProgress{err: errors.New("clickhouse down")}, types.ChainEthereum)
		_, err := w.SyncChain(context.Background(), types.ChainEthereum)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "clickhouse down")
	})

	t.Run("backfill", func(t *testing.T) {
		w := newTestWorker(t, &fakeBackfiller{err: errors.New("subgraph down")}, &fakeProgress{}, types.ChainEthereum)
		_, err := w.SyncChain(context.Background(), types.ChainEthereum)
		require.Error(t, err)
	})
}

func TestSyncAll_RecordsErrorsPerChain(t *testing.T) {
	bf := &fakeBackfiller{}
	pr := &fakeProgress{latest: map[types.ChainID]time.Time{
		types.ChainEthereum: day("2023-11-18"),
		types.ChainPolygon:  day("2023-11-17"),
	}}
	w := newTestWorker(t, bf, pr, types.ChainEthereum, types.ChainPolygon)

	total := w.SyncAll(context.Background())
	assert.Equal(t, int64(3), total)
	assert.Empty(t, w.GetStatus().LastErrors)
	assert.Equal(t, testNow, w.GetStatus().LastPollTime)

	bf.err = errors.New("subgraph down")
	pr.latest[types.ChainEthereum] = day("2023-11-10")
	total = w.SyncAll(context.Background())
	assert.Zero(t, total)

	status := w.GetStatus()
	assert.Len(t, status.LastErrors, 2)
	assert.Equal(t, "subgraph down", status.LastErrors[types.ChainEthereum])
}

func TestDailySyncWorker_StartStop(t *testing.T) {
	bf := &fakeBackfiller{}
	pr := &fakeProgress{latest: map[types.ChainID]time.Time{types.ChainEthereum: day("2023-11-18")}}
	w := newTestWorker(t, bf, pr, types.ChainEthereum)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return len(bf.calls()) == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, w.GetStatus().Running)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.False(t, w.GetStatus().Running)
	assert.Error(t, w.Stop(ctx))
}

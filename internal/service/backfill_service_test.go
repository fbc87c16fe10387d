package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/models"
	"github.com/subgraph-volume/internal/types"
)

func newTestBackfill(resolver *mockResolver, discoverer *mockDiscoverer, writer *mockWriter, runs *mockRuns, batchDays int) *BackfillService {
	svc := NewBackfillService(newTestAdapter(resolver, discoverer), testBlocks(), writer, runs, BackfillConfig{
		BatchDays:   batchDays,
		Concurrency: 2,
	}, logging.Nop())
	svc.now = fixedNow
	svc.newID = func() string { return "run-1" }
	return svc
}

func TestBackfillService_ClampsToStartAndLastClosedDay(t *testing.T) {
	resolver := &mockResolver{}
	writer := &mockWriter{}
	runs := &mockRuns{}
	svc := newTestBackfill(resolver, &mockDiscoverer{start: testStartDay + 5000}, writer, runs, 3)

	run, err := svc.Run(context.Background(), BackfillRequest{
		Chain: types.ChainEthereum,
		From:  dayAt(testStartDay - 2*86400),
		To:    dayAt(testToday + 5*86400),
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, models.BackfillStatusCompleted, run.Status)
	assert.Equal(t, dayAt(testStartDay), run.FromDay)
	assert.Equal(t, dayAt(testToday-86400), run.ToDay)
	assert.Equal(t, int64(8), run.DaysFetched)
	require.NotNil(t, run.CompletedAt)
	assert.Nil(t, run.Error)

	assert.Len(t, writer.batches, 3, "8 days in batches of 3")

	records := writer.all()
	require.Len(t, records, 8)
	for i, r := range records {
		dayStart := testStartDay + int64(i)*86400
		assert.Equal(t, int64(19673+i), r.DayID)
		assert.Equal(t, dayAt(dayStart), r.Day)
		assert.Equal(t, dayStart+86399, r.Timestamp)
		assert.Equal(t, "run-1", r.RunID)
		require.NotNil(t, r.DailyVolume)
		assert.Equal(t, float64(19673+i), *r.DailyVolume)
		require.NotNil(t, r.Block)
	}

	assert.Equal(t, []models.BackfillStatus{models.BackfillStatusRunning, models.BackfillStatusCompleted}, runs.statuses())
}

func TestBackfillService_StartDiscoveryFailureUsesRequestedRange(t *testing.T) {
	writer := &mockWriter{}
	svc := newTestBackfill(&mockResolver{}, &mockDiscoverer{err: errors.New("subgraph down")}, writer, &mockRuns{}, 30)

	run, err := svc.Run(context.Background(), BackfillRequest{
		Chain: types.ChainEthereum,
		From:  dayAt(testStartDay - 86400 + 300),
		To:    dayAt(testStartDay),
	})
	require.NoError(t, err)
	assert.Equal(t, dayAt(testStartDay-86400), run.FromDay)
	assert.Equal(t, int64(2), run.DaysFetched)
}

func TestBackfillService_IncompleteDaysAreStored(t *testing.T) {
	writer := &mockWriter{}
	svc := newTestBackfill(&mockResolver{empty: true}, &mockDiscoverer{start: testStartDay}, writer, &mockRuns{}, 30)

	_, err := svc.Run(context.Background(), BackfillRequest{
		Chain: types.ChainPolygon,
		From:  dayAt(testStartDay),
		To:    dayAt(testStartDay + 86400),
	})
	require.NoError(t, err)

	records := writer.all()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Nil(t, r.DailyVolume)
		assert.Nil(t, r.Block)
	}
}

func TestBackfillService_WriterFailure(t *testing.T) {
	writer := &mockWriter{failOn: 2}
	runs := &mockRuns{}
	svc := newTestBackfill(&mockResolver{}, &mockDiscoverer{start: testStartDay}, writer, runs, 2)

	run, err := svc.Run(context.Background(), BackfillRequest{
		Chain: types.ChainEthereum,
		From:  dayAt(testStartDay),
		To:    dayAt(testToday),
	})
	require.Error(t, err)

	assert.Equal(t, models.BackfillStatusFailed, run.Status)
	assert.Equal(t, int64(2), run.DaysFetched)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "clickhouse unavailable")
	assert.Equal(t, []models.BackfillStatus{models.BackfillStatusRunning, models.BackfillStatusFailed}, runs.statuses())
}

func TestBackfillService_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := &mockResolver{onCall: func(ts int64) {
		if ts > testStartDay+2*86400 {
			cancel()
		}
	}}
	writer := &mockWriter{}
	runs := &mockRuns{}
	svc := newTestBackfill(resolver, &mockDiscoverer{start: testStartDay}, writer, runs, 1)

	run, err := svc.Run(ctx, BackfillRequest{
		Chain: types.ChainEthereum,
		From:  dayAt(testStartDay),
		To:    dayAt(testToday),
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, models.BackfillStatusCancelled, run.Status)
	assert.Equal(t, int64(2), run.DaysFetched)
	assert.Len(t, writer.all(), 2)
	assert.Equal(t, []models.BackfillStatus{models.BackfillStatusRunning, models.BackfillStatusCancelled}, runs.statuses())
}

func TestBackfillService_InvalidRequests(t *testing.T) {
	svc := newTestBackfill(&mockResolver{}, &mockDiscoverer{start: testStartDay}, &mockWriter{}, &mockRuns{}, 30)

	tests := []struct {
		name     string
		req      BackfillRequest
		category apperrors.ErrorCategory
	}{
		{
			name:     "unknown chain",
			req:      BackfillRequest{Chain: types.ChainAvalanche, From: dayAt(testStartDay), To: dayAt(testStartDay)},
			category: apperrors.CategoryConfiguration,
		},
		{
			name:     "reversed range",
			req:      BackfillRequest{Chain: types.ChainEthereum, From: dayAt(testStartDay), To: dayAt(testStartDay - 86400)},
			category: apperrors.CategoryValidation,
		},
		{
			name:     "before start",
			req:      BackfillRequest{Chain: types.ChainEthereum, From: dayAt(testStartDay - 5*86400), To: dayAt(testStartDay - 86400)},
			category: apperrors.CategoryValidation,
		},
		{
			name:     "only open day",
			req:      BackfillRequest{Chain: types.ChainEthereum, From: dayAt(testToday), To: dayAt(testNow)},
			category: apperrors.CategoryValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := svc.Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, run)
			assert.True(t, apperrors.IsCategory(err, tt.category), "got %v", err)
		})
	}
}

func TestBackfillService_RunStoreFailure(t *testing.T) {
	svc := newTestBackfill(&mockResolver{}, &mockDiscoverer{start: testStartDay}, &mockWriter{}, &mockRuns{err: errors.New("insert failed")}, 30)

	_, err := svc.Run(context.Background(), BackfillRequest{
		Chain: types.ChainEthereum,
		From:  dayAt(testStartDay),
		To:    dayAt(testStartDay),
	})
	require.Error(t, err)
}

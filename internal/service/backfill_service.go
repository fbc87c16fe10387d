package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/models"
	"github.com/subgraph-volume/internal/types"
	"github.com/subgraph-volume/internal/volume"
)

// VolumeWriter persists daily volumes
type VolumeWriter interface {
	BatchInsert(ctx context.Context, records []*models.DailyVolume) error
}

// RunStore persists backfill run state
type RunStore interface {
	Save(ctx context.Context, run *models.BackfillRun) error
}

// BackfillRequest selects the chain and UTC days to backfill
type BackfillRequest struct {
	Chain types.ChainID
	From  time.Time
	To    time.Time
}

// BackfillConfig tunes a backfill service
type BackfillConfig struct {
	BatchDays   int // days fetched and inserted together
	Concurrency int // concurrent fetches within a batch
}

// DefaultBackfillConfig returns default backfill settings
func DefaultBackfillConfig() BackfillConfig {
	return BackfillConfig{
		BatchDays:   30,
		Concurrency: 4,
	}
}

// BackfillService fetches closed days and stores them in the history store
type BackfillService struct {
	adapter *volume.Adapter
	blocks  map[types.ChainID]types.BlockResolverFunc
	writer  VolumeWriter
	runs    RunStore
	cfg     BackfillConfig
	logger  *logging.Logger
	now     func() time.Time
	newID   func() string
}

// NewBackfillService creates a new backfill service
func NewBackfillService(
	adapter *volume.Adapter,
	blocks map[types.ChainID]types.BlockResolverFunc,
	writer VolumeWriter,
	runs RunStore,
	cfg BackfillConfig,
	logger *logging.Logger,
) *BackfillService {
	defaults := DefaultBackfillConfig()
	if cfg.BatchDays <= 0 {
		cfg.BatchDays = defaults.BatchDays
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &BackfillService{
		adapter: adapter,
		blocks:  blocks,
		writer:  writer,
		runs:    runs,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Run backfills every closed UTC day of the request. The range is clamped to
// the chain's start day and to the last closed day. The returned run reflects
// the final state even when an error is returned.
func (s *BackfillService) Run(ctx context.Context, req BackfillRequest) (*models.BackfillRun, error) {
	ca, err := s.adapter.Chain(req.Chain)
	if err != nil {
		return nil, err
	}

	fromDay, toDay, err := s.dayRange(ctx, ca, req)
	if err != nil {
		return nil, err
	}

	run := &models.BackfillRun{
		RunID:     s.newID(),
		Chain:     req.Chain,
		FromDay:   time.Unix(fromDay, 0).UTC(),
		ToDay:     time.Unix(toDay, 0).UTC(),
		Status:    models.BackfillStatusRunning,
		StartedAt: s.now().UTC(),
	}
	logger := s.logger.WithFields(map[string]interface{}{
		"run_id": run.RunID,
		"chain":  req.Chain,
	})
	if err := s.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save backfill run: %w", err)
	}
	logger.Infof("Backfill started for %s to %s", run.FromDay.Format("2006-01-02"), run.ToDay.Format("2006-01-02"))

	for batchStart := fromDay; batchStart <= toDay; batchStart += int64(s.cfg.BatchDays) * volume.SecondsPerDay {
		if ctx.Err() != nil {
			return s.finish(run, models.BackfillStatusCancelled, ctx.Err(), logger)
		}

		batchEnd := batchStart + int64(s.cfg.BatchDays-1)*volume.SecondsPerDay
		if batchEnd > toDay {
			batchEnd = toDay
		}

		records, err := s.fetchBatch(ctx, ca, run, batchStart, batchEnd)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return s.finish(run, models.BackfillStatusCancelled, err, logger)
			}
			return s.finish(run, models.BackfillStatusFailed, err, logger)
		}
		if err := s.writer.BatchInsert(ctx, records); err != nil {
			return s.finish(run, models.BackfillStatusFailed, fmt.Errorf("failed to store daily volumes: %w", err), logger)
		}

		run.DaysFetched += int64(len(records))
		logger.Debugf("Stored %d days up to %s", len(records), time.Unix(batchEnd, 0).UTC().Format("2006-01-02"))
	}

	return s.finish(run, models.BackfillStatusCompleted, nil, logger)
}

// dayRange returns the first and last day start of the request after clamping
func (s *BackfillService) dayRange(ctx context.Context, ca volume.ChainAdapter, req BackfillRequest) (int64, int64, error) {
	if req.To.Before(req.From) {
		return 0, 0, apperrors.NewInvalidParameterError("to", "must not be before from")
	}

	fromDay := volume.StartOfDay(req.From.Unix())
	toDay := volume.StartOfDay(req.To.Unix())

	lastClosed := volume.StartOfDay(s.now().Unix()) - volume.SecondsPerDay
	if toDay > lastClosed {
		toDay = lastClosed
	}

	start, err := ca.Start(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("chain", req.Chain).Warn("Start discovery failed, using requested range")
	} else if startDay := volume.StartOfDay(start); startDay > fromDay {
		fromDay = startDay
	}

	if fromDay > toDay {
		return 0, 0, apperrors.NewInvalidParameterError("from", "no closed days with data in the requested range")
	}
	return fromDay, toDay, nil
}

// fetchBatch fetches the days from batchStart to batchEnd inclusive, in day order
func (s *BackfillService) fetchBatch(ctx context.Context, ca volume.ChainAdapter, run *models.BackfillRun, batchStart, batchEnd int64) ([]*models.DailyVolume, error) {
	days := int((batchEnd-batchStart)/volume.SecondsPerDay) + 1
	records := make([]*models.DailyVolume, days)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i := 0; i < days; i++ {
		dayStart := batchStart + int64(i)*volume.SecondsPerDay
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			endOfDay := dayStart + volume.SecondsPerDay - 1
			result := ca.Fetch(gctx, types.FetchOptions{
				EndTimestamp: endOfDay,
				GetEndBlock:  s.blocks[run.Chain],
			})
			records[i] = models.NewDailyVolume(run.Chain, dayStart, volume.DayBucketID(endOfDay), result, run.RunID, s.now().UTC())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// a cancellation racing the last fetch still leaves nil-valued results
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BackfillService) finish(run *models.BackfillRun, status models.BackfillStatus, cause error, logger *logging.Logger) (*models.BackfillRun, error) {
	completedAt := s.now().UTC()
	run.Status = status
	run.CompletedAt = &completedAt
	if cause != nil {
		msg := cause.Error()
		run.Error = &msg
	}

	// the run context may already be cancelled
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.runs.Save(saveCtx, run); err != nil {
		logger.WithError(err).Error("Failed to save backfill run state")
	}

	if cause != nil {
		logger.WithError(cause).Warnf("Backfill %s after %d days", status, run.DaysFetched)
		return run, cause
	}
	logger.Infof("Backfill completed with %d days", run.DaysFetched)
	return run, nil
}

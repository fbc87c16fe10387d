// Package worker keeps the stored daily volume history current.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/models"
	"github.com/subgraph-volume/internal/service"
	"github.com/subgraph-volume/internal/types"
	"github.com/subgraph-volume/internal/volume"
)

// Backfiller fetches and stores a range of closed days
type Backfiller interface {
	Run(ctx context.Context, req service.BackfillRequest) (*models.BackfillRun, error)
}

// ProgressReader reports the latest day of a chain stored with a daily figure
type ProgressReader interface {
	LatestCompleteDay(ctx context.Context, chain types.ChainID) (time.Time, bool, error)
}

// DailySyncConfig holds configuration for a daily sync worker
type DailySyncConfig struct {
	Chains       []types.ChainID
	Backfiller   Backfiller
	Progress     ProgressReader
	PollInterval time.Duration
	MaxDays      int // most days backfilled per chain per poll
	Logger       *logging.Logger
}

// DailySyncWorker periodically backfills the days closed since the latest
// complete day of every chain. Days stored without a daily figure are fetched
// again on the next poll. A chain with no stored history is seeded with
// its most recent MaxDays days; older history is left to the backfill tool.
type DailySyncWorker struct {
	chains       []types.ChainID
	backfiller   Backfiller
	progress     ProgressReader
	pollInterval time.Duration
	maxDays      int
	logger       *logging.Logger
	now          func() time.Time

	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastPollTime time.Time
	lastSynced   map[types.ChainID]time.Time
	lastErrors   map[types.ChainID]string
}

// SyncStatus is a snapshot of the worker state
type SyncStatus struct {
	Running      bool                        `json:"running"`
	LastPollTime time.Time                   `json:"last_poll_time"`
	LastSynced   map[types.ChainID]time.Time `json:"last_synced"`
	LastErrors   map[types.ChainID]string    `json:"last_errors,omitempty"`
}

// NewDailySyncWorker creates a new daily sync worker
func NewDailySyncWorker(cfg *DailySyncConfig) (*DailySyncWorker, error) {
	if cfg.Backfiller == nil {
		return nil, fmt.Errorf("backfiller cannot be nil")
	}
	if cfg.Progress == nil {
		return nil, fmt.Errorf("progress reader cannot be nil")
	}
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("at least one chain is required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Hour
	}
	if pollInterval < time.Minute {
		return nil, fmt.Errorf("poll interval must be at least 1 minute, got %v", pollInterval)
	}

	maxDays := cfg.MaxDays
	if maxDays <= 0 {
		maxDays = 30
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &DailySyncWorker{
		chains:       cfg.Chains,
		backfiller:   cfg.Backfiller,
		progress:     cfg.Progress,
		pollInterval: pollInterval,
		maxDays:      maxDays,
		logger:       logger.WithField("component", "daily_sync"),
		now:          time.Now,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		lastSynced:   make(map[types.ChainID]time.Time),
		lastErrors:   make(map[types.ChainID]string),
	}, nil
}

// Start runs one sync immediately and then one per poll interval
func (w *DailySyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("daily sync worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	w.logger.WithFields(map[string]interface{}{
		"chains":        w.chains,
		"poll_interval": w.pollInterval.String(),
	}).Info("Starting daily sync worker")

	go w.pollLoop(ctx)
	return nil
}

// Stop signals the worker and waits for the current sync to finish
func (w *DailySyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("daily sync worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		w.logger.Info("Daily sync worker stopped")
	case <-ctx.Done():
		w.logger.Warn("Daily sync worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *DailySyncWorker) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	// stopping the worker cancels an in-flight sync
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.SyncAll(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SyncAll(ctx)
		}
	}
}

// SyncAll syncs every chain once and returns the number of days stored
func (w *DailySyncWorker) SyncAll(ctx context.Context) int64 {
	w.mu.Lock()
	w.lastPollTime = w.now()
	w.mu.Unlock()

	var total int64
	for _, chain := range w.chains {
		if ctx.Err() != nil {
			break
		}
		days, err := w.SyncChain(ctx, chain)
		w.mu.Lock()
		if err != nil {
			w.lastErrors[chain] = err.Error()
		} else {
			delete(w.lastErrors, chain)
		}
		w.mu.Unlock()

		if err != nil {
			w.logger.WithError(err).WithField("chain", chain).Warn("Daily sync failed")
			continue
		}
		total += days
	}
	return total
}

// SyncChain backfills the closed days missing for chain, at most MaxDays of
// them, and returns the number of days stored
func (w *DailySyncWorker) SyncChain(ctx context.Context, chain types.ChainID) (int64, error) {
	lastClosed := time.Unix(volume.StartOfDay(w.now().Unix())-volume.SecondsPerDay, 0).UTC()

	latest, ok, err := w.progress.LatestCompleteDay(ctx, chain)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest complete day: %w", err)
	}

	var from, to time.Time
	if ok {
		from = latest.AddDate(0, 0, 1)
		if from.After(lastClosed) {
			w.markSynced(chain, latest)
			return 0, nil
		}
		to = from.AddDate(0, 0, w.maxDays-1)
		if to.After(lastClosed) {
			to = lastClosed
		}
	} else {
		to = lastClosed
		from = to.AddDate(0, 0, -(w.maxDays - 1))
	}

	run, err := w.backfiller.Run(ctx, service.BackfillRequest{Chain: chain, From: from, To: to})
	if err != nil {
		return 0, err
	}

	w.markSynced(chain, run.ToDay)
	if run.DaysFetched > 0 {
		w.logger.WithFields(map[string]interface{}{
			"chain":  chain,
			"run_id": run.RunID,
			"days":   run.DaysFetched,
		}).Info("Daily sync stored new days")
	}
	if to.Before(lastClosed) {
		w.logger.WithField("chain", chain).Infof("Still behind, next poll continues from %s", to.AddDate(0, 0, 1).Format("2006-01-02"))
	}
	return run.DaysFetched, nil
}

func (w *DailySyncWorker) markSynced(chain types.ChainID, day time.Time) {
	w.mu.Lock()
	w.lastSynced[chain] = day
	w.mu.Unlock()
}

// GetStatus returns the current worker status
func (w *DailySyncWorker) GetStatus() *SyncStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := &SyncStatus{
		Running:      w.running,
		LastPollTime: w.lastPollTime,
		LastSynced:   make(map[types.ChainID]time.Time, len(w.lastSynced)),
		LastErrors:   make(map[types.ChainID]string, len(w.lastErrors)),
	}
	for chain, day := range w.lastSynced {
		status.LastSynced[chain] = day
	}
	for chain, msg := range w.lastErrors {
		status.LastErrors[chain] = msg
	}
	return status
}

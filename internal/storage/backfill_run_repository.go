package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/models"
	"github.com/subgraph-volume/internal/types"
)

// BackfillRunRepository tracks backfill runs in ClickHouse
type BackfillRunRepository struct {
	db  *ClickHouseDB
	now func() time.Time
}

// NewBackfillRunRepository creates a new backfill run repository
func NewBackfillRunRepository(db *ClickHouseDB) *BackfillRunRepository {
	return &BackfillRunRepository{db: db, now: time.Now}
}

// Save writes the current state of run as a new row version
func (r *BackfillRunRepository) Save(ctx context.Context, run *models.BackfillRun) error {
	err := r.db.Conn().Exec(ctx, `
		INSERT INTO backfill_runs (
			run_id, chain, from_day, to_day, status, days_fetched, started_at, completed_at, error, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID,
		string(run.Chain),
		run.FromDay,
		run.ToDay,
		string(run.Status),
		run.DaysFetched,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save backfill run %s: %w", run.RunID, err)
	}
	return nil
}

// Get returns the latest state of a run
func (r *BackfillRunRepository) Get(ctx context.Context, runID string) (*models.BackfillRun, error) {
	var (
		run      models.BackfillRun
		chainStr string
		status   string
	)
	row := r.db.Conn().QueryRow(ctx, `
		SELECT run_id, chain, from_day, to_day, status, days_fetched, started_at, completed_at, error
		FROM backfill_runs FINAL
		WHERE run_id = ?
	`, runID)
	err := row.Scan(
		&run.RunID,
		&chainStr,
		&run.FromDay,
		&run.ToDay,
		&status,
		&run.DaysFetched,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("backfill run", runID)
		}
		return nil, fmt.Errorf("failed to get backfill run: %w", err)
	}

	run.Chain = types.ChainID(chainStr)
	run.Status = models.BackfillStatus(status)
	return &run, nil
}

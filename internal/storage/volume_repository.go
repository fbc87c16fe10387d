package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/subgraph-volume/internal/models"
	"github.com/subgraph-volume/internal/types"
)

// VolumeRepository stores daily volume observations in ClickHouse
type VolumeRepository struct {
	db *ClickHouseDB
}

// NewVolumeRepository creates a new volume repository
func NewVolumeRepository(db *ClickHouseDB) *VolumeRepository {
	return &VolumeRepository{db: db}
}

// BatchInsert stores records; a later insert for the same chain and day wins
func (r *VolumeRepository) BatchInsert(ctx context.Context, records []*models.DailyVolume) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO daily_volumes (
			chain, day, day_id, timestamp, block, total_volume, daily_volume, daily_volume_usd, run_id, fetched_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, rec := range records {
		err := batch.Append(
			string(rec.Chain),
			rec.Day,
			rec.DayID,
			rec.Timestamp,
			rec.Block,
			rec.TotalVolume,
			rec.DailyVolume,
			rec.DailyVolumeUSD,
			rec.RunID,
			rec.FetchedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append %s day %d to batch: %w", rec.Chain, rec.DayID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// GetRange returns the stored days of chain between from and to inclusive, oldest first
func (r *VolumeRepository) GetRange(ctx context.Context, chain types.ChainID, from, to time.Time) ([]*models.DailyVolume, error) {
	query := `
		SELECT chain, day, day_id, timestamp, block, total_volume, daily_volume, daily_volume_usd, run_id, fetched_at
		FROM daily_volumes FINAL
		WHERE chain = ? AND day >= ? AND day <= ?
		ORDER BY day ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, string(chain), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily volumes: %w", err)
	}
	defer rows.Close()

	var out []*models.DailyVolume
	for rows.Next() {
		var (
			rec      models.DailyVolume
			chainStr string
		)
		if err := rows.Scan(
			&chainStr,
			&rec.Day,
			&rec.DayID,
			&rec.Timestamp,
			&rec.Block,
			&rec.TotalVolume,
			&rec.DailyVolume,
			&rec.DailyVolumeUSD,
			&rec.RunID,
			&rec.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily volume: %w", err)
		}
		rec.Chain = types.ChainID(chainStr)
		out = append(out, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily volumes: %w", err)
	}
	return out, nil
}

// LatestCompleteDay returns the most recent day of chain with a daily figure.
// Days stored with neither daily_volume nor daily_volume_usd are unknown and
// do not count, so resuming after this day fetches them again.
func (r *VolumeRepository) LatestCompleteDay(ctx context.Context, chain types.ChainID) (time.Time, bool, error) {
	var (
		latest time.Time
		count  uint64
	)
	row := r.db.Conn().QueryRow(ctx, `
		SELECT max(day), count()
		FROM daily_volumes FINAL
		WHERE chain = ? AND (daily_volume IS NOT NULL OR daily_volume_usd IS NOT NULL)
	`, string(chain))
	if err := row.Scan(&latest, &count); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest day: %w", err)
	}
	if count == 0 {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

package models

import (
	"time"

	"github.com/subgraph-volume/internal/types"
)

// BackfillStatus is the lifecycle state of a backfill run
type BackfillStatus string

const (
	BackfillStatusRunning   BackfillStatus = "running"
	BackfillStatusCompleted BackfillStatus = "completed"
	BackfillStatusFailed    BackfillStatus = "failed"
	BackfillStatusCancelled BackfillStatus = "cancelled"
)

// BackfillRun records one backfill of a chain over a range of days
type BackfillRun struct {
	RunID       string         `json:"runId" db:"run_id"`
	Chain       types.ChainID  `json:"chain" db:"chain"`
	FromDay     time.Time      `json:"fromDay" db:"from_day"`
	ToDay       time.Time      `json:"toDay" db:"to_day"`
	Status      BackfillStatus `json:"status" db:"status"`
	DaysFetched int64          `json:"daysFetched" db:"days_fetched"`
	StartedAt   time.Time      `json:"startedAt" db:"started_at"`
	CompletedAt *time.Time     `json:"completedAt,omitempty" db:"completed_at"`
	Error       *string        `json:"error,omitempty" db:"error"`
}

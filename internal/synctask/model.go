package synctask

import (
	"time"

	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusDone       Status = "Done"
	StatusFailed     Status = "Failed"
)

const (
	DefaultBatchSize   = 5
	DefaultTimeBudget  = 50 * time.Second
	DefaultMaxAttempts = 8
	DefaultBaseBackoff = 300 * time.Second

	backoffExpCap = 6
	backoffJitter = 0.2

	// last_error is bounded so verbose upstream exceptions cannot grow
	// the table. Terminal failures keep a longer tail for triage.
	retryErrLimit    = 500
	terminalErrLimit = 1000
)

// Task is one vehicle's slot in the sync queue. A plate has exactly one
// row for its whole life; disappearance from the fleet tombstones the
// row instead of deleting it.
type Task struct {
	ID         uint64     `gorm:"primaryKey" json:"id"`
	VehicleNo  string     `gorm:"uniqueIndex;not null" json:"vehicle_no"`
	Status     Status     `gorm:"type:text;index;not null;default:'Pending'" json:"status"`
	Priority   int        `gorm:"not null;default:0" json:"priority"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	BackoffExp int        `gorm:"not null;default:0" json:"backoff_exp"`
	NextRunAt  *time.Time `gorm:"index" json:"next_run_at,omitempty"`
	ClaimedBy  string     `gorm:"not null;default:''" json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastError  string     `gorm:"not null;default:''" json:"last_error,omitempty"`
	IsDeleted  bool       `gorm:"index;not null;default:false" json:"is_deleted"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
}

func (Task) TableName() string { return "sync_tasks" }

// visible filters out tombstoned rows. Every scheduler-facing query
// (claim, reap, reset) goes through this one scope.
func visible(tx *gorm.DB) *gorm.DB {
	return tx.Where("is_deleted = ?", false)
}

// claimable is the eligibility predicate for ClaimBatch: visible,
// Pending, and due.
func claimable(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return visible(tx).
			Where("status = ?", StatusPending).
			Where("(next_run_at IS NULL OR next_run_at <= ?)", now)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package synctask

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Queue owns every state transition on the sync_tasks table. It has no
// idea what the work means; that is the Processor's job.
//
// Mutating methods log storage errors themselves and also return them,
// so single-task callers can treat a failed write as "state unchanged,
// a later cycle will retry or reap" without the cycle falling over.
type Queue struct {
	db       *gorm.DB
	log      zerolog.Logger
	workerID string

	maxAttempts int

	now func() time.Time
	rnd *rand.Rand
}

func NewQueue(db *gorm.DB, log zerolog.Logger, workerID string, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		db:          db,
		log:         log.With().Str("component", "queue").Str("worker", workerID).Logger(),
		workerID:    workerID,
		maxAttempts: maxAttempts,
		now:         time.Now,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ClaimBatch leases up to limit due tasks, highest priority first,
// plate number as the tie-break. Each lease is taken with a conditional
// update guarded on the row still being Pending, so two workers racing
// over the same candidates never both win one.
func (q *Queue) ClaimBatch(limit int) ([]Task, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	now := q.now()

	var candidates []Task
	err := q.db.Scopes(claimable(now)).
		Order("priority desc").
		Order("vehicle_no asc").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		q.log.Error().Err(err).Msg("claim batch query failed")
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	claimed := make([]Task, 0, len(candidates))
	for _, t := range candidates {
		res := q.db.Model(&Task{}).
			Where("id = ? AND status = ? AND is_deleted = ?", t.ID, StatusPending, false).
			Updates(map[string]any{
				"status":      StatusProcessing,
				"claimed_by":  q.workerID,
				"claimed_at":  now,
				"last_run_at": now,
			})
		if res.Error != nil {
			q.log.Error().Err(res.Error).Str("vehicle", t.VehicleNo).Msg("claim write failed")
			continue
		}
		if res.RowsAffected == 0 {
			// Lost the row to a concurrent worker between select and
			// update.
			continue
		}
		var fresh Task
		if err := q.db.First(&fresh, t.ID).Error; err != nil {
			q.log.Error().Err(err).Str("vehicle", t.VehicleNo).Msg("claim re-read failed")
			continue
		}
		claimed = append(claimed, fresh)
	}
	return claimed, nil
}

func (q *Queue) MarkDone(task *Task) error {
	err := q.db.Model(&Task{}).Where("id = ?", task.ID).Updates(map[string]any{
		"status":      StatusDone,
		"last_run_at": q.now(),
		"claimed_by":  "",
		"claimed_at":  nil,
		"next_run_at": nil,
		"last_error":  "",
	}).Error
	if err != nil {
		q.log.Error().Err(err).Str("vehicle", task.VehicleNo).Msg("mark done failed")
	}
	return err
}

func (q *Queue) MarkFailed(task *Task, errMsg string) error {
	if errMsg == "" {
		errMsg = "max attempts exceeded"
	}
	err := q.db.Model(&Task{}).Where("id = ?", task.ID).Updates(map[string]any{
		"status":      StatusFailed,
		"last_error":  truncate(errMsg, terminalErrLimit),
		"last_run_at": q.now(),
		"claimed_by":  "",
		"claimed_at":  nil,
		"next_run_at": nil,
	}).Error
	if err != nil {
		q.log.Error().Err(err).Str("vehicle", task.VehicleNo).Msg("mark failed failed")
	}
	return err
}

// BumpAttempts re-reads the counters before incrementing, so a stale
// Task value in the caller's hands cannot roll them back. BackoffExp is
// capped; Attempts is not.
func (q *Queue) BumpAttempts(task *Task) (attempts, backoffExp int) {
	var cur Task
	if err := q.db.Select("attempts", "backoff_exp").First(&cur, task.ID).Error; err != nil {
		q.log.Error().Err(err).Str("vehicle", task.VehicleNo).Msg("bump attempts read failed")
		return 1, 1
	}
	attempts = cur.Attempts + 1
	backoffExp = cur.BackoffExp + 1
	if backoffExp > backoffExpCap {
		backoffExp = backoffExpCap
	}
	err := q.db.Model(&Task{}).Where("id = ?", task.ID).Updates(map[string]any{
		"attempts":    attempts,
		"backoff_exp": backoffExp,
		"last_run_at": q.now(),
	}).Error
	if err != nil {
		q.log.Error().Err(err).Str("vehicle", task.VehicleNo).Msg("bump attempts write failed")
	}
	return attempts, backoffExp
}

// ScheduleNext releases the lease and pushes the next run out by the
// jittered backoff. If the task has already burned through its attempts
// it goes terminal instead. ScheduleNext does not increment the
// counters itself; callers bump once per failure via BumpAttempts.
func (q *Queue) ScheduleNext(task *Task, backoff time.Duration, errMsg string) error {
	var cur Task
	if err := q.db.Select("attempts").First(&cur, task.ID).Error; err != nil {
		q.log.Error().Err(err).Str("vehicle", task.VehicleNo).Msg("schedule next read failed")
		return err
	}
	if cur.Attempts >= q.maxAttempts {
		return q.MarkFailed(task, errMsg)
	}

	next := q.now().Add(q.jitter(backoff))
	err := q.db.Model(&Task{}).Where("id = ?", task.ID).Updates(map[string]any{
		"status":      StatusPending,
		"claimed_by":  "",
		"claimed_at":  nil,
		"next_run_at": next,
		"last_error":  truncate(errMsg, retryErrLimit),
	}).Error
	if err != nil {
		q.log.Error().Err(err).Str("vehicle", task.VehicleNo).Msg("schedule next write failed")
	}
	return err
}

// Release puts a leased task straight back to Pending, eligible
// immediately and with its counters untouched. Used for tasks claimed
// but never started before the cycle's time budget ran out.
func (q *Queue) Release(task *Task) error {
	now := q.now()
	res := q.db.Model(&Task{}).
		Where("id = ? AND status = ?", task.ID, StatusProcessing).
		Updates(map[string]any{
			"status":      StatusPending,
			"claimed_by":  "",
			"claimed_at":  nil,
			"next_run_at": now,
		})
	if res.Error != nil {
		q.log.Error().Err(res.Error).Str("vehicle", task.VehicleNo).Msg("release failed")
	}
	return res.Error
}

// ResetStuck recovers leases abandoned by a crashed worker: any visible
// Processing row whose claim is older than timeout goes back to Pending
// and is due immediately.
func (q *Queue) ResetStuck(timeout time.Duration) int {
	now := q.now()
	cutoff := now.Add(-timeout)
	res := q.db.Model(&Task{}).
		Scopes(visible).
		Where("status = ? AND claimed_at < ?", StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":      StatusPending,
			"claimed_by":  "",
			"claimed_at":  nil,
			"next_run_at": now,
		})
	if res.Error != nil {
		q.log.Error().Err(res.Error).Msg("reset stuck tasks failed")
		return 0
	}
	return int(res.RowsAffected)
}

// ResetCompleted reopens every Done task for the next polling cycle.
func (q *Queue) ResetCompleted() (int, error) {
	res := q.db.Model(&Task{}).
		Scopes(visible).
		Where("status = ?", StatusDone).
		Updates(map[string]any{
			"status":      StatusPending,
			"next_run_at": q.now(),
			"claimed_by":  "",
			"claimed_at":  nil,
			"last_error":  "",
		})
	if res.Error != nil {
		q.log.Error().Err(res.Error).Msg("reset completed tasks failed")
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// ResetFailedOlderThan gives terminally Failed tasks a fresh start once
// they have sat failed for at least age. Attempts and backoff are
// zeroed so the retry ladder restarts from the bottom.
func (q *Queue) ResetFailedOlderThan(age time.Duration) (int, error) {
	cutoff := q.now().Add(-age)
	res := q.db.Model(&Task{}).
		Scopes(visible).
		Where("status = ? AND last_run_at < ?", StatusFailed, cutoff).
		Updates(map[string]any{
			"status":      StatusPending,
			"next_run_at": q.now(),
			"attempts":    0,
			"backoff_exp": 0,
			"claimed_by":  "",
			"claimed_at":  nil,
		})
	if res.Error != nil {
		q.log.Error().Err(res.Error).Msg("reset failed tasks failed")
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// PurgeDeleted hard-deletes tombstoned rows untouched for longer than
// age. Active rows are never purged.
func (q *Queue) PurgeDeleted(age time.Duration) (int, error) {
	cutoff := q.now().Add(-age)
	res := q.db.Where("is_deleted = ? AND updated_at < ?", true, cutoff).Delete(&Task{})
	if res.Error != nil {
		q.log.Error().Err(res.Error).Msg("purge deleted tasks failed")
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (q *Queue) jitter(d time.Duration) time.Duration {
	f := 1 + backoffJitter*(2*q.rnd.Float64()-1)
	return time.Duration(math.Floor(d.Seconds()*f)) * time.Second
}

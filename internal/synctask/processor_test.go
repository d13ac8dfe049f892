package synctask

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"finesync/internal/fines"
)

type stubChecker struct {
	fn    func(plate string) ([]fines.ReportedFine, error)
	calls int
}

func (s *stubChecker) Check(_ context.Context, plate string) ([]fines.ReportedFine, error) {
	s.calls++
	return s.fn(plate)
}

func newTestProcessor(t *testing.T, gdb *gorm.DB, clock *fakeClock, checker OffenceChecker, cfg ProcessorConfig) *Processor {
	t.Helper()
	q := newTestQueue(t, gdb, clock)
	fs := fines.NewStore(gdb, zerolog.Nop())
	p := NewProcessor(q, fs, checker, cfg, zerolog.Nop())
	p.now = clock.Now
	return p
}

func TestRunBatchNoTasks(t *testing.T) {
	gdb := openTestDB(t)
	checker := &stubChecker{fn: func(string) ([]fines.ReportedFine, error) { return nil, nil }}
	p := newTestProcessor(t, gdb, newFakeClock(), checker, ProcessorConfig{})

	res := p.RunBatch(context.Background())

	assert.Equal(t, "no_tasks", res.Status)
	assert.Zero(t, res.TotalClaimed)
	assert.Zero(t, checker.calls)
}

func TestRunBatchSuccess(t *testing.T) {
	gdb := openTestDB(t)
	task := mustCreateTask(t, gdb, Task{VehicleNo: "T123ABC"})
	checker := &stubChecker{fn: func(string) ([]fines.ReportedFine, error) {
		return []fines.ReportedFine{{
			Reference: "REF-1",
			Amount:    30000,
			Offence:   "Speeding",
			Status:    fines.StatusPending,
			Date:      "2025-05-20",
		}}, nil
	}}
	p := newTestProcessor(t, gdb, newFakeClock(), checker, ProcessorConfig{})

	res := p.RunBatch(context.Background())

	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Errors)
	assert.Equal(t, 1, res.TotalClaimed)

	got := reload(t, gdb, task.ID)
	assert.Equal(t, StatusDone, got.Status)
	assert.Empty(t, got.ClaimedBy)

	var rec fines.FineRecord
	require.NoError(t, gdb.Where("vehicle = ? AND reference = ?", "T123ABC", "REF-1").First(&rec).Error)
	assert.Equal(t, float64(30000), rec.Amount)
}

func TestRunBatchRetriesAccumulateBackoff(t *testing.T) {
	gdb := openTestDB(t)
	clock := newFakeClock()
	task := mustCreateTask(t, gdb, Task{VehicleNo: "T123ABC"})
	checker := &stubChecker{fn: func(string) ([]fines.ReportedFine, error) {
		return nil, errors.New("upstream timeout")
	}}
	base := DefaultBaseBackoff
	p := newTestProcessor(t, gdb, clock, checker, ProcessorConfig{BaseBackoff: base})

	for cycle := 0; cycle < 3; cycle++ {
		res := p.RunBatch(context.Background())
		require.Equal(t, "completed", res.Status)
		require.Equal(t, 1, res.Errors)
		// Let the backoff elapse so the next cycle can reclaim.
		clock.Advance(24 * time.Hour)
	}

	got := reload(t, gdb, task.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 3, got.BackoffExp)
	assert.Equal(t, "upstream timeout", got.LastError)

	// Third failure schedules BASE * 2^3, give or take 20% jitter. The
	// clock advanced after the run, so measure from the run's start.
	runStart := clock.Now().Add(-24 * time.Hour)
	require.NotNil(t, got.NextRunAt)
	delay := got.NextRunAt.Sub(runStart)
	expected := base * 8
	assert.GreaterOrEqual(t, delay, time.Duration(float64(expected)*(1-backoffJitter)))
	assert.LessOrEqual(t, delay, time.Duration(float64(expected)*(1+backoffJitter)))
}

func TestRunBatchExhaustionIsTerminal(t *testing.T) {
	gdb := openTestDB(t)
	task := mustCreateTask(t, gdb, Task{
		VehicleNo:  "T123ABC",
		Attempts:   DefaultMaxAttempts - 1,
		BackoffExp: backoffExpCap,
	})
	checker := &stubChecker{fn: func(string) ([]fines.ReportedFine, error) {
		return nil, errors.New("still down")
	}}
	p := newTestProcessor(t, gdb, newFakeClock(), checker, ProcessorConfig{})

	res := p.RunBatch(context.Background())
	require.Equal(t, 1, res.Errors)

	got := reload(t, gdb, task.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, DefaultMaxAttempts, got.Attempts)
	assert.Equal(t, "still down", got.LastError)
	assert.Nil(t, got.NextRunAt)
}

func TestRunBatchReapsStuckLease(t *testing.T) {
	gdb := openTestDB(t)
	clock := newFakeClock()
	stale := clock.Now().Add(-15 * time.Minute)
	task := mustCreateTask(t, gdb, Task{
		VehicleNo: "T123ABC",
		Status:    StatusProcessing,
		ClaimedBy: "worker-dead",
		ClaimedAt: &stale,
	})
	checker := &stubChecker{fn: func(string) ([]fines.ReportedFine, error) { return nil, nil }}
	p := newTestProcessor(t, gdb, clock, checker, ProcessorConfig{StuckTimeout: 10 * time.Minute})

	res := p.RunBatch(context.Background())

	// The reaped task is claimable in the same cycle.
	assert.Equal(t, 1, res.StuckReset)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, StatusDone, reload(t, gdb, task.ID).Status)
}

func TestRunBatchTimeBudgetReleasesUnstarted(t *testing.T) {
	gdb := openTestDB(t)
	clock := newFakeClock()
	for _, plate := range []string{"T111AAA", "T222BBB", "T333CCC"} {
		mustCreateTask(t, gdb, Task{VehicleNo: plate})
	}
	checker := &stubChecker{fn: func(string) ([]fines.ReportedFine, error) {
		clock.Advance(30 * time.Second)
		return nil, nil
	}}
	p := newTestProcessor(t, gdb, clock, checker, ProcessorConfig{
		TimeBudget:       time.Second,
		ReleaseUnstarted: true,
	})

	res := p.RunBatch(context.Background())

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.Released)
	assert.Equal(t, 3, res.TotalClaimed)
	assert.Equal(t, 1, checker.calls)

	var pending int64
	require.NoError(t, gdb.Model(&Task{}).
		Where("status = ? AND claimed_by = ''", StatusPending).
		Count(&pending).Error)
	assert.Equal(t, int64(2), pending)
}

func TestRunBatchTimeBudgetLeavesLeasedWhenDisabled(t *testing.T) {
	gdb := openTestDB(t)
	clock := newFakeClock()
	for _, plate := range []string{"T111AAA", "T222BBB"} {
		mustCreateTask(t, gdb, Task{VehicleNo: plate})
	}
	checker := &stubChecker{fn: func(string) ([]fines.ReportedFine, error) {
		clock.Advance(30 * time.Second)
		return nil, nil
	}}
	p := newTestProcessor(t, gdb, clock, checker, ProcessorConfig{
		TimeBudget:       time.Second,
		ReleaseUnstarted: false,
	})

	res := p.RunBatch(context.Background())

	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Released)

	var leased int64
	require.NoError(t, gdb.Model(&Task{}).
		Where("status = ?", StatusProcessing).
		Count(&leased).Error)
	assert.Equal(t, int64(1), leased)
}

func TestResetCycle(t *testing.T) {
	gdb := openTestDB(t)
	clock := newFakeClock()
	twoHoursAgo := clock.Now().Add(-2 * time.Hour)
	justNow := clock.Now().Add(-time.Minute)

	done := mustCreateTask(t, gdb, Task{VehicleNo: "T111AAA", Status: StatusDone, LastError: "old"})
	restedFail := mustCreateTask(t, gdb, Task{
		VehicleNo:  "T222BBB",
		Status:     StatusFailed,
		Attempts:   DefaultMaxAttempts,
		BackoffExp: backoffExpCap,
		LastRunAt:  &twoHoursAgo,
	})
	freshFail := mustCreateTask(t, gdb, Task{
		VehicleNo: "T333CCC",
		Status:    StatusFailed,
		LastRunAt: &justNow,
	})

	checker := &stubChecker{fn: func(string) ([]fines.ReportedFine, error) { return nil, nil }}
	p := newTestProcessor(t, gdb, clock, checker, ProcessorConfig{})

	res, err := p.ResetCycle()
	require.NoError(t, err)
	assert.Equal(t, 1, res.CompletedReset)
	assert.Equal(t, 1, res.FailedReset)
	assert.Equal(t, 2, res.TotalReset)

	gotDone := reload(t, gdb, done.ID)
	assert.Equal(t, StatusPending, gotDone.Status)
	assert.Empty(t, gotDone.LastError)

	gotFail := reload(t, gdb, restedFail.ID)
	assert.Equal(t, StatusPending, gotFail.Status)
	assert.Zero(t, gotFail.Attempts)
	assert.Zero(t, gotFail.BackoffExp)

	assert.Equal(t, StatusFailed, reload(t, gdb, freshFail.ID).Status)
}

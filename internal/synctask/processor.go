package synctask

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"finesync/internal/fines"
	"finesync/internal/metrics"
)

type ProcessorConfig struct {
	BatchSize    int
	TimeBudget   time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	StuckTimeout time.Duration
	// ReleaseUnstarted returns claimed-but-unreached tasks to Pending
	// when the time budget truncates a batch, instead of leaving them
	// leased for the reaper.
	ReleaseUnstarted bool
	// FailedRetryAge is how long a terminally Failed task rests before
	// ResetCycle reopens it.
	FailedRetryAge time.Duration
}

func (c *ProcessorConfig) fillDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = DefaultTimeBudget
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.StuckTimeout <= 0 {
		c.StuckTimeout = 10 * time.Minute
	}
	if c.FailedRetryAge <= 0 {
		c.FailedRetryAge = time.Hour
	}
}

// Processor drives one bounded polling cycle: reap stale leases, claim
// a batch, check each vehicle against the offence API, and report every
// outcome back to the Queue.
type Processor struct {
	queue  *Queue
	fines  *fines.Store
	client OffenceChecker
	cfg    ProcessorConfig
	log    zerolog.Logger

	now func() time.Time
}

func NewProcessor(q *Queue, fs *fines.Store, client OffenceChecker, cfg ProcessorConfig, log zerolog.Logger) *Processor {
	cfg.fillDefaults()
	return &Processor{
		queue:  q,
		fines:  fs,
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "processor").Logger(),
		now:    time.Now,
	}
}

type BatchResult struct {
	Status         string  `json:"status"`
	Message        string  `json:"message,omitempty"`
	RuntimeSeconds float64 `json:"runtime_seconds"`
	Processed      int     `json:"processed"`
	Errors         int     `json:"errors"`
	TotalClaimed   int     `json:"total_claimed"`
	StuckReset     int     `json:"stuck_reset,omitempty"`
	Released       int     `json:"released,omitempty"`
}

// RunBatch is the scheduler entrypoint for one polling cycle. A single
// task's failure never aborts the batch; only being unable to claim at
// all does.
func (p *Processor) RunBatch(ctx context.Context) BatchResult {
	start := p.now()

	stuck := p.queue.ResetStuck(p.cfg.StuckTimeout)
	if stuck > 0 {
		metrics.StuckReset.Add(float64(stuck))
		p.log.Info().Int("count", stuck).Msg("reset stuck tasks")
	}

	tasks, err := p.queue.ClaimBatch(p.cfg.BatchSize)
	if err != nil {
		return BatchResult{Status: "error", Message: err.Error()}
	}
	if len(tasks) == 0 {
		return BatchResult{
			Status:  "no_tasks",
			Message: fmt.Sprintf("no pending tasks at %s", start.UTC().Format(time.RFC3339)),
		}
	}

	var processed, errored, released int
	for i := range tasks {
		t := &tasks[i]
		if err := p.processOne(ctx, t); err != nil {
			errored++
			p.log.Error().Err(err).Str("vehicle", t.VehicleNo).Msg("task failed")
			p.retryOrFail(t, err)
		} else {
			processed++
		}

		if p.now().Sub(start) > p.cfg.TimeBudget && i+1 < len(tasks) {
			released = p.abandonRest(tasks[i+1:])
			break
		}
	}

	runtime := p.now().Sub(start)
	metrics.BatchDuration.Observe(runtime.Seconds())
	p.log.Info().
		Int("processed", processed).
		Int("errors", errored).
		Int("claimed", len(tasks)).
		Dur("runtime", runtime).
		Msg("batch completed")

	return BatchResult{
		Status:         "completed",
		RuntimeSeconds: runtime.Seconds(),
		Processed:      processed,
		Errors:         errored,
		TotalClaimed:   len(tasks),
		StuckReset:     stuck,
		Released:       released,
	}
}

func (p *Processor) processOne(ctx context.Context, t *Task) error {
	reported, err := p.client.Check(ctx, t.VehicleNo)
	if err != nil {
		return err
	}

	res, err := p.fines.Apply(t.VehicleNo, reported)
	if err != nil {
		// The API answered; only the downstream write misfired. Retry
		// the whole task so the report is re-applied.
		return err
	}
	metrics.FinesCreated.Add(float64(res.Created))
	metrics.FinesResolved.Add(float64(res.Resolved))

	if err := p.queue.MarkDone(t); err == nil {
		metrics.TasksProcessed.WithLabelValues("success").Inc()
	}
	p.log.Debug().
		Str("vehicle", t.VehicleNo).
		Int("pending", len(reported)).
		Int("created", res.Created).
		Int("resolved", res.Resolved).
		Msg("vehicle synced")
	return nil
}

func (p *Processor) retryOrFail(t *Task, cause error) {
	attempts, exp := p.queue.BumpAttempts(t)
	if attempts >= p.cfg.MaxAttempts {
		_ = p.queue.MarkFailed(t, cause.Error())
		metrics.TasksProcessed.WithLabelValues("failed").Inc()
		return
	}
	backoff := p.cfg.BaseBackoff * (1 << exp)
	_ = p.queue.ScheduleNext(t, backoff, cause.Error())
	metrics.TasksProcessed.WithLabelValues("retry").Inc()
}

func (p *Processor) abandonRest(rest []Task) int {
	if !p.cfg.ReleaseUnstarted {
		p.log.Warn().Int("count", len(rest)).Msg("time budget exceeded, leaving leased tasks for the reaper")
		return 0
	}
	released := 0
	for i := range rest {
		if err := p.queue.Release(&rest[i]); err == nil {
			released++
		}
	}
	p.log.Warn().Int("count", released).Msg("time budget exceeded, released unstarted tasks")
	return released
}

type CycleResetResult struct {
	CycleReset     bool `json:"cycle_reset"`
	CompletedReset int  `json:"completed_reset"`
	FailedReset    int  `json:"failed_reset"`
	TotalReset     int  `json:"total_reset"`
}

// ResetCycle reopens every Done task for the next polling pass and
// gives rested Failed tasks another run of the retry ladder.
func (p *Processor) ResetCycle() (CycleResetResult, error) {
	completed, err := p.queue.ResetCompleted()
	if err != nil {
		return CycleResetResult{}, err
	}
	failed, err := p.queue.ResetFailedOlderThan(p.cfg.FailedRetryAge)
	if err != nil {
		return CycleResetResult{}, err
	}
	return CycleResetResult{
		CycleReset:     true,
		CompletedReset: completed,
		FailedReset:    failed,
		TotalReset:     completed + failed,
	}, nil
}

// Package housekeeping runs periodic maintenance jobs (history retention,
// store compaction) on their own cron-driven runner, separate from the task
// scheduler loop.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Action identifies a type of maintenance job.
type Action string

const (
	ActionRetention  Action = "retention"
	ActionCompaction Action = "compaction"
)

// Job binds an action to a schedule. The schedule can be a cron expression
// or a duration string ("1h").
type Job struct {
	Name     string
	Schedule string
	Action   Action
}

// jobTimeout bounds one maintenance run.
const jobTimeout = 5 * time.Minute

// Runner executes registered maintenance actions on their schedules.
type Runner struct {
	cron    *cron.Cron
	actions map[Action]func(ctx context.Context) error
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRunner creates a runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		cron:    cron.New(),
		actions: make(map[Action]func(ctx context.Context) error),
		logger:  logger,
	}
}

// RegisterAction registers a handler for a maintenance action type.
func (r *Runner) RegisterAction(action Action, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action] = fn
}

// AddJob schedules a maintenance job. Must be called after RegisterAction
// for the job's action.
func (r *Runner) AddJob(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn, ok := r.actions[job.Action]
	if !ok {
		return fmt.Errorf("housekeeping: unknown action %q for job %q", job.Action, job.Name)
	}

	schedule, err := parseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("housekeeping: invalid schedule %q for job %q: %w", job.Schedule, job.Name, err)
	}

	name := job.Name
	logger := r.logger
	r.cron.Schedule(schedule, cron.FuncJob(func() {
		r.mu.Lock()
		ctx := r.ctx
		r.mu.Unlock()

		if ctx == nil {
			logger.Debug("housekeeping stopped, skipping job", "job", name)
			return
		}

		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(jobCtx); err != nil {
			logger.Warn("housekeeping job failed",
				"job", name,
				"error", err,
				"duration", time.Since(start))
		} else {
			logger.Debug("housekeeping job completed",
				"job", name,
				"duration", time.Since(start))
		}
	}))

	logger.Info("housekeeping job added", "name", job.Name, "schedule", job.Schedule, "action", string(job.Action))
	return nil
}

// Start begins running the maintenance jobs.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cron.Start()
	r.started = true
	return nil
}

// Stop signals the runner to stop and waits for running jobs to finish.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.started = false
	return nil
}

// parseSchedule tries a standard cron expression first, then falls back to
// time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// constantDelay implements cron.Schedule for a fixed interval. Unlike
// cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}

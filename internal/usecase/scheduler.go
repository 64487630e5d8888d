package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"taskrunner/internal/domain"
	"taskrunner/internal/infra/tracer"
)

// DefaultPollInterval is the tick interval when none is configured.
const DefaultPollInterval = 10 * time.Second

// defaultTaskTimeout bounds executor calls for tasks created without one.
const defaultTaskTimeout = 5 * time.Minute

// SchedulerDeps holds injected dependencies for the scheduler loop.
type SchedulerDeps struct {
	Queue        *Queue
	Registry     *Registry
	Store        domain.TaskStore
	Executor     domain.Executor
	Classifier   *Classifier
	Retry        *RetryPolicy
	Bus          domain.EventBus // optional
	Logger       *slog.Logger
	PollInterval time.Duration

	// DefaultTimeout bounds executor calls for tasks created without one.
	DefaultTimeout time.Duration
}

// Scheduler is the single-execution-slot loop: each tick scans for due
// recurring definitions, enqueues them, and, when nothing is running,
// dispatches the oldest pending task to the executor.
type Scheduler struct {
	deps SchedulerDeps
	now  func() time.Time

	mu            sync.Mutex
	status        domain.SchedulerStatus
	executing     bool
	currentTaskID string
	cancel        context.CancelFunc
	retryTimers   map[string]*retryEntry

	wg     sync.WaitGroup // loop goroutine + in-flight executor call
	execWG sync.WaitGroup // in-flight executor call only
}

type retryEntry struct {
	timer *time.Timer
	task  *domain.Task
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	if deps.PollInterval <= 0 {
		deps.PollInterval = DefaultPollInterval
	}
	if deps.Classifier == nil {
		deps.Classifier = NewClassifier()
	}
	if deps.Retry == nil {
		deps.Retry = NewRetryPolicy()
	}
	if deps.DefaultTimeout <= 0 {
		deps.DefaultTimeout = defaultTaskTimeout
	}
	return &Scheduler{
		deps:        deps,
		now:         time.Now,
		status:      domain.SchedulerStopped,
		retryTimers: make(map[string]*retryEntry),
	}
}

// Start begins ticking. It is a no-op when the loop is already starting or
// running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == domain.SchedulerRunning || s.status == domain.SchedulerStarting {
		s.mu.Unlock()
		return nil
	}
	if s.status == domain.SchedulerStopping {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: still stopping")
	}
	s.status = domain.SchedulerStarting
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(loopCtx)
	return nil
}

// Stop signals the loop to stop and waits for any in-flight executor call to
// finish. It never aborts a running task. Pending retry backoffs are flushed
// back onto the queue so they survive a restart.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.status == domain.SchedulerStopped || s.status == domain.SchedulerStopping {
		s.mu.Unlock()
		return
	}
	s.status = domain.SchedulerStopping
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.flushRetryTimers()

	s.mu.Lock()
	s.status = domain.SchedulerStopped
	s.mu.Unlock()
	s.deps.Logger.Info("scheduler stopped")
}

// State returns a snapshot of the loop.
func (s *Scheduler) State() domain.SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SchedulerState{
		Status:        s.status,
		PollInterval:  s.deps.PollInterval,
		IsExecuting:   s.executing,
		CurrentTaskID: s.currentTaskID,
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.mu.Lock()
	s.status = domain.SchedulerRunning
	s.mu.Unlock()
	s.deps.Logger.Info("scheduler started", "poll_interval", s.deps.PollInterval)

	ticker := time.NewTicker(s.deps.PollInterval)
	defer ticker.Stop()

	// First tick immediately; waiting a full interval on start would delay
	// already-due work.
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one due-scan plus one dispatch decision. Ticks never overlap:
// run() is the only caller and it is strictly sequential. The executor call
// itself happens on a separate goroutine so a long task never blocks queue
// and registry mutation.
func (s *Scheduler) tick(ctx context.Context) {
	ctx, span := tracer.StartSpan(ctx, "scheduler.tick")
	defer span.End()

	s.dueScan(ctx)
	s.dispatch(ctx)
}

// dueScan enqueues a synthesized task for every enabled definition whose
// next_run has arrived, then reschedules the definition from the fire time.
func (s *Scheduler) dueScan(ctx context.Context) {
	now := s.now()
	due, err := s.deps.Registry.Due(ctx, now)
	if err != nil {
		s.deps.Logger.Warn("due-scan failed", "error", err)
		return
	}
	for i := range due {
		def := due[i]
		task := s.deps.Queue.AddScheduled(ctx, &def)
		if err := s.deps.Registry.MarkFired(ctx, def.ID, now); err != nil {
			s.deps.Logger.Warn("trigger bookkeeping failed", "schedule", def.ID, "error", err)
		}
		s.publish(ctx, domain.EventScheduleFired, task.ID)
		s.deps.Logger.Info("scheduled task fired", "schedule", def.ID, "name", def.Name, "task", task.ID)
	}
}

// dispatch pops the oldest pending task and hands it to the executor, unless
// a task is already executing. This is the only place the running slot is
// claimed, and it only ever runs from the loop goroutine.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	if s.executing {
		s.mu.Unlock()
		return
	}
	task := s.deps.Queue.Pop(ctx)
	if task == nil {
		s.mu.Unlock()
		return
	}
	started := s.now()
	task.Status = domain.StatusRunning
	task.StartedAt = &started
	s.executing = true
	s.currentTaskID = task.ID
	s.mu.Unlock()

	if err := s.deps.Store.PutRunning(ctx, *task); err != nil {
		s.deps.Logger.Warn("running task not persisted", "task", task.ID, "error", err)
	}
	s.publish(ctx, domain.EventTaskStarted, task.ID)
	s.deps.Logger.Info("task dispatched", "task", task.ID, "retries", task.Retries)

	s.wg.Add(1)
	s.execWG.Add(1)
	go s.execute(ctx, task)
}

// execute runs the task under its timeout, then resolves the outcome. Panics
// from the executor are contained and treated as permanent failures.
func (s *Scheduler) execute(ctx context.Context, task *domain.Task) {
	defer s.wg.Done()
	defer s.execWG.Done()

	ctx, span := tracer.StartSpan(ctx, "scheduler.execute",
		trace.WithAttributes(tracer.StringAttr("task.id", task.ID), tracer.IntAttr("task.retries", task.Retries)),
	)
	defer span.End()

	timeout := task.Timeout()
	if timeout <= 0 {
		timeout = s.deps.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	result, err := s.runExecutor(execCtx, task)
	if err == nil && execCtx.Err() == context.DeadlineExceeded {
		err = domain.NewExecutionError(domain.KindTimeout, execCtx.Err())
	}
	if err != nil {
		tracer.RecordError(span, err)
	} else {
		tracer.SetOK(span)
	}

	s.resolve(ctx, task, result, err)

	s.mu.Lock()
	s.executing = false
	s.currentTaskID = ""
	s.mu.Unlock()
}

// runExecutor isolates the executor call so an unexpected panic surfaces as a
// classified error instead of killing the loop.
func (s *Scheduler) runExecutor(ctx context.Context, task *domain.Task) (result *domain.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewExecutionError(domain.KindPermanent, fmt.Errorf("executor panic: %v", r))
		}
	}()
	return s.deps.Executor.Run(ctx, task)
}

// resolve finalizes a finished execution: success into completed history,
// retryable failures back through the backoff timer, everything else into
// failed history.
func (s *Scheduler) resolve(ctx context.Context, task *domain.Task, result *domain.TaskResult, execErr error) {
	if err := s.deps.Store.RemoveRunning(ctx, task.ID); err != nil && !domain.IsNotFound(err) {
		s.deps.Logger.Warn("running task not removed from store", "task", task.ID, "error", err)
	}

	if execErr == nil {
		s.complete(ctx, task, result)
		return
	}

	kind := s.deps.Classifier.Classify(execErr)
	task.Error = execErr.Error()

	if kind.Retryable() && task.Retries < MaxRetries {
		task.Retries++
		delay := s.deps.Retry.Delay(task.Retries)
		s.deps.Logger.Warn("task failed, retrying",
			"task", task.ID, "kind", string(kind), "retries", task.Retries, "delay", delay, "error", execErr)
		s.publish(ctx, domain.EventTaskRetrying, task.ID)
		s.scheduleRetry(task, delay)
		return
	}

	s.fail(ctx, task, kind)
}

func (s *Scheduler) complete(ctx context.Context, task *domain.Task, result *domain.TaskResult) {
	finished := s.now()
	task.Status = domain.StatusCompleted
	task.FinishedAt = &finished
	task.Error = ""
	if result == nil {
		result = &domain.TaskResult{}
	}
	if result.DurationMs == 0 && task.StartedAt != nil {
		result.DurationMs = finished.Sub(*task.StartedAt).Milliseconds()
	}
	task.Result = result

	if err := s.deps.Store.AppendHistory(ctx, domain.HistoryCompleted, *task); err != nil {
		s.deps.Logger.Warn("completed task not persisted", "task", task.ID, "error", err)
	}
	s.publish(ctx, domain.EventTaskCompleted, task.ID)
	s.deps.Logger.Info("task completed",
		"task", task.ID, "duration_ms", result.DurationMs, "cost_usd", result.CostUSD)
}

func (s *Scheduler) fail(ctx context.Context, task *domain.Task, kind domain.ErrorKind) {
	finished := s.now()
	task.FinishedAt = &finished
	eventType := domain.EventTaskFailed
	if kind == domain.KindUserCancel {
		task.Status = domain.StatusCancelled
		eventType = domain.EventTaskCancelled
	} else {
		task.Status = domain.StatusFailed
	}

	if err := s.deps.Store.AppendHistory(ctx, domain.HistoryFailed, *task); err != nil {
		s.deps.Logger.Warn("failed task not persisted", "task", task.ID, "error", err)
	}
	s.publish(ctx, eventType, task.ID)
	s.deps.Logger.Warn("task finalized as failure",
		"task", task.ID, "status", string(task.Status), "kind", string(kind), "retries", task.Retries, "error", task.Error)
}

// scheduleRetry re-inserts the task at the back of the queue after the
// backoff elapses. A timer keeps the tick loop free of blocking waits.
func (s *Scheduler) scheduleRetry(task *domain.Task, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := task.ID
	entry := &retryEntry{task: task}
	entry.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.retryTimers, id)
		s.mu.Unlock()
		s.deps.Queue.Requeue(context.Background(), task)
	})
	s.retryTimers[id] = entry
}

// flushRetryTimers cancels outstanding backoff timers and requeues their
// tasks immediately so a stop/start cycle cannot lose them.
func (s *Scheduler) flushRetryTimers() {
	s.mu.Lock()
	entries := make([]*retryEntry, 0, len(s.retryTimers))
	for id, e := range s.retryTimers {
		if e.timer.Stop() {
			entries = append(entries, e)
		}
		delete(s.retryTimers, id)
	}
	s.mu.Unlock()

	for _, e := range entries {
		s.deps.Queue.Requeue(context.Background(), e.task)
	}
}

func (s *Scheduler) publish(ctx context.Context, eventType domain.EventType, taskID string) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(ctx, domain.Event{Type: eventType, Timestamp: s.now(), TaskID: taskID})
}

// WaitIdle blocks until no executor call is in flight. Test helper and
// shutdown aid; the loop may dispatch again afterwards.
func (s *Scheduler) WaitIdle() {
	s.execWG.Wait()
}

package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskrunner/internal/adapter/store"
	"taskrunner/internal/domain"
)

type schedEnv struct {
	scheduler *Scheduler
	queue     *Queue
	registry  *Registry
	tasks     *store.FileStore
}

func newSchedEnv(t *testing.T, exec domain.Executor, retry *RetryPolicy) *schedEnv {
	t.Helper()
	tasks, schedules := newTestStores(t)
	queue := NewQueue(tasks, nil, newTestLogger())
	registry := NewRegistry(schedules, queue, nil, newTestLogger())
	scheduler := NewScheduler(SchedulerDeps{
		Queue:        queue,
		Registry:     registry,
		Store:        tasks,
		Executor:     exec,
		Retry:        retry,
		Logger:       newTestLogger(),
		PollInterval: 5 * time.Millisecond,
	})
	t.Cleanup(scheduler.Stop)
	return &schedEnv{scheduler: scheduler, queue: queue, registry: registry, tasks: tasks}
}

func (e *schedEnv) completedTotal(t *testing.T) int {
	t.Helper()
	_, total, err := e.tasks.ListHistory(context.Background(), domain.HistoryCompleted, 0, 0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	return total
}

func (e *schedEnv) failedTotal(t *testing.T) int {
	t.Helper()
	_, total, err := e.tasks.ListHistory(context.Background(), domain.HistoryFailed, 0, 0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	return total
}

func TestSchedulerExecutesPendingTask(t *testing.T) {
	exec := &fakeExecutor{}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	added := env.queue.Add(ctx, domain.TaskSpec{Prompt: "hello"})
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return env.completedTotal(t) == 1 }, "task completion")

	done, err := env.tasks.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Error("expected started_at and finished_at set")
	}
	if done.Result == nil || done.Result.Message != "done" {
		t.Errorf("expected executor result recorded, got %+v", done.Result)
	}

	running, _ := env.tasks.ListRunning(ctx)
	if len(running) != 0 {
		t.Errorf("expected running collection drained, got %d", len(running))
	}
	if env.queue.Len() != 0 {
		t.Errorf("expected queue drained, got %d", env.queue.Len())
	}
}

func TestSchedulerSingleExecutionSlot(t *testing.T) {
	var mu sync.Mutex
	cur, peak := 0, 0
	exec := &fakeExecutor{fn: func(_ int, _ *domain.Task) (*domain.TaskResult, error) {
		mu.Lock()
		cur++
		if cur > peak {
			peak = cur
		}
		mu.Unlock()
		time.Sleep(15 * time.Millisecond)
		mu.Lock()
		cur--
		mu.Unlock()
		return &domain.TaskResult{}, nil
	}}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		env.queue.Add(ctx, domain.TaskSpec{Prompt: p})
	}
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return env.completedTotal(t) == 3 }, "all tasks to complete")

	mu.Lock()
	defer mu.Unlock()
	if peak != 1 {
		t.Errorf("expected at most one concurrent execution, peaked at %d", peak)
	}
}

func TestSchedulerRetriesTransientFailure(t *testing.T) {
	exec := &fakeExecutor{fn: func(call int, _ *domain.Task) (*domain.TaskResult, error) {
		if call < 3 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return &domain.TaskResult{Message: "recovered"}, nil
	}}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	added := env.queue.Add(ctx, domain.TaskSpec{Prompt: "flaky"})
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return env.completedTotal(t) == 1 }, "eventual completion")

	if exec.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", exec.callCount())
	}
	done, _ := env.tasks.Get(ctx, added.ID)
	if done.Retries != 2 {
		t.Errorf("expected 2 retries recorded, got %d", done.Retries)
	}
	if done.Status != domain.StatusCompleted {
		t.Errorf("expected completed after retry, got %s", done.Status)
	}
}

func TestSchedulerRetryRequeuesBehindWaitingTasks(t *testing.T) {
	var mu sync.Mutex
	failedOnce := false
	exec := &fakeExecutor{}
	exec.fn = func(_ int, task *domain.Task) (*domain.TaskResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if task.Prompt == "a" && !failedOnce {
			failedOnce = true
			return nil, errors.New("temporarily unavailable")
		}
		return &domain.TaskResult{}, nil
	}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	env.queue.Add(ctx, domain.TaskSpec{Prompt: "a"})
	env.queue.Add(ctx, domain.TaskSpec{Prompt: "b"})
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return env.completedTotal(t) == 2 }, "both tasks to complete")

	got := exec.ranPrompts()
	want := []string{"a", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("expected attempts %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected attempts %v, got %v", want, got)
		}
	}
}

func TestSchedulerPermanentFailureNoRetry(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ int, _ *domain.Task) (*domain.TaskResult, error) {
		return nil, errors.New("unsupported model")
	}}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	added := env.queue.Add(ctx, domain.TaskSpec{Prompt: "doomed"})
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return env.failedTotal(t) == 1 }, "task failure")

	if exec.callCount() != 1 {
		t.Errorf("expected a single attempt, got %d", exec.callCount())
	}
	done, _ := env.tasks.Get(ctx, added.ID)
	if done.Status != domain.StatusFailed || done.Retries != 0 {
		t.Errorf("expected failed without retries, got %+v", done)
	}
	if done.Error == "" {
		t.Error("expected error message recorded")
	}
}

func TestSchedulerExhaustsRetries(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ int, _ *domain.Task) (*domain.TaskResult, error) {
		return nil, errors.New("503 service unavailable")
	}}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	added := env.queue.Add(ctx, domain.TaskSpec{Prompt: "always down"})
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return env.failedTotal(t) == 1 }, "final failure")

	if exec.callCount() != MaxRetries+1 {
		t.Errorf("expected %d attempts, got %d", MaxRetries+1, exec.callCount())
	}
	done, _ := env.tasks.Get(ctx, added.ID)
	if done.Retries != MaxRetries {
		t.Errorf("expected %d retries recorded, got %d", MaxRetries, done.Retries)
	}
}

func TestSchedulerTimeoutRetriedThenFailed(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ int, _ *domain.Task) (*domain.TaskResult, error) {
		time.Sleep(30 * time.Millisecond)
		return &domain.TaskResult{}, nil
	}}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	added := env.queue.Add(ctx, domain.TaskSpec{Prompt: "slow", TimeoutMs: 5})
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return env.failedTotal(t) == 1 }, "timeout failure")

	done, _ := env.tasks.Get(ctx, added.ID)
	if done.Status != domain.StatusFailed {
		t.Errorf("expected failed after repeated timeouts, got %s", done.Status)
	}
	if done.Retries != MaxRetries {
		t.Errorf("expected timeouts to be retried, got %d retries", done.Retries)
	}
}

func TestSchedulerCancelledTaskStatus(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ int, _ *domain.Task) (*domain.TaskResult, error) {
		return nil, domain.NewExecutionError(domain.KindUserCancel, context.Canceled)
	}}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	added := env.queue.Add(ctx, domain.TaskSpec{Prompt: "cancel me"})
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return env.failedTotal(t) == 1 }, "cancellation")

	done, _ := env.tasks.Get(ctx, added.ID)
	if done.Status != domain.StatusCancelled {
		t.Errorf("expected cancelled status, got %s", done.Status)
	}
	if exec.callCount() != 1 {
		t.Errorf("expected no retry after cancel, got %d attempts", exec.callCount())
	}
}

func TestSchedulerExecutorPanicContained(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ int, _ *domain.Task) (*domain.TaskResult, error) {
		panic("executor blew up")
	}}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	env.queue.Add(ctx, domain.TaskSpec{Prompt: "boom"})
	ok := env.queue.Add(ctx, domain.TaskSpec{Prompt: "after the panic"})

	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Both tasks fail permanently, and the loop survives to process the
	// second one.
	waitFor(t, func() bool { return env.failedTotal(t) == 2 }, "both panics resolved")

	done, _ := env.tasks.Get(ctx, ok.ID)
	if done.Status != domain.StatusFailed {
		t.Errorf("expected second task processed after panic, got %s", done.Status)
	}
}

func TestSchedulerFiresDueDefinition(t *testing.T) {
	exec := &fakeExecutor{}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	def := domain.ScheduledTask{
		ID: "nightly", Name: "nightly", Prompt: "run the report",
		Cron: "0 9 * * *", Enabled: true, NextRun: &past, CreatedAt: past,
	}
	if err := env.registry.store.Save(ctx, def); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return env.completedTotal(t) == 1 }, "synthesized task completion")

	after, err := env.registry.Get(ctx, "nightly")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.RunCount != 1 {
		t.Errorf("expected run_count 1, got %d", after.RunCount)
	}
	if after.LastRun == nil {
		t.Error("expected last_run recorded")
	}
	if after.NextRun == nil || !after.NextRun.After(time.Now()) {
		t.Errorf("expected next_run rescheduled into the future, got %v", after.NextRun)
	}

	if got := exec.ranPrompts(); len(got) != 1 || got[0] != "run the report" {
		t.Errorf("expected definition prompt executed, got %v", got)
	}
}

func TestSchedulerStopFlushesRetryBackoff(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ int, _ *domain.Task) (*domain.TaskResult, error) {
		return nil, errors.New("connection reset by peer")
	}}
	env := newSchedEnv(t, exec, slowRetryPolicy())
	ctx := context.Background()

	added := env.queue.Add(ctx, domain.TaskSpec{Prompt: "stuck in backoff"})
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool {
		env.scheduler.mu.Lock()
		defer env.scheduler.mu.Unlock()
		return len(env.scheduler.retryTimers) == 1
	}, "retry timer to be armed")

	env.scheduler.Stop()

	if env.queue.Len() != 1 {
		t.Fatalf("expected flushed task back on queue, got %d", env.queue.Len())
	}
	requeued := env.queue.Pop(ctx)
	if requeued.ID != added.ID || requeued.Retries != 1 {
		t.Errorf("expected original task with one retry, got %+v", requeued)
	}
	if requeued.Status != domain.StatusPending {
		t.Errorf("expected pending after flush, got %s", requeued.Status)
	}
}

func TestSchedulerStopWaitsForInFlightTask(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	exec := &fakeExecutor{fn: func(_ int, _ *domain.Task) (*domain.TaskResult, error) {
		close(entered)
		<-release
		return &domain.TaskResult{Message: "finished cleanly"}, nil
	}}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	added := env.queue.Add(ctx, domain.TaskSpec{Prompt: "long job"})
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-entered

	stopped := make(chan struct{})
	go func() {
		env.scheduler.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was still executing")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the task finished")
	}

	done, _ := env.tasks.Get(context.Background(), added.ID)
	if done.Status != domain.StatusCompleted {
		t.Errorf("expected in-flight task to complete, got %s", done.Status)
	}
}

func TestSchedulerStartIdempotent(t *testing.T) {
	exec := &fakeExecutor{}
	env := newSchedEnv(t, exec, fastRetryPolicy())
	ctx := context.Background()

	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.scheduler.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	waitFor(t, func() bool {
		return env.scheduler.State().Status == domain.SchedulerRunning
	}, "running state")

	env.scheduler.Stop()
	env.scheduler.Stop() // idempotent

	if got := env.scheduler.State().Status; got != domain.SchedulerStopped {
		t.Errorf("expected stopped, got %s", got)
	}
}

func TestSchedulerStateSnapshot(t *testing.T) {
	exec := &fakeExecutor{}
	env := newSchedEnv(t, exec, fastRetryPolicy())

	state := env.scheduler.State()
	if state.Status != domain.SchedulerStopped {
		t.Errorf("expected stopped before start, got %s", state.Status)
	}
	if state.PollInterval != 5*time.Millisecond {
		t.Errorf("expected configured poll interval, got %v", state.PollInterval)
	}
	if state.IsExecuting || state.CurrentTaskID != "" {
		t.Errorf("expected idle snapshot, got %+v", state)
	}
}

package usecase

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"taskrunner/internal/adapter/store"
	"taskrunner/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStores(t *testing.T) (*store.FileStore, *store.ScheduleFileStore) {
	t.Helper()
	dir := t.TempDir()
	tasks, err := store.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	schedules, err := store.NewScheduleFileStore(dir)
	if err != nil {
		t.Fatalf("NewScheduleFileStore: %v", err)
	}
	return tasks, schedules
}

// fastRetryPolicy keeps backoff waits out of test runtime.
func fastRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		base: time.Millisecond,
		max:  10 * time.Millisecond,
		rand: rand.New(rand.NewSource(1)),
	}
}

// slowRetryPolicy parks retries far beyond test runtime so a stop can flush
// them.
func slowRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		base: time.Hour,
		max:  time.Hour,
		rand: rand.New(rand.NewSource(1)),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// fakeExecutor scripts executor outcomes per call and records the prompts it
// ran in order.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	fn      func(call int, task *domain.Task) (*domain.TaskResult, error)
}

func (f *fakeExecutor) Run(_ context.Context, task *domain.Task) (*domain.TaskResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.prompts = append(f.prompts, task.Prompt)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return &domain.TaskResult{Message: "done"}, nil
	}
	return fn(call, task)
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeExecutor) ranPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

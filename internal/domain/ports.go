package domain

import (
	"context"
)

// Executor performs the actual agent work for a task. Implementations must
// honor ctx, which carries a deadline derived from the task timeout.
type Executor interface {
	Run(ctx context.Context, task *Task) (*TaskResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *Task) (*TaskResult, error)

func (f ExecutorFunc) Run(ctx context.Context, task *Task) (*TaskResult, error) {
	return f(ctx, task)
}

// HistoryKind selects one of the bounded terminal-task collections.
type HistoryKind string

const (
	HistoryCompleted HistoryKind = "completed"
	HistoryFailed    HistoryKind = "failed"
)

// TaskStore persists the pending queue, the running set and the bounded
// terminal histories. Implementations must be safe for concurrent use.
type TaskStore interface {
	// Pending queue, strict arrival order.
	AppendPending(ctx context.Context, task Task) error
	ListPending(ctx context.Context) ([]Task, error)
	RemovePending(ctx context.Context, id string) error
	ClearPending(ctx context.Context) error

	// Running set (holds at most one task by scheduler invariant, but the
	// store does not enforce that).
	PutRunning(ctx context.Context, task Task) error
	ListRunning(ctx context.Context) ([]Task, error)
	RemoveRunning(ctx context.Context, id string) error

	// Terminal histories, bounded: appending beyond the cap evicts oldest.
	AppendHistory(ctx context.Context, kind HistoryKind, task Task) error
	ListHistory(ctx context.Context, kind HistoryKind, offset, limit int) ([]Task, int, error)

	// Get searches all collections by id.
	Get(ctx context.Context, id string) (*Task, error)
}

// ScheduleStore persists recurring task definitions.
type ScheduleStore interface {
	Save(ctx context.Context, def ScheduledTask) error
	Get(ctx context.Context, id string) (*ScheduledTask, error)
	List(ctx context.Context) ([]ScheduledTask, error)
	Delete(ctx context.Context, id string) error
}

package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskrunner/internal/domain"
)

// Queue is the FIFO of pending one-off tasks. It is authoritative in memory
// and mirrors every mutation to the task store; a failing store demotes the
// queue to in-memory operation rather than blocking enqueues.
type Queue struct {
	mu     sync.Mutex
	tasks  []*domain.Task
	store  domain.TaskStore
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time
}

// NewQueue creates a queue backed by store. bus may be nil.
func NewQueue(store domain.TaskStore, bus domain.EventBus, logger *slog.Logger) *Queue {
	return &Queue{
		store:  store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Restore loads persisted pending tasks into the queue, preserving order.
// Called once at startup before the scheduler loop starts.
func (q *Queue) Restore(ctx context.Context) error {
	pending, err := q.store.ListPending(ctx)
	if err != nil {
		return domain.WrapOp("queue.restore", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range pending {
		t := pending[i]
		q.tasks = append(q.tasks, &t)
	}
	return nil
}

// Add creates a pending task from spec and appends it to the queue.
func (q *Queue) Add(ctx context.Context, spec domain.TaskSpec) *domain.Task {
	task := &domain.Task{
		ID:           uuid.NewString(),
		Prompt:       spec.Prompt,
		Workspace:    spec.Workspace,
		TimeoutMs:    spec.TimeoutMs,
		AutoApprove:  spec.AutoApprove,
		AllowedTools: spec.AllowedTools,
		CreatedAt:    q.now(),
		Status:       domain.StatusPending,
	}
	q.append(ctx, task)
	return task.Clone()
}

// AddScheduled creates a pending task synthesized from a recurring definition.
func (q *Queue) AddScheduled(ctx context.Context, def *domain.ScheduledTask) *domain.Task {
	spec := def.Spec()
	task := &domain.Task{
		ID:           uuid.NewString(),
		Prompt:       spec.Prompt,
		Workspace:    spec.Workspace,
		TimeoutMs:    spec.TimeoutMs,
		AutoApprove:  spec.AutoApprove,
		AllowedTools: spec.AllowedTools,
		CreatedAt:    q.now(),
		Status:       domain.StatusPending,
		Scheduled:    true,
		ScheduledID:  def.ID,
	}
	q.append(ctx, task)
	return task.Clone()
}

// Requeue re-inserts a task at the back after a retry backoff. The task keeps
// its id and created_at; retries was already incremented by the caller.
func (q *Queue) Requeue(ctx context.Context, task *domain.Task) {
	task.Status = domain.StatusPending
	task.StartedAt = nil
	q.append(ctx, task)
}

func (q *Queue) append(ctx context.Context, task *domain.Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	if err := q.store.AppendPending(ctx, *task); err != nil {
		q.logger.Warn("pending task not persisted, continuing in memory",
			"task", task.ID, "error", err)
	}
	q.publish(ctx, domain.EventTaskEnqueued, task.ID)
	q.logger.Debug("task enqueued", "task", task.ID, "scheduled", task.Scheduled, "retries", task.Retries)
}

// Pop removes and returns the oldest pending task, or nil when empty.
func (q *Queue) Pop(ctx context.Context) *domain.Task {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.mu.Unlock()

	if err := q.store.RemovePending(ctx, task.ID); err != nil && !domain.IsNotFound(err) {
		q.logger.Warn("dequeued task not removed from store", "task", task.ID, "error", err)
	}
	return task
}

// List returns a snapshot of pending tasks in arrival order.
func (q *Queue) List() []*domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.Task, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Remove deletes a pending task by id. Returns domain.ErrNotFound without
// mutating anything when the id is not queued.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	idx := -1
	for i, t := range q.tasks {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return domain.NewDomainError("queue.Remove", domain.ErrNotFound, id)
	}
	q.tasks = append(q.tasks[:idx], q.tasks[idx+1:]...)
	q.mu.Unlock()

	if err := q.store.RemovePending(ctx, id); err != nil && !domain.IsNotFound(err) {
		q.logger.Warn("removed task not deleted from store", "task", id, "error", err)
	}
	return nil
}

// Clear empties the queue unconditionally.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	n := len(q.tasks)
	q.tasks = nil
	q.mu.Unlock()

	if err := q.store.ClearPending(ctx); err != nil {
		q.logger.Warn("pending store not cleared", "error", err)
	}
	q.logger.Info("queue cleared", "removed", n)
}

func (q *Queue) publish(ctx context.Context, eventType domain.EventType, taskID string) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(ctx, domain.Event{Type: eventType, Timestamp: q.now(), TaskID: taskID})
}

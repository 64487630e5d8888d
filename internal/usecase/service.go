package usecase

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"taskrunner/internal/domain"
)

// Service is the caller-facing contract over the scheduler: queue operations,
// scheduled-task CRUD, status queries and loop control. Transports wrap this
// type; nothing in here knows about HTTP.
type Service struct {
	queue     *Queue
	registry  *Registry
	scheduler *Scheduler
	store     domain.TaskStore
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewService wires the facade. enqueueRate bounds Add/RunNow calls per
// second (burst 2x); zero disables limiting.
func NewService(queue *Queue, registry *Registry, scheduler *Scheduler, store domain.TaskStore, enqueueRate float64, logger *slog.Logger) *Service {
	var limiter *rate.Limiter
	if enqueueRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(enqueueRate), int(enqueueRate*2)+1)
	}
	return &Service{
		queue:     queue,
		registry:  registry,
		scheduler: scheduler,
		store:     store,
		limiter:   limiter,
		logger:    logger,
	}
}

// --- queue ---

// Enqueue validates spec and appends a pending task.
func (s *Service) Enqueue(ctx context.Context, spec domain.TaskSpec) (*domain.Task, error) {
	if spec.Prompt == "" {
		return nil, domain.NewDomainError("service.Enqueue", domain.ErrInvalidInput, "prompt is required")
	}
	if err := s.allow(ctx); err != nil {
		return nil, err
	}
	return s.queue.Add(ctx, spec), nil
}

// Pending lists queued tasks in arrival order.
func (s *Service) Pending(context.Context) []*domain.Task {
	return s.queue.List()
}

// Dequeue removes a pending task by id.
func (s *Service) Dequeue(ctx context.Context, id string) error {
	return s.queue.Remove(ctx, id)
}

// ClearQueue empties the pending queue unconditionally.
func (s *Service) ClearQueue(ctx context.Context) {
	s.queue.Clear(ctx)
}

// --- scheduled tasks ---

func (s *Service) CreateScheduled(ctx context.Context, def domain.ScheduledTask) (*domain.ScheduledTask, error) {
	return s.registry.Create(ctx, def)
}

func (s *Service) ListScheduled(ctx context.Context) ([]domain.ScheduledTask, error) {
	return s.registry.List(ctx)
}

func (s *Service) GetScheduled(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	return s.registry.Get(ctx, id)
}

func (s *Service) UpdateScheduled(ctx context.Context, id string, patch Patch) (*domain.ScheduledTask, error) {
	return s.registry.Update(ctx, id, patch)
}

func (s *Service) DeleteScheduled(ctx context.Context, id string) error {
	return s.registry.Delete(ctx, id)
}

func (s *Service) ToggleScheduled(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	return s.registry.Toggle(ctx, id)
}

// RunScheduledNow enqueues a one-off run of the definition immediately.
func (s *Service) RunScheduledNow(ctx context.Context, id string) (*domain.Task, error) {
	if err := s.allow(ctx); err != nil {
		return nil, err
	}
	return s.registry.RunNow(ctx, id)
}

// ValidateCron reports whether text is a usable cron expression, with a
// human-readable reason when it is not.
func (s *Service) ValidateCron(text string) (bool, string) {
	return s.registry.ValidateCron(text)
}

// --- status ---

// Running lists currently executing tasks (at most one by invariant).
func (s *Service) Running(ctx context.Context) ([]domain.Task, error) {
	return s.store.ListRunning(ctx)
}

// Completed returns a page of completed history plus the total count.
func (s *Service) Completed(ctx context.Context, offset, limit int) ([]domain.Task, int, error) {
	return s.store.ListHistory(ctx, domain.HistoryCompleted, offset, limit)
}

// Failed returns a page of failed/cancelled history plus the total count.
func (s *Service) Failed(ctx context.Context, offset, limit int) ([]domain.Task, int, error) {
	return s.store.ListHistory(ctx, domain.HistoryFailed, offset, limit)
}

// Task returns a single task by id, searching every collection.
func (s *Service) Task(ctx context.Context, id string) (*domain.Task, error) {
	return s.store.Get(ctx, id)
}

// --- scheduler control ---

func (s *Service) StartScheduler(ctx context.Context) error {
	return s.scheduler.Start(ctx)
}

func (s *Service) StopScheduler(context.Context) {
	s.scheduler.Stop()
}

func (s *Service) SchedulerState(context.Context) domain.SchedulerState {
	return s.scheduler.State()
}

// allow applies the enqueue rate limit with a short wait so bursts queue up
// instead of failing outright.
func (s *Service) allow(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.limiter.Wait(waitCtx); err != nil {
		s.logger.Warn("enqueue rate limited", "error", err)
		return domain.NewDomainError("service", domain.ErrRateLimited, "enqueue")
	}
	return nil
}

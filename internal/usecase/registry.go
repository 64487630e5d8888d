package usecase

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"taskrunner/internal/cron"
	"taskrunner/internal/domain"
)

// Patch contains optional fields for updating a scheduled task.
type Patch struct {
	Name         *string   `json:"name,omitempty"`
	Prompt       *string   `json:"prompt,omitempty"`
	Cron         *string   `json:"cron,omitempty"`
	Workspace    *string   `json:"workspace,omitempty"`
	TimeoutMs    *int64    `json:"timeout_ms,omitempty"`
	AutoApprove  *bool     `json:"auto_approve,omitempty"`
	AllowedTools *[]string `json:"allowed_tools,omitempty"`
	Enabled      *bool     `json:"enabled,omitempty"`
}

// Registry manages recurring task definitions: CRUD plus the trigger
// bookkeeping the scheduler loop drives. Cron strings are validated before
// any write reaches the store.
type Registry struct {
	store  domain.ScheduleStore
	queue  *Queue
	bus    domain.EventBus
	logger *slog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewRegistry creates a registry. bus may be nil.
func NewRegistry(store domain.ScheduleStore, queue *Queue, bus domain.EventBus, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		queue:  queue,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Create validates and persists a new scheduled task. Enabled definitions get
// their first NextRun computed from now.
func (r *Registry) Create(ctx context.Context, def domain.ScheduledTask) (*domain.ScheduledTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def.Prompt == "" {
		return nil, domain.NewDomainError("registry.Create", domain.ErrInvalidInput, "prompt is required")
	}
	expr, err := cron.Parse(def.Cron)
	if err != nil {
		return nil, domain.WrapOp("registry.Create", err)
	}

	if def.ID == "" {
		def.ID = r.newID()
	}
	now := r.now()
	def.CreatedAt = now
	def.UpdatedAt = now
	def.Enabled = true
	def.LastRun = nil
	def.RunCount = 0
	if next, ok := expr.Next(now); ok {
		def.NextRun = &next
	} else {
		def.NextRun = nil
	}

	if err := r.store.Save(ctx, def); err != nil {
		return nil, domain.WrapOp("registry.Create", err)
	}
	r.logger.Info("scheduled task created", "id", def.ID, "name", def.Name, "cron", def.Cron)
	return &def, nil
}

// List returns all definitions ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]domain.ScheduledTask, error) {
	return r.store.List(ctx)
}

// Get returns a single definition by id.
func (r *Registry) Get(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	return r.store.Get(ctx, id)
}

// Update patches a definition. A cron or enabled change recomputes NextRun;
// an invalid cron string leaves the stored definition untouched.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (*domain.ScheduledTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	recompute := false
	if patch.Cron != nil {
		if _, err := cron.Parse(*patch.Cron); err != nil {
			return nil, domain.WrapOp("registry.Update", err)
		}
		def.Cron = *patch.Cron
		recompute = true
	}
	if patch.Name != nil {
		def.Name = *patch.Name
	}
	if patch.Prompt != nil {
		def.Prompt = *patch.Prompt
	}
	if patch.Workspace != nil {
		def.Workspace = *patch.Workspace
	}
	if patch.TimeoutMs != nil {
		def.TimeoutMs = *patch.TimeoutMs
	}
	if patch.AutoApprove != nil {
		def.AutoApprove = *patch.AutoApprove
	}
	if patch.AllowedTools != nil {
		def.AllowedTools = *patch.AllowedTools
	}
	if patch.Enabled != nil && *patch.Enabled != def.Enabled {
		def.Enabled = *patch.Enabled
		recompute = true
	}

	if recompute {
		r.refreshNextRun(def)
	}
	def.UpdatedAt = r.now()

	if err := r.store.Save(ctx, *def); err != nil {
		return nil, domain.WrapOp("registry.Update", err)
	}
	r.logger.Info("scheduled task updated", "id", id)
	return def, nil
}

// Delete removes a definition.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.logger.Info("scheduled task deleted", "id", id)
	return nil
}

// Toggle flips enabled. Enabling recomputes NextRun from now, disabling
// clears it.
func (r *Registry) Toggle(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	def.Enabled = !def.Enabled
	r.refreshNextRun(def)
	def.UpdatedAt = r.now()

	if err := r.store.Save(ctx, *def); err != nil {
		return nil, domain.WrapOp("registry.Toggle", err)
	}
	r.logger.Info("scheduled task toggled", "id", id, "enabled", def.Enabled)
	return def, nil
}

// RunNow synthesizes a one-off task from the definition and enqueues it
// immediately. Trigger bookkeeping (next_run, last_run, run_count) is not
// touched: this path is independent of the normal trigger.
func (r *Registry) RunNow(ctx context.Context, id string) (*domain.Task, error) {
	def, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	task := r.queue.AddScheduled(ctx, def)
	r.logger.Info("scheduled task run now", "id", id, "task", task.ID)
	return task, nil
}

// ValidateCron reports whether text is a usable cron expression.
func (r *Registry) ValidateCron(text string) (bool, string) {
	return cron.Validate(text)
}

// Due returns the enabled definitions whose NextRun is at or before now.
func (r *Registry) Due(ctx context.Context, now time.Time) ([]domain.ScheduledTask, error) {
	defs, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var due []domain.ScheduledTask
	for _, d := range defs {
		if d.Enabled && d.NextRun != nil && !d.NextRun.After(now) {
			due = append(due, d)
		}
	}
	return due, nil
}

// MarkFired records a trigger: last_run=now, run_count+1 and next_run
// recomputed from now. Rescheduling happens at fire time, deliberately
// independent of how long the synthesized task takes to execute.
func (r *Registry) MarkFired(ctx context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	fired := now
	def.LastRun = &fired
	def.RunCount++
	def.NextRun = nil
	if expr, err := cron.Parse(def.Cron); err == nil {
		if next, ok := expr.Next(now); ok {
			def.NextRun = &next
		}
	}
	def.UpdatedAt = r.now()
	return domain.WrapOp("registry.MarkFired", r.store.Save(ctx, *def))
}

// refreshNextRun recomputes NextRun for the definition's enabled state.
// Caller holds r.mu.
func (r *Registry) refreshNextRun(def *domain.ScheduledTask) {
	if !def.Enabled {
		def.NextRun = nil
		return
	}
	def.NextRun = nil
	if expr, err := cron.Parse(def.Cron); err == nil {
		if next, ok := expr.Next(r.now()); ok {
			def.NextRun = &next
		}
	}
}

func (r *Registry) newID() string {
	t := r.now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

package usecase

import (
	"context"
	"errors"
	"testing"

	"taskrunner/internal/domain"
)

func newTestService(t *testing.T, enqueueRate float64) (*Service, *fakeExecutor) {
	t.Helper()
	tasks, schedules := newTestStores(t)
	queue := NewQueue(tasks, nil, newTestLogger())
	registry := NewRegistry(schedules, queue, nil, newTestLogger())
	exec := &fakeExecutor{}
	scheduler := NewScheduler(SchedulerDeps{
		Queue:        queue,
		Registry:     registry,
		Store:        tasks,
		Executor:     exec,
		Logger:       newTestLogger(),
		PollInterval: DefaultPollInterval,
	})
	t.Cleanup(scheduler.Stop)
	return NewService(queue, registry, scheduler, tasks, enqueueRate, newTestLogger()), exec
}

func TestServiceEnqueue(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	task, err := svc.Enqueue(ctx, domain.TaskSpec{Prompt: "do the thing"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if task.Status != domain.StatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}

	pending := svc.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != task.ID {
		t.Fatalf("expected 1 pending task, got %+v", pending)
	}
}

func TestServiceEnqueueRequiresPrompt(t *testing.T) {
	svc, _ := newTestService(t, 0)

	_, err := svc.Enqueue(context.Background(), domain.TaskSpec{})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid-input error, got %v", err)
	}
}

func TestServiceDequeueAndClear(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	a, _ := svc.Enqueue(ctx, domain.TaskSpec{Prompt: "a"})
	svc.Enqueue(ctx, domain.TaskSpec{Prompt: "b"})

	if err := svc.Dequeue(ctx, a.ID); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := svc.Dequeue(ctx, "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}

	svc.ClearQueue(ctx)
	if got := svc.Pending(ctx); len(got) != 0 {
		t.Fatalf("expected empty queue, got %d", len(got))
	}
}

func TestServiceScheduledCRUD(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	def, err := svc.CreateScheduled(ctx, domain.ScheduledTask{
		Name: "weekly", Prompt: "clean up branches", Cron: "0 8 * * 1",
	})
	if err != nil {
		t.Fatalf("CreateScheduled: %v", err)
	}

	listed, err := svc.ListScheduled(ctx)
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected 1 definition, got %v (%v)", listed, err)
	}

	toggled, err := svc.ToggleScheduled(ctx, def.ID)
	if err != nil || toggled.Enabled {
		t.Fatalf("expected disabled definition, got %+v (%v)", toggled, err)
	}

	if err := svc.DeleteScheduled(ctx, def.ID); err != nil {
		t.Fatalf("DeleteScheduled: %v", err)
	}
	if _, err := svc.GetScheduled(ctx, def.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestServiceValidateCron(t *testing.T) {
	svc, _ := newTestService(t, 0)

	if ok, _ := svc.ValidateCron("0 9 * * 1-5"); !ok {
		t.Error("expected weekday expression to validate")
	}
	if ok, reason := svc.ValidateCron("* * *"); ok || reason == "" {
		t.Errorf("expected rejection with reason, got ok=%v reason=%q", ok, reason)
	}
}

func TestServiceSchedulerControl(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	if got := svc.SchedulerState(ctx).Status; got != domain.SchedulerStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
	if err := svc.StartScheduler(ctx); err != nil {
		t.Fatalf("StartScheduler: %v", err)
	}
	waitFor(t, func() bool {
		return svc.SchedulerState(ctx).Status == domain.SchedulerRunning
	}, "running state")
	svc.StopScheduler(ctx)
	if got := svc.SchedulerState(ctx).Status; got != domain.SchedulerStopped {
		t.Fatalf("expected stopped after StopScheduler, got %s", got)
	}
}

func TestServiceHistoryPaging(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	// Seed history directly through the store.
	for _, id := range []string{"t1", "t2", "t3"} {
		task := domain.Task{ID: id, Prompt: id, Status: domain.StatusCompleted}
		if err := svc.store.AppendHistory(ctx, domain.HistoryCompleted, task); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	page, total, err := svc.Completed(ctx, 0, 2)
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
	// Newest first.
	if len(page) != 2 || page[0].ID != "t3" || page[1].ID != "t2" {
		t.Errorf("expected newest-first page [t3 t2], got %+v", page)
	}

	page, _, _ = svc.Completed(ctx, 2, 2)
	if len(page) != 1 || page[0].ID != "t1" {
		t.Errorf("expected final page [t1], got %+v", page)
	}
}

package store

import (
	"context"
	"testing"
	"time"

	"taskrunner/internal/domain"
)

func def(id string, createdAt time.Time) domain.ScheduledTask {
	return domain.ScheduledTask{
		ID:        id,
		Name:      "job " + id,
		Prompt:    "run " + id,
		Cron:      "0 9 * * *",
		Enabled:   true,
		CreatedAt: createdAt,
	}
}

func TestScheduleFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScheduleFileStore(dir)
	if err != nil {
		t.Fatalf("NewScheduleFileStore: %v", err)
	}
	ctx := context.Background()
	base := time.Now()

	if err := s.Save(ctx, def("s1", base)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, def("s2", base.Add(time.Second))); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil || got.Name != "job s1" {
		t.Fatalf("Get: %+v, %v", got, err)
	}

	// Save with the same id overwrites.
	updated := def("s1", base)
	updated.Prompt = "changed"
	if err := s.Save(ctx, updated); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "s1")
	if got.Prompt != "changed" {
		t.Errorf("expected overwrite, got %q", got.Prompt)
	}

	// Reload from disk preserves everything.
	reloaded, err := NewScheduleFileStore(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defs, err := reloaded.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(defs) != 2 || defs[0].ID != "s1" || defs[1].ID != "s2" {
		t.Fatalf("expected [s1 s2] in creation order, got %+v", defs)
	}
}

func TestScheduleFileStoreDelete(t *testing.T) {
	s, err := NewScheduleFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewScheduleFileStore: %v", err)
	}
	ctx := context.Background()

	s.Save(ctx, def("s1", time.Now()))
	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); !domain.IsNotFound(err) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
	if err := s.Delete(ctx, "s1"); !domain.IsNotFound(err) {
		t.Fatalf("expected not-found for second delete, got %v", err)
	}
}

func TestScheduleFileStoreGetReturnsCopy(t *testing.T) {
	s, err := NewScheduleFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewScheduleFileStore: %v", err)
	}
	ctx := context.Background()

	s.Save(ctx, def("s1", time.Now()))
	got, _ := s.Get(ctx, "s1")
	got.Prompt = "mutated"

	again, _ := s.Get(ctx, "s1")
	if again.Prompt == "mutated" {
		t.Error("expected Get to return a copy")
	}
}

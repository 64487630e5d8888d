// Package store provides the persistence adapters for tasks and scheduled
// definitions: a JSON file store, a SQLite store, and a circuit-breaker
// decorator that keeps the scheduler available when persistence fails.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"taskrunner/internal/domain"
)

// HistoryCap bounds each terminal-history collection; appending beyond it
// evicts the oldest record.
const HistoryCap = 1000

// FileStore implements domain.TaskStore with JSON file persistence. All
// collections are held in memory and written through with atomic tmp+rename.
type FileStore struct {
	dir string
	mu  sync.RWMutex

	pending   []domain.Task
	running   map[string]domain.Task
	completed []domain.Task
	failed    []domain.Task
}

// NewFileStore creates a file-backed task store rooted at dir, loading any
// existing data.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("taskstore: create dir: %w", err)
	}
	s := &FileStore{
		dir:     dir,
		running: make(map[string]domain.Task),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("taskstore: load: %w", err)
	}
	return s, nil
}

// --- domain.TaskStore ---

func (s *FileStore) AppendPending(_ context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, task)
	return s.saveTasks("pending.json", s.pending)
}

func (s *FileStore) ListPending(_ context.Context) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Task(nil), s.pending...), nil
}

func (s *FileStore) RemovePending(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.pending {
		if t.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return s.saveTasks("pending.json", s.pending)
		}
	}
	return domain.NewDomainError("taskstore.RemovePending", domain.ErrNotFound, id)
}

func (s *FileStore) ClearPending(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return s.saveTasks("pending.json", s.pending)
}

func (s *FileStore) PutRunning(_ context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[task.ID] = task
	return s.saveTasks("running.json", s.runningSlice())
}

func (s *FileStore) ListRunning(_ context.Context) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runningSlice(), nil
}

func (s *FileStore) RemoveRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; !ok {
		return domain.NewDomainError("taskstore.RemoveRunning", domain.ErrNotFound, id)
	}
	delete(s.running, id)
	return s.saveTasks("running.json", s.runningSlice())
}

func (s *FileStore) AppendHistory(_ context.Context, kind domain.HistoryKind, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.historyRef(kind)
	*list = append(*list, task)
	if len(*list) > HistoryCap {
		*list = (*list)[len(*list)-HistoryCap:]
	}
	return s.saveTasks(string(kind)+".json", *list)
}

func (s *FileStore) ListHistory(_ context.Context, kind domain.HistoryKind, offset, limit int) ([]domain.Task, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := *s.historyRef(kind)
	total := len(list)

	// Page newest-first.
	if limit <= 0 {
		limit = total
	}
	out := make([]domain.Task, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, total, nil
}

func (s *FileStore) Get(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.running[id]; ok {
		return &t, nil
	}
	for _, list := range [][]domain.Task{s.pending, s.completed, s.failed} {
		for i := range list {
			if list[i].ID == id {
				t := list[i]
				return &t, nil
			}
		}
	}
	return nil, domain.NewDomainError("taskstore.Get", domain.ErrNotFound, id)
}

// PruneHistory drops terminal-history records that finished before cutoff
// and reports how many were removed. Used by the retention housekeeping job.
func (s *FileStore) PruneHistory(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, c := range []struct {
		kind domain.HistoryKind
		list *[]domain.Task
	}{
		{domain.HistoryCompleted, &s.completed},
		{domain.HistoryFailed, &s.failed},
	} {
		kept := (*c.list)[:0]
		for _, t := range *c.list {
			if t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) != len(*c.list) {
			*c.list = kept
			if err := s.saveTasks(string(c.kind)+".json", *c.list); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

// Compact rewrites every collection file, discarding any stale tmp leftovers.
func (s *FileStore) Compact(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range []struct {
		file  string
		tasks []domain.Task
	}{
		{"pending.json", s.pending},
		{"running.json", s.runningSlice()},
		{"completed.json", s.completed},
		{"failed.json", s.failed},
	} {
		if err := s.saveTasks(c.file, c.tasks); err != nil {
			return err
		}
	}
	return nil
}

// --- persistence ---

func (s *FileStore) historyRef(kind domain.HistoryKind) *[]domain.Task {
	if kind == domain.HistoryFailed {
		return &s.failed
	}
	return &s.completed
}

func (s *FileStore) runningSlice() []domain.Task {
	out := make([]domain.Task, 0, len(s.running))
	for _, t := range s.running {
		out = append(out, t)
	}
	return out
}

func (s *FileStore) load() error {
	for _, c := range []struct {
		file string
		dst  *[]domain.Task
	}{
		{"pending.json", &s.pending},
		{"completed.json", &s.completed},
		{"failed.json", &s.failed},
	} {
		if data, err := os.ReadFile(filepath.Join(s.dir, c.file)); err == nil {
			if err := json.Unmarshal(data, c.dst); err != nil {
				return fmt.Errorf("parse %s: %w", c.file, err)
			}
		}
	}

	if data, err := os.ReadFile(filepath.Join(s.dir, "running.json")); err == nil {
		var tasks []domain.Task
		if err := json.Unmarshal(data, &tasks); err != nil {
			return fmt.Errorf("parse running.json: %w", err)
		}
		for _, t := range tasks {
			s.running[t.ID] = t
		}
	}

	return nil
}

func (s *FileStore) saveTasks(file string, tasks []domain.Task) error {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return writeJSON(filepath.Join(s.dir, file), tasks)
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return domain.WrapOp("write", err)
	}
	return os.Rename(tmp, path)
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"taskrunner/internal/domain"
)

// ScheduleFileStore implements domain.ScheduleStore with JSON file
// persistence. It shares a directory with FileStore but owns its own file.
type ScheduleFileStore struct {
	path string
	mu   sync.RWMutex
	defs map[string]domain.ScheduledTask
}

// NewScheduleFileStore creates a file-backed schedule store rooted at dir.
func NewScheduleFileStore(dir string) (*ScheduleFileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("schedulestore: create dir: %w", err)
	}
	s := &ScheduleFileStore{
		path: filepath.Join(dir, "scheduled.json"),
		defs: make(map[string]domain.ScheduledTask),
	}
	if data, err := os.ReadFile(s.path); err == nil {
		var defs []domain.ScheduledTask
		if err := json.Unmarshal(data, &defs); err != nil {
			return nil, fmt.Errorf("schedulestore: parse scheduled.json: %w", err)
		}
		for _, d := range defs {
			s.defs[d.ID] = d
		}
	}
	return s, nil
}

func (s *ScheduleFileStore) Save(_ context.Context, def domain.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ID] = def
	return s.save()
}

func (s *ScheduleFileStore) Get(_ context.Context, id string) (*domain.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return nil, domain.NewDomainError("schedulestore.Get", domain.ErrNotFound, id)
	}
	return &def, nil
}

func (s *ScheduleFileStore) List(_ context.Context) ([]domain.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]domain.ScheduledTask, 0, len(s.defs))
	for _, d := range s.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].CreatedAt.Before(defs[j].CreatedAt)
	})
	return defs, nil
}

func (s *ScheduleFileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[id]; !ok {
		return domain.NewDomainError("schedulestore.Delete", domain.ErrNotFound, id)
	}
	delete(s.defs, id)
	return s.save()
}

// save writes the full definition list. Caller holds s.mu.
func (s *ScheduleFileStore) save() error {
	defs := make([]domain.ScheduledTask, 0, len(s.defs))
	for _, d := range s.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].CreatedAt.Before(defs[j].CreatedAt)
	})
	return writeJSON(s.path, defs)
}

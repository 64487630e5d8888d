package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"taskrunner/internal/domain"
)

// Breaker settings for persistence writes.
const (
	breakerMaxFailures uint32 = 5
	breakerTimeout            = 30 * time.Second
	breakerInterval           = 60 * time.Second
	writeAttempts             = 3
	writeRetryDelay           = 50 * time.Millisecond
)

// ResilientTaskStore wraps a domain.TaskStore so persistence failures degrade
// the scheduler instead of halting it: each write is retried a bounded number
// of times, repeated failures open a circuit, and while the circuit is open
// writes fail fast with ErrStoreWrite. Callers keep their in-memory state
// authoritative and log the loss of durability.
type ResilientTaskStore struct {
	inner   domain.TaskStore
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewResilientTaskStore wraps inner with bounded write retries and a circuit
// breaker.
func NewResilientTaskStore(inner domain.TaskStore, logger *slog.Logger) *ResilientTaskStore {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "taskstore",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("task store circuit state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &ResilientTaskStore{inner: inner, breaker: cb, logger: logger}
}

// write funnels a mutating call through retry + breaker.
func (s *ResilientTaskStore) write(op string, fn func() error) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		var last error
		for attempt := 0; attempt < writeAttempts; attempt++ {
			if last = fn(); last == nil {
				return struct{}{}, nil
			}
			// Not-found is a semantic result, not an I/O failure.
			if domain.IsNotFound(last) {
				return struct{}{}, nil
			}
			time.Sleep(writeRetryDelay)
		}
		return struct{}{}, last
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return domain.NewDomainError(op, domain.ErrStoreWrite, "circuit open, operating in memory")
	}
	return domain.WrapOp(op, err)
}

func (s *ResilientTaskStore) AppendPending(ctx context.Context, task domain.Task) error {
	return s.write("taskstore.AppendPending", func() error { return s.inner.AppendPending(ctx, task) })
}

func (s *ResilientTaskStore) ListPending(ctx context.Context) ([]domain.Task, error) {
	return s.inner.ListPending(ctx)
}

func (s *ResilientTaskStore) RemovePending(ctx context.Context, id string) error {
	if err := s.inner.RemovePending(ctx, id); err != nil {
		if domain.IsNotFound(err) {
			return err
		}
		return s.write("taskstore.RemovePending", func() error { return s.inner.RemovePending(ctx, id) })
	}
	return nil
}

func (s *ResilientTaskStore) ClearPending(ctx context.Context) error {
	return s.write("taskstore.ClearPending", func() error { return s.inner.ClearPending(ctx) })
}

func (s *ResilientTaskStore) PutRunning(ctx context.Context, task domain.Task) error {
	return s.write("taskstore.PutRunning", func() error { return s.inner.PutRunning(ctx, task) })
}

func (s *ResilientTaskStore) ListRunning(ctx context.Context) ([]domain.Task, error) {
	return s.inner.ListRunning(ctx)
}

func (s *ResilientTaskStore) RemoveRunning(ctx context.Context, id string) error {
	if err := s.inner.RemoveRunning(ctx, id); err != nil {
		if domain.IsNotFound(err) {
			return err
		}
		return s.write("taskstore.RemoveRunning", func() error { return s.inner.RemoveRunning(ctx, id) })
	}
	return nil
}

func (s *ResilientTaskStore) AppendHistory(ctx context.Context, kind domain.HistoryKind, task domain.Task) error {
	return s.write("taskstore.AppendHistory", func() error { return s.inner.AppendHistory(ctx, kind, task) })
}

func (s *ResilientTaskStore) ListHistory(ctx context.Context, kind domain.HistoryKind, offset, limit int) ([]domain.Task, int, error) {
	return s.inner.ListHistory(ctx, kind, offset, limit)
}

func (s *ResilientTaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	return s.inner.Get(ctx, id)
}

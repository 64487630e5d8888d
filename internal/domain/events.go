package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies a scheduler lifecycle event.
type EventType string

const (
	EventTaskEnqueued   EventType = "task.enqueued"
	EventTaskStarted    EventType = "task.started"
	EventTaskCompleted  EventType = "task.completed"
	EventTaskFailed     EventType = "task.failed"
	EventTaskCancelled  EventType = "task.cancelled"
	EventTaskRetrying   EventType = "task.retrying"
	EventScheduleFired  EventType = "schedule.fired"
	EventSchedulerState EventType = "scheduler.state"
)

// Event is a point-in-time scheduler occurrence published on the bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	TaskID    string          `json:"task_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler consumes events. Handlers must not block indefinitely.
type EventHandler func(ctx context.Context, event Event)

// EventBus fans out events to subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
}

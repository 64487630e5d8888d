package domain

import (
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TaskSpec carries the caller-supplied fields for a new task.
type TaskSpec struct {
	Prompt       string   `json:"prompt"`
	Workspace    string   `json:"workspace"`
	TimeoutMs    int64    `json:"timeout_ms"`
	AutoApprove  bool     `json:"auto_approve"`
	AllowedTools []string `json:"allowed_tools,omitempty"` // nil = all tools allowed
}

// TaskResult is the success payload returned by an Executor.
type TaskResult struct {
	Message      string   `json:"message,omitempty"`
	CostUSD      float64  `json:"cost_usd"`
	DurationMs   int64    `json:"duration_ms"`
	FilesChanged []string `json:"files_changed,omitempty"`
	ToolsUsed    []string `json:"tools_used,omitempty"`
}

// Task is one unit of agent work, either enqueued directly or synthesized
// from a ScheduledTask by the scheduler loop.
type Task struct {
	ID           string      `json:"id"`
	Prompt       string      `json:"prompt"`
	Workspace    string      `json:"workspace"`
	TimeoutMs    int64       `json:"timeout_ms"`
	AutoApprove  bool        `json:"auto_approve"`
	AllowedTools []string    `json:"allowed_tools,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
	Retries      int         `json:"retries"`
	Status       TaskStatus  `json:"status"`
	Scheduled    bool        `json:"scheduled"`
	ScheduledID  string      `json:"scheduled_id,omitempty"`
	Result       *TaskResult `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Timeout returns the task timeout as a duration.
func (t *Task) Timeout() time.Duration {
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// Clone returns a deep copy so callers cannot mutate scheduler-owned state.
func (t *Task) Clone() *Task {
	cp := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		cp.FinishedAt = &v
	}
	if t.AllowedTools != nil {
		cp.AllowedTools = append([]string(nil), t.AllowedTools...)
	}
	if t.Result != nil {
		r := *t.Result
		r.FilesChanged = append([]string(nil), t.Result.FilesChanged...)
		r.ToolsUsed = append([]string(nil), t.Result.ToolsUsed...)
		cp.Result = &r
	}
	return &cp
}

// ScheduledTask is a recurring task definition. LastRun, NextRun and RunCount
// are owned by the scheduler loop; everything else belongs to the caller API.
type ScheduledTask struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Prompt       string     `json:"prompt"`
	Cron         string     `json:"cron"`
	Workspace    string     `json:"workspace"`
	TimeoutMs    int64      `json:"timeout_ms"`
	AutoApprove  bool       `json:"auto_approve"`
	AllowedTools []string   `json:"allowed_tools,omitempty"`
	Enabled      bool       `json:"enabled"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	RunCount     int        `json:"run_count"`
}

// Spec derives the task fields a synthesized run inherits from the definition.
func (s *ScheduledTask) Spec() TaskSpec {
	return TaskSpec{
		Prompt:       s.Prompt,
		Workspace:    s.Workspace,
		TimeoutMs:    s.TimeoutMs,
		AutoApprove:  s.AutoApprove,
		AllowedTools: append([]string(nil), s.AllowedTools...),
	}
}

// SchedulerStatus is the lifecycle state of the scheduler loop.
type SchedulerStatus string

const (
	SchedulerStopped  SchedulerStatus = "stopped"
	SchedulerStarting SchedulerStatus = "starting"
	SchedulerRunning  SchedulerStatus = "running"
	SchedulerStopping SchedulerStatus = "stopping"
)

// SchedulerState is a point-in-time snapshot of the loop.
type SchedulerState struct {
	Status        SchedulerStatus `json:"status"`
	PollInterval  time.Duration   `json:"poll_interval"`
	IsExecuting   bool            `json:"is_executing"`
	CurrentTaskID string          `json:"current_task_id,omitempty"`
}

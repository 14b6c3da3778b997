package prefetch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks in the queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority maps "high", "medium" and "low" to a Priority.
// Anything else yields PriorityMedium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// State is the lifecycle position of a task.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateSkipped   State = "skipped"
	StateFailed    State = "failed"
)

// Executor warms the cache for target.
type Executor func(ctx context.Context, target string) error

// Task is a single unit of prefetch work.
type Task struct {
	EnqueuedAt time.Time
	Condition  func() bool
	Target     string
	Delay      time.Duration
	Priority   Priority
	ID         uuid.UUID
	Force      bool
}

// TaskOption configures a task at enqueue time.
type TaskOption func(*Task)

// WithPriority sets the task priority. Default: PriorityMedium.
func WithPriority(p Priority) TaskOption {
	return func(t *Task) {
		t.Priority = p
	}
}

// WithDelay makes the worker wait d before executing the task.
func WithDelay(d time.Duration) TaskOption {
	return func(t *Task) {
		if d > 0 {
			t.Delay = d
		}
	}
}

// WithCondition is evaluated when the task is dequeued; false skips it.
func WithCondition(fn func() bool) TaskOption {
	return func(t *Task) {
		t.Condition = fn
	}
}

// Forced enqueues the target even if it was already prefetched.
func Forced() TaskOption {
	return func(t *Task) {
		t.Force = true
	}
}

// Package tasks keeps the in-memory records of ingestion runs.
//
// A task moves starting -> running -> completed|failed and never leaves a
// terminal status. Progress never decreases. Terminal tasks stay readable for
// the retention window and are then removed by Sweep; active tasks are never
// removed.
package tasks

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"NewsParser/internal/domain"
	"NewsParser/internal/metrics"
)

var (
	// ErrNotFound means the id is unknown or its task has expired.
	ErrNotFound = errors.New("task not found")
	// ErrTerminal is returned when writing to a completed or failed task.
	ErrTerminal = errors.New("task already finished")
	// ErrNotRunning is returned when completing a task that never reported progress.
	ErrNotRunning = errors.New("task is not running")
)

const (
	// DefaultRetention is how long a finished task stays queryable.
	DefaultRetention = time.Hour

	maxProgress     = 100
	createdMessage  = "Task created"
	completeMessage = "Feed fetch completed"
)

// Registry is safe for concurrent use. Writes to one task are serialized by
// the registry lock, so updates apply in the order they are made.
type Registry struct {
	mu        sync.RWMutex
	tasks     map[string]*domain.Task
	retention time.Duration
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewRegistry returns an empty registry. retention <= 0 uses DefaultRetention.
func NewRegistry(retention time.Duration, log *slog.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		tasks:     make(map[string]*domain.Task),
		retention: retention,
		logger:    log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Create registers a new task in starting status.
func (r *Registry) Create(kind domain.TaskKind) domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &domain.Task{
		ID:            r.newID(),
		Kind:          kind,
		Status:        domain.StatusStarting,
		StatusMessage: createdMessage,
		StartedAt:     r.now().UTC(),
	}
	r.tasks[t.ID] = t
	metrics.TasksTracked.Set(float64(len(r.tasks)))
	return clone(t)
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return clone(t), nil
}

// Apply records one progress update. The first update moves the task to
// running. Progress is clamped to [0,100]; a value below the current one is
// dropped and logged while the message and deltas still apply.
func (r *Registry) Apply(id string, u domain.ProgressUpdate) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.writable(id)
	if err != nil {
		return domain.Task{}, err
	}

	if t.Status == domain.StatusStarting {
		t.Status = domain.StatusRunning
	}

	progress := clamp(u.Progress)
	if progress < t.Progress {
		metrics.ProgressRejected.Inc()
		r.warn("progress regression rejected", "task_id", id, "current", t.Progress, "reported", u.Progress)
	} else {
		t.Progress = progress
	}

	if u.Message != "" {
		t.StatusMessage = u.Message
	}
	t.Stats = t.Stats.Add(u.Stats)
	t.Result = t.Result.Add(u.Result)

	return clone(t), nil
}

// Complete finishes a running task with its final tally.
func (r *Registry) Complete(id string, result domain.TaskResult) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.writable(id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.StatusRunning {
		return domain.Task{}, fmt.Errorf("complete task %s: %w", id, ErrNotRunning)
	}

	done := r.now().UTC()
	t.Status = domain.StatusCompleted
	t.StatusMessage = completeMessage
	t.Progress = maxProgress
	t.Result = result
	t.CompletedAt = &done

	return clone(t), nil
}

// Fail finishes the task with an error. Progress is left where the run stopped.
func (r *Registry) Fail(id string, cause error) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.writable(id)
	if err != nil {
		return domain.Task{}, err
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	done := r.now().UTC()
	t.Status = domain.StatusFailed
	t.StatusMessage = fmt.Sprintf("Error: %s", msg)
	t.Error = msg
	t.CompletedAt = &done

	return clone(t), nil
}

// Sweep removes finished tasks whose completion is older than the retention
// window and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.retention)
	removed := 0
	for id, t := range r.tasks {
		if !t.Status.Terminal() || t.CompletedAt == nil {
			continue
		}
		if t.CompletedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}

	metrics.TasksTracked.Set(float64(len(r.tasks)))
	if removed > 0 {
		metrics.TasksEvicted.Add(float64(removed))
		r.debug("expired tasks removed", "count", removed, "remaining", len(r.tasks))
	}
	return removed
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

func (r *Registry) writable(id string) (*domain.Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("task %s is %s: %w", id, t.Status, ErrTerminal)
	}
	return t, nil
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > maxProgress {
		return maxProgress
	}
	return p
}

func clone(t *domain.Task) domain.Task {
	out := *t
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		out.CompletedAt = &done
	}
	return out
}

func (r *Registry) warn(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}

func (r *Registry) debug(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

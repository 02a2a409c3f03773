// Package workerpool implements delegated task execution: fixed pools of
// three workers draining a shared FIFO queue, a manager that routes tasks
// across named pools, and a process-wide default manager.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// ErrTaskTimeout is returned when WaitForResult gives up before the task
// settles. The task itself keeps running; workers are never interrupted
// mid-execution.
var ErrTaskTimeout = errors.New("timed out waiting for task result")

// Task is one unit of delegated work. It settles exactly once: a worker
// moves it pending → running → completed/failed, then fires the completion
// signal.
type Task struct {
	ID      string
	Prompt  string
	Context map[string]any

	mu          sync.Mutex
	status      TaskStatus
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	result      string
	err         error

	done chan struct{}
	once sync.Once
}

// NewTask creates a pending task.
func NewTask(id, prompt string, taskCtx map[string]any) *Task {
	if taskCtx == nil {
		taskCtx = map[string]any{}
	}
	return &Task{
		ID:        id,
		Prompt:    prompt,
		Context:   taskCtx,
		status:    TaskPending,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// markRunning transitions the task to running. Called by the worker that
// picked it up.
func (t *Task) markRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = TaskRunning
	t.startedAt = time.Now()
}

// SetResult settles the task successfully and fires the completion signal.
// Later calls are ignored; a task settles once.
func (t *Task) SetResult(result string) {
	t.once.Do(func() {
		t.mu.Lock()
		t.status = TaskCompleted
		t.result = result
		t.completedAt = time.Now()
		t.mu.Unlock()
		close(t.done)
	})
}

// SetError settles the task as failed and fires the completion signal.
func (t *Task) SetError(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.status = TaskFailed
		t.err = err
		t.completedAt = time.Now()
		t.mu.Unlock()
		close(t.done)
	})
}

// Status returns the current lifecycle state.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the settled outcome. Valid only after the completion
// signal has fired.
func (t *Task) Result() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Done exposes the completion signal.
func (t *Task) Done() <-chan struct{} { return t.done }

// WaitForResult blocks until the task settles, the timeout elapses, or ctx
// is cancelled. On timeout the task continues running in its worker.
func (t *Task) WaitForResult(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return t.Result()
	case <-timer.C:
		return "", fmt.Errorf("%w: task %s after %s", ErrTaskTimeout, t.ID, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

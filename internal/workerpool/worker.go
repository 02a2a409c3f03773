package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// queuePollInterval bounds how long a worker waits on the queue before
	// re-checking whether it should stop.
	queuePollInterval = time.Second

	// maxConsecutiveFailures marks a worker unhealthy after this many
	// back-to-back task failures. Any success resets the streak.
	maxConsecutiveFailures = 3

	// idleUnhealthyAfter marks a worker unhealthy when it has processed at
	// least one task and then sat idle this long. A worker that has never
	// received a task stays healthy regardless of age.
	idleUnhealthyAfter = 5 * time.Minute
)

// TaskExecutor performs the actual work for a task. Implementations are
// provided by the caller; the pool only schedules.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, prompt string, taskCtx map[string]any) (string, error)
}

// ExecutorFunc adapts a function to TaskExecutor.
type ExecutorFunc func(ctx context.Context, prompt string, taskCtx map[string]any) (string, error)

func (f ExecutorFunc) ExecuteTask(ctx context.Context, prompt string, taskCtx map[string]any) (string, error) {
	return f(ctx, prompt, taskCtx)
}

// Worker drains tasks from a shared queue. Each worker runs a single
// goroutine between Start and Stop.
type Worker struct {
	ID     string
	PoolID string

	queue    <-chan *Task
	executor TaskExecutor

	running             atomic.Bool
	tasksProcessed      atomic.Int64
	tasksSucceeded      atomic.Int64
	tasksFailed         atomic.Int64
	consecutiveFailures atomic.Int64
	totalProcessingNS   atomic.Int64
	lastActivityNS      atomic.Int64

	onDone func(success bool, duration time.Duration)

	// lifecycle guards stopCh/doneCh against a Stop racing a Start.
	lifecycle sync.Mutex
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// WorkerHealth is a point-in-time health snapshot of one worker.
type WorkerHealth struct {
	WorkerID            string  `json:"worker_id"`
	Healthy             bool    `json:"healthy"`
	Running             bool    `json:"running"`
	TasksProcessed      int64   `json:"tasks_processed"`
	TasksSucceeded      int64   `json:"tasks_succeeded"`
	TasksFailed         int64   `json:"tasks_failed"`
	ConsecutiveFailures int64   `json:"consecutive_failures"`
	IdleSeconds         float64 `json:"idle_seconds"`
	AvgTaskSeconds      float64 `json:"avg_task_seconds"`
}

func newWorker(id, poolID string, queue <-chan *Task, executor TaskExecutor, onDone func(bool, time.Duration)) *Worker {
	return &Worker{
		ID:       id,
		PoolID:   poolID,
		queue:    queue,
		executor: executor,
		onDone:   onDone,
	}
}

// Start launches the worker goroutine. Starting a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if w.running.Load() {
		return
	}
	// Channels are published before running flips so a concurrent Stop never
	// observes running without them.
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running.Store(true)
	go w.loop(ctx)
	log.Debug().Str("worker", w.ID).Str("pool", w.PoolID).Msg("Worker started")
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			w.running.Store(false)
			return
		case task, ok := <-w.queue:
			if !ok {
				w.running.Store(false)
				return
			}
			w.process(ctx, task)
		case <-ticker.C:
			// Wake up periodically so a stop request is never missed for
			// longer than the poll interval.
		}
	}
}

func (w *Worker) process(ctx context.Context, task *Task) {
	task.markRunning()
	started := time.Now()

	result, err := w.executor.ExecuteTask(ctx, task.Prompt, task.Context)
	elapsed := time.Since(started)

	w.tasksProcessed.Add(1)
	w.totalProcessingNS.Add(int64(elapsed))
	w.lastActivityNS.Store(time.Now().UnixNano())

	if err != nil {
		w.tasksFailed.Add(1)
		w.consecutiveFailures.Add(1)
	} else {
		w.tasksSucceeded.Add(1)
		w.consecutiveFailures.Store(0)
	}
	// Counters settle before the task does, so a caller woken by the result
	// sees them up to date.
	if w.onDone != nil {
		w.onDone(err == nil, elapsed)
	}
	if err != nil {
		task.SetError(fmt.Errorf("task %s: %w", task.ID, err))
		log.Warn().Err(err).Str("worker", w.ID).Str("task", task.ID).Msg("Task failed")
	} else {
		task.SetResult(result)
	}
}

// Stop signals the worker and waits up to timeout for the goroutine to
// exit. Returns an error if the worker did not stop in time.
func (w *Worker) Stop(timeout time.Duration) error {
	w.lifecycle.Lock()
	if !w.running.Load() {
		w.lifecycle.Unlock()
		return nil
	}
	w.running.Store(false)
	stopCh, doneCh := w.stopCh, w.doneCh
	w.lifecycle.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker %s did not stop within %s", w.ID, timeout)
	}
}

// Healthy reports whether the worker is running, below the failure streak
// limit, and not idle past the cutoff.
func (w *Worker) Healthy() bool {
	if !w.running.Load() {
		return false
	}
	if w.consecutiveFailures.Load() >= maxConsecutiveFailures {
		return false
	}
	last := w.lastActivityNS.Load()
	if last != 0 && time.Since(time.Unix(0, last)) > idleUnhealthyAfter {
		return false
	}
	return true
}

// Health returns a snapshot of the worker's counters and health verdict.
func (w *Worker) Health() WorkerHealth {
	processed := w.tasksProcessed.Load()
	h := WorkerHealth{
		WorkerID:            w.ID,
		Healthy:             w.Healthy(),
		Running:             w.running.Load(),
		TasksProcessed:      processed,
		TasksSucceeded:      w.tasksSucceeded.Load(),
		TasksFailed:         w.tasksFailed.Load(),
		ConsecutiveFailures: w.consecutiveFailures.Load(),
	}
	if last := w.lastActivityNS.Load(); last != 0 {
		h.IdleSeconds = time.Since(time.Unix(0, last)).Seconds()
	}
	if processed > 0 {
		h.AvgTaskSeconds = time.Duration(w.totalProcessingNS.Load() / processed).Seconds()
	}
	return h
}

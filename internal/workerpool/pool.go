package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// WorkersPerPool is fixed. Scale by adding pools, not by resizing one.
	WorkersPerPool = 3

	// queueCapacity bounds the pending backlog per pool.
	queueCapacity = 100

	// DefaultTaskTimeout applies when a caller passes a non-positive timeout.
	DefaultTaskTimeout = 5 * time.Minute
)

var (
	ErrPoolNotRunning = errors.New("pool is not running")
	ErrQueueFull      = errors.New("task queue is full")
)

// PoolStatusValue is the aggregate health verdict of a pool.
type PoolStatusValue string

const (
	PoolHealthy    PoolStatusValue = "healthy"
	PoolDegraded   PoolStatusValue = "degraded"
	PoolNotRunning PoolStatusValue = "not_running"
)

// Pool runs a fixed trio of workers over one FIFO queue.
type Pool struct {
	ID string

	mu       sync.Mutex
	running  bool
	workers  []*Worker
	queue    chan *Task
	executor TaskExecutor
	cancel   context.CancelFunc

	createdAt time.Time
	startedAt time.Time

	taskSeq        atomic.Int64
	tasksSubmitted atomic.Int64
	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64
}

// PoolHealth reports the pool verdict plus per-worker detail.
type PoolHealth struct {
	PoolID         string          `json:"pool_id"`
	Status         PoolStatusValue `json:"status"`
	WorkersHealthy int             `json:"workers_healthy"`
	WorkersTotal   int             `json:"workers_total"`
	Workers        []WorkerHealth  `json:"workers"`
}

// PoolStatus is the counter snapshot for a pool.
type PoolStatus struct {
	PoolID         string  `json:"pool_id"`
	Running        bool    `json:"running"`
	Workers        int     `json:"workers"`
	QueueDepth     int     `json:"queue_depth"`
	TasksSubmitted int64   `json:"tasks_submitted"`
	TasksCompleted int64   `json:"tasks_completed"`
	TasksFailed    int64   `json:"tasks_failed"`
	SuccessRate    float64 `json:"success_rate"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// BatchResult is one entry of an ExecuteBatch response, positionally
// matching the input prompts.
type BatchResult struct {
	TaskID string `json:"task_id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewPool creates a stopped pool. An empty id gets a generated one.
func NewPool(id string, executor TaskExecutor) *Pool {
	if id == "" {
		id = "pool-" + uuid.NewString()[:8]
	}
	return &Pool{
		ID:        id,
		executor:  executor,
		createdAt: time.Now(),
	}
}

// Initialize starts the workers. Initializing a running pool is a no-op.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	if p.executor == nil {
		return errors.New("pool has no task executor")
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.queue = make(chan *Task, queueCapacity)
	p.workers = make([]*Worker, 0, WorkersPerPool)
	for i := 0; i < WorkersPerPool; i++ {
		w := newWorker(fmt.Sprintf("%s-worker-%d", p.ID, i), p.ID, p.queue, p.executor, p.recordOutcome)
		w.Start(workerCtx)
		p.workers = append(p.workers, w)
	}
	p.running = true
	p.startedAt = time.Now()
	log.Info().Str("pool", p.ID).Int("workers", WorkersPerPool).Msg("Worker pool started")
	return nil
}

func (p *Pool) recordOutcome(success bool, duration time.Duration) {
	if success {
		p.tasksCompleted.Add(1)
		metrics().tasksCompleted.WithLabelValues(p.ID).Inc()
	} else {
		p.tasksFailed.Add(1)
		metrics().tasksFailed.WithLabelValues(p.ID).Inc()
	}
	metrics().taskDuration.WithLabelValues(p.ID).Observe(duration.Seconds())
}

// submit enqueues a task without waiting for its result.
func (p *Pool) submit(ctx context.Context, prompt string, taskCtx map[string]any) (*Task, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil, ErrPoolNotRunning
	}
	queue := p.queue
	seq := p.taskSeq.Add(1)
	p.mu.Unlock()

	task := NewTask(fmt.Sprintf("%s-task-%d", p.ID, seq), prompt, taskCtx)
	select {
	case queue <- task:
		p.tasksSubmitted.Add(1)
		metrics().tasksSubmitted.WithLabelValues(p.ID).Inc()
		return task, nil
	default:
		return nil, fmt.Errorf("%w: pool %s", ErrQueueFull, p.ID)
	}
}

// Execute submits one task and waits for its result.
func (p *Pool) Execute(ctx context.Context, prompt string, taskCtx map[string]any, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	task, err := p.submit(ctx, prompt, taskCtx)
	if err != nil {
		return "", err
	}
	return task.WaitForResult(ctx, timeout)
}

// ExecuteBatch submits every prompt up front so the workers process them
// concurrently, then collects results in input order. Per-task failures are
// reported inline; the batch itself only fails on submission errors.
func (p *Pool) ExecuteBatch(ctx context.Context, prompts []string, taskCtx map[string]any, timeout time.Duration) ([]BatchResult, error) {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	tasks := make([]*Task, 0, len(prompts))
	for _, prompt := range prompts {
		task, err := p.submit(ctx, prompt, taskCtx)
		if err != nil {
			// Settle already-queued tasks' results before bailing so workers
			// are not left producing into the void unnoticed.
			return nil, fmt.Errorf("batch submit after %d tasks: %w", len(tasks), err)
		}
		tasks = append(tasks, task)
	}

	results := make([]BatchResult, len(tasks))
	for i, task := range tasks {
		result, err := task.WaitForResult(ctx, timeout)
		results[i] = BatchResult{TaskID: task.ID, Result: result}
		if err != nil {
			results[i].Error = err.Error()
		}
	}
	return results, nil
}

func (p *Pool) queueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue == nil {
		return 0
	}
	return len(p.queue)
}

// HealthCheck reports healthy when every worker is healthy, degraded when a
// running pool has at least one unhealthy worker, not_running otherwise.
func (p *Pool) HealthCheck() PoolHealth {
	p.mu.Lock()
	running := p.running
	workers := p.workers
	p.mu.Unlock()

	health := PoolHealth{PoolID: p.ID, WorkersTotal: len(workers)}
	if !running {
		health.Status = PoolNotRunning
		return health
	}
	for _, w := range workers {
		wh := w.Health()
		health.Workers = append(health.Workers, wh)
		if wh.Healthy {
			health.WorkersHealthy++
		}
	}
	if health.WorkersHealthy == health.WorkersTotal {
		health.Status = PoolHealthy
	} else {
		health.Status = PoolDegraded
	}
	return health
}

// GetStatus returns the pool's counter snapshot.
func (p *Pool) GetStatus() PoolStatus {
	p.mu.Lock()
	running := p.running
	startedAt := p.startedAt
	var depth int
	if p.queue != nil {
		depth = len(p.queue)
	}
	workers := len(p.workers)
	p.mu.Unlock()

	status := PoolStatus{
		PoolID:         p.ID,
		Running:        running,
		Workers:        workers,
		QueueDepth:     depth,
		TasksSubmitted: p.tasksSubmitted.Load(),
		TasksCompleted: p.tasksCompleted.Load(),
		TasksFailed:    p.tasksFailed.Load(),
	}
	finished := status.TasksCompleted + status.TasksFailed
	if finished > 0 {
		status.SuccessRate = float64(status.TasksCompleted) / float64(finished)
	}
	if running {
		status.UptimeSeconds = time.Since(startedAt).Seconds()
	}
	return status
}

// Shutdown stops all workers in parallel, each bounded by timeout. Pending
// queued tasks are abandoned.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	workers := p.workers
	cancel := p.cancel
	p.mu.Unlock()

	// Cancel first so an executor blocked on ctx can return; Stop then only
	// waits for loop exit.
	if cancel != nil {
		cancel()
	}
	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error { return w.Stop(timeout) })
	}
	err := g.Wait()
	log.Info().Str("pool", p.ID).Msg("Worker pool stopped")
	return err
}

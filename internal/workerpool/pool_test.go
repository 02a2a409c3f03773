package workerpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoExecutor returns the prompt, failing any prompt containing "fail".
var echoExecutor = ExecutorFunc(func(_ context.Context, prompt string, _ map[string]any) (string, error) {
	if strings.Contains(prompt, "fail") {
		return "", errors.New("executor refused: " + prompt)
	}
	return "echo: " + prompt, nil
})

func newTestPool(t *testing.T, executor TaskExecutor) *Pool {
	t.Helper()
	pool := NewPool("test", executor)
	require.NoError(t, pool.Initialize(context.Background()))
	t.Cleanup(func() { _ = pool.Shutdown(5 * time.Second) })
	return pool
}

func TestPoolExecute(t *testing.T) {
	pool := newTestPool(t, echoExecutor)

	result, err := pool.Execute(context.Background(), "ping", nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", result)
}

func TestPoolExecuteNotRunning(t *testing.T) {
	pool := NewPool("stopped", echoExecutor)
	_, err := pool.Execute(context.Background(), "ping", nil, time.Second)
	assert.ErrorIs(t, err, ErrPoolNotRunning)
}

func TestPoolExecuteFailureSurfacesError(t *testing.T) {
	pool := newTestPool(t, echoExecutor)

	_, err := pool.Execute(context.Background(), "please fail", nil, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor refused")
}

func TestPoolExecuteTimeout(t *testing.T) {
	slow := ExecutorFunc(func(ctx context.Context, _ string, _ map[string]any) (string, error) {
		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
		}
		return "", ctx.Err()
	})
	pool := newTestPool(t, slow)

	_, err := pool.Execute(context.Background(), "slow", nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTaskTimeout)
}

func TestTaskIDFormat(t *testing.T) {
	pool := newTestPool(t, echoExecutor)

	task, err := pool.submit(context.Background(), "one", nil)
	require.NoError(t, err)
	assert.Equal(t, "test-task-1", task.ID)

	task, err = pool.submit(context.Background(), "two", nil)
	require.NoError(t, err)
	assert.Equal(t, "test-task-2", task.ID)
}

func TestExecuteBatchPreservesOrder(t *testing.T) {
	pool := newTestPool(t, echoExecutor)

	prompts := []string{"a", "this will fail", "c", "d", "e"}
	results, err := pool.ExecuteBatch(context.Background(), prompts, nil, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, results, len(prompts))

	assert.Equal(t, "echo: a", results[0].Result)
	assert.Empty(t, results[1].Result)
	assert.Contains(t, results[1].Error, "executor refused")
	assert.Equal(t, "echo: c", results[2].Result)
	assert.Equal(t, "echo: e", results[4].Result)
	for i, r := range results {
		assert.NotEmpty(t, r.TaskID, "result %d", i)
	}
}

func TestPoolStatusCounters(t *testing.T) {
	pool := newTestPool(t, echoExecutor)
	ctx := context.Background()

	for _, prompt := range []string{"ok-1", "ok-2", "fail-1"} {
		_, _ = pool.Execute(ctx, prompt, nil, 5*time.Second)
	}

	status := pool.GetStatus()
	assert.True(t, status.Running)
	assert.Equal(t, WorkersPerPool, status.Workers)
	assert.Equal(t, int64(3), status.TasksSubmitted)
	assert.Equal(t, int64(2), status.TasksCompleted)
	assert.Equal(t, int64(1), status.TasksFailed)
	assert.InDelta(t, 2.0/3.0, status.SuccessRate, 1e-9)
}

func TestPoolHealthCheck(t *testing.T) {
	pool := NewPool("health", echoExecutor)
	assert.Equal(t, PoolNotRunning, pool.HealthCheck().Status)

	require.NoError(t, pool.Initialize(context.Background()))
	defer pool.Shutdown(5 * time.Second)

	health := pool.HealthCheck()
	assert.Equal(t, PoolHealthy, health.Status)
	assert.Equal(t, WorkersPerPool, health.WorkersHealthy)
	assert.Len(t, health.Workers, WorkersPerPool)
}

func TestWorkerUnhealthyAfterFailureStreak(t *testing.T) {
	failing := ExecutorFunc(func(context.Context, string, map[string]any) (string, error) {
		return "", errors.New("boom")
	})
	w := newWorker("w0", "p0", make(chan *Task), failing, nil)
	w.running.Store(true)

	for i := 0; i < maxConsecutiveFailures; i++ {
		assert.True(t, w.Healthy())
		w.process(context.Background(), NewTask(fmt.Sprintf("t%d", i), "x", nil))
	}
	assert.False(t, w.Healthy())
	health := w.Health()
	assert.Equal(t, int64(maxConsecutiveFailures), health.ConsecutiveFailures)

	// One success resets the streak.
	w.executor = echoExecutor
	w.process(context.Background(), NewTask("t-ok", "x", nil))
	assert.True(t, w.Healthy())
}

func TestWorkerUnhealthyWhenIdleTooLong(t *testing.T) {
	w := newWorker("w1", "p0", make(chan *Task), echoExecutor, nil)
	w.running.Store(true)
	assert.True(t, w.Healthy(), "never-active worker stays healthy")

	w.lastActivityNS.Store(time.Now().Add(-idleUnhealthyAfter - time.Minute).UnixNano())
	assert.False(t, w.Healthy())
}

func TestPoolShutdownStopsExecution(t *testing.T) {
	pool := NewPool("bye", echoExecutor)
	require.NoError(t, pool.Initialize(context.Background()))
	require.NoError(t, pool.Shutdown(5*time.Second))

	_, err := pool.Execute(context.Background(), "ping", nil, time.Second)
	assert.ErrorIs(t, err, ErrPoolNotRunning)
	assert.Equal(t, PoolNotRunning, pool.HealthCheck().Status)
}

func TestTaskSettlesOnce(t *testing.T) {
	task := NewTask("t", "x", nil)
	task.SetResult("first")
	task.SetError(errors.New("ignored"))
	task.SetResult("ignored too")

	result, err := task.Result()
	assert.NoError(t, err)
	assert.Equal(t, "first", result)
	assert.Equal(t, TaskCompleted, task.Status())
}

func TestSubmitFullQueueRejectsImmediately(t *testing.T) {
	block := make(chan struct{})
	blocker := ExecutorFunc(func(ctx context.Context, _ string, _ map[string]any) (string, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return "", nil
	})
	pool := newTestPool(t, blocker)
	defer close(block)

	// Pin every worker on a blocked task first, then fill the queue exactly.
	for i := 0; i < WorkersPerPool; i++ {
		_, err := pool.submit(context.Background(), "pin", nil)
		require.NoError(t, err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for pool.queueDepth() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Zero(t, pool.queueDepth())
	for i := 0; i < queueCapacity; i++ {
		_, err := pool.submit(context.Background(), "queued", nil)
		require.NoError(t, err)
	}

	started := time.Now()
	_, err := pool.submit(context.Background(), "overflow", nil)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(started), time.Second)
}

func TestWorkerStartStopConcurrently(t *testing.T) {
	queue := make(chan *Task)
	for i := 0; i < 50; i++ {
		w := newWorker("race", "p", queue, echoExecutor, nil)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			w.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = w.Stop(time.Second)
		}()
		wg.Wait()
		require.NoError(t, w.Stop(time.Second))
	}
}

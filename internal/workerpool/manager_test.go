package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr := NewManager(echoExecutor)
	t.Cleanup(func() { _ = mgr.Shutdown(5 * time.Second) })
	return mgr
}

func TestManagerCreateGetDelete(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	pool, err := mgr.CreatePool(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", pool.ID)

	_, err = mgr.CreatePool(ctx, "alpha")
	assert.ErrorIs(t, err, ErrPoolExists)

	got, err := mgr.GetPool("alpha")
	require.NoError(t, err)
	assert.Same(t, pool, got)

	require.NoError(t, mgr.DeletePool("alpha", 5*time.Second))
	_, err = mgr.GetPool("alpha")
	assert.ErrorIs(t, err, ErrPoolNotFound)
	assert.ErrorIs(t, mgr.DeletePool("alpha", time.Second), ErrPoolNotFound)
}

func TestManagerListPoolsSorted(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		_, err := mgr.CreatePool(ctx, id)
		require.NoError(t, err)
	}

	statuses := mgr.ListPools()
	require.Len(t, statuses, 3)
	assert.Equal(t, "alpha", statuses[0].PoolID)
	assert.Equal(t, "mid", statuses[1].PoolID)
	assert.Equal(t, "zeta", statuses[2].PoolID)
}

func TestManagerHealthAggregate(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreatePool(ctx, "a")
	require.NoError(t, err)
	health := mgr.HealthCheck()
	assert.True(t, health.Healthy)
	assert.Equal(t, PoolHealthy, health.Pools["a"].Status)
}

func TestRouteTaskUnknownSelector(t *testing.T) {
	mgr := newTestManager(t)
	_, _, err := mgr.RouteTask(context.Background(), "x", nil, "fastest", time.Second)
	assert.ErrorIs(t, err, ErrUnknownSelector)
}

func TestRouteTaskCreatesDefaultPool(t *testing.T) {
	mgr := newTestManager(t)

	poolID, result, err := mgr.RouteTask(context.Background(), "hi", nil, SelectLeastLoaded, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, DefaultPoolID, poolID)
	assert.Equal(t, "echo: hi", result)

	_, err = mgr.GetPool(DefaultPoolID)
	assert.NoError(t, err)
}

func TestRouteTaskRoundRobin(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		_, err := mgr.CreatePool(ctx, id)
		require.NoError(t, err)
	}

	// Round robin walks pool ids in sorted order.
	var seen []string
	for i := 0; i < 4; i++ {
		poolID, _, err := mgr.RouteTask(ctx, "task", nil, SelectRoundRobin, 5*time.Second)
		require.NoError(t, err)
		seen = append(seen, poolID)
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, seen)
}

func TestRouteTaskRandomStaysWithinPools(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePool(ctx, "only")
	require.NoError(t, err)

	poolID, result, err := mgr.RouteTask(ctx, "r", nil, SelectRandom, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "only", poolID)
	assert.Equal(t, "echo: r", result)
}

func TestExecuteOnPool(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	_, err := mgr.CreatePool(ctx, "target")
	require.NoError(t, err)

	result, err := mgr.ExecuteOnPool(ctx, "target", "ping", nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", result)

	_, err = mgr.ExecuteOnPool(ctx, "missing", "ping", nil, time.Second)
	assert.ErrorIs(t, err, ErrPoolNotFound)
}

func TestManagerShutdownStopsPools(t *testing.T) {
	mgr := NewManager(echoExecutor)
	ctx := context.Background()
	pool, err := mgr.CreatePool(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, mgr.Shutdown(5*time.Second))
	assert.Empty(t, mgr.ListPools())
	assert.Equal(t, PoolNotRunning, pool.HealthCheck().Status)
}

func TestDefaultManagerSingleton(t *testing.T) {
	t.Cleanup(func() { _ = ResetManager(5 * time.Second) })
	require.NoError(t, ResetManager(5*time.Second))

	first := GetManager(echoExecutor)
	second := GetManager(nil)
	assert.Same(t, first, second)

	require.NoError(t, ResetManager(5*time.Second))
	third := GetManager(echoExecutor)
	assert.NotSame(t, first, third)
}

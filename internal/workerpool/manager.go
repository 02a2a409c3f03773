package workerpool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Selector names a pool-picking strategy for RouteTask.
type Selector string

const (
	SelectLeastLoaded Selector = "least_loaded"
	SelectRoundRobin  Selector = "round_robin"
	SelectRandom      Selector = "random"

	// DefaultPoolID is the pool RouteTask creates on demand when the manager
	// has none.
	DefaultPoolID = "default"
)

var (
	ErrPoolExists      = errors.New("pool already exists")
	ErrPoolNotFound    = errors.New("pool not found")
	ErrUnknownSelector = errors.New("unknown pool selector")
)

// Manager owns a set of named pools and routes tasks across them.
type Manager struct {
	mu       sync.Mutex
	pools    map[string]*Pool
	executor TaskExecutor
	rrNext   uint64
}

// ManagerHealth aggregates pool verdicts.
type ManagerHealth struct {
	Healthy bool                  `json:"healthy"`
	Pools   map[string]PoolHealth `json:"pools"`
}

// NewManager creates a manager whose pools will run executor.
func NewManager(executor TaskExecutor) *Manager {
	return &Manager{
		pools:    map[string]*Pool{},
		executor: executor,
	}
}

// CreatePool creates and starts a pool under the given id.
func (m *Manager) CreatePool(ctx context.Context, id string) (*Pool, error) {
	pool := NewPool(id, m.executor)

	m.mu.Lock()
	if _, ok := m.pools[pool.ID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, pool.ID)
	}
	m.pools[pool.ID] = pool
	m.mu.Unlock()

	if err := pool.Initialize(ctx); err != nil {
		m.mu.Lock()
		delete(m.pools, pool.ID)
		m.mu.Unlock()
		return nil, err
	}
	metrics().poolsActive.Inc()
	return pool, nil
}

// GetPool returns the named pool.
func (m *Manager) GetPool(id string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return pool, nil
}

// DeletePool shuts the named pool down and removes it.
func (m *Manager) DeletePool(id string, timeout time.Duration) error {
	m.mu.Lock()
	pool, ok := m.pools[id]
	if ok {
		delete(m.pools, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	metrics().poolsActive.Dec()
	return pool.Shutdown(timeout)
}

// ListPools returns status snapshots for every pool, ordered by pool id.
func (m *Manager) ListPools() []PoolStatus {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	sort.Slice(pools, func(i, j int) bool { return pools[i].ID < pools[j].ID })
	out := make([]PoolStatus, len(pools))
	for i, p := range pools {
		out[i] = p.GetStatus()
	}
	return out
}

// HealthCheck aggregates every pool's verdict. The manager is healthy only
// when every pool is.
func (m *Manager) HealthCheck() ManagerHealth {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	health := ManagerHealth{Healthy: true, Pools: map[string]PoolHealth{}}
	for _, p := range pools {
		ph := p.HealthCheck()
		health.Pools[p.ID] = ph
		if ph.Status != PoolHealthy {
			health.Healthy = false
		}
	}
	return health
}

// ExecuteOnPool runs one task on a specific pool.
func (m *Manager) ExecuteOnPool(ctx context.Context, poolID, prompt string, taskCtx map[string]any, timeout time.Duration) (string, error) {
	pool, err := m.GetPool(poolID)
	if err != nil {
		return "", err
	}
	return pool.Execute(ctx, prompt, taskCtx, timeout)
}

// RouteTask picks a pool with the given selector and executes the task on
// it. When the manager has no pools yet, a default pool is created first.
// Returns the chosen pool id alongside the result.
func (m *Manager) RouteTask(ctx context.Context, prompt string, taskCtx map[string]any, selector Selector, timeout time.Duration) (string, string, error) {
	switch selector {
	case SelectLeastLoaded, SelectRoundRobin, SelectRandom:
	case "":
		selector = SelectLeastLoaded
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownSelector, selector)
	}

	pool, err := m.selectPool(ctx, selector)
	if err != nil {
		return "", "", err
	}
	result, err := pool.Execute(ctx, prompt, taskCtx, timeout)
	return pool.ID, result, err
}

func (m *Manager) selectPool(ctx context.Context, selector Selector) (*Pool, error) {
	m.mu.Lock()
	if len(m.pools) == 0 {
		m.mu.Unlock()
		log.Debug().Str("pool", DefaultPoolID).Msg("No pools yet, creating default")
		pool, err := m.CreatePool(ctx, DefaultPoolID)
		if err != nil && !errors.Is(err, ErrPoolExists) {
			return nil, err
		}
		if err != nil {
			return m.GetPool(DefaultPoolID)
		}
		return pool, nil
	}

	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var chosen *Pool
	switch selector {
	case SelectRoundRobin:
		chosen = m.pools[ids[m.rrNext%uint64(len(ids))]]
		m.rrNext++
	case SelectRandom:
		chosen = m.pools[ids[rand.Intn(len(ids))]]
	case SelectLeastLoaded:
		// Lowest queue depth wins; sorted order breaks ties deterministically.
		best := -1
		for _, id := range ids {
			depth := m.pools[id].queueDepth()
			if best < 0 || depth < best {
				best = depth
				chosen = m.pools[id]
			}
		}
	}
	m.mu.Unlock()
	return chosen, nil
}

// Shutdown stops every pool and empties the manager.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = map[string]*Pool{}
	m.mu.Unlock()

	var firstErr error
	for _, p := range pools {
		metrics().poolsActive.Dec()
		if err := p.Shutdown(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	defaultManagerMu sync.Mutex
	defaultManager   *Manager
)

// GetManager returns the process-wide manager, creating it on first call
// with the given executor. Later calls ignore the executor argument.
func GetManager(executor TaskExecutor) *Manager {
	defaultManagerMu.Lock()
	defer defaultManagerMu.Unlock()
	if defaultManager == nil {
		defaultManager = NewManager(executor)
	}
	return defaultManager
}

// ResetManager shuts the process-wide manager down and discards it. Intended
// for tests.
func ResetManager(timeout time.Duration) error {
	defaultManagerMu.Lock()
	mgr := defaultManager
	defaultManager = nil
	defaultManagerMu.Unlock()
	if mgr == nil {
		return nil
	}
	return mgr.Shutdown(timeout)
}

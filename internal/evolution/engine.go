package evolution

import (
	"sync"
	"time"
)

// Engine owns the subcategory registry and runs evolution passes.
type Engine struct {
	cfg      Config
	registry *registry

	mu        sync.Mutex
	snapshots map[string]*Snapshot

	now func() time.Time
}

// NewEngine validates the config and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		registry:  newRegistry(),
		snapshots: map[string]*Snapshot{},
		now:       time.Now,
	}, nil
}

// Subcategories returns the current subcategories of a category,
// name-sorted.
func (e *Engine) Subcategories(cat Category) []*Subcategory {
	return e.registry.list(cat)
}

// Snapshot returns a stored evolution snapshot by id.
func (e *Engine) Snapshot(id string) (*Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.snapshots[id]
	return s, ok
}

var (
	defaultEngineMu sync.Mutex
	defaultEngine   *Engine
)

// GetEngine returns the process-wide engine, created with defaults on first
// use.
func GetEngine() *Engine {
	defaultEngineMu.Lock()
	defer defaultEngineMu.Unlock()
	if defaultEngine == nil {
		defaultEngine, _ = NewEngine(DefaultConfig())
	}
	return defaultEngine
}

// ResetEngine discards the process-wide engine. Intended for tests.
func ResetEngine() {
	defaultEngineMu.Lock()
	defaultEngine = nil
	defaultEngineMu.Unlock()
}

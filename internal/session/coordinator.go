// Package session wires the memory store, git operations, worker pools and
// sync layer into the end-to-end session flows.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sessionbuddy/sessionbuddy/internal/akosha"
	"github.com/sessionbuddy/sessionbuddy/internal/config"
	"github.com/sessionbuddy/sessionbuddy/internal/gitops"
	"github.com/sessionbuddy/sessionbuddy/internal/memory"
	"github.com/sessionbuddy/sessionbuddy/internal/safeexec"
	"github.com/sessionbuddy/sessionbuddy/internal/workerpool"
)

// gcAutoThreshold is the loose-object count handed to git gc --auto.
const gcAutoThreshold = 6700

// ErrInvalidQuality rejects checkpoint scores outside [0,100].
var ErrInvalidQuality = errors.New("quality score must be in [0,100]")

// Syncer is the slice of the sync layer the coordinator needs.
type Syncer interface {
	Sync(ctx context.Context, batch akosha.Batch) (*akosha.Result, error)
}

// Coordinator glues the subsystems together. Any collaborator except the
// store may be nil; the matching feature is then skipped.
type Coordinator struct {
	store *memory.Store
	pools *workerpool.Manager

	// mu guards settings and syncer, which a config reload swaps at runtime.
	mu       sync.RWMutex
	settings config.Settings
	syncer   Syncer
}

// New builds a coordinator.
func New(store *memory.Store, settings config.Settings, syncer Syncer, pools *workerpool.Manager) *Coordinator {
	return &Coordinator{store: store, settings: settings, syncer: syncer, pools: pools}
}

// UpdateSettings swaps in reloaded settings and the syncer built from them.
// In-flight operations finish under the settings they started with.
func (c *Coordinator) UpdateSettings(settings config.Settings, syncer Syncer) {
	c.mu.Lock()
	c.settings = settings
	c.syncer = syncer
	c.mu.Unlock()
	log.Info().Bool("sync_enabled", settings.Akosha.Enabled).Msg("Coordinator settings updated")
}

func (c *Coordinator) config() (config.Settings, Syncer) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings, c.syncer
}

// Info describes a freshly initialized session.
type Info struct {
	Dir       string        `json:"dir"`
	GitRepo   bool          `json:"git_repo"`
	Branch    string        `json:"branch,omitempty"`
	Stats     *memory.Stats `json:"stats,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// InitSession validates the working directory and reports what the session
// has to work with.
func (c *Coordinator) InitSession(ctx context.Context, dir string) (*Info, error) {
	resolved, err := safeexec.ValidateUserPath(dir, safeexec.PathOpts{})
	if err != nil {
		return nil, err
	}
	info := &Info{Dir: resolved, StartedAt: time.Now()}

	if gitops.IsGitRepository(ctx, resolved) {
		info.GitRepo = true
		if wt, err := gitops.GetWorktreeInfo(ctx, resolved); err == nil {
			info.Branch = wt.Branch
		}
	}
	if stats, err := c.store.GetStats(ctx); err == nil {
		info.Stats = stats
	}
	log.Info().Str("dir", resolved).Bool("git", info.GitRepo).Msg("Session initialized")
	return info, nil
}

// CheckpointOutcome reports one checkpoint flow.
type CheckpointOutcome struct {
	Result       string `json:"result"`
	Clean        bool   `json:"clean"`
	LinesChanged int    `json:"lines_changed"`
	ReflectionID string `json:"reflection_id,omitempty"`
	GCScheduled  bool   `json:"gc_scheduled"`
}

// Checkpoint runs the full flow: validate the path, commit tracked changes,
// record a reflection and schedule repository maintenance.
func (c *Coordinator) Checkpoint(ctx context.Context, dir, project string, qualityScore int) (*CheckpointOutcome, error) {
	if qualityScore < 0 || qualityScore > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, qualityScore)
	}
	resolved, err := safeexec.ValidateUserPath(dir, safeexec.PathOpts{})
	if err != nil {
		return nil, err
	}

	res, err := gitops.CreateCheckpointCommit(ctx, resolved, project, qualityScore)
	if err != nil {
		return nil, err
	}
	outcome := &CheckpointOutcome{
		Result:       res.Result,
		Clean:        res.Result == gitops.CheckpointClean,
		LinesChanged: res.LinesChanged,
	}

	if !outcome.Clean {
		content := fmt.Sprintf("checkpoint %s for %s: quality %d/100, %d lines changed",
			res.Result, project, qualityScore, res.LinesChanged)
		if id, err := c.store.StoreReflection(ctx, content, []string{"checkpoint", project}); err == nil {
			outcome.ReflectionID = id
		} else {
			log.Warn().Err(err).Msg("Failed to record checkpoint reflection")
		}
	}

	settings, _ := c.config()
	if settings.GCPruneDelay != "" {
		if err := gitops.ScheduleAutoGC(ctx, resolved, settings.GCPruneDelay, gcAutoThreshold); err != nil {
			log.Warn().Err(err).Msg("Failed to schedule repository gc")
		} else {
			outcome.GCScheduled = true
		}
	}
	return outcome, nil
}

// DelegateTask routes one prompt through the worker pools using the
// configured selector.
func (c *Coordinator) DelegateTask(ctx context.Context, prompt string, taskCtx map[string]any) (string, string, error) {
	if c.pools == nil {
		return "", "", errors.New("worker pools are not configured")
	}
	settings, _ := c.config()
	return c.pools.RouteTask(ctx, prompt, taskCtx,
		workerpool.Selector(settings.PoolSelector), settings.TaskTimeout)
}

// EndResult reports session teardown.
type EndResult struct {
	Synced bool           `json:"synced"`
	Sync   *akosha.Result `json:"sync,omitempty"`
}

// EndSession optionally ships the memory database and recent insights to
// the sync backend, then reports what happened. Sync failures are returned,
// not masked. The automatic upload is skipped when upload_on_session_end is
// off; SyncNow still works in that configuration.
func (c *Coordinator) EndSession(ctx context.Context) (*EndResult, error) {
	settings, syncer := c.config()
	if syncer == nil || !settings.Akosha.Enabled || !settings.Akosha.UploadOnSessionEnd {
		return &EndResult{}, nil
	}
	return c.sync(ctx, settings, syncer)
}

// SyncNow runs an explicitly requested sync, regardless of the session-end
// upload setting.
func (c *Coordinator) SyncNow(ctx context.Context) (*EndResult, error) {
	settings, syncer := c.config()
	if syncer == nil || !settings.Akosha.Enabled {
		return &EndResult{}, nil
	}
	return c.sync(ctx, settings, syncer)
}

func (c *Coordinator) sync(ctx context.Context, settings config.Settings, syncer Syncer) (*EndResult, error) {
	batch, err := c.buildSyncBatch(ctx, settings)
	if err != nil {
		return nil, err
	}
	result, err := syncer.Sync(ctx, batch)
	if err != nil {
		return nil, err
	}
	return &EndResult{Synced: result.Success, Sync: result}, nil
}

// buildSyncBatch packages the database file plus recent insights as wire
// records.
func (c *Coordinator) buildSyncBatch(ctx context.Context, settings config.Settings) (akosha.Batch, error) {
	var batch akosha.Batch

	// Fold WAL pages into the main file so the copy below is complete.
	if err := c.store.FlushWAL(ctx); err != nil {
		return batch, err
	}
	data, err := os.ReadFile(settings.DatabasePath)
	if err != nil {
		return batch, fmt.Errorf("read database for sync: %w", err)
	}
	batch.Files = append(batch.Files, akosha.File{
		Name: filepath.Base(settings.DatabasePath),
		Data: data,
	})

	insights, err := c.store.SearchInsights(ctx, "*", memory.InsightSearchOpts{Limit: 100})
	if err != nil {
		return batch, err
	}
	for _, hit := range insights {
		batch.Memories = append(batch.Memories, akosha.MemoryRecord{
			Content:  hit.Content,
			Type:     hit.InsightType,
			Metadata: hit.Metadata,
		})
	}
	return batch, nil
}

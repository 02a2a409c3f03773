package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// Stats reports row counts and storage footprint for the collection.
type Stats struct {
	Collection    string `json:"collection"`
	Conversations int    `json:"conversations"`
	Reflections   int    `json:"reflections"`
	Insights      int    `json:"insights"`
	CodeGraphs    int    `json:"code_graphs"`
	DatabaseBytes int64  `json:"database_bytes"`
}

// Health reports liveness of the store plus process resource usage.
type Health struct {
	Healthy       bool   `json:"healthy"`
	Error         string `json:"error,omitempty"`
	DatabaseBytes int64  `json:"database_bytes"`
	ProcessRSS    uint64 `json:"process_rss_bytes"`
	Embeddings    bool   `json:"embeddings_available"`
}

// CodeGraph is the write-only collaborator artifact produced by the indexer.
type CodeGraph struct {
	ID         string         `json:"id"` // repo+commit
	RepoPath   string         `json:"repo_path"`
	CommitHash string         `json:"commit_hash"`
	NodesCount int            `json:"nodes_count"`
	GraphData  map[string]any `json:"graph_data"`
	Metadata   map[string]any `json:"metadata"`
}

// GetStats returns row counts per table and the database file size.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	stats := &Stats{Collection: s.collection}

	counts := []struct {
		query string
		dest  *int
	}{
		{fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.conversationsTable()), &stats.Conversations},
		{fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE insight_type IS NULL`, s.reflectionsTable()), &stats.Reflections},
		{fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE insight_type IS NOT NULL`, s.reflectionsTable()), &stats.Insights},
		{fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.codeGraphsTable()), &stats.CodeGraphs},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("collect stats: %w", err)
		}
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseBytes = info.Size()
	}
	return stats, nil
}

// HealthCheck pings the database and reports resource usage.
func (s *Store) HealthCheck(ctx context.Context) *Health {
	health := &Health{Embeddings: s.embedder != nil}

	s.mu.Lock()
	closed := s.closed
	if !closed {
		if err := s.db.PingContext(ctx); err != nil {
			health.Error = err.Error()
		} else {
			health.Healthy = true
		}
	} else {
		health.Error = ErrClosed.Error()
	}
	s.mu.Unlock()

	if info, err := os.Stat(s.dbPath); err == nil {
		health.DatabaseBytes = info.Size()
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			health.ProcessRSS = mem.RSS
		}
	}
	return health
}

// ResetDatabase drops the collection tables and re-runs the migration.
// Everything stored in the collection is lost.
func (s *Store) ResetDatabase(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for _, table := range []string{s.conversationsTable(), s.reflectionsTable(), s.codeGraphsTable()} {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
			return fmt.Errorf("reset database: %w", err)
		}
	}
	return s.migrate()
}

// StoreCodeGraph upserts a code graph keyed by repo+commit.
func (s *Store) StoreCodeGraph(ctx context.Context, graph CodeGraph) error {
	if graph.ID == "" {
		graph.ID = graph.RepoPath + "@" + graph.CommitHash
	}
	graphJSON, err := json.Marshal(orEmpty(graph.GraphData))
	if err != nil {
		return fmt.Errorf("encode graph data: %w", err)
	}
	metaJSON, err := json.Marshal(orEmpty(graph.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	query := fmt.Sprintf(`INSERT INTO %s (id, repo_path, commit_hash, indexed_at, nodes_count, graph_data, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			indexed_at = excluded.indexed_at,
			nodes_count = excluded.nodes_count,
			graph_data = excluded.graph_data,
			metadata = excluded.metadata`, s.codeGraphsTable())
	if _, err := s.db.ExecContext(ctx, query, graph.ID, graph.RepoPath, graph.CommitHash,
		nowUTC(), graph.NodesCount, string(graphJSON), string(metaJSON)); err != nil {
		return fmt.Errorf("store code graph: %w", err)
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sessionbuddy/sessionbuddy/internal/fingerprint"
)

// Conversation is a stored conversation row. The id is content-derived, so
// storing identical content twice updates a single row.
type Conversation struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// ConversationHit is a search result with its relevance score.
type ConversationHit struct {
	Conversation
	Score float64 `json:"score"`
}

// SearchOpts tunes conversation search.
type SearchOpts struct {
	Limit     int
	Threshold float64
	// MinScore, when non-nil, overrides Threshold (back-compat alias).
	MinScore *float64
	// Project filters on metadata.project when non-empty.
	Project string
}

// ConversationID derives the deterministic id for content: the first 16 hex
// characters of its SHA-256.
func ConversationID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// StoreConversation upserts a conversation keyed by its content hash and
// returns the id. Metadata may be nil.
func (s *Store) StoreConversation(ctx context.Context, content string, metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	id := ConversationID(content)
	embedding := s.embed(ctx, content)
	fp := fingerprint.New(content).Bytes()
	now := nowUTC()

	if err := s.lock(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()

	query := fmt.Sprintf(`INSERT INTO %s (id, content, metadata, created_at, updated_at, embedding, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at,
			embedding = excluded.embedding,
			fingerprint = excluded.fingerprint`, s.conversationsTable())
	if _, err := s.db.ExecContext(ctx, query, id, content, string(metaJSON), now, now, embedding, fp); err != nil {
		return "", fmt.Errorf("store conversation: %w", err)
	}
	return id, nil
}

// SearchConversations ranks conversations against the query. With an
// embedder (and VSS enabled) the score is cosine similarity and rows below
// the threshold are dropped; without one, rows are filtered by substring
// match with a constant score of 1.0, newest first.
func (s *Store) SearchConversations(ctx context.Context, query string, opts SearchOpts) ([]ConversationHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	threshold := opts.Threshold
	if opts.MinScore != nil {
		threshold = *opts.MinScore
	}

	var queryVec []float32
	if s.embedder != nil && s.enableVSS {
		vec, err := s.embedder.Embed(ctx, query)
		if err == nil && len(vec) == s.dim {
			queryVec = vec
		}
	}

	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if queryVec == nil {
		return s.searchConversationsText(ctx, query, limit, opts.Project)
	}
	return s.searchConversationsSemantic(ctx, queryVec, limit, threshold, opts.Project)
}

func (s *Store) searchConversationsSemantic(ctx context.Context, queryVec []float32, limit int, threshold float64, project string) ([]ConversationHit, error) {
	sqlQuery := fmt.Sprintf(`SELECT id, content, metadata, created_at, updated_at, embedding FROM %s WHERE embedding IS NOT NULL`, s.conversationsTable())
	args := []any{}
	if project != "" {
		sqlQuery += ` AND json_extract(metadata, '$.project') = ?`
		args = append(args, project)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()

	var hits []ConversationHit
	for rows.Next() {
		var hit ConversationHit
		var metaJSON string
		var embedding []byte
		if err := rows.Scan(&hit.ID, &hit.Content, &metaJSON, &hit.CreatedAt, &hit.UpdatedAt, &embedding); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		hit.Score = cosineSimilarity(queryVec, decodeVector(embedding))
		if hit.Score < threshold {
			continue
		}
		hit.Metadata = decodeMetadata(metaJSON)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) searchConversationsText(ctx context.Context, query string, limit int, project string) ([]ConversationHit, error) {
	sqlQuery := fmt.Sprintf(`SELECT id, content, metadata, created_at, updated_at FROM %s WHERE content LIKE ?`, s.conversationsTable())
	args := []any{"%" + query + "%"}
	if project != "" {
		sqlQuery += ` AND json_extract(metadata, '$.project') = ?`
		args = append(args, project)
	}
	sqlQuery += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()

	var hits []ConversationHit
	for rows.Next() {
		var hit ConversationHit
		var metaJSON string
		if err := rows.Scan(&hit.ID, &hit.Content, &metaJSON, &hit.CreatedAt, &hit.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		hit.Metadata = decodeMetadata(metaJSON)
		hit.Score = 1.0
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT id, content, metadata, created_at, updated_at FROM %s WHERE id = ?`, s.conversationsTable())
	var conv Conversation
	var metaJSON string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&conv.ID, &conv.Content, &metaJSON, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv.Metadata = decodeMetadata(metaJSON)
	return &conv, nil
}

// decodeMetadata parses a metadata JSON column, falling back to an empty map
// on malformed rows so a corrupt record cannot break reads.
func decodeMetadata(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return map[string]any{}
	}
	return meta
}

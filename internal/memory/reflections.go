package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/sessionbuddy/sessionbuddy/internal/fingerprint"
)

// Reflection is a tagged note that has not been promoted to an insight.
// Reflections and insights share a table; a reflection always has a null
// insight_type.
type Reflection struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Tags      []string       `json:"tags"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// ReflectionHit is a reflection search result.
type ReflectionHit struct {
	Reflection
	Score float64 `json:"score"`
}

// SimilarityHit is one entry of the combined similarity search, labelled
// with the memory type it came from.
type SimilarityHit struct {
	Type    string  `json:"type"` // "conversation" or "reflection"
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// StoreReflection stores a new reflection under a fresh UUID. insight_type
// is explicitly null so the row never surfaces in insight search.
func (s *Store) StoreReflection(ctx context.Context, content string, tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}

	id := uuid.NewString()
	embedding := s.embed(ctx, content)
	fp := fingerprint.New(content).Bytes()
	now := nowUTC()

	if err := s.lock(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()

	query := fmt.Sprintf(`INSERT INTO %s
		(id, content, tags, metadata, created_at, updated_at, embedding, fingerprint, insight_type)
		VALUES (?, ?, ?, '{}', ?, ?, ?, ?, NULL)`, s.reflectionsTable())
	if _, err := s.db.ExecContext(ctx, query, id, content, string(tagsJSON), now, now, embedding, fp); err != nil {
		return "", fmt.Errorf("store reflection: %w", err)
	}
	return id, nil
}

// SearchReflections searches reflections either semantically (cosine over
// stored embeddings) or by substring/tag match. Both paths are constrained
// to rows with a null insight_type.
func (s *Store) SearchReflections(ctx context.Context, query string, limit int, useEmbeddings bool) ([]ReflectionHit, error) {
	if limit <= 0 {
		limit = 10
	}

	var queryVec []float32
	if useEmbeddings && s.embedder != nil && s.enableVSS {
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
		return s.searchReflectionsText(ctx, query, limit)
	}
	return s.searchReflectionsSemantic(ctx, queryVec, limit)
}

func (s *Store) searchReflectionsSemantic(ctx context.Context, queryVec []float32, limit int) ([]ReflectionHit, error) {
	sqlQuery := fmt.Sprintf(`SELECT id, content, tags, metadata, created_at, updated_at, embedding
		FROM %s WHERE insight_type IS NULL AND embedding IS NOT NULL`, s.reflectionsTable())

	rows, err := s.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("search reflections: %w", err)
	}
	defer rows.Close()

	var hits []ReflectionHit
	for rows.Next() {
		hit, embedding, err := scanReflection(rows)
		if err != nil {
			return nil, err
		}
		hit.Score = cosineSimilarity(queryVec, decodeVector(embedding))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search reflections: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) searchReflectionsText(ctx context.Context, query string, limit int) ([]ReflectionHit, error) {
	sqlQuery := fmt.Sprintf(`SELECT id, content, tags, metadata, created_at, updated_at, embedding
		FROM %s WHERE insight_type IS NULL AND (content LIKE ? OR tags LIKE ?)
		ORDER BY updated_at DESC LIMIT ?`, s.reflectionsTable())
	pattern := "%" + query + "%"

	rows, err := s.db.QueryContext(ctx, sqlQuery, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search reflections: %w", err)
	}
	defer rows.Close()

	var hits []ReflectionHit
	for rows.Next() {
		hit, _, err := scanReflection(rows)
		if err != nil {
			return nil, err
		}
		hit.Score = 1.0
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func scanReflection(rows *sql.Rows) (ReflectionHit, []byte, error) {
	var hit ReflectionHit
	var tagsJSON, metaJSON string
	var embedding []byte
	if err := rows.Scan(&hit.ID, &hit.Content, &tagsJSON, &metaJSON, &hit.CreatedAt, &hit.UpdatedAt, &embedding); err != nil {
		return hit, nil, fmt.Errorf("scan reflection: %w", err)
	}
	hit.Tags = decodeTags(tagsJSON)
	hit.Metadata = decodeMetadata(metaJSON)
	return hit, embedding, nil
}

func decodeTags(raw string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return []string{}
	}
	return tags
}

// GetReflectionByID fetches one reflection. Insight rows are not visible
// through this accessor.
func (s *Store) GetReflectionByID(ctx context.Context, id string) (*Reflection, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT id, content, tags, metadata, created_at, updated_at
		FROM %s WHERE id = ? AND insight_type IS NULL`, s.reflectionsTable())
	var refl Reflection
	var tagsJSON, metaJSON string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&refl.ID, &refl.Content, &tagsJSON, &metaJSON, &refl.CreatedAt, &refl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: reflection %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get reflection: %w", err)
	}
	refl.Tags = decodeTags(tagsJSON)
	refl.Metadata = decodeMetadata(metaJSON)
	return &refl, nil
}

// SimilaritySearch runs conversation and reflection search with the same
// query and merges the results, each labelled with its memory type.
func (s *Store) SimilaritySearch(ctx context.Context, query string, limit int) ([]SimilarityHit, error) {
	if limit <= 0 {
		limit = 10
	}

	convs, err := s.SearchConversations(ctx, query, SearchOpts{Limit: limit})
	if err != nil {
		return nil, err
	}
	refls, err := s.SearchReflections(ctx, query, limit, true)
	if err != nil {
		return nil, err
	}

	hits := make([]SimilarityHit, 0, len(convs)+len(refls))
	for _, c := range convs {
		hits = append(hits, SimilarityHit{Type: "conversation", ID: c.ID, Content: c.Content, Score: c.Score})
	}
	for _, r := range refls {
		hits = append(hits, SimilarityHit{Type: "reflection", ID: r.ID, Content: r.Content, Score: r.Score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/sessionbuddy/sessionbuddy/internal/fingerprint"
)

// Insight is a reflection promoted with type, confidence, and usage
// accounting. Rows with a non-null insight_type are insights.
type Insight struct {
	ID              string         `json:"id"`
	Content         string         `json:"content"`
	InsightType     string         `json:"insight_type"`
	Tags            []string       `json:"tags"`
	Metadata        map[string]any `json:"metadata"`
	UsageCount      int            `json:"usage_count"`
	LastUsedAt      string         `json:"last_used_at,omitempty"`
	ConfidenceScore float64        `json:"confidence_score"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

// InsightHit is an insight search result.
type InsightHit struct {
	Insight
	Score float64 `json:"score"`
}

// InsightOpts carries the optional attributes of StoreInsight.
type InsightOpts struct {
	Topics               []string
	Projects             []string
	SourceConversationID string
	SourceReflectionID   string
	ConfidenceScore      float64 // defaults to 0.5 when zero-valued struct is used
	QualityScore         float64 // idem
}

// InsightSearchOpts tunes SearchInsights.
type InsightSearchOpts struct {
	Limit           int
	MinQualityScore float64
	MinSimilarity   float64
	UseEmbeddings   bool
}

// InsightStatistics aggregates the insight population.
type InsightStatistics struct {
	Total      int            `json:"total"`
	AvgQuality float64        `json:"avg_quality"`
	AvgUsage   float64        `json:"avg_usage"`
	ByType     map[string]int `json:"by_type"`
}

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// sanitizeInsightType holds insight types to the same identifier allow-list
// as collection names. Anything else falls back to "general".
func sanitizeInsightType(insightType string) string {
	trimmed := strings.TrimSpace(insightType)
	if trimmed == "" || !identifierRe.MatchString(trimmed) {
		return "general"
	}
	return trimmed
}

// sanitizeNames keeps only allow-listed identifiers from a name list.
func sanitizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if identifierRe.MatchString(name) {
			out = append(out, name)
		}
	}
	return out
}

// DefaultInsightOpts returns the documented defaults for StoreInsight.
func DefaultInsightOpts() InsightOpts {
	return InsightOpts{ConfidenceScore: 0.5, QualityScore: 0.5}
}

// StoreInsight stores an insight under a fresh UUID. The quality score and
// source ids live in metadata; usage_count starts at zero.
func (s *Store) StoreInsight(ctx context.Context, content, insightType string, opts InsightOpts) (string, error) {
	insightType = sanitizeInsightType(insightType)

	metadata := map[string]any{
		"quality_score": opts.QualityScore,
	}
	if topics := sanitizeNames(opts.Topics); len(topics) > 0 {
		metadata["topics"] = topics
	}
	if projects := sanitizeNames(opts.Projects); len(projects) > 0 {
		metadata["projects"] = projects
	}
	if opts.SourceConversationID != "" {
		metadata["source_conversation_id"] = opts.SourceConversationID
	}
	if opts.SourceReflectionID != "" {
		metadata["source_reflection_id"] = opts.SourceReflectionID
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	tagsJSON, err := json.Marshal(sanitizeNames(opts.Topics))
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
		(id, content, tags, metadata, created_at, updated_at, embedding, fingerprint,
		 insight_type, usage_count, last_used_at, confidence_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)`, s.reflectionsTable())
	if _, err := s.db.ExecContext(ctx, query, id, content, string(tagsJSON), string(metaJSON),
		now, now, embedding, fp, insightType, opts.ConfidenceScore); err != nil {
		return "", fmt.Errorf("store insight: %w", err)
	}
	return id, nil
}

// SearchInsights filters insights by quality, then ranks semantically when an
// embedder is available, post-filtering by similarity. The wildcard queries
// "*" and "" take the text path and return all insights newest first.
func (s *Store) SearchInsights(ctx context.Context, query string, opts InsightSearchOpts) ([]InsightHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	wildcard := query == "*" || query == ""
	var queryVec []float32
	if !wildcard && opts.UseEmbeddings && s.embedder != nil && s.enableVSS {
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
		return s.searchInsightsText(ctx, query, wildcard, limit, opts.MinQualityScore)
	}
	return s.searchInsightsSemantic(ctx, queryVec, limit, opts.MinQualityScore, opts.MinSimilarity)
}

const insightColumns = `id, content, tags, metadata, created_at, updated_at, embedding,
	insight_type, usage_count, last_used_at, confidence_score`

func (s *Store) searchInsightsSemantic(ctx context.Context, queryVec []float32, limit int, minQuality, minSimilarity float64) ([]InsightHit, error) {
	sqlQuery := fmt.Sprintf(`SELECT %s FROM %s
		WHERE insight_type IS NOT NULL
		AND COALESCE(json_extract(metadata, '$.quality_score'), 0) >= ?
		AND embedding IS NOT NULL`, insightColumns, s.reflectionsTable())

	rows, err := s.db.QueryContext(ctx, sqlQuery, minQuality)
	if err != nil {
		return nil, fmt.Errorf("search insights: %w", err)
	}
	defer rows.Close()

	var hits []InsightHit
	for rows.Next() {
		hit, embedding, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		hit.Score = cosineSimilarity(queryVec, decodeVector(embedding))
		if hit.Score < minSimilarity {
			continue
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search insights: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) searchInsightsText(ctx context.Context, query string, wildcard bool, limit int, minQuality float64) ([]InsightHit, error) {
	sqlQuery := fmt.Sprintf(`SELECT %s FROM %s
		WHERE insight_type IS NOT NULL
		AND COALESCE(json_extract(metadata, '$.quality_score'), 0) >= ?`, insightColumns, s.reflectionsTable())
	args := []any{minQuality}
	if !wildcard {
		sqlQuery += ` AND content LIKE ?`
		args = append(args, "%"+query+"%")
	}
	sqlQuery += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search insights: %w", err)
	}
	defer rows.Close()

	var hits []InsightHit
	for rows.Next() {
		hit, _, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		hit.Score = 1.0
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func scanInsight(rows *sql.Rows) (InsightHit, []byte, error) {
	var hit InsightHit
	var tagsJSON, metaJSON string
	var embedding []byte
	var lastUsed sql.NullString
	if err := rows.Scan(&hit.ID, &hit.Content, &tagsJSON, &metaJSON, &hit.CreatedAt, &hit.UpdatedAt,
		&embedding, &hit.InsightType, &hit.UsageCount, &lastUsed, &hit.ConfidenceScore); err != nil {
		return hit, nil, fmt.Errorf("scan insight: %w", err)
	}
	hit.Tags = decodeTags(tagsJSON)
	hit.Metadata = decodeMetadata(metaJSON)
	if lastUsed.Valid {
		hit.LastUsedAt = lastUsed.String
	}
	return hit, embedding, nil
}

// UpdateInsightUsage atomically bumps the usage counter and touch timestamps
// in a single statement. Returns true iff exactly one insight row was
// updated. A caller-side read-modify-write would lose concurrent updates;
// this must stay one UPDATE.
func (s *Store) UpdateInsightUsage(ctx context.Context, id string) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	now := nowUTC()
	query := fmt.Sprintf(`UPDATE %s SET
			usage_count = usage_count + 1,
			last_used_at = ?,
			updated_at = ?
		WHERE id = ? AND insight_type IS NOT NULL`, s.reflectionsTable())
	res, err := s.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return false, fmt.Errorf("update insight usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update insight usage: %w", err)
	}
	return affected == 1, nil
}

// GetInsightsStatistics aggregates totals, averages, and the per-type
// breakdown over all insights.
func (s *Store) GetInsightsStatistics(ctx context.Context) (*InsightStatistics, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	stats := &InsightStatistics{ByType: map[string]int{}}

	aggQuery := fmt.Sprintf(`SELECT COUNT(*),
			COALESCE(AVG(COALESCE(json_extract(metadata, '$.quality_score'), 0)), 0),
			COALESCE(AVG(usage_count), 0)
		FROM %s WHERE insight_type IS NOT NULL`, s.reflectionsTable())
	if err := s.db.QueryRowContext(ctx, aggQuery).Scan(&stats.Total, &stats.AvgQuality, &stats.AvgUsage); err != nil {
		return nil, fmt.Errorf("insight statistics: %w", err)
	}

	typeQuery := fmt.Sprintf(`SELECT insight_type, COUNT(*) FROM %s
		WHERE insight_type IS NOT NULL GROUP BY insight_type`, s.reflectionsTable())
	rows, err := s.db.QueryContext(ctx, typeQuery)
	if err != nil {
		return nil, fmt.Errorf("insight statistics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var insightType string
		var count int
		if err := rows.Scan(&insightType, &count); err != nil {
			return nil, fmt.Errorf("insight statistics: %w", err)
		}
		stats.ByType[insightType] = count
	}
	return stats, rows.Err()
}

// GetInsight fetches one insight by id.
func (s *Store) GetInsight(ctx context.Context, id string) (*Insight, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? AND insight_type IS NOT NULL`, insightColumns, s.reflectionsTable())
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get insight: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get insight: %w", err)
		}
		return nil, fmt.Errorf("%w: insight %s", ErrNotFound, id)
	}
	hit, _, err := scanInsight(rows)
	if err != nil {
		return nil, err
	}
	return &hit.Insight, nil
}

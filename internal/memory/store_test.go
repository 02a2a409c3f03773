package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns fixed vectors for known texts and a zero-ish default
// otherwise. Dimension 4 keeps the tests readable.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0.1, 0.1, 0.1, 0.1}, nil
}

func (f *fakeEmbedder) Dim() int { return 4 }

func openTestStore(t *testing.T, embedder Embedder) *Store {
	t.Helper()
	cfg := Config{
		DatabasePath:     filepath.Join(t.TempDir(), "memory.db"),
		EnableVSS:        embedder != nil,
		EnableEmbeddings: embedder != nil,
		Embedder:         embedder,
	}
	if embedder != nil {
		cfg.EmbeddingDim = embedder.Dim()
	}
	store, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenEmbeddingsDisabledIgnoresEmbedder(t *testing.T) {
	store, err := Open(Config{
		DatabasePath: filepath.Join(t.TempDir(), "memory.db"),
		EmbeddingDim: 4,
		Embedder:     &fakeEmbedder{},
	})
	require.NoError(t, err)
	defer store.Close()
	assert.Nil(t, store.embedder)

	// Writes still work, just without vectors.
	id, err := store.StoreConversation(context.Background(), "plain text entry", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("default"))
	assert.NoError(t, ValidateCollectionName("proj_42"))
	for _, bad := range []string{"", "a-b", "a b", "x;drop table", "naïve", "a.b"} {
		assert.ErrorIs(t, ValidateCollectionName(bad), ErrInvalidCollection, bad)
	}
}

func TestOpenRejectsBadCollection(t *testing.T) {
	_, err := Open(Config{DatabasePath: filepath.Join(t.TempDir(), "m.db"), Collection: "bad;name"})
	assert.ErrorIs(t, err, ErrInvalidCollection)
}

func TestMigrationIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	for i := 0; i < 3; i++ {
		store, err := Open(Config{DatabasePath: path})
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}
}

func TestStoreConversationDeterministicID(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	id, err := store.StoreConversation(ctx, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e", id)

	// Re-storing identical content updates in place: same id, one row.
	id2, err := store.StoreConversation(ctx, "hello", map[string]any{"project": "p"})
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conversations)

	conv, err := store.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "p", conv.Metadata["project"])
}

func TestSearchConversationsTextFallback(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	_, err := store.StoreConversation(ctx, "deploying the staging cluster", map[string]any{"project": "infra"})
	require.NoError(t, err)
	_, err = store.StoreConversation(ctx, "writing release notes", nil)
	require.NoError(t, err)

	hits, err := store.SearchConversations(ctx, "staging", SearchOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Contains(t, hits[0].Content, "staging")
}

func TestSearchConversationsSemantic(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"close match":  {1, 0, 0, 0},
		"far match":    {0, 1, 0, 0},
		"the query":    {0.9, 0.1, 0, 0},
		"middle match": {0.5, 0.5, 0, 0},
	}}
	store := openTestStore(t, emb)
	ctx := context.Background()

	for _, content := range []string{"close match", "far match", "middle match"} {
		_, err := store.StoreConversation(ctx, content, nil)
		require.NoError(t, err)
	}

	hits, err := store.SearchConversations(ctx, "the query", SearchOpts{Limit: 10, Threshold: 0.5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	// Score-descending order, threshold enforced.
	assert.Equal(t, "close match", hits[0].Content)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		assert.GreaterOrEqual(t, hits[i].Score, 0.5)
	}
	assert.NotContains(t, contentsOf(hits), "far match")
}

func TestSearchConversationsMinScoreOverridesThreshold(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"close match": {1, 0, 0, 0},
		"the query":   {1, 0, 0, 0},
	}}
	store := openTestStore(t, emb)
	ctx := context.Background()
	_, err := store.StoreConversation(ctx, "close match", nil)
	require.NoError(t, err)

	tooHigh := 1.1
	hits, err := store.SearchConversations(ctx, "the query", SearchOpts{Limit: 10, Threshold: 0.0, MinScore: &tooHigh})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func contentsOf(hits []ConversationHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Content
	}
	return out
}

func TestReflectionInsightSeparation(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	reflID, err := store.StoreReflection(ctx, "remember to rotate the logs", []string{"ops"})
	require.NoError(t, err)
	_, err = store.StoreInsight(ctx, "user prefers terse answers about logs", "preference", DefaultInsightOpts())
	require.NoError(t, err)

	// Reflections never appear in insight search and vice versa.
	refls, err := store.SearchReflections(ctx, "logs", 10, false)
	require.NoError(t, err)
	require.Len(t, refls, 1)
	assert.Equal(t, reflID, refls[0].ID)

	insights, err := store.SearchInsights(ctx, "logs", InsightSearchOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "preference", insights[0].InsightType)

	got, err := store.GetReflectionByID(ctx, reflID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, got.Tags)

	_, err = store.GetReflectionByID(ctx, insights[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchReflectionsByTag(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()
	_, err := store.StoreReflection(ctx, "unrelated content", []string{"deployment"})
	require.NoError(t, err)

	hits, err := store.SearchReflections(ctx, "deployment", 10, false)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestStoreInsightSanitizesType(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	id, err := store.StoreInsight(ctx, "anything", "bad;type", DefaultInsightOpts())
	require.NoError(t, err)

	insight, err := store.GetInsight(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "general", insight.InsightType)
	assert.Equal(t, 0, insight.UsageCount)
	assert.InDelta(t, 0.5, insight.ConfidenceScore, 1e-9)
	assert.InDelta(t, 0.5, insight.Metadata["quality_score"], 1e-9)
}

func TestSearchInsightsWildcardAndQuality(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	lowQ := DefaultInsightOpts()
	lowQ.QualityScore = 0.2
	_, err := store.StoreInsight(ctx, "low quality insight", "fact", lowQ)
	require.NoError(t, err)
	highQ := DefaultInsightOpts()
	highQ.QualityScore = 0.9
	_, err = store.StoreInsight(ctx, "high quality insight", "fact", highQ)
	require.NoError(t, err)

	all, err := store.SearchInsights(ctx, "*", InsightSearchOpts{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	empty, err := store.SearchInsights(ctx, "", InsightSearchOpts{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, empty, 2)

	filtered, err := store.SearchInsights(ctx, "*", InsightSearchOpts{Limit: 10, MinQualityScore: 0.5})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "high quality insight", filtered[0].Content)
}

func TestUpdateInsightUsageConcurrent(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	id, err := store.StoreInsight(ctx, "count me", "fact", DefaultInsightOpts())
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := store.UpdateInsightUsage(ctx, id)
			assert.NoError(t, err)
			assert.True(t, updated)
		}()
	}
	wg.Wait()

	insight, err := store.GetInsight(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, n, insight.UsageCount)
	assert.NotEmpty(t, insight.LastUsedAt)
}

func TestUpdateInsightUsageRejectsReflections(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	reflID, err := store.StoreReflection(ctx, "just a note", nil)
	require.NoError(t, err)

	updated, err := store.UpdateInsightUsage(ctx, reflID)
	require.NoError(t, err)
	assert.False(t, updated)

	updated, err = store.UpdateInsightUsage(ctx, "missing-id")
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestGetInsightsStatistics(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	opts := DefaultInsightOpts()
	_, err := store.StoreInsight(ctx, "a", "fact", opts)
	require.NoError(t, err)
	_, err = store.StoreInsight(ctx, "b", "fact", opts)
	require.NoError(t, err)
	_, err = store.StoreInsight(ctx, "c", "preference", opts)
	require.NoError(t, err)

	stats, err := store.GetInsightsStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByType["fact"])
	assert.Equal(t, 1, stats.ByType["preference"])
	assert.InDelta(t, 0.5, stats.AvgQuality, 1e-9)
}

func TestResetDatabase(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	_, err := store.StoreConversation(ctx, "gone after reset", nil)
	require.NoError(t, err)
	require.NoError(t, store.ResetDatabase(ctx))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Conversations)
}

func TestHealthCheck(t *testing.T) {
	store := openTestStore(t, nil)
	health := store.HealthCheck(context.Background())
	assert.True(t, health.Healthy)
	assert.False(t, health.Embeddings)
}

func TestStoreCodeGraph(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	graph := CodeGraph{RepoPath: "/repo", CommitHash: "abc123", NodesCount: 42}
	require.NoError(t, store.StoreCodeGraph(ctx, graph))
	// Upsert on same repo+commit.
	graph.NodesCount = 43
	require.NoError(t, store.StoreCodeGraph(ctx, graph))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CodeGraphs)
}

func TestFlushWALMakesFileCopyComplete(t *testing.T) {
	dir := t.TempDir()
	src := Config{DatabasePath: filepath.Join(dir, "memory.db")}
	store, err := Open(src)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	id, err := store.StoreConversation(ctx, "flushed to the main file", nil)
	require.NoError(t, err)
	require.NoError(t, store.FlushWAL(ctx))

	// A byte copy of just the main file must contain the row.
	data, err := os.ReadFile(src.DatabasePath)
	require.NoError(t, err)
	copyPath := filepath.Join(dir, "copy.db")
	require.NoError(t, os.WriteFile(copyPath, data, 0o600))

	replica, err := Open(Config{DatabasePath: copyPath})
	require.NoError(t, err)
	t.Cleanup(func() { replica.Close() })
	conv, err := replica.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "flushed to the main file", conv.Content)
}

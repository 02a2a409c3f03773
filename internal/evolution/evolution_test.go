package evolution

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return newEngineWith(t, DefaultConfig())
}

func newEngineWith(t *testing.T, cfg Config) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	return engine
}

func TestParseCategory(t *testing.T) {
	for _, c := range Categories {
		got, err := ParseCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCategory("opinions")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero clusters", func(c *Config) { c.MaxClusters = 0 }, "max_clusters"},
		{"too many clusters", func(c *Config) { c.MaxClusters = 100 }, "max_clusters"},
		{"min size above max clusters", func(c *Config) { c.MinClusterSize = 9 }, "min_cluster_size"},
		{"bad threshold", func(c *Config) { c.SimilarityThreshold = 1.5 }, "similarity_threshold"},
		{"negative overlap", func(c *Config) { c.KeywordOverlapThreshold = -0.1 }, "keyword_overlap_threshold"},
		{"empty default", func(c *Config) { c.DefaultSubcategory = "" }, "default_subcategory"},
		{"bad fingerprint threshold", func(c *Config) { c.FingerprintThreshold = 1.5 }, "fingerprint_threshold"},
		{"bad silhouette minimum", func(c *Config) { c.MinSilhouetteScore = -2 }, "min_silhouette_score"},
		{"zero memory count", func(c *Config) { c.MemoryCountThreshold = 0 }, "memory_count_threshold"},
		{"negative access threshold", func(c *Config) { c.DecayAccessThreshold = -1 }, "decay_access_threshold"},
		{"delete before archive", func(c *Config) { c.DeleteAfterDays = 30 }, "sooner"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestAssignSubcategoryCentroid(t *testing.T) {
	engine := newTestEngine(t)
	engine.registry.replace(CategoryFacts, []*Subcategory{
		{Name: "deployment", Category: CategoryFacts, Centroid: []float32{1, 0, 0, 0}},
		{Name: "editors", Category: CategoryFacts, Centroid: []float32{0, 1, 0, 0}},
	})

	got := engine.AssignSubcategory(Memory{
		ID:        "m1",
		Content:   "staging rollout finished",
		Category:  CategoryFacts,
		Embedding: []float32{0.9, 0.1, 0, 0},
	})
	assert.Equal(t, "deployment", got.Subcategory)
	assert.Equal(t, BasisEmbedding, got.Basis)
	assert.Greater(t, got.Confidence, 0.75)
}

func TestAssignSubcategoryKeywords(t *testing.T) {
	engine := newTestEngine(t)
	engine.registry.replace(CategoryRules, []*Subcategory{
		{Name: "docker", Category: CategoryRules, Keywords: []string{"docker", "registry"}},
	})

	got := engine.AssignSubcategory(Memory{
		ID:       "m1",
		Content:  "push images to the docker registry only after tests pass",
		Category: CategoryRules,
	})
	assert.Equal(t, "docker", got.Subcategory)
	assert.Equal(t, BasisKeyword, got.Basis)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
}

func TestAssignSubcategoryDefault(t *testing.T) {
	engine := newTestEngine(t)
	got := engine.AssignSubcategory(Memory{
		ID:       "m1",
		Content:  "completely unrelated note",
		Category: CategorySkills,
	})
	assert.Equal(t, "general", got.Subcategory)
	assert.Equal(t, BasisDefault, got.Basis)
}

func TestAssignSubcategoryDuplicate(t *testing.T) {
	engine := newTestEngine(t)

	content := "the deploy pipeline failed because the docker registry was unreachable"
	first := engine.AssignSubcategory(Memory{ID: "m1", Content: content, Category: CategoryFacts})
	require.Equal(t, "general", first.Subcategory)

	// A near-identical memory matches the stored exemplar fingerprint.
	second := engine.AssignSubcategory(Memory{
		ID:       "m2",
		Content:  "the deploy pipeline failed because the docker registry was unreachable today",
		Category: CategoryFacts,
	})
	assert.Equal(t, "general", second.Subcategory)
	assert.Equal(t, BasisFingerprint, second.Basis)
	assert.GreaterOrEqual(t, second.Confidence, 0.8)
}

func TestAssignSubcategoryFingerprintThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FingerprintThreshold = 1.0
	engine := newEngineWith(t, cfg)

	content := "the deploy pipeline failed because the docker registry was unreachable"
	engine.AssignSubcategory(Memory{ID: "m1", Content: content, Category: CategoryFacts})

	// A near-but-not-exact match falls short of the raised threshold.
	got := engine.AssignSubcategory(Memory{
		ID:       "m2",
		Content:  content + " again today after lunch",
		Category: CategoryFacts,
	})
	assert.NotEqual(t, BasisFingerprint, got.Basis)
}

func clusteredMemories() []Memory {
	now := time.Now()
	var memories []Memory
	for i := 0; i < 4; i++ {
		memories = append(memories, Memory{
			ID:        fmt.Sprintf("a%d", i),
			Content:   fmt.Sprintf("kubernetes deployment rollout step %d", i),
			Category:  CategoryFacts,
			Embedding: []float32{1, 0.05 * float32(i), 0, 0},
			CreatedAt: now,
		})
	}
	for i := 0; i < 4; i++ {
		memories = append(memories, Memory{
			ID:        fmt.Sprintf("b%d", i),
			Content:   fmt.Sprintf("editor keybinding preference note %d", i),
			Category:  CategoryFacts,
			Embedding: []float32{0, 0.05 * float32(i), 1, 0},
			CreatedAt: now,
		})
	}
	return memories
}

func TestEvolveCategorySeparatesClusters(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.EvolveCategory(CategoryFacts, clusteredMemories())
	require.NoError(t, err)
	assert.Len(t, result.SnapshotID, 26, "ulid")
	assert.Equal(t, 2, result.After.Subcategories)
	assert.Greater(t, result.After.Silhouette, 0.5)
	assert.Contains(t, result.Summary, "significant improvement")
	assert.Empty(t, result.Archived)
	assert.Empty(t, result.Deleted)
	assert.Zero(t, result.StorageFreedBytes)

	// All four a* memories land together, as do the b*.
	assert.Equal(t, result.Assignments["a0"], result.Assignments["a3"])
	assert.Equal(t, result.Assignments["b0"], result.Assignments["b3"])
	assert.NotEqual(t, result.Assignments["a0"], result.Assignments["b0"])

	// Registry now serves the learned subcategories.
	subs := engine.Subcategories(CategoryFacts)
	require.Len(t, subs, 2)

	snapshot, ok := engine.Snapshot(result.SnapshotID)
	require.True(t, ok)
	assert.Equal(t, result.After, snapshot.After)
}

func TestEvolveCategoryDeterministic(t *testing.T) {
	first, err := newTestEngine(t).EvolveCategory(CategoryFacts, clusteredMemories())
	require.NoError(t, err)
	second, err := newTestEngine(t).EvolveCategory(CategoryFacts, clusteredMemories())
	require.NoError(t, err)

	assert.Equal(t, first.Assignments, second.Assignments)
	assert.Equal(t, first.After.Distribution, second.After.Distribution)
	assert.NotEqual(t, first.SnapshotID, second.SnapshotID)
}

func TestEvolveCategoryRejectsUnknown(t *testing.T) {
	_, err := newTestEngine(t).EvolveCategory("opinions", nil)
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestEvolveCategoryDecay(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Now()
	memories := []Memory{
		{ID: "dead", Content: "never used", Category: CategoryContext, CreatedAt: now.AddDate(0, 0, -200)},
		{ID: "dormant", Content: "used long ago", Category: CategoryContext, CreatedAt: now.AddDate(0, 0, -300),
			LastUsedAt: now.AddDate(0, 0, -100), UsageCount: 3},
		{ID: "fresh", Content: "seen yesterday", Category: CategoryContext, CreatedAt: now.AddDate(0, 0, -1)},
	}

	result, err := engine.EvolveCategory(CategoryContext, memories)
	require.NoError(t, err)
	assert.Equal(t, []string{"dead"}, result.Deleted)
	assert.Equal(t, []string{"dormant"}, result.Archived)
	assert.Equal(t, 1, result.After.Memories)
	assert.Equal(t, int64(len("never used")), result.StorageFreedBytes)
	_, assigned := result.Assignments["fresh"]
	assert.True(t, assigned)
	_, gone := result.Assignments["dead"]
	assert.False(t, gone)
}

func TestEvolveCategoryDecayDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TemporalDecayEnabled = false
	engine := newEngineWith(t, cfg)
	now := time.Now()
	memories := []Memory{
		{ID: "dead", Content: "never used", Category: CategoryContext, CreatedAt: now.AddDate(0, 0, -200)},
		{ID: "dormant", Content: "used long ago", Category: CategoryContext, CreatedAt: now.AddDate(0, 0, -300),
			LastUsedAt: now.AddDate(0, 0, -100), UsageCount: 3},
		{ID: "fresh", Content: "seen yesterday", Category: CategoryContext, CreatedAt: now.AddDate(0, 0, -1)},
	}

	result, err := engine.EvolveCategory(CategoryContext, memories)
	require.NoError(t, err)
	assert.Empty(t, result.Deleted)
	assert.Empty(t, result.Archived)
	assert.Zero(t, result.StorageFreedBytes)
	assert.Equal(t, 3, result.After.Memories)
}

func TestEvolveCategoryDecayDeletesWhenArchivingOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArchiveOption = false
	engine := newEngineWith(t, cfg)
	now := time.Now()
	memories := []Memory{
		{ID: "dormant", Content: "used long ago", Category: CategoryContext, CreatedAt: now.AddDate(0, 0, -300),
			LastUsedAt: now.AddDate(0, 0, -100), UsageCount: 3},
		{ID: "fresh-1", Content: "seen yesterday", Category: CategoryContext, CreatedAt: now.AddDate(0, 0, -1)},
		{ID: "fresh-2", Content: "seen today", Category: CategoryContext, CreatedAt: now},
	}

	result, err := engine.EvolveCategory(CategoryContext, memories)
	require.NoError(t, err)
	assert.Empty(t, result.Archived)
	assert.Equal(t, []string{"dormant"}, result.Deleted)
	assert.Equal(t, int64(len("used long ago")), result.StorageFreedBytes)
}

func TestEvolveCategoryDecayAccessThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecayAccessThreshold = 5
	engine := newEngineWith(t, cfg)
	now := time.Now()
	memories := []Memory{
		{ID: "touched", Content: "old but accessed", Category: CategoryContext, CreatedAt: now.AddDate(0, 0, -400),
			LastUsedAt: now.AddDate(0, 0, -200), UsageCount: 3},
		{ID: "fresh-1", Content: "seen yesterday", Category: CategoryContext, CreatedAt: now.AddDate(0, 0, -1)},
		{ID: "fresh-2", Content: "seen today", Category: CategoryContext, CreatedAt: now},
	}

	// Three accesses is still below the raised threshold, so the idle memory
	// is deleted instead of archived.
	result, err := engine.EvolveCategory(CategoryContext, memories)
	require.NoError(t, err)
	assert.Equal(t, []string{"touched"}, result.Deleted)
	assert.Empty(t, result.Archived)
}

func TestEvolveCategoryTooFewMemories(t *testing.T) {
	engine := newTestEngine(t)
	memories := []Memory{{
		ID:        "m1",
		Content:   "lone linux note",
		Category:  CategoryFacts,
		CreatedAt: time.Now(),
	}}

	result, err := engine.EvolveCategory(CategoryFacts, memories)
	require.NoError(t, err)
	assert.Contains(t, result.Summary, "not enough memories")
	assert.Empty(t, result.Assignments)
	assert.Empty(t, result.Deleted)
	assert.Empty(t, result.Archived)
	assert.Equal(t, result.Before, result.After)

	// Nothing was reorganized.
	assert.Empty(t, engine.Subcategories(CategoryFacts))

	snapshot, ok := engine.Snapshot(result.SnapshotID)
	require.True(t, ok)
	assert.Equal(t, snapshot.Before, snapshot.After)
}

func TestEvolveCategoryFlagsLowSilhouette(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSilhouetteScore = 0.99
	engine := newEngineWith(t, cfg)

	result, err := engine.EvolveCategory(CategoryFacts, clusteredMemories())
	require.NoError(t, err)
	assert.Contains(t, result.Summary, "silhouette below configured minimum")
}

func TestImprovementSummary(t *testing.T) {
	assert.Contains(t, ImprovementSummary(0.25, 1, 0), "significant improvement")
	assert.Contains(t, ImprovementSummary(0.1, 0, 0), "significant improvement")
	assert.Contains(t, ImprovementSummary(0.05, 0, 0), "moderate improvement")
	assert.Contains(t, ImprovementSummary(0, 0, 0), "minor change")
	assert.Contains(t, ImprovementSummary(-0.1, 0, 0), "minor change")
	assert.Contains(t, ImprovementSummary(-0.2, 0, 0), "regression")
	assert.Equal(t, "significant improvement: silhouette +0.25, subcategories +2, 128 bytes freed",
		ImprovementSummary(0.25, 2, 128))
}

func TestEngineSingleton(t *testing.T) {
	t.Cleanup(ResetEngine)
	ResetEngine()
	first := GetEngine()
	assert.Same(t, first, GetEngine())
	ResetEngine()
	assert.NotSame(t, first, GetEngine())
}

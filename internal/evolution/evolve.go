package evolution

import (
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// ClusterStats summarizes a category's organization at one point in time.
type ClusterStats struct {
	Memories      int            `json:"memories"`
	Subcategories int            `json:"subcategories"`
	Distribution  map[string]int `json:"distribution"`
	Silhouette    float64        `json:"silhouette"`
}

// Snapshot is the before/after record of one evolution pass.
type Snapshot struct {
	ID       string       `json:"id"`
	Category Category     `json:"category"`
	TakenAt  time.Time    `json:"taken_at"`
	Before   ClusterStats `json:"before"`
	After    ClusterStats `json:"after"`
}

// Result reports one evolution pass over a category.
type Result struct {
	Category          Category          `json:"category"`
	SnapshotID        string            `json:"snapshot_id"`
	Before            ClusterStats      `json:"before"`
	After             ClusterStats      `json:"after"`
	SilhouetteDelta   float64           `json:"silhouette_delta"`
	Summary           string            `json:"summary"`
	Assignments       map[string]string `json:"assignments"`
	Archived          []string          `json:"archived"`
	Deleted           []string          `json:"deleted"`
	StorageFreedBytes int64             `json:"storage_freed_bytes"`
	DurationMS        int64             `json:"duration_ms"`
}

// EvolveCategory re-clusters a category's memories, replaces its
// subcategories, and decays stale memories. Memories without embeddings
// keep their current subcategory. Input order does not matter; memories are
// re-sorted by id so repeated runs are identical.
func (e *Engine) EvolveCategory(cat Category, memories []Memory) (*Result, error) {
	if _, err := ParseCategory(string(cat)); err != nil {
		return nil, err
	}
	started := e.now()

	result := &Result{
		Category:    cat,
		SnapshotID:  ulid.Make().String(),
		Assignments: map[string]string{},
	}
	result.Before = statsFromCurrent(memories)

	// Too few memories to be worth reorganizing: record the snapshot and
	// leave everything untouched.
	if len(memories) < e.cfg.MemoryCountThreshold {
		result.After = result.Before
		result.Summary = fmt.Sprintf("not enough memories to evolve (%d < %d)", len(memories), e.cfg.MemoryCountThreshold)
		result.DurationMS = e.now().Sub(started).Milliseconds()
		e.storeSnapshot(cat, started, result)
		log.Info().Str("category", string(cat)).Str("snapshot", result.SnapshotID).
			Int("memories", len(memories)).Msg("Evolution skipped, not enough memories")
		return result, nil
	}

	active := e.decay(memories, started, result)

	var clusterable []Memory
	for _, m := range active {
		if len(m.Embedding) > 0 {
			clusterable = append(clusterable, m)
		} else {
			result.Assignments[m.ID] = orDefault(m.Subcategory, e.cfg.DefaultSubcategory)
		}
	}
	sort.Slice(clusterable, func(i, j int) bool { return clusterable[i].ID < clusterable[j].ID })

	subs, labels := e.cluster(cat, clusterable)
	e.registry.replace(cat, subs)

	vectors := make([][]float32, len(clusterable))
	for i, m := range clusterable {
		vectors[i] = m.Embedding
		result.Assignments[m.ID] = subs[labels[i]].Name
	}

	result.After = ClusterStats{
		Memories:      len(active),
		Subcategories: len(subs),
		Distribution:  map[string]int{},
		Silhouette:    silhouette(vectors, labels),
	}
	for _, name := range result.Assignments {
		result.After.Distribution[name]++
	}

	result.SilhouetteDelta = result.After.Silhouette - result.Before.Silhouette
	result.Summary = ImprovementSummary(result.SilhouetteDelta,
		result.After.Subcategories-result.Before.Subcategories, result.StorageFreedBytes)
	if len(clusterable) > 0 && result.After.Silhouette < e.cfg.MinSilhouetteScore {
		result.Summary += "; silhouette below configured minimum"
	}
	result.DurationMS = e.now().Sub(started).Milliseconds()

	e.storeSnapshot(cat, started, result)

	log.Info().Str("category", string(cat)).Str("snapshot", result.SnapshotID).
		Int("subcategories", len(subs)).Float64("silhouette", result.After.Silhouette).
		Str("summary", result.Summary).Msg("Category evolved")
	return result, nil
}

func (e *Engine) storeSnapshot(cat Category, takenAt time.Time, result *Result) {
	snapshot := &Snapshot{
		ID:       result.SnapshotID,
		Category: cat,
		TakenAt:  takenAt,
		Before:   result.Before,
		After:    result.After,
	}
	e.mu.Lock()
	e.snapshots[snapshot.ID] = snapshot
	e.mu.Unlock()
}

// decay partitions memories: rarely accessed ones past the delete window are
// deleted, anything idle past the archive window is archived (or deleted when
// archiving is off), the rest stay active. Bytes freed by deletions are
// tallied on the result.
func (e *Engine) decay(memories []Memory, now time.Time, result *Result) []Memory {
	if !e.cfg.TemporalDecayEnabled {
		return memories
	}
	archiveCutoff := now.AddDate(0, 0, -e.cfg.ArchiveAfterDays)
	deleteCutoff := now.AddDate(0, 0, -e.cfg.DeleteAfterDays)

	var active []Memory
	for _, m := range memories {
		lastTouch := m.LastUsedAt
		if lastTouch.IsZero() {
			lastTouch = m.CreatedAt
		}
		switch {
		case !lastTouch.IsZero() && lastTouch.Before(deleteCutoff) && m.UsageCount < e.cfg.DecayAccessThreshold:
			result.Deleted = append(result.Deleted, m.ID)
			result.StorageFreedBytes += int64(len(m.Content))
		case !lastTouch.IsZero() && lastTouch.Before(archiveCutoff):
			if e.cfg.ArchiveOption {
				result.Archived = append(result.Archived, m.ID)
			} else {
				result.Deleted = append(result.Deleted, m.ID)
				result.StorageFreedBytes += int64(len(m.Content))
			}
		default:
			active = append(active, m)
		}
	}
	sort.Strings(result.Deleted)
	sort.Strings(result.Archived)
	return active
}

// cluster runs k-means over the memories and derives named subcategories.
func (e *Engine) cluster(cat Category, memories []Memory) ([]*Subcategory, []int) {
	n := len(memories)
	if n == 0 {
		return nil, nil
	}
	k := n / e.cfg.MinClusterSize
	if k < 1 {
		k = 1
	}
	if k > e.cfg.MaxClusters {
		k = e.cfg.MaxClusters
	}

	vectors := make([][]float32, n)
	for i, m := range memories {
		vectors[i] = m.Embedding
	}
	labels := kmeans(vectors, k, e.cfg.MaxIterations)

	members := map[int][]int{}
	for i, l := range labels {
		members[l] = append(members[l], i)
	}

	// Empty clusters vanish; surviving ones are renumbered in label order so
	// labels index into the returned slice.
	orderedLabels := make([]int, 0, len(members))
	for l := range members {
		orderedLabels = append(orderedLabels, l)
	}
	sort.Ints(orderedLabels)
	remap := map[int]int{}
	for newIdx, l := range orderedLabels {
		remap[l] = newIdx
	}
	for i := range labels {
		labels[i] = remap[labels[i]]
	}

	subs := make([]*Subcategory, len(orderedLabels))
	usedNames := map[string]bool{}
	for newIdx, l := range orderedLabels {
		idx := members[l]
		dim := len(vectors[idx[0]])
		centroid := make([]float32, dim)
		sums := make([]float64, dim)
		for _, i := range idx {
			for d, v := range vectors[i] {
				sums[d] += float64(v)
			}
		}
		for d := range centroid {
			centroid[d] = float32(sums[d] / float64(len(idx)))
		}

		confidence := 0.0
		for _, i := range idx {
			confidence += cosine32(vectors[i], centroid)
		}
		confidence /= float64(len(idx))

		keywords := topKeywords(memories, idx, 5)
		name := e.cfg.DefaultSubcategory
		if len(keywords) > 0 {
			name = keywords[0]
		}
		if usedNames[name] {
			name = fmt.Sprintf("%s-%d", name, newIdx)
		}
		usedNames[name] = true

		subs[newIdx] = &Subcategory{
			Name:       name,
			Category:   cat,
			Centroid:   centroid,
			Keywords:   keywords,
			Count:      len(idx),
			Confidence: confidence,
		}
	}
	return subs, labels
}

// topKeywords returns the cluster's most frequent tokens, ties broken
// alphabetically.
func topKeywords(memories []Memory, idx []int, limit int) []string {
	freq := map[string]int{}
	for _, i := range idx {
		for _, tok := range tokenize(memories[i].Content) {
			freq[tok]++
		}
	}
	tokens := make([]string, 0, len(freq))
	for tok := range freq {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if freq[tokens[i]] != freq[tokens[j]] {
			return freq[tokens[i]] > freq[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens
}

// statsFromCurrent summarizes the memories under their existing
// subcategory labels.
func statsFromCurrent(memories []Memory) ClusterStats {
	stats := ClusterStats{Memories: len(memories), Distribution: map[string]int{}}
	labelIdx := map[string]int{}
	var vectors [][]float32
	var labels []int
	for _, m := range memories {
		name := orDefault(m.Subcategory, "unassigned")
		stats.Distribution[name]++
		if len(m.Embedding) > 0 {
			if _, ok := labelIdx[name]; !ok {
				labelIdx[name] = len(labelIdx)
			}
			vectors = append(vectors, m.Embedding)
			labels = append(labels, labelIdx[name])
		}
	}
	stats.Subcategories = len(stats.Distribution)
	stats.Silhouette = silhouette(vectors, labels)
	return stats
}

// ImprovementSummary translates the silhouette delta, subcategory-count
// delta and bytes freed into a one-line verdict.
func ImprovementSummary(silhouetteDelta float64, subcategoryDelta int, storageFreed int64) string {
	var verdict string
	switch {
	case silhouetteDelta >= 0.1:
		verdict = "significant improvement"
	case silhouetteDelta > 0:
		verdict = "moderate improvement"
	case silhouetteDelta >= -0.1:
		verdict = "minor change"
	default:
		verdict = "regression"
	}
	return fmt.Sprintf("%s: silhouette %+.2f, subcategories %+d, %d bytes freed",
		verdict, silhouetteDelta, subcategoryDelta, storageFreed)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

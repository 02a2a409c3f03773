package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/sessionbuddy/sessionbuddy/internal/fingerprint"
)

// ContentType selects which memory population a dedup operation works on.
type ContentType string

const (
	ContentConversations ContentType = "conversation"
	ContentReflections   ContentType = "reflection"
	ContentInsights      ContentType = "insight"
)

// DuplicateHit is a stored item whose fingerprint clears the similarity
// threshold against the probe.
type DuplicateHit struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	CreatedAt  string  `json:"created_at"`
}

// DedupStats summarizes fingerprint coverage and duplicate pressure for one
// content type.
type DedupStats struct {
	ContentType      ContentType `json:"content_type"`
	TotalItems       int         `json:"total_items"`
	Fingerprinted    int         `json:"fingerprinted"`
	DuplicateGroups  int         `json:"duplicate_groups"`
	DuplicateItems   int         `json:"duplicate_items"`
	ThresholdApplied float64     `json:"threshold"`
}

// DedupResult reports a deduplication pass.
type DedupResult struct {
	ContentType ContentType `json:"content_type"`
	DryRun      bool        `json:"dry_run"`
	GroupsFound int         `json:"groups_found"`
	Removed     []string    `json:"removed"`
}

type fingerprintedRow struct {
	id        string
	content   string
	createdAt string
	sig       fingerprint.Signature
}

// loadFingerprints reads every fingerprinted row of a content type.
// Caller must hold the store mutex.
func (s *Store) loadFingerprints(ctx context.Context, contentType ContentType) ([]fingerprintedRow, int, error) {
	var query string
	switch contentType {
	case ContentConversations:
		query = fmt.Sprintf(`SELECT id, content, created_at, fingerprint FROM %s`, s.conversationsTable())
	case ContentReflections:
		query = fmt.Sprintf(`SELECT id, content, created_at, fingerprint FROM %s WHERE insight_type IS NULL`, s.reflectionsTable())
	case ContentInsights:
		query = fmt.Sprintf(`SELECT id, content, created_at, fingerprint FROM %s WHERE insight_type IS NOT NULL`, s.reflectionsTable())
	default:
		return nil, 0, fmt.Errorf("unknown content type %q", contentType)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("load fingerprints: %w", err)
	}
	defer rows.Close()

	var out []fingerprintedRow
	total := 0
	for rows.Next() {
		var row fingerprintedRow
		var raw []byte
		if err := rows.Scan(&row.id, &row.content, &row.createdAt, &raw); err != nil {
			return nil, 0, fmt.Errorf("load fingerprints: %w", err)
		}
		total++
		sig, err := fingerprint.FromBytes(raw)
		if err != nil {
			// Rows without a usable fingerprint are skipped, not fatal.
			continue
		}
		row.sig = sig
		out = append(out, row)
	}
	return out, total, rows.Err()
}

// FindDuplicates returns stored items of the same content type whose
// fingerprint similarity with the identified item is at least threshold,
// ordered by similarity descending. The probe item itself is excluded.
func (s *Store) FindDuplicates(ctx context.Context, id string, contentType ContentType, threshold float64) ([]DuplicateHit, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	all, _, err := s.loadFingerprints(ctx, contentType)
	if err != nil {
		return nil, err
	}
	var probe *fingerprintedRow
	for i := range all {
		if all[i].id == id {
			probe = &all[i]
			break
		}
	}
	if probe == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, contentType, id)
	}
	return rankDuplicates(probe.sig, all, probe.id, threshold), nil
}

// SearchByFingerprint fingerprints the query text and returns items whose
// similarity clears the threshold, ordered by similarity descending.
func (s *Store) SearchByFingerprint(ctx context.Context, query string, contentType ContentType, threshold float64, limit int) ([]DuplicateHit, error) {
	if limit <= 0 {
		limit = 10
	}
	sig := fingerprint.New(query)

	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	all, _, err := s.loadFingerprints(ctx, contentType)
	if err != nil {
		return nil, err
	}
	hits := rankDuplicates(sig, all, "", threshold)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func rankDuplicates(probe fingerprint.Signature, all []fingerprintedRow, excludeID string, threshold float64) []DuplicateHit {
	hits := make([]DuplicateHit, 0)
	for _, row := range all {
		if row.id == excludeID {
			continue
		}
		sim := fingerprint.Jaccard(probe, row.sig)
		if sim < threshold {
			continue
		}
		hits = append(hits, DuplicateHit{ID: row.id, Content: row.content, Similarity: sim, CreatedAt: row.createdAt})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits
}

// GetDedupStats computes database-wide deduplication statistics for one
// content type at the given threshold.
func (s *Store) GetDedupStats(ctx context.Context, contentType ContentType, threshold float64) (*DedupStats, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	all, total, err := s.loadFingerprints(ctx, contentType)
	if err != nil {
		return nil, err
	}

	groups := duplicateGroups(all, threshold)
	duplicateItems := 0
	for _, group := range groups {
		duplicateItems += len(group) - 1
	}
	return &DedupStats{
		ContentType:      contentType,
		TotalItems:       total,
		Fingerprinted:    len(all),
		DuplicateGroups:  len(groups),
		DuplicateItems:   duplicateItems,
		ThresholdApplied: threshold,
	}, nil
}

// Deduplicate removes all but the earliest-created member of every duplicate
// group. With dryRun the removal list is computed but nothing is deleted.
func (s *Store) Deduplicate(ctx context.Context, contentType ContentType, threshold float64, dryRun bool) (*DedupResult, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	all, _, err := s.loadFingerprints(ctx, contentType)
	if err != nil {
		return nil, err
	}

	groups := duplicateGroups(all, threshold)
	result := &DedupResult{ContentType: contentType, DryRun: dryRun, GroupsFound: len(groups)}
	for _, group := range groups {
		// Keep the earliest row; created_at strings are RFC 3339 and sort
		// lexicographically.
		sort.Slice(group, func(i, j int) bool { return group[i].createdAt < group[j].createdAt })
		for _, row := range group[1:] {
			result.Removed = append(result.Removed, row.id)
		}
	}

	if dryRun || len(result.Removed) == 0 {
		return result, nil
	}

	table := s.reflectionsTable()
	if contentType == ContentConversations {
		table = s.conversationsTable()
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)
	for _, id := range result.Removed {
		if _, err := s.db.ExecContext(ctx, stmt, id); err != nil {
			return nil, fmt.Errorf("deduplicate: delete %s: %w", id, err)
		}
	}
	return result, nil
}

// duplicateGroups partitions rows into groups of mutual similarity using
// single-linkage over pairs that clear the threshold.
func duplicateGroups(all []fingerprintedRow, threshold float64) [][]fingerprintedRow {
	n := len(all)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if fingerprint.Jaccard(all[i].sig, all[j].sig) >= threshold {
				union(i, j)
			}
		}
	}

	byRoot := map[int][]fingerprintedRow{}
	for i := range all {
		root := find(i)
		byRoot[root] = append(byRoot[root], all[i])
	}
	var groups [][]fingerprintedRow
	for _, members := range byRoot {
		if len(members) > 1 {
			groups = append(groups, members)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0].id < groups[j][0].id })
	return groups
}

// Package evolution reorganizes memories within their categories. It
// assigns incoming memories to subcategories and periodically re-clusters a
// whole category, scoring the result and decaying stale memories.
package evolution

import (
	"errors"
	"fmt"
	"time"
)

// Category is one of the five fixed memory categories.
type Category string

const (
	CategoryFacts       Category = "facts"
	CategoryPreferences Category = "preferences"
	CategorySkills      Category = "skills"
	CategoryRules       Category = "rules"
	CategoryContext     Category = "context"
)

// Categories lists every valid category in canonical order.
var Categories = []Category{CategoryFacts, CategoryPreferences, CategorySkills, CategoryRules, CategoryContext}

// ErrUnknownCategory rejects a category outside the fixed set.
var ErrUnknownCategory = errors.New("unknown category")

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if Category(s) == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Memory is the slice of a stored memory the engine works with.
type Memory struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Category    Category  `json:"category"`
	Subcategory string    `json:"subcategory,omitempty"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at,omitempty"`
	UsageCount  int       `json:"usage_count"`
}

// Config tunes clustering and decay.
type Config struct {
	MaxClusters             int     `yaml:"max_clusters" json:"max_clusters"`
	MinClusterSize          int     `yaml:"min_cluster_size" json:"min_cluster_size"`
	MaxIterations           int     `yaml:"max_iterations" json:"max_iterations"`
	SimilarityThreshold     float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	KeywordOverlapThreshold float64 `yaml:"keyword_overlap_threshold" json:"keyword_overlap_threshold"`
	// FingerprintThreshold is the Jaccard similarity at which a new memory is
	// treated as a near-duplicate of an existing subcategory member.
	FingerprintThreshold float64 `yaml:"fingerprint_threshold" json:"fingerprint_threshold"`
	// MinSilhouetteScore flags evolution passes whose cluster quality falls
	// below it.
	MinSilhouetteScore float64 `yaml:"min_silhouette_score" json:"min_silhouette_score"`
	// MemoryCountThreshold is the minimum population worth re-clustering.
	MemoryCountThreshold int    `yaml:"memory_count_threshold" json:"memory_count_threshold"`
	DefaultSubcategory   string `yaml:"default_subcategory" json:"default_subcategory"`

	TemporalDecayEnabled bool `yaml:"temporal_decay_enabled" json:"temporal_decay_enabled"`
	// DecayAccessThreshold is the usage count below which an idle memory is
	// eligible for deletion.
	DecayAccessThreshold int `yaml:"decay_access_threshold" json:"decay_access_threshold"`
	// ArchiveOption archives decayed memories instead of deleting them.
	ArchiveOption    bool `yaml:"archive_option" json:"archive_option"`
	ArchiveAfterDays int  `yaml:"archive_after_days" json:"archive_after_days"`
	DeleteAfterDays  int  `yaml:"delete_after_days" json:"delete_after_days"`
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		MaxClusters:             8,
		MinClusterSize:          3,
		MaxIterations:           25,
		SimilarityThreshold:     0.75,
		KeywordOverlapThreshold: 0.3,
		FingerprintThreshold:    0.8,
		MinSilhouetteScore:      0.25,
		MemoryCountThreshold:    3,
		DefaultSubcategory:      "general",
		TemporalDecayEnabled:    true,
		DecayAccessThreshold:    1,
		ArchiveOption:           true,
		ArchiveAfterDays:        90,
		DeleteAfterDays:         180,
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.MaxClusters < 1 || c.MaxClusters > 64 {
		return fmt.Errorf("max_clusters must be in [1,64], got %d", c.MaxClusters)
	}
	if c.MinClusterSize < 1 {
		return fmt.Errorf("min_cluster_size must be positive, got %d", c.MinClusterSize)
	}
	if c.MinClusterSize > c.MaxClusters {
		return fmt.Errorf("min_cluster_size %d exceeds max_clusters %d", c.MinClusterSize, c.MaxClusters)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1], got %g", c.SimilarityThreshold)
	}
	if c.KeywordOverlapThreshold < 0 || c.KeywordOverlapThreshold > 1 {
		return fmt.Errorf("keyword_overlap_threshold must be in [0,1], got %g", c.KeywordOverlapThreshold)
	}
	if c.FingerprintThreshold < 0 || c.FingerprintThreshold > 1 {
		return fmt.Errorf("fingerprint_threshold must be in [0,1], got %g", c.FingerprintThreshold)
	}
	if c.MinSilhouetteScore < -1 || c.MinSilhouetteScore > 1 {
		return fmt.Errorf("min_silhouette_score must be in [-1,1], got %g", c.MinSilhouetteScore)
	}
	if c.MemoryCountThreshold < 1 {
		return fmt.Errorf("memory_count_threshold must be positive, got %d", c.MemoryCountThreshold)
	}
	if c.DecayAccessThreshold < 0 {
		return fmt.Errorf("decay_access_threshold must not be negative, got %d", c.DecayAccessThreshold)
	}
	if c.DefaultSubcategory == "" {
		return errors.New("default_subcategory must not be empty")
	}
	if c.ArchiveAfterDays < 1 || c.DeleteAfterDays < 1 {
		return errors.New("decay windows must be positive")
	}
	if c.DeleteAfterDays < c.ArchiveAfterDays {
		return fmt.Errorf("delete_after_days %d is sooner than archive_after_days %d", c.DeleteAfterDays, c.ArchiveAfterDays)
	}
	return nil
}

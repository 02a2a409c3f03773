package mcptools

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sessionbuddy/sessionbuddy/internal/evolution"
	"github.com/sessionbuddy/sessionbuddy/internal/memory"
)

// FindDuplicatesInput is the input schema for the find_duplicates tool.
type FindDuplicatesInput struct {
	ID          string  `json:"id"                   jsonschema:"id of the probe item"`
	ContentType string  `json:"content_type"         jsonschema:"conversation, reflection or insight"`
	Threshold   float64 `json:"threshold,omitempty"  jsonschema:"similarity threshold in [0,1] (default 0.8)"`
}

// DeduplicateInput is the input schema for the deduplicate_memories tool.
type DeduplicateInput struct {
	ContentType string  `json:"content_type"        jsonschema:"conversation, reflection or insight"`
	Threshold   float64 `json:"threshold,omitempty" jsonschema:"similarity threshold in [0,1] (default 0.8)"`
	DryRun      bool    `json:"dry_run,omitempty"   jsonschema:"report removals without deleting"`
}

// DelegateTaskInput is the input schema for the delegate_task tool.
type DelegateTaskInput struct {
	Prompt  string         `json:"prompt"            jsonschema:"task prompt to execute"`
	Context map[string]any `json:"context,omitempty" jsonschema:"optional task context"`
}

// PoolHealthInput is the input schema for the pool_health tool.
type PoolHealthInput struct{}

// SyncMemoriesInput is the input schema for the sync_memories tool.
type SyncMemoriesInput struct{}

// EvolveCategoryInput is the input schema for the evolve_category tool.
type EvolveCategoryInput struct {
	Category string `json:"category" jsonschema:"facts, preferences, skills, rules or context"`
}

// defaultDedupThreshold applies when a dedup call omits the threshold.
const defaultDedupThreshold = 0.8

func parseContentType(s string) (memory.ContentType, error) {
	switch memory.ContentType(s) {
	case memory.ContentConversations, memory.ContentReflections, memory.ContentInsights:
		return memory.ContentType(s), nil
	default:
		return "", errors.New("content_type must be conversation, reflection or insight")
	}
}

func (s *Server) handleFindDuplicates(ctx context.Context, _ *mcpsdk.CallToolRequest, in FindDuplicatesInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if in.ID == "" {
		return errorResult(errors.New("id is required and must not be empty"))
	}
	contentType, err := parseContentType(in.ContentType)
	if err != nil {
		return errorResult(err)
	}
	threshold := in.Threshold
	if threshold == 0 {
		threshold = defaultDedupThreshold
	}
	hits, err := s.deps.Store.FindDuplicates(ctx, in.ID, contentType, threshold)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(hits)
}

func (s *Server) handleDeduplicate(ctx context.Context, _ *mcpsdk.CallToolRequest, in DeduplicateInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	contentType, err := parseContentType(in.ContentType)
	if err != nil {
		return errorResult(err)
	}
	threshold := in.Threshold
	if threshold == 0 {
		threshold = defaultDedupThreshold
	}
	result, err := s.deps.Store.Deduplicate(ctx, contentType, threshold, in.DryRun)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(result)
}

func (s *Server) handleDelegateTask(ctx context.Context, _ *mcpsdk.CallToolRequest, in DelegateTaskInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if in.Prompt == "" {
		return errorResult(errors.New("prompt is required and must not be empty"))
	}
	poolID, result, err := s.deps.Coordinator.DelegateTask(ctx, in.Prompt, in.Context)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"pool_id": poolID, "result": result})
}

func (s *Server) handlePoolHealth(_ context.Context, _ *mcpsdk.CallToolRequest, _ PoolHealthInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if s.deps.Pools == nil {
		return errorResult(errors.New("worker pools are not configured"))
	}
	return jsonResult(s.deps.Pools.HealthCheck())
}

func (s *Server) handleSyncMemories(ctx context.Context, _ *mcpsdk.CallToolRequest, _ SyncMemoriesInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	result, err := s.deps.Coordinator.SyncNow(ctx)
	if err != nil {
		return errorResult(err)
	}
	if !result.Synced {
		return errorResult(errors.New("sync is disabled; enable akosha sync in the configuration"))
	}
	return jsonResult(result.Sync)
}

// handleEvolveCategory feeds the category's insights to the evolution
// engine. Insights carry no embeddings here, so clustering degrades to the
// keyword stages; the decay pass still applies.
func (s *Server) handleEvolveCategory(ctx context.Context, _ *mcpsdk.CallToolRequest, in EvolveCategoryInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	category, err := evolution.ParseCategory(in.Category)
	if err != nil {
		return errorResult(err)
	}

	hits, err := s.deps.Store.SearchInsights(ctx, "*", memory.InsightSearchOpts{Limit: 10000})
	if err != nil {
		return errorResult(err)
	}
	var memories []evolution.Memory
	for _, hit := range hits {
		if evolution.DetectCategory(hit.Content) != category {
			continue
		}
		mem := evolution.Memory{
			ID:         hit.ID,
			Content:    hit.Content,
			Category:   category,
			UsageCount: hit.UsageCount,
		}
		if t, err := time.Parse(time.RFC3339Nano, hit.CreatedAt); err == nil {
			mem.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, hit.LastUsedAt); err == nil {
			mem.LastUsedAt = t
		}
		memories = append(memories, mem)
	}

	result, err := s.deps.Engine.EvolveCategory(category, memories)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(result)
}

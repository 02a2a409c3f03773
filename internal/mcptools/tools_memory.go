package mcptools

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sessionbuddy/sessionbuddy/internal/memory"
)

// StoreConversationInput is the input schema for the store_conversation
// tool.
type StoreConversationInput struct {
	Content  string         `json:"content"            jsonschema:"conversation content to store"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"optional metadata such as project"`
}

// SearchConversationsInput is the input schema for the
// search_conversations tool.
type SearchConversationsInput struct {
	Query     string   `json:"query"               jsonschema:"search query"`
	Limit     int      `json:"limit,omitempty"     jsonschema:"maximum results (default 10)"`
	Threshold float64  `json:"threshold,omitempty" jsonschema:"minimum semantic similarity in [0,1]"`
	MinScore  *float64 `json:"min_score,omitempty" jsonschema:"overrides threshold when set"`
	Project   string   `json:"project,omitempty"   jsonschema:"restrict to one project"`
}

// StoreReflectionInput is the input schema for the store_reflection tool.
type StoreReflectionInput struct {
	Content string   `json:"content"        jsonschema:"reflection content to store"`
	Tags    []string `json:"tags,omitempty" jsonschema:"optional tags"`
}

// SearchReflectionsInput is the input schema for the search_reflections
// tool.
type SearchReflectionsInput struct {
	Query         string `json:"query"                    jsonschema:"search query, matches content and tags"`
	Limit         int    `json:"limit,omitempty"          jsonschema:"maximum results (default 10)"`
	UseEmbeddings bool   `json:"use_embeddings,omitempty" jsonschema:"use semantic search when embeddings are available"`
}

// StoreInsightInput is the input schema for the store_insight tool.
type StoreInsightInput struct {
	Content         string   `json:"content"                    jsonschema:"insight content to store"`
	InsightType     string   `json:"insight_type"               jsonschema:"insight type, e.g. fact or preference"`
	Topics          []string `json:"topics,omitempty"           jsonschema:"optional topic tags"`
	Projects        []string `json:"projects,omitempty"         jsonschema:"optional project tags"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty" jsonschema:"confidence in [0,1] (default 0.5)"`
	QualityScore    *float64 `json:"quality_score,omitempty"    jsonschema:"quality in [0,1] (default 0.5)"`
}

// SearchInsightsInput is the input schema for the search_insights tool.
type SearchInsightsInput struct {
	Query           string  `json:"query"                       jsonschema:"search query, or * to list everything"`
	Limit           int     `json:"limit,omitempty"             jsonschema:"maximum results (default 10)"`
	MinQualityScore float64 `json:"min_quality_score,omitempty" jsonschema:"minimum quality in [0,1]"`
}

// UpdateInsightUsageInput is the input schema for the update_insight_usage
// tool.
type UpdateInsightUsageInput struct {
	ID string `json:"id" jsonschema:"insight id"`
}

// StatsInput is the input schema for the memory_stats tool.
type StatsInput struct{}

func (s *Server) handleStoreConversation(ctx context.Context, _ *mcpsdk.CallToolRequest, in StoreConversationInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateContent(in.Content); err != nil {
		return errorResult(err)
	}
	id, err := s.deps.Store.StoreConversation(ctx, in.Content, in.Metadata)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"id": id})
}

func (s *Server) handleSearchConversations(ctx context.Context, _ *mcpsdk.CallToolRequest, in SearchConversationsInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if in.Query == "" {
		return errorResult(ErrEmptyQuery)
	}
	hits, err := s.deps.Store.SearchConversations(ctx, in.Query, memory.SearchOpts{
		Limit:     in.Limit,
		Threshold: in.Threshold,
		MinScore:  in.MinScore,
		Project:   in.Project,
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(hits)
}

func (s *Server) handleStoreReflection(ctx context.Context, _ *mcpsdk.CallToolRequest, in StoreReflectionInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateContent(in.Content); err != nil {
		return errorResult(err)
	}
	id, err := s.deps.Store.StoreReflection(ctx, in.Content, in.Tags)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"id": id})
}

func (s *Server) handleSearchReflections(ctx context.Context, _ *mcpsdk.CallToolRequest, in SearchReflectionsInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if in.Query == "" {
		return errorResult(ErrEmptyQuery)
	}
	hits, err := s.deps.Store.SearchReflections(ctx, in.Query, in.Limit, in.UseEmbeddings)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(hits)
}

func (s *Server) handleStoreInsight(ctx context.Context, _ *mcpsdk.CallToolRequest, in StoreInsightInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if err := validateContent(in.Content); err != nil {
		return errorResult(err)
	}
	opts := memory.DefaultInsightOpts()
	opts.Topics = in.Topics
	opts.Projects = in.Projects
	if in.ConfidenceScore != nil {
		opts.ConfidenceScore = *in.ConfidenceScore
	}
	if in.QualityScore != nil {
		opts.QualityScore = *in.QualityScore
	}
	id, err := s.deps.Store.StoreInsight(ctx, in.Content, in.InsightType, opts)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"id": id})
}

func (s *Server) handleSearchInsights(ctx context.Context, _ *mcpsdk.CallToolRequest, in SearchInsightsInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	hits, err := s.deps.Store.SearchInsights(ctx, in.Query, memory.InsightSearchOpts{
		Limit:           in.Limit,
		MinQualityScore: in.MinQualityScore,
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(hits)
}

func (s *Server) handleUpdateInsightUsage(ctx context.Context, _ *mcpsdk.CallToolRequest, in UpdateInsightUsageInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if in.ID == "" {
		return errorResult(errors.New("id is required and must not be empty"))
	}
	updated, err := s.deps.Store.UpdateInsightUsage(ctx, in.ID)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"updated": updated})
}

func (s *Server) handleStats(ctx context.Context, _ *mcpsdk.CallToolRequest, _ StatsInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	stats, err := s.deps.Store.GetStats(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(stats)
}

// Package mcptools exposes session-buddy operations as MCP tools over
// stdio. Handlers stay thin: validate input, call the core packages, map
// failures onto tool errors.
package mcptools

import (
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool name constants.
const (
	ToolInitSession        = "init_session"
	ToolCheckpoint         = "create_checkpoint"
	ToolEndSession         = "end_session"
	ToolStoreConversation  = "store_conversation"
	ToolSearchConversation = "search_conversations"
	ToolStoreReflection    = "store_reflection"
	ToolSearchReflections  = "search_reflections"
	ToolStoreInsight       = "store_insight"
	ToolSearchInsights     = "search_insights"
	ToolUpdateInsightUsage = "update_insight_usage"
	ToolFindDuplicates     = "find_duplicates"
	ToolDeduplicate        = "deduplicate_memories"
	ToolDelegateTask       = "delegate_task"
	ToolPoolHealth         = "pool_health"
	ToolSyncMemories       = "sync_memories"
	ToolEvolveCategory     = "evolve_category"
	ToolStats              = "memory_stats"
)

// MaxContentBytes caps inline content accepted from a tool call (1 MB).
const MaxContentBytes = 1 << 20

var (
	ErrEmptyContent    = errors.New("content is required and must not be empty")
	ErrEmptyQuery      = errors.New("query is required and must not be empty")
	ErrEmptyDir        = errors.New("dir is required and must not be empty")
	ErrContentTooLarge = errors.New("content exceeds maximum size")
)

// ToolOutput is the structured output wrapper shared by every tool.
type ToolOutput struct {
	Data any `json:"data"`
}

// errorResult reports a handler failure to the client without tearing the
// session down.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult renders a successful result as pretty JSON text plus
// structured output.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, ToolOutput{Data: value}, nil
}

func validateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrContentTooLarge, len(content), MaxContentBytes)
	}
	return nil
}

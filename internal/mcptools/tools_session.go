package mcptools

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// InitSessionInput is the input schema for the init_session tool.
type InitSessionInput struct {
	Dir string `json:"dir" jsonschema:"absolute path of the working directory"`
}

// CheckpointInput is the input schema for the create_checkpoint tool.
type CheckpointInput struct {
	Dir          string `json:"dir"           jsonschema:"absolute path of the repository"`
	Project      string `json:"project"       jsonschema:"project name recorded in the commit message"`
	QualityScore int    `json:"quality_score" jsonschema:"session quality score from 0 to 100"`
}

// EndSessionInput is the input schema for the end_session tool.
type EndSessionInput struct{}

func (s *Server) handleInitSession(ctx context.Context, _ *mcpsdk.CallToolRequest, in InitSessionInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if in.Dir == "" {
		return errorResult(ErrEmptyDir)
	}
	info, err := s.deps.Coordinator.InitSession(ctx, in.Dir)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(info)
}

func (s *Server) handleCheckpoint(ctx context.Context, _ *mcpsdk.CallToolRequest, in CheckpointInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if in.Dir == "" {
		return errorResult(ErrEmptyDir)
	}
	if in.Project == "" {
		return errorResult(errors.New("project is required and must not be empty"))
	}
	outcome, err := s.deps.Coordinator.Checkpoint(ctx, in.Dir, in.Project, in.QualityScore)
	if err != nil {
		// Includes the untracked-only refusal: an expected outcome, reported
		// as a tool error rather than a protocol failure.
		return errorResult(err)
	}
	return jsonResult(outcome)
}

func (s *Server) handleEndSession(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EndSessionInput) (*mcpsdk.CallToolResult, ToolOutput, error) {
	result, err := s.deps.Coordinator.EndSession(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(result)
}

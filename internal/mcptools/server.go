package mcptools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sessionbuddy/sessionbuddy/internal/evolution"
	"github.com/sessionbuddy/sessionbuddy/internal/memory"
	"github.com/sessionbuddy/sessionbuddy/internal/session"
	"github.com/sessionbuddy/sessionbuddy/internal/workerpool"
)

const (
	serverName    = "session-buddy"
	serverVersion = "1.0.0"
)

// Deps holds the core subsystems the tools forward to.
type Deps struct {
	Store       *memory.Store
	Coordinator *session.Coordinator
	Pools       *workerpool.Manager
	Engine      *evolution.Engine
}

// Server wraps the MCP SDK server with the session-buddy tool set.
type Server struct {
	inner *mcpsdk.Server
	deps  Deps

	mu    sync.RWMutex
	tools []string
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(deps Deps) *Server {
	inner := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	s := &Server{inner: inner, deps: deps}
	s.registerTools()
	return s
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)
	return names
}

// Run serves on stdio until the context is cancelled or the client hangs
// up.
func (s *Server) Run(ctx context.Context) error {
	if err := s.inner.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// RunWithTransport serves on an arbitrary transport, used by tests.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	if err := s.inner.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func register[Input any](s *Server, name, description string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error)) {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{Name: name, Description: description}, handler)
	s.mu.Lock()
	s.tools = append(s.tools, name)
	s.mu.Unlock()
}

func (s *Server) registerTools() {
	register(s, ToolInitSession,
		"Initialize a session for a working directory: validates the path and reports git and memory state.",
		s.handleInitSession)
	register(s, ToolCheckpoint,
		"Create a checkpoint commit for the session: commits tracked changes with a structured message and records a reflection.",
		s.handleCheckpoint)
	register(s, ToolEndSession,
		"End the session, optionally syncing memories to the configured backend.",
		s.handleEndSession)
	register(s, ToolStoreConversation,
		"Store a conversation; content is deduplicated by hash so re-storing updates in place.",
		s.handleStoreConversation)
	register(s, ToolSearchConversation,
		"Search stored conversations semantically, falling back to text matching without embeddings.",
		s.handleSearchConversations)
	register(s, ToolStoreReflection,
		"Store a reflection with optional tags.",
		s.handleStoreReflection)
	register(s, ToolSearchReflections,
		"Search reflections by content or tag.",
		s.handleSearchReflections)
	register(s, ToolStoreInsight,
		"Store a typed insight with quality and confidence scores.",
		s.handleStoreInsight)
	register(s, ToolSearchInsights,
		"Search insights; the query '*' lists everything, filterable by quality.",
		s.handleSearchInsights)
	register(s, ToolUpdateInsightUsage,
		"Record one usage of an insight, bumping its usage counter atomically.",
		s.handleUpdateInsightUsage)
	register(s, ToolFindDuplicates,
		"Find near-duplicate memories of an item by fingerprint similarity.",
		s.handleFindDuplicates)
	register(s, ToolDeduplicate,
		"Remove near-duplicate memories, keeping the earliest of each group; supports dry runs.",
		s.handleDeduplicate)
	register(s, ToolDelegateTask,
		"Delegate a task to the worker pools and wait for its result.",
		s.handleDelegateTask)
	register(s, ToolPoolHealth,
		"Report worker pool health across the pool manager.",
		s.handlePoolHealth)
	register(s, ToolSyncMemories,
		"Sync the memory database and recent insights to the configured backend.",
		s.handleSyncMemories)
	register(s, ToolEvolveCategory,
		"Re-cluster a memory category into subcategories and decay stale memories.",
		s.handleEvolveCategory)
	register(s, ToolStats,
		"Report memory store statistics.",
		s.handleStats)
}

// Package mcp exposes the bot's recorded activity as MCP tools over stdio,
// so an MCP-capable client can inspect transcripts and problems while the
// bot is running elsewhere.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/parlaybot/parlay/internal/daemon"
	"github.com/parlaybot/parlay/internal/store"
)

// Server wraps the parlay data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	pidfile *daemon.PIDFile
	version string
}

// NewServer creates the MCP server wrapper. The pidfile may be nil; the
// status tool then reports only store counters.
func NewServer(s store.Store, pf *daemon.PIDFile, version string) *Server {
	return &Server{
		store:   s,
		pidfile: pf,
		version: version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("parlay", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.statusTool())
	srv.AddTool(s.listRoundsTool())
	srv.AddTool(s.listProblemsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// parlay_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("parlay_status",
		mcp.WithDescription("Get the bot's status: whether the daemon is running, how many conversation rounds are recorded, and the most recent problems."),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	running := false
	pid := 0
	if s.pidfile != nil {
		pid, running = s.pidfile.IsRunning()
	}

	rounds, err := s.store.CountRounds(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count rounds: %v", err)), nil
	}

	problems, err := s.store.ListProblems(ctx, 5)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list problems: %v", err)), nil
	}

	recent := make([]map[string]any, len(problems))
	for i, p := range problems {
		recent[i] = map[string]any{
			"kind":        p.Kind,
			"message":     p.Message,
			"occurred_at": p.OccurredAt.Format(time.RFC3339),
		}
	}

	result := map[string]any{
		"daemon": map[string]any{
			"running": running,
			"pid":     pid,
		},
		"rounds":          rounds,
		"recent_problems": recent,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// parlay_list_rounds
func (s *Server) listRoundsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("parlay_list_rounds",
		mcp.WithDescription("List recorded conversation rounds, newest first. Each round has: partner, player_message, reply, posted (false means the reply was suppressed), and created_at."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of rounds to return (default 20)")),
	)
	return tool, s.handleListRounds
}

func (s *Server) handleListRounds(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)

	rounds, err := s.store.ListRounds(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list rounds: %v", err)), nil
	}

	type roundOut struct {
		ID            string `json:"id"`
		Partner       string `json:"partner"`
		PlayerMessage string `json:"player_message"`
		Reply         string `json:"reply"`
		Posted        bool   `json:"posted"`
		CreatedAt     string `json:"created_at"`
	}

	out := make([]roundOut, len(rounds))
	for i, r := range rounds {
		out[i] = roundOut{
			ID:            r.ID,
			Partner:       r.Partner,
			PlayerMessage: r.PlayerMessage,
			Reply:         r.Reply,
			Posted:        r.Posted,
			CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal rounds: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// parlay_list_problems
func (s *Server) listProblemsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("parlay_list_problems",
		mcp.WithDescription("List problems the bot escalated, newest first. Each problem has: kind (transient/semantic/unexpected), message, and occurred_at."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of problems to return (default 20)")),
	)
	return tool, s.handleListProblems
}

func (s *Server) handleListProblems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)

	problems, err := s.store.ListProblems(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list problems: %v", err)), nil
	}

	type problemOut struct {
		ID         string `json:"id"`
		Kind       string `json:"kind"`
		Message    string `json:"message"`
		OccurredAt string `json:"occurred_at"`
	}

	out := make([]problemOut, len(problems))
	for i, p := range problems {
		out[i] = problemOut{
			ID:         p.ID,
			Kind:       p.Kind,
			Message:    p.Message,
			OccurredAt: p.OccurredAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal problems: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

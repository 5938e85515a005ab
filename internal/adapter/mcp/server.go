// Package mcp exposes read-only director tools over the Model Context
// Protocol so an orchestrating LLM can inspect missions, task readiness,
// and pending self-heal proposals without touching the REST surface.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/MissionControl/internal/domain/graph"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
	"github.com/Strob0t/MissionControl/internal/domain/signal"
)

// MissionReader provides mission lookups for director tools.
type MissionReader interface {
	List(ctx context.Context) ([]mission.Mission, error)
	Get(ctx context.Context, id string) (*mission.Mission, error)
}

// GraphReader provides graph-derived views for director tools.
type GraphReader interface {
	Progress(ctx context.Context, missionID string) (*graph.Progress, error)
	ReadyTasks(ctx context.Context, missionID string) ([]string, error)
}

// ProposalReader provides self-heal proposal listings for director tools.
type ProposalReader interface {
	List(ctx context.Context, missionID string) ([]heal.Proposal, error)
}

// SignalReader provides the watchdog signal history for director resources.
type SignalReader interface {
	Signals() []signal.Signal
}

// ServerConfig holds the MCP server settings. An empty APIKey disables
// authentication.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps are the collaborators the director tools read from. Any nil
// dependency renders its tools as configuration errors instead of panics.
type ServerDeps struct {
	Missions  MissionReader
	Graphs    GraphReader
	Proposals ProposalReader
	Watchdog  SignalReader
}

// Server is the MCP server exposing director tools over streamable HTTP.
type Server struct {
	cfg        ServerConfig
	deps       ServerDeps
	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
}

// NewServer creates an MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server, for in-process testing.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves MCP over streamable HTTP on the configured address. Blocks
// until Stop or a listener error.
func (s *Server) Start() error {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           AuthMiddleware(s.cfg.APIKey, streamable),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("mcp server listening", "addr", s.cfg.Addr, "name", s.cfg.Name, "auth", s.cfg.APIKey != "")
	return s.httpServer.ListenAndServe()
}

// Stop shuts the HTTP listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// toolResultJSON wraps a JSON document as a text tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}

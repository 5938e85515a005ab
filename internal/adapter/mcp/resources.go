package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"missionctl://missions",
			"Mission List",
			mcplib.WithResourceDescription("All missions with their current status"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleMissionsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"missionctl://signals",
			"Watchdog Signals",
			mcplib.WithResourceDescription("Recent anomaly signals emitted by the watchdog"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSignalsResource,
	)
}

func (s *Server) handleMissionsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Missions == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"mission reader not configured"}`,
			},
		}, nil
	}
	missions, err := s.deps.Missions.List(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(missions)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSignalsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Watchdog == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"signal reader not configured"}`,
			},
		}, nil
	}
	data, err := json.Marshal(s.deps.Watchdog.Signals())
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

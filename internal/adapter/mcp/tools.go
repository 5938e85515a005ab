package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listMissionsTool(),
		s.getMissionTool(),
		s.getMissionProgressTool(),
		s.getReadyTasksTool(),
		s.listProposalsTool(),
	)
}

func (s *Server) listMissionsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_missions",
		mcplib.WithDescription("List all missions with their current status"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListMissions,
	}
}

func (s *Server) getMissionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_mission",
		mcplib.WithDescription("Get details of a specific mission by ID"),
		mcplib.WithString("mission_id",
			mcplib.Required(),
			mcplib.Description("The mission ID to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetMission,
	}
}

func (s *Server) getMissionProgressTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_mission_progress",
		mcplib.WithDescription("Get task completion counts and percentage for a mission"),
		mcplib.WithString("mission_id",
			mcplib.Required(),
			mcplib.Description("The mission ID to report on"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetMissionProgress,
	}
}

func (s *Server) getReadyTasksTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_ready_tasks",
		mcplib.WithDescription("List the tasks whose dependencies are satisfied and may run now"),
		mcplib.WithString("mission_id",
			mcplib.Required(),
			mcplib.Description("The mission ID to inspect"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetReadyTasks,
	}
}

func (s *Server) listProposalsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_proposals",
		mcplib.WithDescription("List self-heal proposals, optionally filtered by mission"),
		mcplib.WithString("mission_id",
			mcplib.Description("Limit results to one mission (optional)"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListProposals,
	}
}

func (s *Server) handleListMissions(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Missions == nil {
		return mcplib.NewToolResultError("mission reader not configured"), nil
	}
	missions, err := s.deps.Missions.List(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list missions", err), nil
	}
	data, err := json.Marshal(missions)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal missions", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetMission(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Missions == nil {
		return mcplib.NewToolResultError("mission reader not configured"), nil
	}
	missionID, ok := req.GetArguments()["mission_id"].(string)
	if !ok || missionID == "" {
		return mcplib.NewToolResultError("mission_id is required"), nil
	}
	m, err := s.deps.Missions.Get(ctx, missionID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get mission %s", missionID), err,
		), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal mission", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetMissionProgress(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Graphs == nil {
		return mcplib.NewToolResultError("graph reader not configured"), nil
	}
	missionID, ok := req.GetArguments()["mission_id"].(string)
	if !ok || missionID == "" {
		return mcplib.NewToolResultError("mission_id is required"), nil
	}
	p, err := s.deps.Graphs.Progress(ctx, missionID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to compute progress for mission %s", missionID), err,
		), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal progress", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetReadyTasks(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Graphs == nil {
		return mcplib.NewToolResultError("graph reader not configured"), nil
	}
	missionID, ok := req.GetArguments()["mission_id"].(string)
	if !ok || missionID == "" {
		return mcplib.NewToolResultError("mission_id is required"), nil
	}
	ids, err := s.deps.Graphs.ReadyTasks(ctx, missionID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to list ready tasks for mission %s", missionID), err,
		), nil
	}
	data, err := json.Marshal(map[string][]string{"ready": ids})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal ready tasks", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleListProposals(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Proposals == nil {
		return mcplib.NewToolResultError("proposal reader not configured"), nil
	}
	missionID, _ := req.GetArguments()["mission_id"].(string)
	proposals, err := s.deps.Proposals.List(ctx, missionID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list proposals", err), nil
	}
	data, err := json.Marshal(proposals)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal proposals", err), nil
	}
	return toolResultJSON(string(data)), nil
}

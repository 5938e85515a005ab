package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/port/broadcast"
	"github.com/Strob0t/MissionControl/internal/port/messagequeue"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

// AgentService tracks agent records and consumes heartbeats from the queue.
// Spawning agent processes is outside the engine; only liveness is tracked.
type AgentService struct {
	store statestore.Store
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
}

// NewAgentService creates an AgentService.
func NewAgentService(store statestore.Store, queue messagequeue.Queue, hub broadcast.Broadcaster) *AgentService {
	return &AgentService{store: store, queue: queue, hub: hub}
}

// Start subscribes to the agent heartbeat subject. The returned cancel func
// stops the subscription.
func (s *AgentService) Start(ctx context.Context) (func(), error) {
	return s.queue.Subscribe(ctx, messagequeue.SubjectAgentHeartbeat, func(ctx context.Context, _ string, data []byte) error {
		var payload messagequeue.HeartbeatPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decode heartbeat: %w", err)
		}
		return s.Heartbeat(ctx, payload.AgentID)
	})
}

// List returns all known agents.
func (s *AgentService) List(ctx context.Context) ([]agent.Agent, error) {
	return s.store.ListAgents(ctx)
}

// Get returns one agent.
func (s *AgentService) Get(ctx context.Context, id string) (*agent.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// Register adds a new agent record.
func (s *AgentService) Register(ctx context.Context, a agent.Agent) (*agent.Agent, error) {
	out, err := s.store.RegisterAgent(ctx, a)
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastEvent(ctx, ws.EventAgentStatus, ws.AgentStatusEvent{
		AgentID:   out.ID,
		MissionID: out.MissionID,
		Status:    string(out.Status),
	})
	slog.Info("agent registered", "agent_id", out.ID, "name", out.Name)
	return out, nil
}

// Heartbeat records a liveness report, reviving stale or dead agents.
func (s *AgentService) Heartbeat(ctx context.Context, agentID string) error {
	before, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAgentHeartbeat(ctx, agentID, time.Now().UTC()); err != nil {
		return err
	}
	if before.Status != agent.StatusRunning {
		s.hub.BroadcastEvent(ctx, ws.EventAgentStatus, ws.AgentStatusEvent{
			AgentID:   agentID,
			MissionID: before.MissionID,
			Status:    string(agent.StatusRunning),
		})
		slog.Info("agent revived by heartbeat", "agent_id", agentID, "was", before.Status)
	}
	return nil
}

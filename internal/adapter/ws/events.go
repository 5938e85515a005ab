package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTaskStatus     = "task.status"
	EventMissionStatus  = "mission.status"
	EventAgentStatus    = "agent.status"
	EventSignalEmitted  = "signal.emitted"
	EventProposalStatus = "proposal.status"
	EventQueueState     = "queue.state"
)

// TaskStatusEvent is broadcast when a task's status changes.
type TaskStatusEvent struct {
	TaskID    string `json:"task_id"`
	MissionID string `json:"mission_id"`
	Status    string `json:"status"`
	AgentID   string `json:"agent_id,omitempty"`
}

// MissionStatusEvent is broadcast when a mission's status changes.
type MissionStatusEvent struct {
	MissionID string `json:"mission_id"`
	Status    string `json:"status"`
}

// AgentStatusEvent is broadcast when an agent's liveness status changes.
type AgentStatusEvent struct {
	AgentID   string `json:"agent_id"`
	MissionID string `json:"mission_id,omitempty"`
	Status    string `json:"status"`
}

// SignalEmittedEvent is broadcast when the watchdog emits a system signal.
type SignalEmittedEvent struct {
	SignalID   string `json:"signal_id"`
	Type       string `json:"signal_type"`
	Severity   string `json:"severity"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Summary    string `json:"summary,omitempty"`
}

// ProposalStatusEvent is broadcast when a self-heal proposal changes status.
type ProposalStatusEvent struct {
	ProposalID string `json:"proposal_id"`
	MissionID  string `json:"mission_id,omitempty"`
	Status     string `json:"status"`
	Risk       string `json:"risk"`
}

// QueueStateEvent is broadcast when the mission queue composition changes.
type QueueStateEvent struct {
	Queued int `json:"queued"`
	Active int `json:"active"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

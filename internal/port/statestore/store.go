// Package statestore defines the state store port: the single source of
// truth for missions, tasks, agents, artifacts, proposals, and approvals.
// Every mutation bumps the entity's version counter; each store operation is
// the unit of atomicity (no multi-step transactions).
package statestore

import (
	"context"
	"time"

	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/artifact"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
	"github.com/Strob0t/MissionControl/internal/domain/task"
)

// Settings holds the system-wide safety switches consulted by self-healing
// and the watchdog.
type Settings struct {
	ArmedMode             bool      `json:"armed_mode"`
	RiskThreshold         heal.Risk `json:"risk_threshold"`
	CircuitBreakerTripped bool      `json:"circuit_breaker_tripped"`
}

// Approval is a formal request for a human decision on a pending action.
type Approval struct {
	ID         string    `json:"id"`
	MissionID  string    `json:"mission_id"`
	ProposalID string    `json:"proposal_id,omitempty"`
	Summary    string    `json:"summary"`
	Risk       heal.Risk `json:"risk"`
	Resolved   bool      `json:"resolved"`
	Approved   bool      `json:"approved"`
	CreatedAt  time.Time `json:"created_at"`
}

// QueueState is the scheduler's durable history, serialized on every task
// completion and reloaded at startup. In-flight tasks are lost on restart
// and must be requeued manually.
type QueueState struct {
	History []QueueEntry `json:"history"`
	SavedAt time.Time    `json:"saved_at"`
}

// QueueEntry records a finished queue submission.
type QueueEntry struct {
	TaskID    string    `json:"task_id"`
	MissionID string    `json:"mission_id,omitempty"`
	Status    string    `json:"status"` // "completed" or "failed"
	Error     string    `json:"error,omitempty"`
	EndTime   time.Time `json:"end_time"`
}

// Store is the port interface for the state store collaborator.
type Store interface {
	// Missions
	ListMissions(ctx context.Context) ([]mission.Mission, error)
	GetMission(ctx context.Context, id string) (*mission.Mission, error)
	CreateMission(ctx context.Context, req mission.CreateRequest) (*mission.Mission, error)
	UpdateMissionStatus(ctx context.Context, id string, status mission.Status) error

	// Tasks
	ListTasks(ctx context.Context, missionID string) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) error
	UpdateTaskError(ctx context.Context, id string, errMsg string) error

	// Agents
	ListAgents(ctx context.Context) ([]agent.Agent, error)
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	RegisterAgent(ctx context.Context, a agent.Agent) (*agent.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error
	UpdateAgentHeartbeat(ctx context.Context, id string, at time.Time) error

	// Artifacts. AddArtifact rejects unknown types; AppendArtifact grows an
	// append-only artifact and rejects the call for immutable types.
	AddArtifact(ctx context.Context, a artifact.Artifact) (*artifact.Artifact, error)
	AppendArtifact(ctx context.Context, id string, chunk []byte) error
	ListArtifacts(ctx context.Context, missionID string) ([]artifact.Artifact, error)
	ArtifactTypesByTask(ctx context.Context, taskID string) (map[string]int, error)

	// Self-heal proposals and idempotency records
	CreateProposal(ctx context.Context, p heal.Proposal) (*heal.Proposal, error)
	GetProposal(ctx context.Context, id string) (*heal.Proposal, error)
	ListProposals(ctx context.Context, missionID string) ([]heal.Proposal, error)
	UpdateProposal(ctx context.Context, p heal.Proposal) error
	GetHealRecord(ctx context.Context, key string) (*heal.Record, error)
	PutHealRecord(ctx context.Context, rec heal.Record) error

	// Approvals
	CreateApproval(ctx context.Context, a Approval) (*Approval, error)

	// Snapshots: a point-in-time copy of the full document, labeled for
	// rollback reference. Returns the snapshot id.
	CreateSnapshot(ctx context.Context, label string) (string, error)

	// Queue persistence
	SaveQueueState(ctx context.Context, state QueueState) error
	LoadQueueState(ctx context.Context) (*QueueState, error)

	// Settings
	GetSettings(ctx context.Context) (*Settings, error)
	UpdateSettings(ctx context.Context, s Settings) error
}

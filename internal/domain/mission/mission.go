// Package mission defines the Mission domain entity, the top-level unit of
// orchestrated work containing tasks, agents, and artifacts.
package mission

import "time"

// Status represents the lifecycle state of a mission.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusRunning     Status = "running"
	StatusBlocked     Status = "blocked"
	StatusNeedsReview Status = "needs_review"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether the mission can no longer change state.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// RiskLevel is the contract-declared risk of a mission.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ExecutionMode controls how much autonomy agents have within a mission.
type ExecutionMode string

const (
	ModeSupervised ExecutionMode = "supervised"
	ModeAutonomous ExecutionMode = "autonomous"
)

// Contract declares what a mission must produce and under which constraints.
type Contract struct {
	RequiredArtifacts []string      `json:"required_artifacts,omitempty"`
	RiskLevel         RiskLevel     `json:"risk_level"`
	AllowedTools      []string      `json:"allowed_tools,omitempty"`
	ExecutionMode     ExecutionMode `json:"execution_mode"`
}

// Mission is a unit of work decomposed into a dependency graph of tasks.
type Mission struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id,omitempty"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	MissionClass string    `json:"mission_class,omitempty"`
	Contract     Contract  `json:"contract"`
	TaskIDs      []string  `json:"task_ids,omitempty"`
	ArtifactIDs  []string  `json:"artifact_ids,omitempty"`
	AgentIDs     []string  `json:"agent_ids,omitempty"`
	Version      int       `json:"version"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new mission.
type CreateRequest struct {
	ProjectID    string   `json:"project_id,omitempty"`
	Title        string   `json:"title"`
	MissionClass string   `json:"mission_class,omitempty"`
	Contract     Contract `json:"contract"`
}

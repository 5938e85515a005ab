// Package task defines the Task domain entity and its status state machine.
package task

import "time"

// Status represents the current state of a task.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReady    Status = "ready"
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusBlocked  Status = "blocked"
)

// IsTerminal reports whether the task has reached a final state.
// Failed tasks are not terminal: they may be reset to pending for a retry.
func (s Status) IsTerminal() bool {
	return s == StatusComplete
}

// Type classifies a task into an execution phase. Work tasks produce changes,
// verification tasks check them, finalization tasks close out the mission.
type Type string

const (
	TypeWork         Type = "work"
	TypeVerification Type = "verification"
	TypeFinalization Type = "finalization"
)

// Precedence returns the scheduling precedence of a task type. Lower sorts
// first: within any wave of simultaneously-ready tasks, work runs before
// verification before finalization.
func (t Type) Precedence() int {
	switch t {
	case TypeWork:
		return 1
	case TypeVerification:
		return 2
	case TypeFinalization:
		return 3
	}
	return 4
}

// Valid reports whether t is a recognized task type.
func (t Type) Valid() bool {
	return t == TypeWork || t == TypeVerification || t == TypeFinalization
}

// Task is a single unit of work inside a mission's dependency graph.
type Task struct {
	ID                string    `json:"id"`
	MissionID         string    `json:"mission_id"`
	Title             string    `json:"title"`
	Instructions      string    `json:"instructions,omitempty"`
	Type              Type      `json:"task_type"`
	Status            Status    `json:"status"`
	Deps              []string  `json:"deps,omitempty"`
	RequiredArtifacts []string  `json:"required_artifacts,omitempty"`
	RetryCount        int       `json:"retry_count"`
	MaxRetries        int       `json:"max_retries"`
	Error             string    `json:"error,omitempty"`
	AgentID           string    `json:"agent_id,omitempty"`
	Version           int       `json:"version"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	EndedAt           time.Time `json:"ended_at,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	MissionID         string   `json:"mission_id"`
	Title             string   `json:"title"`
	Instructions      string   `json:"instructions,omitempty"`
	Type              Type     `json:"task_type"`
	Deps              []string `json:"deps,omitempty"`
	RequiredArtifacts []string `json:"required_artifacts,omitempty"`
	MaxRetries        int      `json:"max_retries,omitempty"`
}

// Package agent defines the agent record the engine reads and writes.
// Spawning and killing agent processes is the execution collaborator's job;
// the engine only tracks status and heartbeats.
package agent

import "time"

// Status represents the observed health of an agent.
type Status string

const (
	StatusRunning Status = "running"
	StatusStale   Status = "stale"
	StatusDead    Status = "dead"
)

// Agent is an external worker executing mission tasks.
type Agent struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Status        Status    `json:"status"`
	MissionID     string    `json:"mission_id,omitempty"`
	TaskID        string    `json:"task_id,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Package signal defines the typed anomaly events emitted by the watchdog.
package signal

import "time"

// Type identifies a watchdog signal.
type Type string

const (
	TypeAgentStale         Type = "agent_stale"
	TypeAgentDead          Type = "agent_dead"
	TypeAgentRecovered     Type = "agent_recovered"
	TypeMissionTimeout     Type = "mission_timeout"
	TypeMissionStuck       Type = "mission_stuck"
	TypeTaskStuck          Type = "task_stuck"
	TypeCircuitBreakerTrip Type = "circuit_breaker_trip"
	TypeHighFailureRate    Type = "high_failure_rate"
)

// Severity grades a signal.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// EntityType names the kind of entity a signal refers to.
type EntityType string

const (
	EntityAgent   EntityType = "agent"
	EntityMission EntityType = "mission"
	EntityTask    EntityType = "task"
	EntitySystem  EntityType = "system"
)

// Signal is an ephemeral event describing a detected anomaly. Signals live in
// a bounded in-memory history; mission-linked signals are additionally
// persisted as signal_report artifacts.
type Signal struct {
	Type       Type              `json:"type"`
	EntityType EntityType        `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	MissionID  string            `json:"mission_id,omitempty"`
	Severity   Severity          `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

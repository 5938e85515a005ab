// Package artifact defines the closed artifact taxonomy and mutability modes.
// Artifacts are records produced by tasks and services: created once, never
// overwritten. Append-only types may grow but prior content is immutable.
package artifact

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of artifact. The taxonomy is closed: unknown types
// are rejected at creation time.
type Type string

const (
	TypeLog               Type = "log"
	TypeReport            Type = "report"
	TypeFailureReport     Type = "failure_report"
	TypeSignalReport      Type = "signal_report"
	TypeSelfHealProposal  Type = "self_heal_proposal"
	TypeApprovalRequest   Type = "approval_request"
	TypeApprovalRecord    Type = "approval_record"
	TypePolicyMatchReport Type = "policy_match_report"
	TypeSnapshot          Type = "snapshot"
	TypeDiff              Type = "diff"
	TypeTestReport        Type = "test_report"
	TypeViolationRecord   Type = "violation_record"
	TypeBootstrapRecord   Type = "bootstrap_record"
)

// Mutability declares how an artifact's content may evolve after creation.
type Mutability string

const (
	Immutable  Mutability = "immutable"
	AppendOnly Mutability = "append-only"
)

// taxonomy maps every known artifact type to its mutability mode.
var taxonomy = map[Type]Mutability{
	TypeLog:               AppendOnly,
	TypeReport:            Immutable,
	TypeFailureReport:     Immutable,
	TypeSignalReport:      AppendOnly,
	TypeSelfHealProposal:  Immutable,
	TypeApprovalRequest:   Immutable,
	TypeApprovalRecord:    Immutable,
	TypePolicyMatchReport: Immutable,
	TypeSnapshot:          Immutable,
	TypeDiff:              Immutable,
	TypeTestReport:        Immutable,
	TypeViolationRecord:   AppendOnly,
	TypeBootstrapRecord:   Immutable,
}

// IsKnownType reports whether t is part of the closed taxonomy.
func IsKnownType(t Type) bool {
	_, ok := taxonomy[t]
	return ok
}

// MutabilityOf returns the declared mutability mode for t. Unknown types
// report Immutable, the stricter mode.
func MutabilityOf(t Type) Mutability {
	if m, ok := taxonomy[t]; ok {
		return m
	}
	return Immutable
}

// Provenance records who produced an artifact.
type Provenance struct {
	Producer string `json:"producer"`        // service or agent id
	Model    string `json:"model,omitempty"` // LLM model, when agent-produced
}

// Artifact is a record produced by a task, agent, or core service. Payloads
// are opaque JSON; the engine enforces mutability but never interprets them.
type Artifact struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	MissionID  string          `json:"mission_id"`
	TaskID     string          `json:"task_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Provenance Provenance      `json:"provenance"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Package heal defines the self-heal proposal domain: risk ordinal,
// idempotency keys, proposal states, and request validation.
package heal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Risk is a strictly ordered three-level ordinal. The auto-apply predicate is
// risk(proposal) <= risk(threshold); there is no fuzzy scoring.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Level returns the ordinal rank of a risk rating. Unknown ratings rank above
// high so they can never slip past a threshold comparison.
func (r Risk) Level() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	}
	return 4
}

// Valid reports whether r is one of the three known ratings.
func (r Risk) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// WithinThreshold reports whether r is at or below the given ceiling.
func (r Risk) WithinThreshold(threshold Risk) bool {
	return r.Level() <= threshold.Level()
}

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPending          Status = "pending"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApplied          Status = "applied"
	StatusRejected         Status = "rejected"
	StatusNeedsRollback    Status = "needs_rollback"
	StatusRolledBack       Status = "rolled_back"
)

// IsActive reports whether the proposal still demands attention
// (not yet applied, rejected, or rolled back).
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusAwaitingApproval || s == StatusNeedsRollback
}

// Key derives the idempotency key for a failure signature:
// the first 16 hex characters of its SHA-256 digest.
func Key(failureSignature string) string {
	sum := sha256.Sum256([]byte(failureSignature))
	return hex.EncodeToString(sum[:])[:16]
}

// Proposal is a generated, risk-rated remediation plan for a detected
// failure, tracked for idempotent re-application.
type Proposal struct {
	ID               string    `json:"id"`
	MissionID        string    `json:"mission_id"`
	TaskID           string    `json:"task_id,omitempty"`
	SelfHealKey      string    `json:"self_heal_key"`
	FailureSignature string    `json:"failure_signature"`
	Diagnosis        string    `json:"diagnosis"`
	ProposedCommands []string  `json:"proposed_commands,omitempty"`
	FilesTouched     []string  `json:"files_touched,omitempty"`
	RiskRating       Risk      `json:"risk_rating"`
	RollbackPlan     string    `json:"rollback_plan"`
	Status           Status    `json:"status"`
	Approver         string    `json:"approver,omitempty"`
	SnapshotID       string    `json:"snapshot_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Record is the persisted idempotency entry for a self-heal key. It survives
// process restarts in the state store so duplicate suppression reflects the
// true final outcome of every prior proposal.
type Record struct {
	Key        string    `json:"key"`
	ProposalID string    `json:"proposal_id"`
	Outcome    Status    `json:"outcome"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validation errors for proposal requests.
var (
	ErrMissionRequired   = errors.New("mission_id is required")
	ErrSignatureRequired = errors.New("failure_signature is required")
	ErrDiagnosisRequired = errors.New("diagnosis is required")
	ErrRollbackRequired  = errors.New("rollback_plan is required")
	ErrInvalidRisk       = errors.New("risk_rating must be low, medium, or high")
)

// ProposeRequest carries everything needed to generate a proposal.
// Diagnosis and rollback plan are hard requirements: a fix the system cannot
// explain or undo is not a fix.
type ProposeRequest struct {
	MissionID        string   `json:"mission_id"`
	TaskID           string   `json:"task_id,omitempty"`
	FailureSignature string   `json:"failure_signature"`
	Diagnosis        string   `json:"diagnosis"`
	ProposedCommands []string `json:"proposed_commands,omitempty"`
	FilesTouched     []string `json:"files_touched,omitempty"`
	RiskRating       Risk     `json:"risk_rating"`
	RollbackPlan     string   `json:"rollback_plan"`
}

// Validate checks the request for structural completeness.
func (r *ProposeRequest) Validate() error {
	if r.MissionID == "" {
		return ErrMissionRequired
	}
	if r.FailureSignature == "" {
		return ErrSignatureRequired
	}
	if r.Diagnosis == "" {
		return ErrDiagnosisRequired
	}
	if r.RollbackPlan == "" {
		return ErrRollbackRequired
	}
	if !r.RiskRating.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidRisk, r.RiskRating)
	}
	return nil
}

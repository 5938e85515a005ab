// Package approval defines the data-driven auto-approval policy model.
// Policies are declarative rules: additive, testable in isolation, and
// revocable at runtime. A policy matches either by action allow-list or by
// file-path pattern, never both.
package approval

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Strob0t/MissionControl/internal/domain/heal"
)

// Policy declares one auto-approval rule. Exactly one of Actions or
// PathPattern must be set.
type Policy struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Actions     []string `json:"actions,omitempty" yaml:"actions,omitempty"`
	PathPattern string   `json:"path_pattern,omitempty" yaml:"path_pattern,omitempty"`
	RiskLevel   heal.Risk `json:"risk_level" yaml:"risk_level"`
	AutoApprove bool     `json:"auto_approve" yaml:"auto_approve"`

	re *regexp.Regexp
}

// Validation errors.
var (
	ErrIDRequired      = errors.New("policy id is required")
	ErrNoPredicate     = errors.New("policy must declare actions or path_pattern")
	ErrBothPredicates  = errors.New("policy cannot declare both actions and path_pattern")
	ErrBadPattern      = errors.New("path_pattern is not a valid regexp")
	ErrBadRiskLevel    = errors.New("risk_level must be low, medium, or high")
)

// Compile validates the policy and compiles its path pattern.
func (p *Policy) Compile() error {
	if p.ID == "" {
		return ErrIDRequired
	}
	if len(p.Actions) == 0 && p.PathPattern == "" {
		return fmt.Errorf("policy %s: %w", p.ID, ErrNoPredicate)
	}
	if len(p.Actions) > 0 && p.PathPattern != "" {
		return fmt.Errorf("policy %s: %w", p.ID, ErrBothPredicates)
	}
	if !p.RiskLevel.Valid() {
		return fmt.Errorf("policy %s: %w", p.ID, ErrBadRiskLevel)
	}
	if p.PathPattern != "" {
		re, err := regexp.Compile(p.PathPattern)
		if err != nil {
			return fmt.Errorf("policy %s: %w: %v", p.ID, ErrBadPattern, err)
		}
		p.re = re
	}
	return nil
}

// MatchesAction reports whether the policy's action allow-list contains action.
func (p *Policy) MatchesAction(action string) bool {
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// MatchesPath reports whether the policy's path pattern matches the path.
// Policies without a pattern match nothing.
func (p *Policy) MatchesPath(path string) bool {
	return p.re != nil && p.re.MatchString(path)
}

// Request is an action awaiting an approval decision.
type Request struct {
	Action    string    `json:"action"`
	Paths     []string  `json:"paths,omitempty"`
	Risk      heal.Risk `json:"risk"`
	MissionID string    `json:"mission_id,omitempty"`
	Requester string    `json:"requester,omitempty"`
}

// Decision is the outcome of evaluating a Request against the policy set.
type Decision struct {
	AutoApproved bool   `json:"auto_approved"`
	PolicyID     string `json:"policy_id,omitempty"`
	Reason       string `json:"reason"`
}

// DefaultPolicies is the preset rule set loaded when no custom policies are
// configured: read-only verbs and documentation paths auto-approve at low
// risk, nothing else does.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:          "read-only-actions",
			Description: "Read-only verbs never mutate state",
			Actions:     []string{"read", "list", "status", "inspect", "diff"},
			RiskLevel:   heal.RiskLow,
			AutoApprove: true,
		},
		{
			ID:          "docs-paths",
			Description: "Documentation and changelog edits",
			PathPattern: `^(docs/|README|CHANGELOG)`,
			RiskLevel:   heal.RiskLow,
			AutoApprove: true,
		},
		{
			ID:          "test-paths",
			Description: "Test file edits",
			PathPattern: `_test\.go$|^tests?/`,
			RiskLevel:   heal.RiskMedium,
			AutoApprove: true,
		},
	}
}

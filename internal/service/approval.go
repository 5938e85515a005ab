package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/approval"
	"github.com/Strob0t/MissionControl/internal/domain/artifact"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

const approvalAuditCap = 200

// AuditEntry records one approval evaluation for later inspection.
type AuditEntry struct {
	Request  approval.Request  `json:"request"`
	Decision approval.Decision `json:"decision"`
	At       time.Time         `json:"at"`
}

// PolicyInfo is a policy plus its runtime revocation state.
type PolicyInfo struct {
	Policy  approval.Policy `json:"policy"`
	Revoked bool            `json:"revoked"`
}

// ApprovalService evaluates action requests against the declarative policy
// set. High-risk requests never auto-approve; path-matched requests only
// auto-approve when every path falls under the same single policy. Policies
// can be revoked and reinstated at runtime without a restart.
type ApprovalService struct {
	store statestore.Store

	mu       sync.Mutex
	policies []approval.Policy
	revoked  map[string]bool
	audit    []AuditEntry
}

// NewApprovalService compiles the given policies. An empty slice loads the
// default preset.
func NewApprovalService(store statestore.Store, policies []approval.Policy) (*ApprovalService, error) {
	if len(policies) == 0 {
		policies = approval.DefaultPolicies()
	}
	for i := range policies {
		if err := policies[i].Compile(); err != nil {
			return nil, fmt.Errorf("compile policies: %w", err)
		}
	}
	return &ApprovalService{
		store:    store,
		policies: policies,
		revoked:  make(map[string]bool),
	}, nil
}

// Evaluate decides whether the request may proceed without a human. The
// decision and its reasoning are appended to the bounded audit history and,
// for mission-linked requests, persisted as a policy_match_report artifact.
func (s *ApprovalService) Evaluate(ctx context.Context, req approval.Request) approval.Decision {
	dec := s.decide(req)

	s.mu.Lock()
	s.audit = append(s.audit, AuditEntry{Request: req, Decision: dec, At: time.Now().UTC()})
	if len(s.audit) > approvalAuditCap {
		s.audit = s.audit[len(s.audit)-approvalAuditCap:]
	}
	s.mu.Unlock()

	if req.MissionID != "" {
		s.persistReport(ctx, req, dec)
	}

	slog.Info("approval evaluated", "action", req.Action, "risk", req.Risk,
		"auto_approved", dec.AutoApproved, "policy_id", dec.PolicyID)
	return dec
}

func (s *ApprovalService) decide(req approval.Request) approval.Decision {
	if req.Risk == heal.RiskHigh {
		return approval.Decision{Reason: "high-risk requests always require review"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Action policies take precedence over path policies.
	for i := range s.policies {
		p := &s.policies[i]
		if !p.MatchesAction(req.Action) {
			continue
		}
		if s.revoked[p.ID] {
			return approval.Decision{PolicyID: p.ID, Reason: fmt.Sprintf("policy %s matched but is revoked", p.ID)}
		}
		if !p.AutoApprove || !req.Risk.WithinThreshold(p.RiskLevel) {
			return approval.Decision{PolicyID: p.ID, Reason: fmt.Sprintf("policy %s does not sanction risk %s", p.ID, req.Risk)}
		}
		return approval.Decision{AutoApproved: true, PolicyID: p.ID, Reason: "action allowed by policy"}
	}

	if len(req.Paths) > 0 {
		return s.decideByPaths(req)
	}

	return approval.Decision{Reason: "no policy matched"}
}

// decideByPaths auto-approves only when every path matches the same single
// policy. Paths split across policies, or any unmatched path, require
// review. Caller holds s.mu.
func (s *ApprovalService) decideByPaths(req approval.Request) approval.Decision {
	var matched *approval.Policy
	for _, path := range req.Paths {
		var hit *approval.Policy
		for i := range s.policies {
			if s.policies[i].MatchesPath(path) {
				hit = &s.policies[i]
				break
			}
		}
		if hit == nil {
			return approval.Decision{Reason: fmt.Sprintf("path %s matches no policy", path)}
		}
		if matched != nil && matched.ID != hit.ID {
			return approval.Decision{Reason: fmt.Sprintf("paths span policies %s and %s", matched.ID, hit.ID)}
		}
		matched = hit
	}

	if s.revoked[matched.ID] {
		return approval.Decision{PolicyID: matched.ID, Reason: fmt.Sprintf("policy %s matched but is revoked", matched.ID)}
	}
	if !matched.AutoApprove || !req.Risk.WithinThreshold(matched.RiskLevel) {
		return approval.Decision{PolicyID: matched.ID, Reason: fmt.Sprintf("policy %s does not sanction risk %s", matched.ID, req.Risk)}
	}
	return approval.Decision{AutoApproved: true, PolicyID: matched.ID, Reason: "all paths allowed by policy"}
}

func (s *ApprovalService) persistReport(ctx context.Context, req approval.Request, dec approval.Decision) {
	payload, err := json.Marshal(map[string]any{
		"request":  req,
		"decision": dec,
	})
	if err != nil {
		slog.Error("marshal policy match report", "error", err)
		return
	}
	if _, err := s.store.AddArtifact(ctx, artifact.Artifact{
		Type:       artifact.TypePolicyMatchReport,
		MissionID:  req.MissionID,
		Payload:    payload,
		Provenance: artifact.Provenance{Producer: "approval-policy"},
	}); err != nil {
		slog.Error("persist policy match report", "error", err)
	}
}

// Revoke disables a policy at runtime.
func (s *ApprovalService) Revoke(id string) error {
	return s.setRevoked(id, true)
}

// Reinstate re-enables a revoked policy.
func (s *ApprovalService) Reinstate(id string) error {
	return s.setRevoked(id, false)
}

func (s *ApprovalService) setRevoked(id string, revoked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.policies {
		if s.policies[i].ID == id {
			s.revoked[id] = revoked
			slog.Info("policy revocation changed", "policy_id", id, "revoked", revoked)
			return nil
		}
	}
	return fmt.Errorf("policy %s: %w", id, domain.ErrNotFound)
}

// Policies returns every policy with its revocation state.
func (s *ApprovalService) Policies() []PolicyInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PolicyInfo, len(s.policies))
	for i, p := range s.policies {
		out[i] = PolicyInfo{Policy: p, Revoked: s.revoked[p.ID]}
	}
	return out
}

// Audit returns a copy of the bounded evaluation history.
func (s *ApprovalService) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.audit...)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/artifact"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
	"github.com/Strob0t/MissionControl/internal/port/broadcast"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

const selfHealProducer = "selfheal"

// ProposeResult is the outcome of a propose call. A blocked result means an
// idempotency record already covers this failure signature; the prior
// proposal is referenced instead of creating a duplicate.
type ProposeResult struct {
	Proposal        *heal.Proposal `json:"proposal,omitempty"`
	Blocked         bool           `json:"blocked"`
	PriorProposalID string         `json:"prior_proposal_id,omitempty"`
	PriorOutcome    heal.Status    `json:"prior_outcome,omitempty"`
	Reason          string         `json:"reason,omitempty"`
}

// SelfHealService generates, evaluates, and applies remediation proposals.
// Every decision is persisted: proposals, idempotency records, and the
// artifact trail (failure report, proposal, approval request or record).
type SelfHealService struct {
	store      statestore.Store
	hub        broadcast.Broadcaster
	metrics    *otel.Metrics
	maxPending int
}

// NewSelfHealService creates a SelfHealService. Metrics may be nil.
func NewSelfHealService(store statestore.Store, hub broadcast.Broadcaster, metrics *otel.Metrics, maxPendingPerMission int) *SelfHealService {
	return &SelfHealService{
		store:      store,
		hub:        hub,
		metrics:    metrics,
		maxPending: maxPendingPerMission,
	}
}

// Propose validates the request, suppresses duplicates via the idempotency
// record, enforces the per-mission pending cap, and registers a pending
// proposal together with its idempotency record and failure-report artifact.
func (s *SelfHealService) Propose(ctx context.Context, req heal.ProposeRequest) (*ProposeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	key := heal.Key(req.FailureSignature)
	if rec, err := s.store.GetHealRecord(ctx, key); err == nil {
		slog.Info("self-heal proposal suppressed", "key", key, "prior_proposal", rec.ProposalID, "prior_outcome", rec.Outcome)
		return &ProposeResult{
			Blocked:         true,
			PriorProposalID: rec.ProposalID,
			PriorOutcome:    rec.Outcome,
			Reason:          fmt.Sprintf("failure signature already handled by proposal %s (%s)", rec.ProposalID, rec.Outcome),
		}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check heal record: %w", err)
	}

	pending, err := s.countActive(ctx, req.MissionID)
	if err != nil {
		return nil, err
	}
	if pending >= s.maxPending {
		return nil, fmt.Errorf("mission %s has %d active proposals (cap %d): %w",
			req.MissionID, pending, s.maxPending, domain.ErrConflict)
	}

	if err := s.addReport(ctx, artifact.TypeFailureReport, req.MissionID, req.TaskID, map[string]any{
		"failure_signature": req.FailureSignature,
		"diagnosis":         req.Diagnosis,
		"risk_rating":       req.RiskRating,
	}); err != nil {
		return nil, err
	}

	p, err := s.store.CreateProposal(ctx, heal.Proposal{
		MissionID:        req.MissionID,
		TaskID:           req.TaskID,
		SelfHealKey:      key,
		FailureSignature: req.FailureSignature,
		Diagnosis:        req.Diagnosis,
		ProposedCommands: req.ProposedCommands,
		FilesTouched:     req.FilesTouched,
		RiskRating:       req.RiskRating,
		RollbackPlan:     req.RollbackPlan,
		Status:           heal.StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create proposal: %w", err)
	}

	// The record must exist before the proposal resolves: re-deriving the
	// same signature while this one is still in flight is a duplicate.
	if err := s.putRecord(ctx, p); err != nil {
		return nil, err
	}

	if err := s.addReport(ctx, artifact.TypeSelfHealProposal, req.MissionID, req.TaskID, p); err != nil {
		slog.Warn("proposal artifact write failed", "proposal_id", p.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.ProposalsCreated.Add(ctx, 1)
	}
	s.broadcastProposal(ctx, p)
	slog.Info("self-heal proposal created", "proposal_id", p.ID, "mission_id", p.MissionID, "risk", p.RiskRating)
	return &ProposeResult{Proposal: p}, nil
}

// Evaluate reports whether a proposal may auto-apply: armed mode must be on
// and the proposal's risk must be at or below the configured threshold.
func (s *SelfHealService) Evaluate(ctx context.Context, proposalID string) (autoApply bool, reason string, err error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return false, "", err
	}
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return false, "", fmt.Errorf("load settings: %w", err)
	}

	if !settings.ArmedMode {
		return false, "armed mode is off", nil
	}
	if !p.RiskRating.WithinThreshold(settings.RiskThreshold) {
		return false, fmt.Sprintf("risk %s exceeds threshold %s", p.RiskRating, settings.RiskThreshold), nil
	}
	return true, "", nil
}

// Apply attempts to apply a proposal. Without sanction (auto-apply or an
// explicit approver) no fix is applied: the mission moves to needs_review,
// an approval request is filed, and the proposal waits. A sanctioned apply
// snapshots state first and records the final outcome idempotently.
func (s *SelfHealService) Apply(ctx context.Context, proposalID, approver string) (*heal.Proposal, error) {
	ctx, span := otel.StartHealSpan(ctx, proposalID, "apply")
	defer span.End()

	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != heal.StatusPending && p.Status != heal.StatusAwaitingApproval {
		return nil, fmt.Errorf("proposal %s is %s, cannot apply: %w", p.ID, p.Status, domain.ErrConflict)
	}

	auto, reason, err := s.Evaluate(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if !auto && approver == "" {
		return s.deferToReview(ctx, p, reason)
	}

	snapshotID, err := s.store.CreateSnapshot(ctx, "before heal "+p.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot before apply: %w", err)
	}

	p.SnapshotID = snapshotID
	p.Status = heal.StatusApplied
	p.Approver = approver
	if err := s.store.UpdateProposal(ctx, *p); err != nil {
		return nil, err
	}
	if err := s.putRecord(ctx, p); err != nil {
		return nil, err
	}

	if err := s.addReport(ctx, artifact.TypeApprovalRecord, p.MissionID, p.TaskID, map[string]any{
		"proposal_id": p.ID,
		"approver":    approver,
		"auto":        auto,
		"snapshot_id": snapshotID,
	}); err != nil {
		slog.Warn("approval record artifact write failed", "proposal_id", p.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.ProposalsApplied.Add(ctx, 1)
	}
	s.broadcastProposal(ctx, p)
	slog.Info("self-heal proposal applied", "proposal_id", p.ID, "approver", approver, "auto", auto)
	return p, nil
}

// deferToReview parks an unsanctioned proposal: mission to needs_review,
// approval request filed, proposal awaiting approval. No fix is applied.
func (s *SelfHealService) deferToReview(ctx context.Context, p *heal.Proposal, reason string) (*heal.Proposal, error) {
	if err := s.store.UpdateMissionStatus(ctx, p.MissionID, mission.StatusNeedsReview); err != nil {
		return nil, fmt.Errorf("mark mission for review: %w", err)
	}

	if _, err := s.store.CreateApproval(ctx, statestore.Approval{
		MissionID:  p.MissionID,
		ProposalID: p.ID,
		Summary:    fmt.Sprintf("apply self-heal proposal %s: %s", p.ID, p.Diagnosis),
		Risk:       p.RiskRating,
	}); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}

	if err := s.addReport(ctx, artifact.TypeApprovalRequest, p.MissionID, p.TaskID, map[string]any{
		"proposal_id": p.ID,
		"risk":        p.RiskRating,
		"reason":      reason,
	}); err != nil {
		slog.Warn("approval request artifact write failed", "proposal_id", p.ID, "error", err)
	}

	p.Status = heal.StatusAwaitingApproval
	if err := s.store.UpdateProposal(ctx, *p); err != nil {
		return nil, err
	}
	if err := s.putRecord(ctx, p); err != nil {
		return nil, err
	}

	s.broadcastProposal(ctx, p)
	slog.Info("self-heal proposal awaiting approval", "proposal_id", p.ID, "reason", reason)
	return p, nil
}

// Reject refuses a proposal and records the outcome.
func (s *SelfHealService) Reject(ctx context.Context, proposalID, approver string) (*heal.Proposal, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !p.Status.IsActive() {
		return nil, fmt.Errorf("proposal %s is %s, cannot reject: %w", p.ID, p.Status, domain.ErrConflict)
	}

	p.Status = heal.StatusRejected
	p.Approver = approver
	if err := s.store.UpdateProposal(ctx, *p); err != nil {
		return nil, err
	}
	if err := s.putRecord(ctx, p); err != nil {
		return nil, err
	}
	s.broadcastProposal(ctx, p)
	slog.Info("self-heal proposal rejected", "proposal_id", p.ID, "approver", approver)
	return p, nil
}

// MarkRollbackNeeded flags an applied proposal whose fix turned out bad.
func (s *SelfHealService) MarkRollbackNeeded(ctx context.Context, proposalID string) (*heal.Proposal, error) {
	return s.transition(ctx, proposalID, heal.StatusApplied, heal.StatusNeedsRollback)
}

// CompleteRollback records that a flagged proposal has been rolled back.
func (s *SelfHealService) CompleteRollback(ctx context.Context, proposalID string) (*heal.Proposal, error) {
	return s.transition(ctx, proposalID, heal.StatusNeedsRollback, heal.StatusRolledBack)
}

func (s *SelfHealService) transition(ctx context.Context, proposalID string, from, to heal.Status) (*heal.Proposal, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != from {
		return nil, fmt.Errorf("proposal %s is %s, expected %s: %w", p.ID, p.Status, from, domain.ErrConflict)
	}

	p.Status = to
	if err := s.store.UpdateProposal(ctx, *p); err != nil {
		return nil, err
	}
	if err := s.putRecord(ctx, p); err != nil {
		return nil, err
	}
	s.broadcastProposal(ctx, p)
	slog.Info("self-heal proposal transitioned", "proposal_id", p.ID, "status", to)
	return p, nil
}

// List returns proposals, optionally filtered by mission.
func (s *SelfHealService) List(ctx context.Context, missionID string) ([]heal.Proposal, error) {
	return s.store.ListProposals(ctx, missionID)
}

// Get returns one proposal.
func (s *SelfHealService) Get(ctx context.Context, id string) (*heal.Proposal, error) {
	return s.store.GetProposal(ctx, id)
}

func (s *SelfHealService) countActive(ctx context.Context, missionID string) (int, error) {
	proposals, err := s.store.ListProposals(ctx, missionID)
	if err != nil {
		return 0, fmt.Errorf("list proposals: %w", err)
	}
	n := 0
	for _, p := range proposals {
		if p.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (s *SelfHealService) putRecord(ctx context.Context, p *heal.Proposal) error {
	if err := s.store.PutHealRecord(ctx, heal.Record{
		Key:        p.SelfHealKey,
		ProposalID: p.ID,
		Outcome:    p.Status,
	}); err != nil {
		return fmt.Errorf("put heal record: %w", err)
	}
	return nil
}

func (s *SelfHealService) addReport(ctx context.Context, typ artifact.Type, missionID, taskID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	if _, err := s.store.AddArtifact(ctx, artifact.Artifact{
		Type:       typ,
		MissionID:  missionID,
		TaskID:     taskID,
		Payload:    data,
		Provenance: artifact.Provenance{Producer: selfHealProducer},
	}); err != nil {
		return fmt.Errorf("add %s artifact: %w", typ, err)
	}
	return nil
}

func (s *SelfHealService) broadcastProposal(ctx context.Context, p *heal.Proposal) {
	s.hub.BroadcastEvent(ctx, ws.EventProposalStatus, ws.ProposalStatusEvent{
		ProposalID: p.ID,
		MissionID:  p.MissionID,
		Status:     string(p.Status),
		Risk:       string(p.RiskRating),
	})
}

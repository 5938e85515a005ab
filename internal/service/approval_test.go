package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/approval"
	"github.com/Strob0t/MissionControl/internal/domain/artifact"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
)

func newApprovalService(t *testing.T) *ApprovalService {
	t.Helper()
	svc, err := NewApprovalService(newTestStore(t), nil)
	if err != nil {
		t.Fatalf("new approval service: %v", err)
	}
	return svc
}

func TestEvaluateHighRiskNeverAutoApproves(t *testing.T) {
	svc := newApprovalService(t)
	dec := svc.Evaluate(context.Background(), approval.Request{
		Action: "read",
		Risk:   heal.RiskHigh,
	})
	if dec.AutoApproved {
		t.Fatal("high-risk request auto-approved")
	}
}

func TestEvaluateActionPolicy(t *testing.T) {
	svc := newApprovalService(t)
	ctx := context.Background()

	dec := svc.Evaluate(ctx, approval.Request{Action: "read", Risk: heal.RiskLow})
	if !dec.AutoApproved {
		t.Fatalf("read at low risk denied: %s", dec.Reason)
	}
	if dec.PolicyID != "read-only-actions" {
		t.Errorf("policy id = %s, want read-only-actions", dec.PolicyID)
	}

	// The same action above the policy's risk ceiling requires review.
	dec = svc.Evaluate(ctx, approval.Request{Action: "read", Risk: heal.RiskMedium})
	if dec.AutoApproved {
		t.Error("read at medium risk auto-approved past a low-risk policy")
	}
}

func TestEvaluateActionPrecedesPaths(t *testing.T) {
	svc := newApprovalService(t)
	// The path alone would be denied; the matching action policy decides.
	dec := svc.Evaluate(context.Background(), approval.Request{
		Action: "read",
		Paths:  []string{"cmd/main.go"},
		Risk:   heal.RiskLow,
	})
	if !dec.AutoApproved {
		t.Fatalf("action policy did not take precedence: %s", dec.Reason)
	}
	if dec.PolicyID != "read-only-actions" {
		t.Errorf("policy id = %s, want read-only-actions", dec.PolicyID)
	}
}

func TestEvaluatePathsSamePolicy(t *testing.T) {
	svc := newApprovalService(t)
	dec := svc.Evaluate(context.Background(), approval.Request{
		Action: "edit",
		Paths:  []string{"docs/guide.md", "README.md"},
		Risk:   heal.RiskLow,
	})
	if !dec.AutoApproved {
		t.Fatalf("doc-only edit denied: %s", dec.Reason)
	}
	if dec.PolicyID != "docs-paths" {
		t.Errorf("policy id = %s, want docs-paths", dec.PolicyID)
	}
}

func TestEvaluatePathsSpanningPoliciesDenied(t *testing.T) {
	svc := newApprovalService(t)
	dec := svc.Evaluate(context.Background(), approval.Request{
		Action: "edit",
		Paths:  []string{"docs/guide.md", "graph_test.go"},
		Risk:   heal.RiskLow,
	})
	if dec.AutoApproved {
		t.Fatal("paths spanning two policies auto-approved")
	}
	if !strings.Contains(dec.Reason, "span") {
		t.Errorf("reason = %q, want span explanation", dec.Reason)
	}
}

func TestEvaluateUnmatchedPathDenied(t *testing.T) {
	svc := newApprovalService(t)
	dec := svc.Evaluate(context.Background(), approval.Request{
		Action: "edit",
		Paths:  []string{"docs/guide.md", "cmd/main.go"},
		Risk:   heal.RiskLow,
	})
	if dec.AutoApproved {
		t.Fatal("request with an unmatched path auto-approved")
	}
}

func TestRevokeAndReinstate(t *testing.T) {
	svc := newApprovalService(t)
	ctx := context.Background()
	req := approval.Request{Action: "read", Risk: heal.RiskLow}

	if err := svc.Revoke("read-only-actions"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if dec := svc.Evaluate(ctx, req); dec.AutoApproved {
		t.Error("revoked policy still auto-approves")
	}

	if err := svc.Reinstate("read-only-actions"); err != nil {
		t.Fatalf("reinstate: %v", err)
	}
	if dec := svc.Evaluate(ctx, req); !dec.AutoApproved {
		t.Errorf("reinstated policy denied: %s", dec.Reason)
	}

	if err := svc.Revoke("no-such-policy"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("revoke unknown err = %v, want ErrNotFound", err)
	}
}

func TestEvaluateAuditBounded(t *testing.T) {
	svc := newApprovalService(t)
	ctx := context.Background()

	for i := range approvalAuditCap + 5 {
		svc.Evaluate(ctx, approval.Request{Action: fmt.Sprintf("action-%d", i), Risk: heal.RiskLow})
	}

	audit := svc.Audit()
	if len(audit) != approvalAuditCap {
		t.Fatalf("audit len = %d, want %d", len(audit), approvalAuditCap)
	}
	// Oldest entries fall off the front.
	if audit[0].Request.Action != "action-5" {
		t.Errorf("oldest entry = %s, want action-5", audit[0].Request.Action)
	}
}

func TestEvaluatePersistsPolicyMatchReport(t *testing.T) {
	store := newTestStore(t)
	svc, err := NewApprovalService(store, nil)
	if err != nil {
		t.Fatalf("new approval service: %v", err)
	}
	ctx := context.Background()

	m := seedMission(t, store)
	svc.Evaluate(ctx, approval.Request{Action: "read", Risk: heal.RiskLow, MissionID: m.ID})

	artifacts, err := store.ListArtifacts(ctx, m.ID)
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	found := false
	for _, a := range artifacts {
		if a.Type == artifact.TypePolicyMatchReport {
			found = true
		}
	}
	if !found {
		t.Error("no policy_match_report artifact persisted")
	}
}

func TestNewApprovalServiceRejectsBadPolicy(t *testing.T) {
	_, err := NewApprovalService(newTestStore(t), []approval.Policy{
		{ID: "broken", PathPattern: "([", RiskLevel: heal.RiskLow},
	})
	if err == nil {
		t.Fatal("invalid path pattern accepted")
	}
}

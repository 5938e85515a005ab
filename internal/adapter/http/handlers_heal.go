package http

import (
	"net/http"

	"github.com/Strob0t/MissionControl/internal/domain/approval"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
	"github.com/Strob0t/MissionControl/internal/service"
)

// ListProposals handles GET /api/v1/proposals?mission_id=...
func (h *Handlers) ListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.Healing.List(r.Context(), r.URL.Query().Get("mission_id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if proposals == nil {
		proposals = []heal.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

// GetProposal handles GET /api/v1/proposals/{id}
func (h *Handlers) GetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.Healing.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateProposal handles POST /api/v1/proposals. A duplicate failure
// signature returns 200 with the blocked result rather than a new proposal.
func (h *Handlers) CreateProposal(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[heal.ProposeRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Healing.Propose(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	if res.Blocked {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type approverRequest struct {
	Approver string `json:"approver,omitempty"`
}

// ApplyProposal handles POST /api/v1/proposals/{id}/apply. Without an
// approver the policy evaluation decides; an unsanctioned apply parks the
// proposal for review.
func (h *Handlers) ApplyProposal(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[approverRequest](w, r)
	if !ok {
		return
	}
	p, err := h.Healing.Apply(r.Context(), urlParam(r, "id"), req.Approver)
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RejectProposal handles POST /api/v1/proposals/{id}/reject
func (h *Handlers) RejectProposal(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[approverRequest](w, r)
	if !ok {
		return
	}
	p, err := h.Healing.Reject(r.Context(), urlParam(r, "id"), req.Approver)
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// MarkRollback handles POST /api/v1/proposals/{id}/rollback
func (h *Handlers) MarkRollback(w http.ResponseWriter, r *http.Request) {
	p, err := h.Healing.MarkRollbackNeeded(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CompleteRollback handles POST /api/v1/proposals/{id}/rollback/complete
func (h *Handlers) CompleteRollback(w http.ResponseWriter, r *http.Request) {
	p, err := h.Healing.CompleteRollback(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPolicies handles GET /api/v1/policies
func (h *Handlers) ListPolicies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Approvals.Policies())
}

// RevokePolicy handles POST /api/v1/policies/{id}/revoke
func (h *Handlers) RevokePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.Approvals.Revoke(urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReinstatePolicy handles POST /api/v1/policies/{id}/reinstate
func (h *Handlers) ReinstatePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.Approvals.Reinstate(urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "policy not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EvaluateApproval handles POST /api/v1/approvals/evaluate
func (h *Handlers) EvaluateApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[approval.Request](w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Approvals.Evaluate(r.Context(), req))
}

// ApprovalAudit handles GET /api/v1/approvals/audit
func (h *Handlers) ApprovalAudit(w http.ResponseWriter, _ *http.Request) {
	audit := h.Approvals.Audit()
	if audit == nil {
		audit = []service.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, audit)
}

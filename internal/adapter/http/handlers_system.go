package http

import (
	"encoding/json"
	"net/http"

	"github.com/Strob0t/MissionControl/internal/domain/artifact"
	"github.com/Strob0t/MissionControl/internal/domain/signal"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

// ListSignals handles GET /api/v1/signals
func (h *Handlers) ListSignals(w http.ResponseWriter, _ *http.Request) {
	signals := h.Watchdog.Signals()
	if signals == nil {
		signals = []signal.Signal{}
	}
	writeJSON(w, http.StatusOK, signals)
}

// ForceWatchdogTick handles POST /api/v1/watchdog/tick
func (h *Handlers) ForceWatchdogTick(w http.ResponseWriter, r *http.Request) {
	h.Watchdog.ForceTick(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"signals": len(h.Watchdog.Signals())})
}

// RecoverAgent handles POST /api/v1/agents/{id}/recover
func (h *Handlers) RecoverAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Watchdog.RecoverAgent(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queueStateResponse struct {
	Queued  int                     `json:"queued"`
	Active  int                     `json:"active"`
	History []statestore.QueueEntry `json:"history"`
}

// QueueState handles GET /api/v1/queue
func (h *Handlers) QueueState(w http.ResponseWriter, _ *http.Request) {
	queued, active, history := h.Queue.State()
	if history == nil {
		history = []statestore.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, queueStateResponse{Queued: queued, Active: active, History: history})
}

// GetSettings handles GET /api/v1/settings
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateSettings handles PUT /api/v1/settings. This is the arm/disarm
// switch for autonomous healing.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[statestore.Settings](w, r)
	if !ok {
		return
	}
	if !req.RiskThreshold.Valid() {
		writeError(w, http.StatusBadRequest, "risk_threshold must be low, medium, or high")
		return
	}
	if err := h.Store.UpdateSettings(r.Context(), req); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListArtifacts handles GET /api/v1/missions/{id}/artifacts
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.Store.ListArtifacts(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if artifacts == nil {
		artifacts = []artifact.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

// AddArtifact handles POST /api/v1/missions/{id}/artifacts
func (h *Handlers) AddArtifact(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[artifact.Artifact](w, r)
	if !ok {
		return
	}
	req.MissionID = urlParam(r, "id")

	a, err := h.Store.AddArtifact(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	// A fresh artifact may open a task's artifact gate; drop the cached graph.
	h.Graphs.Invalidate(r.Context(), req.MissionID)
	writeJSON(w, http.StatusCreated, a)
}

type appendChunkRequest struct {
	Chunk json.RawMessage `json:"chunk"`
}

// AppendArtifact handles POST /api/v1/artifacts/{id}/chunks. Only
// append-only artifact types accept chunks.
func (h *Handlers) AppendArtifact(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[appendChunkRequest](w, r)
	if !ok {
		return
	}
	if err := h.Store.AppendArtifact(r.Context(), urlParam(r, "id"), req.Chunk); err != nil {
		writeDomainError(w, err, "artifact not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type estimateRequest struct {
	Instruction string `json:"instruction"`
}

// EstimateCost handles POST /api/v1/cost/estimate
func (h *Handlers) EstimateCost(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[estimateRequest](w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Cost.Estimate(req.Instruction))
}

// MissionSpend handles GET /api/v1/missions/{id}/spend
func (h *Handlers) MissionSpend(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"usd": h.Cost.Spend(urlParam(r, "id"))})
}

// Health handles GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.Hub.ConnectionCount(),
	})
}

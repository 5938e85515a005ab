package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.Health)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Missions
		r.Get("/missions", h.ListMissions)
		r.Post("/missions", h.CreateMission)
		r.Get("/missions/{id}", h.GetMission)
		r.Post("/missions/{id}/status", h.UpdateMissionStatus)
		r.Get("/missions/{id}/progress", h.MissionProgress)
		r.Get("/missions/{id}/ready-tasks", h.ReadyTasks)
		r.Get("/missions/{id}/execution-order", h.ExecutionOrder)
		r.Get("/missions/{id}/spend", h.MissionSpend)

		// Tasks (nested under missions, direct access by id)
		r.Get("/missions/{id}/tasks", h.ListMissionTasks)
		r.Post("/missions/{id}/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/transition", h.TransitionTask)

		// Artifacts
		r.Get("/missions/{id}/artifacts", h.ListArtifacts)
		r.Post("/missions/{id}/artifacts", h.AddArtifact)
		r.Post("/artifacts/{id}/chunks", h.AppendArtifact)

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Post("/agents", h.RegisterAgent)
		r.Get("/agents/{id}", h.GetAgent)
		r.Post("/agents/{id}/heartbeat", h.AgentHeartbeat)
		r.Post("/agents/{id}/recover", h.RecoverAgent)

		// Self-heal proposals
		r.Get("/proposals", h.ListProposals)
		r.Post("/proposals", h.CreateProposal)
		r.Get("/proposals/{id}", h.GetProposal)
		r.Post("/proposals/{id}/apply", h.ApplyProposal)
		r.Post("/proposals/{id}/reject", h.RejectProposal)
		r.Post("/proposals/{id}/rollback", h.MarkRollback)
		r.Post("/proposals/{id}/rollback/complete", h.CompleteRollback)

		// Approval policies
		r.Get("/policies", h.ListPolicies)
		r.Post("/policies/{id}/revoke", h.RevokePolicy)
		r.Post("/policies/{id}/reinstate", h.ReinstatePolicy)
		r.Post("/approvals/evaluate", h.EvaluateApproval)
		r.Get("/approvals/audit", h.ApprovalAudit)

		// Watchdog
		r.Get("/signals", h.ListSignals)
		r.Post("/watchdog/tick", h.ForceWatchdogTick)

		// Scheduler and system settings
		r.Get("/queue", h.QueueState)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		// Cost estimation
		r.Post("/cost/estimate", h.EstimateCost)
	})
}

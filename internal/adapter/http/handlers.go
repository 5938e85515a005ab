package http

import (
	"net/http"

	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
	"github.com/Strob0t/MissionControl/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Missions  *service.MissionService
	Queue     *service.QueueService
	Graphs    *service.GraphService
	Agents    *service.AgentService
	Healing   *service.SelfHealService
	Watchdog  *service.WatchdogService
	Approvals *service.ApprovalService
	Cost      *service.CostService
	Store     statestore.Store
	Hub       *ws.Hub
}

// ListMissions handles GET /api/v1/missions
func (h *Handlers) ListMissions(w http.ResponseWriter, r *http.Request) {
	missions, err := h.Missions.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if missions == nil {
		missions = []mission.Mission{}
	}
	writeJSON(w, http.StatusOK, missions)
}

// GetMission handles GET /api/v1/missions/{id}
func (h *Handlers) GetMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.Missions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateMission handles POST /api/v1/missions
func (h *Handlers) CreateMission(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[mission.CreateRequest](w, r)
	if !ok {
		return
	}
	m, err := h.Missions.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "mission creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type missionStatusRequest struct {
	Status mission.Status `json:"status"`
}

// UpdateMissionStatus handles POST /api/v1/missions/{id}/status
func (h *Handlers) UpdateMissionStatus(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[missionStatusRequest](w, r)
	if !ok {
		return
	}
	if err := h.Missions.UpdateStatus(r.Context(), id, req.Status); err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	m, err := h.Missions.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListMissionTasks handles GET /api/v1/missions/{id}/tasks
func (h *Handlers) ListMissionTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Store.ListTasks(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type createTaskRequest struct {
	task.CreateRequest
	HighPriority bool `json:"high_priority,omitempty"`
}

// CreateTask handles POST /api/v1/missions/{id}/tasks. The task is created
// and submitted to the scheduler in one step.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createTaskRequest](w, r)
	if !ok {
		return
	}
	req.MissionID = urlParam(r, "id")

	t, err := h.Queue.AddTask(r.Context(), req.CreateRequest, req.HighPriority)
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Store.GetTask(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type taskTransitionRequest struct {
	Status task.Status `json:"status"`
}

// TransitionTask handles POST /api/v1/tasks/{id}/transition. A closed gate
// is not an error: the result reports the gate code and the task keeps its
// status.
func (h *Handlers) TransitionTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[taskTransitionRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Graphs.Transition(r.Context(), urlParam(r, "id"), req.Status)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReadyTasks handles GET /api/v1/missions/{id}/ready-tasks
func (h *Handlers) ReadyTasks(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Graphs.ReadyTasks(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ready": ids})
}

// ExecutionOrder handles GET /api/v1/missions/{id}/execution-order
func (h *Handlers) ExecutionOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Graphs.ExecutionOrder(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	if order == nil {
		order = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"order": order})
}

// MissionProgress handles GET /api/v1/missions/{id}/progress
func (h *Handlers) MissionProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.Graphs.Progress(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListAgents handles GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Agents.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if agents == nil {
		agents = []agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.Agents.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RegisterAgent handles POST /api/v1/agents
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.Agent](w, r)
	if !ok {
		return
	}
	a, err := h.Agents.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "agent registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// AgentHeartbeat handles POST /api/v1/agents/{id}/heartbeat
func (h *Handlers) AgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.Agents.Heartbeat(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

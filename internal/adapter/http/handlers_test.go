package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/MissionControl/internal/adapter/jsonfile"
	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/config"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/service"
)

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, task.Task) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *Handlers) {
	t.Helper()

	store, err := jsonfile.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	hub := ws.NewHub()
	graphs := service.NewGraphService(store, nil, hub, time.Minute)
	queue := service.NewQueueService(store, graphs, noopExecutor{}, hub, 2, 50)
	healing := service.NewSelfHealService(store, hub, nil, 5)
	approvals, err := service.NewApprovalService(store, nil)
	if err != nil {
		t.Fatalf("approval service: %v", err)
	}
	watchdog := service.NewWatchdogService(store, hub, healing, nil, nil, config.Watchdog{
		TickInterval:     time.Hour,
		AgentStaleAfter:  time.Minute,
		AgentDeadAfter:   2 * time.Minute,
		MissionMaxTime:   time.Hour,
		MissionStuckTime: 30 * time.Minute,
		TaskStuckTime:    30 * time.Minute,
		SignalCooldown:   time.Minute,
		SignalHistory:    20,
	})

	h := &Handlers{
		Missions:  service.NewMissionService(store, hub, nil),
		Queue:     queue,
		Graphs:    graphs,
		Agents:    service.NewAgentService(store, nil, hub),
		Healing:   healing,
		Watchdog:  watchdog,
		Approvals: approvals,
		Cost:      service.NewCostService(config.Cost{TokensPerChar: 0.25, USDPerKiloToken: 1, CallsPerSecond: 100, Burst: 100}, nil),
		Store:     store,
		Hub:       hub,
	}

	r := chi.NewRouter()
	MountRoutes(r, h)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestMissionEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var m mission.Mission
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/missions", mission.CreateRequest{Title: "api mission"}, &m)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", code)
	}

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/missions", mission.CreateRequest{}, nil); code != http.StatusBadRequest {
		t.Errorf("create without title = %d, want 400", code)
	}

	var got mission.Mission
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/missions/"+m.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", code)
	}
	if got.Title != "api mission" {
		t.Errorf("title = %q", got.Title)
	}

	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/missions/no-such-id", nil, nil); code != http.StatusNotFound {
		t.Errorf("get unknown = %d, want 404", code)
	}

	var updated mission.Mission
	code = doJSON(t, http.MethodPost, srv.URL+"/api/v1/missions/"+m.ID+"/status",
		map[string]string{"status": "running"}, &updated)
	if code != http.StatusOK {
		t.Fatalf("status update = %d, want 200", code)
	}
	if updated.Status != mission.StatusRunning {
		t.Errorf("status = %s, want running", updated.Status)
	}
}

func TestTaskEndpointsRunThroughQueue(t *testing.T) {
	srv, h := newTestServer(t)

	var m mission.Mission
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/missions", mission.CreateRequest{Title: "m"}, &m)

	var tk task.Task
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/missions/"+m.ID+"/tasks",
		map[string]any{"title": "build", "task_type": "work"}, &tk)
	if code != http.StatusCreated {
		t.Fatalf("create task = %d, want 201", code)
	}
	h.Queue.Wait()

	var got task.Task
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/"+tk.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get task = %d, want 200", code)
	}
	if got.Status != task.StatusComplete {
		t.Errorf("task status = %s, want complete after queue run", got.Status)
	}

	var progress struct {
		Total    int `json:"total"`
		Complete int `json:"complete"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/missions/"+m.ID+"/progress", nil, &progress); code != http.StatusOK {
		t.Fatalf("progress = %d, want 200", code)
	}
	if progress.Total != 1 || progress.Complete != 1 {
		t.Errorf("progress = %+v, want 1/1", progress)
	}
}

func TestTransitionEndpointReportsClosedGate(t *testing.T) {
	srv, h := newTestServer(t)

	var m mission.Mission
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/missions", mission.CreateRequest{Title: "m"}, &m)

	// Created directly in the store so the queue does not run it.
	dep, err := h.Store.CreateTask(context.Background(), task.CreateRequest{
		MissionID: m.ID, Title: "dep", Type: task.TypeWork,
	})
	if err != nil {
		t.Fatalf("create dep: %v", err)
	}
	blocked, err := h.Store.CreateTask(context.Background(), task.CreateRequest{
		MissionID: m.ID, Title: "blocked", Type: task.TypeWork, Deps: []string{dep.ID},
	})
	if err != nil {
		t.Fatalf("create blocked: %v", err)
	}
	if err := h.Store.UpdateTaskStatus(context.Background(), blocked.ID, task.StatusReady); err != nil {
		t.Fatalf("ready: %v", err)
	}

	var res struct {
		Passed bool   `json:"passed"`
		Code   string `json:"code,omitempty"`
	}
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/"+blocked.ID+"/transition",
		map[string]string{"status": "running"}, &res)
	if code != http.StatusOK {
		t.Fatalf("transition = %d, want 200", code)
	}
	if res.Passed {
		t.Fatal("gate passed with incomplete dependency")
	}
	if res.Code != "DEPS_INCOMPLETE" {
		t.Errorf("gate code = %s, want DEPS_INCOMPLETE", res.Code)
	}

	// An invalid transition is a 400, not a gate result.
	code = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/"+blocked.ID+"/transition",
		map[string]string{"status": "complete"}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("invalid transition = %d, want 400", code)
	}
}

func TestProposalEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var m mission.Mission
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/missions", mission.CreateRequest{Title: "m"}, &m)

	req := heal.ProposeRequest{
		MissionID:        m.ID,
		FailureSignature: "api test failure",
		Diagnosis:        "something broke",
		RiskRating:       heal.RiskLow,
		RollbackPlan:     "undo it",
	}
	var res service.ProposeResult
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/proposals", req, &res)
	if code != http.StatusCreated {
		t.Fatalf("propose = %d, want 201", code)
	}

	// Unarmed apply parks the proposal for review.
	var p heal.Proposal
	code = doJSON(t, http.MethodPost, srv.URL+"/api/v1/proposals/"+res.Proposal.ID+"/apply",
		map[string]string{}, &p)
	if code != http.StatusOK {
		t.Fatalf("apply = %d, want 200", code)
	}
	if p.Status != heal.StatusAwaitingApproval {
		t.Errorf("status = %s, want awaiting_approval", p.Status)
	}

	// Sanctioned apply with an explicit approver goes through.
	code = doJSON(t, http.MethodPost, srv.URL+"/api/v1/proposals/"+res.Proposal.ID+"/apply",
		map[string]string{"approver": "operator"}, &p)
	if code != http.StatusOK {
		t.Fatalf("approved apply = %d, want 200", code)
	}
	if p.Status != heal.StatusApplied {
		t.Errorf("status = %s, want applied", p.Status)
	}

	// Applied proposals cannot be rejected.
	code = doJSON(t, http.MethodPost, srv.URL+"/api/v1/proposals/"+res.Proposal.ID+"/reject",
		map[string]string{"approver": "operator"}, nil)
	if code != http.StatusConflict {
		t.Errorf("reject applied = %d, want 409", code)
	}
}

func TestPolicyAndSettingsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var policies []service.PolicyInfo
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/policies", nil, &policies); code != http.StatusOK {
		t.Fatalf("list policies = %d, want 200", code)
	}
	if len(policies) == 0 {
		t.Fatal("no default policies loaded")
	}

	id := policies[0].Policy.ID
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/policies/"+id+"/revoke", nil, nil); code != http.StatusNoContent {
		t.Errorf("revoke = %d, want 204", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/policies/nope/revoke", nil, nil); code != http.StatusNotFound {
		t.Errorf("revoke unknown = %d, want 404", code)
	}

	code := doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings",
		map[string]any{"armed_mode": true, "risk_threshold": "medium"}, nil)
	if code != http.StatusOK {
		t.Fatalf("update settings = %d, want 200", code)
	}
	code = doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings",
		map[string]any{"armed_mode": true, "risk_threshold": "extreme"}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("bad threshold = %d, want 400", code)
	}

	var settings struct {
		ArmedMode     bool   `json:"armed_mode"`
		RiskThreshold string `json:"risk_threshold"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/settings", nil, &settings); code != http.StatusOK {
		t.Fatalf("get settings = %d, want 200", code)
	}
	if !settings.ArmedMode || settings.RiskThreshold != "medium" {
		t.Errorf("settings = %+v, want armed at medium", settings)
	}
}

func TestWatchdogEndpoints(t *testing.T) {
	srv, h := newTestServer(t)

	a, err := h.Store.RegisterAgent(context.Background(), agent.Agent{
		Name:          "worker",
		LastHeartbeat: time.Now().UTC().Add(-10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("register agent: %v", err)
	}

	var tick map[string]int
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/watchdog/tick", nil, &tick); code != http.StatusOK {
		t.Fatalf("tick = %d, want 200", code)
	}
	if tick["signals"] == 0 {
		t.Error("tick emitted no signals for a dead agent")
	}

	var signals []struct {
		Type string `json:"type"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/signals", nil, &signals); code != http.StatusOK {
		t.Fatalf("signals = %d, want 200", code)
	}
	found := false
	for _, sig := range signals {
		if sig.Type == "agent_dead" {
			found = true
		}
	}
	if !found {
		t.Errorf("signals = %+v, want agent_dead", signals)
	}

	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+a.ID+"/recover", nil, nil); code != http.StatusNoContent {
		t.Errorf("recover = %d, want 204", code)
	}
	cur, err := h.Store.GetAgent(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if cur.Status != agent.StatusRunning {
		t.Errorf("agent status = %s, want running after recover", cur.Status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	var body map[string]any
	if code := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, &body); code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", code)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestQueueStateEndpoint(t *testing.T) {
	srv, h := newTestServer(t)

	var m mission.Mission
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/missions", mission.CreateRequest{Title: "m"}, &m)
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/missions/"+m.ID+"/tasks",
		map[string]any{"title": "work", "task_type": "work"}, nil)
	h.Queue.Wait()

	var state struct {
		Queued  int `json:"queued"`
		Active  int `json:"active"`
		History []struct {
			Status string `json:"status"`
		} `json:"history"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/queue", nil, &state); code != http.StatusOK {
		t.Fatalf("queue = %d, want 200", code)
	}
	if len(state.History) != 1 || state.History[0].Status != "completed" {
		t.Errorf("history = %+v, want one completed entry", state.History)
	}
}

func TestCostEstimateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	var est struct {
		Tokens int     `json:"tokens"`
		USD    float64 `json:"usd"`
	}
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/cost/estimate",
		map[string]string{"instruction": "write the report"}, &est)
	if code != http.StatusOK {
		t.Fatalf("estimate = %d, want 200", code)
	}
	if est.Tokens < 1 {
		t.Errorf("tokens = %d, want at least 1", est.Tokens)
	}
}

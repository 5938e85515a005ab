package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/MissionControl/internal/adapter/postgres"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/artifact"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

// openStore connects to the database named by DATABASE_URL, applies
// migrations, and wipes all tables. Tests are skipped when the variable
// is unset.
func openStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres integration test")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		TRUNCATE missions, tasks, agents, artifacts, proposals, heal_records,
			approvals, snapshots, queue_state CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	_, err = pool.Exec(ctx, `
		UPDATE settings
		SET armed_mode = FALSE, risk_threshold = 'low', circuit_breaker_tripped = FALSE`)
	if err != nil {
		t.Fatalf("reset settings: %v", err)
	}

	return postgres.NewStore(pool)
}

func createMission(t *testing.T, s *postgres.Store) *mission.Mission {
	t.Helper()
	m, err := s.CreateMission(context.Background(), mission.CreateRequest{
		Title: "deploy staging",
		Contract: mission.Contract{
			RiskLevel:     mission.RiskLow,
			ExecutionMode: mission.ModeSupervised,
		},
	})
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	return m
}

func TestMissionLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	m := createMission(t, s)
	if m.Status != mission.StatusQueued {
		t.Errorf("status = %s, want queued", m.Status)
	}
	if m.Version != 1 {
		t.Errorf("version = %d, want 1", m.Version)
	}

	if err := s.UpdateMissionStatus(ctx, m.ID, mission.StatusRunning); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := s.GetMission(ctx, m.ID)
	if err != nil {
		t.Fatalf("get mission: %v", err)
	}
	if got.Status != mission.StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
	if got.StartedAt.IsZero() {
		t.Error("StartedAt not stamped on running transition")
	}
	if got.Contract.RiskLevel != mission.RiskLow {
		t.Errorf("contract risk = %s, want low", got.Contract.RiskLevel)
	}
}

func TestCreateMissionValidation(t *testing.T) {
	s := openStore(t)

	_, err := s.CreateMission(context.Background(), mission.CreateRequest{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestGetMissionNotFound(t *testing.T) {
	s := openStore(t)

	_, err := s.GetMission(context.Background(), "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateTaskLinksMission(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	m := createMission(t, s)
	tk, err := s.CreateTask(ctx, task.CreateRequest{
		MissionID: m.ID,
		Title:     "run tests",
		Type:      task.TypeVerification,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if tk.Status != task.StatusPending {
		t.Errorf("status = %s, want pending", tk.Status)
	}

	got, err := s.GetMission(ctx, m.ID)
	if err != nil {
		t.Fatalf("get mission: %v", err)
	}
	if len(got.TaskIDs) != 1 || got.TaskIDs[0] != tk.ID {
		t.Errorf("mission task_ids = %v, want [%s]", got.TaskIDs, tk.ID)
	}
	if got.Version != m.Version+1 {
		t.Errorf("mission version = %d, want %d", got.Version, m.Version+1)
	}
}

func TestCreateTaskUnknownMission(t *testing.T) {
	s := openStore(t)

	_, err := s.CreateTask(context.Background(), task.CreateRequest{
		MissionID: "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		Title:     "orphan",
		Type:      task.TypeWork,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTaskRetryReset(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	m := createMission(t, s)
	tk, err := s.CreateTask(ctx, task.CreateRequest{
		MissionID: m.ID, Title: "build", Type: task.TypeWork,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	for _, status := range []task.Status{task.StatusRunning, task.StatusFailed} {
		if err := s.UpdateTaskStatus(ctx, tk.ID, status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
	if err := s.UpdateTaskError(ctx, tk.ID, "compile error"); err != nil {
		t.Fatalf("set error: %v", err)
	}

	if err := s.UpdateTaskStatus(ctx, tk.ID, task.StatusPending); err != nil {
		t.Fatalf("reset to pending: %v", err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if got.Error != "" {
		t.Errorf("error = %q, want cleared", got.Error)
	}
	if !got.StartedAt.IsZero() || !got.EndedAt.IsZero() {
		t.Error("timestamps not cleared on retry reset")
	}
}

func TestAgentLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a, err := s.RegisterAgent(ctx, agent.Agent{Name: "coder-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.Status != agent.StatusRunning {
		t.Errorf("status = %s, want running", a.Status)
	}

	if _, err := s.RegisterAgent(ctx, agent.Agent{ID: a.ID}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate register err = %v, want ErrConflict", err)
	}

	if err := s.UpdateAgentStatus(ctx, a.ID, agent.StatusStale); err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	if err := s.UpdateAgentHeartbeat(ctx, a.ID, time.Now().UTC()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	got, err := s.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Status != agent.StatusRunning {
		t.Errorf("status after heartbeat = %s, want running", got.Status)
	}
}

func TestArtifactMutability(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	m := createMission(t, s)

	log, err := s.AddArtifact(ctx, artifact.Artifact{
		Type:       artifact.TypeLog,
		MissionID:  m.ID,
		Provenance: artifact.Provenance{Producer: "scheduler"},
	})
	if err != nil {
		t.Fatalf("add log artifact: %v", err)
	}
	for _, chunk := range []string{`{"line":"first"}`, `{"line":"second"}`} {
		if err := s.AppendArtifact(ctx, log.ID, []byte(chunk)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	report, err := s.AddArtifact(ctx, artifact.Artifact{
		Type:       artifact.TypeReport,
		MissionID:  m.ID,
		Provenance: artifact.Provenance{Producer: "scheduler"},
	})
	if err != nil {
		t.Fatalf("add report artifact: %v", err)
	}
	if err := s.AppendArtifact(ctx, report.ID, []byte(`{}`)); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("append to immutable err = %v, want ErrConflict", err)
	}

	_, err = s.AddArtifact(ctx, artifact.Artifact{
		Type:       artifact.Type("hologram"),
		MissionID:  m.ID,
		Provenance: artifact.Provenance{Producer: "scheduler"},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unknown type err = %v, want ErrValidation", err)
	}
}

func TestArtifactTypesByTask(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	m := createMission(t, s)
	tk, err := s.CreateTask(ctx, task.CreateRequest{
		MissionID: m.ID, Title: "verify", Type: task.TypeVerification,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	for _, typ := range []artifact.Type{artifact.TypeTestReport, artifact.TypeLog, artifact.TypeLog} {
		if _, err := s.AddArtifact(ctx, artifact.Artifact{
			Type:       typ,
			MissionID:  m.ID,
			TaskID:     tk.ID,
			Provenance: artifact.Provenance{Producer: "agent-1"},
		}); err != nil {
			t.Fatalf("add artifact: %v", err)
		}
	}

	counts, err := s.ArtifactTypesByTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("artifact types: %v", err)
	}
	if counts["log"] != 2 || counts["test_report"] != 1 {
		t.Errorf("counts = %v, want log:2 test_report:1", counts)
	}
}

func TestProposalAndHealRecord(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	m := createMission(t, s)
	key := heal.Key("agent_dead:a1")
	p, err := s.CreateProposal(ctx, heal.Proposal{
		MissionID:        m.ID,
		SelfHealKey:      key,
		FailureSignature: "agent_dead:a1",
		Diagnosis:        "agent stopped heartbeating",
		RiskRating:       heal.RiskLow,
		RollbackPlan:     "restart the previous agent",
		Status:           heal.StatusPending,
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	p.Status = heal.StatusApplied
	p.Approver = "operator"
	if err := s.UpdateProposal(ctx, *p); err != nil {
		t.Fatalf("update proposal: %v", err)
	}

	got, err := s.GetProposal(ctx, p.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if got.Status != heal.StatusApplied || got.Approver != "operator" {
		t.Errorf("proposal = %+v, want applied by operator", got)
	}

	rec := heal.Record{Key: key, ProposalID: p.ID, Outcome: heal.StatusApplied}
	if err := s.PutHealRecord(ctx, rec); err != nil {
		t.Fatalf("put heal record: %v", err)
	}
	// Upsert overwrites the outcome for the same key.
	rec.Outcome = heal.StatusRolledBack
	if err := s.PutHealRecord(ctx, rec); err != nil {
		t.Fatalf("put heal record again: %v", err)
	}

	gotRec, err := s.GetHealRecord(ctx, key)
	if err != nil {
		t.Fatalf("get heal record: %v", err)
	}
	if gotRec.Outcome != heal.StatusRolledBack {
		t.Errorf("outcome = %s, want rolled_back", gotRec.Outcome)
	}
}

func TestQueueStateRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.LoadQueueState(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("empty load err = %v, want ErrNotFound", err)
	}

	state := statestore.QueueState{
		History: []statestore.QueueEntry{
			{TaskID: "t1", Status: "completed", EndTime: time.Now().UTC()},
			{TaskID: "t2", Status: "failed", Error: "timeout", EndTime: time.Now().UTC()},
		},
	}
	if err := s.SaveQueueState(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadQueueState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.History) != 2 || got.History[1].Error != "timeout" {
		t.Errorf("history = %+v", got.History)
	}
	if got.SavedAt.IsZero() {
		t.Error("SavedAt not stamped")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.ArmedMode {
		t.Error("default armed_mode = true, want disarmed")
	}
	if got.RiskThreshold != heal.RiskLow {
		t.Errorf("default threshold = %s, want low", got.RiskThreshold)
	}

	if err := s.UpdateSettings(ctx, statestore.Settings{
		ArmedMode:     true,
		RiskThreshold: heal.RiskMedium,
	}); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	got, err = s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if !got.ArmedMode || got.RiskThreshold != heal.RiskMedium {
		t.Errorf("settings = %+v, want armed at medium", got)
	}
}

func TestCreateSnapshot(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	createMission(t, s)
	id, err := s.CreateSnapshot(ctx, "before apply")
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if id == "" {
		t.Error("snapshot id is empty")
	}
}

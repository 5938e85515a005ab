package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/config"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/artifact"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
	"github.com/Strob0t/MissionControl/internal/domain/signal"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/broadcast"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
	"github.com/Strob0t/MissionControl/internal/resilience"
)

const watchdogProducer = "watchdog"

// WatchdogService runs periodic health sweeps over agents, missions, tasks,
// and the system itself, emitting signals into a bounded history and
// triggering self-heal proposals for conditions it can act on. Agent
// signals re-emit every tick; mission, task, and system signals are
// suppressed inside the configured cooldown window.
type WatchdogService struct {
	store   statestore.Store
	hub     broadcast.Broadcaster
	healer  *SelfHealService
	breaker *resilience.Breaker
	metrics *otel.Metrics
	cfg     config.Watchdog
	now     func() time.Time

	mu           sync.Mutex
	signals      []signal.Signal
	lastEmit     map[string]time.Time
	healAttempts map[string]int
	stop         chan struct{}
	done         chan struct{}
}

// NewWatchdogService creates a WatchdogService. Healer, breaker, and
// metrics may be nil.
func NewWatchdogService(store statestore.Store, hub broadcast.Broadcaster, healer *SelfHealService, breaker *resilience.Breaker, metrics *otel.Metrics, cfg config.Watchdog) *WatchdogService {
	return &WatchdogService{
		store:        store,
		hub:          hub,
		healer:       healer,
		breaker:      breaker,
		metrics:      metrics,
		cfg:          cfg,
		now:          time.Now,
		lastEmit:     make(map[string]time.Time),
		healAttempts: make(map[string]int),
	}
}

// Start launches the tick loop. Stop terminates it.
func (s *WatchdogService) Start(ctx context.Context) {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("watchdog started", "tick_interval", s.cfg.TickInterval)
}

// Stop terminates the tick loop and waits for it to exit.
func (s *WatchdogService) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	slog.Info("watchdog stopped")
}

// ForceTick runs one sweep immediately. Exposed for operators and tests.
func (s *WatchdogService) ForceTick(ctx context.Context) {
	s.tick(ctx)
}

func (s *WatchdogService) tick(ctx context.Context) {
	ctx, span := otel.StartWatchdogTickSpan(ctx)
	defer span.End()

	s.checkAgents(ctx)
	s.checkMissions(ctx)
	s.checkTasks(ctx)
	s.checkSystem(ctx)
}

func (s *WatchdogService) checkAgents(ctx context.Context) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		slog.Error("watchdog list agents", "error", err)
		return
	}

	now := s.now().UTC()
	for i := range agents {
		a := &agents[i]
		silence := now.Sub(a.LastHeartbeat)

		switch {
		case silence >= s.cfg.AgentDeadAfter:
			// Dead agents re-emit every tick until recovered or removed.
			s.emit(ctx, signal.Signal{
				Type:       signal.TypeAgentDead,
				EntityType: signal.EntityAgent,
				EntityID:   a.ID,
				MissionID:  a.MissionID,
				Severity:   signal.SeverityCritical,
				Details:    map[string]string{"silence": silence.String()},
			})
			if a.Status != agent.StatusDead {
				s.setAgentStatus(ctx, a, agent.StatusDead)
			}
			s.triggerAgentHeal(ctx, a)
		case silence >= s.cfg.AgentStaleAfter:
			s.emit(ctx, signal.Signal{
				Type:       signal.TypeAgentStale,
				EntityType: signal.EntityAgent,
				EntityID:   a.ID,
				MissionID:  a.MissionID,
				Severity:   signal.SeverityWarning,
				Details:    map[string]string{"silence": silence.String()},
			})
			if a.Status == agent.StatusRunning {
				s.setAgentStatus(ctx, a, agent.StatusStale)
			}
		}
	}
}

func (s *WatchdogService) setAgentStatus(ctx context.Context, a *agent.Agent, status agent.Status) {
	if err := s.store.UpdateAgentStatus(ctx, a.ID, status); err != nil {
		slog.Error("watchdog update agent status", "agent_id", a.ID, "error", err)
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventAgentStatus, ws.AgentStatusEvent{
		AgentID:   a.ID,
		MissionID: a.MissionID,
		Status:    string(status),
	})
}

// triggerAgentHeal proposes a restart for a dead agent, capped per agent.
// Agents without a mission cannot be healed through a proposal.
func (s *WatchdogService) triggerAgentHeal(ctx context.Context, a *agent.Agent) {
	if !s.cfg.AutoHeal || s.healer == nil || a.MissionID == "" {
		return
	}
	if !s.takeHealAttempt("agent:" + a.ID) {
		return
	}

	s.propose(ctx, heal.ProposeRequest{
		MissionID:        a.MissionID,
		TaskID:           a.TaskID,
		FailureSignature: "agent_dead:" + a.ID,
		Diagnosis:        fmt.Sprintf("agent %s stopped heartbeating", a.ID),
		ProposedCommands: []string{"restart agent " + a.ID},
		RiskRating:       heal.RiskLow,
		RollbackPlan:     "mark the replacement agent dead and requeue its task",
	})
}

func (s *WatchdogService) checkMissions(ctx context.Context) {
	missions, err := s.store.ListMissions(ctx)
	if err != nil {
		slog.Error("watchdog list missions", "error", err)
		return
	}

	now := s.now().UTC()
	for i := range missions {
		m := &missions[i]
		if m.Status.IsTerminal() || m.StartedAt.IsZero() {
			continue
		}

		if age := now.Sub(m.StartedAt); age >= s.cfg.MissionMaxTime {
			emitted := s.emit(ctx, signal.Signal{
				Type:       signal.TypeMissionTimeout,
				EntityType: signal.EntityMission,
				EntityID:   m.ID,
				MissionID:  m.ID,
				Severity:   signal.SeverityCritical,
				Details:    map[string]string{"age": age.String()},
			})
			if emitted && m.Status != mission.StatusBlocked {
				if err := s.store.UpdateMissionStatus(ctx, m.ID, mission.StatusBlocked); err != nil {
					slog.Error("watchdog block mission", "mission_id", m.ID, "error", err)
				} else {
					s.hub.BroadcastEvent(ctx, ws.EventMissionStatus, ws.MissionStatusEvent{
						MissionID: m.ID,
						Status:    string(mission.StatusBlocked),
					})
				}
			}
			continue
		}

		if m.Status == mission.StatusRunning && now.Sub(m.UpdatedAt) >= s.cfg.MissionStuckTime {
			if stuck := s.missionStuck(ctx, m.ID); stuck {
				s.emit(ctx, signal.Signal{
					Type:       signal.TypeMissionStuck,
					EntityType: signal.EntityMission,
					EntityID:   m.ID,
					MissionID:  m.ID,
					Severity:   signal.SeverityWarning,
				})
			}
		}
	}
}

// missionStuck reports whether the mission has pending work but nothing
// running.
func (s *WatchdogService) missionStuck(ctx context.Context, missionID string) bool {
	tasks, err := s.store.ListTasks(ctx, missionID)
	if err != nil {
		slog.Error("watchdog list tasks", "mission_id", missionID, "error", err)
		return false
	}
	pending, running := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending, task.StatusReady, task.StatusQueued:
			pending++
		case task.StatusRunning:
			running++
		}
	}
	return pending > 0 && running == 0
}

func (s *WatchdogService) checkTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx, "")
	if err != nil {
		slog.Error("watchdog list all tasks", "error", err)
		return
	}

	now := s.now().UTC()
	for i := range tasks {
		t := &tasks[i]
		if t.Status != task.StatusRunning || t.StartedAt.IsZero() {
			continue
		}
		age := now.Sub(t.StartedAt)
		if age < s.cfg.TaskStuckTime {
			continue
		}

		emitted := s.emit(ctx, signal.Signal{
			Type:       signal.TypeTaskStuck,
			EntityType: signal.EntityTask,
			EntityID:   t.ID,
			MissionID:  t.MissionID,
			Severity:   signal.SeverityWarning,
			Details:    map[string]string{"running_for": age.String()},
		})
		if emitted && s.cfg.AutoHeal && s.healer != nil && s.takeHealAttempt("task:"+t.ID) {
			s.propose(ctx, heal.ProposeRequest{
				MissionID:        t.MissionID,
				TaskID:           t.ID,
				FailureSignature: "task_stuck:" + t.ID,
				Diagnosis:        fmt.Sprintf("task %s has been running for %s", t.ID, age),
				ProposedCommands: []string{"interrupt task " + t.ID, "requeue task " + t.ID},
				RiskRating:       heal.RiskMedium,
				RollbackPlan:     "let the original run continue",
			})
		}
	}
}

func (s *WatchdogService) checkSystem(ctx context.Context) {
	if s.breaker != nil && s.breaker.State() == resilience.StateOpen {
		s.emit(ctx, signal.Signal{
			Type:       signal.TypeCircuitBreakerTrip,
			EntityType: signal.EntitySystem,
			EntityID:   "dispatch-breaker",
			Severity:   signal.SeverityCritical,
			Details:    map[string]string{"failures": fmt.Sprintf("%d", s.breaker.Failures())},
		})
	}

	missions, err := s.store.ListMissions(ctx)
	if err != nil {
		slog.Error("watchdog list missions for failure rate", "error", err)
		return
	}
	cutoff := s.now().UTC().Add(-time.Hour)
	recent, failed := 0, 0
	for _, m := range missions {
		if m.UpdatedAt.Before(cutoff) {
			continue
		}
		recent++
		if m.Status == mission.StatusFailed {
			failed++
		}
	}
	if recent >= 3 && failed*2 > recent {
		s.emit(ctx, signal.Signal{
			Type:       signal.TypeHighFailureRate,
			EntityType: signal.EntitySystem,
			EntityID:   "missions",
			Severity:   signal.SeverityCritical,
			Details: map[string]string{
				"recent": fmt.Sprintf("%d", recent),
				"failed": fmt.Sprintf("%d", failed),
			},
		})
	}
}

// RecoverAgent resets a dead or stale agent back to running, clears its heal
// attempt counter, and announces the recovery.
func (s *WatchdogService) RecoverAgent(ctx context.Context, agentID string) error {
	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAgentHeartbeat(ctx, agentID, s.now().UTC()); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.healAttempts, "agent:"+agentID)
	s.mu.Unlock()

	s.emit(ctx, signal.Signal{
		Type:       signal.TypeAgentRecovered,
		EntityType: signal.EntityAgent,
		EntityID:   agentID,
		MissionID:  a.MissionID,
		Severity:   signal.SeverityInfo,
	})
	s.hub.BroadcastEvent(ctx, ws.EventAgentStatus, ws.AgentStatusEvent{
		AgentID:   agentID,
		MissionID: a.MissionID,
		Status:    string(agent.StatusRunning),
	})
	slog.Info("agent recovered", "agent_id", agentID)
	return nil
}

// Signals returns a copy of the signal history, most recent last.
func (s *WatchdogService) Signals() []signal.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]signal.Signal(nil), s.signals...)
}

// emit records a signal unless it is cooled down. Agent signals never cool
// down; every other entity type is suppressed for the cooldown window after
// an identical signal. Reports whether the signal was actually emitted.
func (s *WatchdogService) emit(ctx context.Context, sig signal.Signal) bool {
	now := s.now().UTC()
	sig.Timestamp = now

	s.mu.Lock()
	if sig.EntityType != signal.EntityAgent {
		key := string(sig.Type) + ":" + sig.EntityID
		if last, ok := s.lastEmit[key]; ok && now.Sub(last) < s.cfg.SignalCooldown {
			s.mu.Unlock()
			return false
		}
		s.lastEmit[key] = now
	}
	s.signals = append(s.signals, sig)
	if len(s.signals) > s.cfg.SignalHistory {
		s.signals = s.signals[len(s.signals)-s.cfg.SignalHistory:]
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SignalsEmitted.Add(ctx, 1)
	}
	s.hub.BroadcastEvent(ctx, ws.EventSignalEmitted, ws.SignalEmittedEvent{
		SignalID:   string(sig.Type) + ":" + sig.EntityID,
		Type:       string(sig.Type),
		Severity:   string(sig.Severity),
		EntityType: string(sig.EntityType),
		EntityID:   sig.EntityID,
	})

	if sig.MissionID != "" {
		s.persistSignal(ctx, sig)
	}

	slog.Warn("watchdog signal", "type", sig.Type, "severity", sig.Severity,
		"entity_type", sig.EntityType, "entity_id", sig.EntityID)
	return true
}

func (s *WatchdogService) persistSignal(ctx context.Context, sig signal.Signal) {
	data, err := json.Marshal(sig)
	if err != nil {
		slog.Error("marshal signal", "error", err)
		return
	}
	if _, err := s.store.AddArtifact(ctx, artifact.Artifact{
		Type:       artifact.TypeSignalReport,
		MissionID:  sig.MissionID,
		TaskID:     taskIDForSignal(sig),
		Payload:    data,
		Provenance: artifact.Provenance{Producer: watchdogProducer},
	}); err != nil {
		slog.Error("persist signal report", "type", sig.Type, "error", err)
	}
}

func taskIDForSignal(sig signal.Signal) string {
	if sig.EntityType == signal.EntityTask {
		return sig.EntityID
	}
	return ""
}

// takeHealAttempt consumes one heal attempt for the entity key, refusing
// once the cap is reached.
func (s *WatchdogService) takeHealAttempt(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healAttempts[key] >= s.cfg.HealAttemptCap {
		return false
	}
	s.healAttempts[key]++
	return true
}

// propose files a self-heal proposal and immediately attempts an apply; an
// unsanctioned apply parks the proposal for review instead.
func (s *WatchdogService) propose(ctx context.Context, req heal.ProposeRequest) {
	res, err := s.healer.Propose(ctx, req)
	if err != nil {
		slog.Error("watchdog heal propose", "signature", req.FailureSignature, "error", err)
		return
	}
	if res.Blocked {
		return
	}
	if _, err := s.healer.Apply(ctx, res.Proposal.ID, ""); err != nil {
		slog.Error("watchdog heal apply", "proposal_id", res.Proposal.ID, "error", err)
	}
}

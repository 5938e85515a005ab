package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/graph"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/broadcast"
	"github.com/Strob0t/MissionControl/internal/port/cache"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

// cachedGraph is the serialized form of a built graph. The mission version
// acts as a watermark: a cached entry from an older mission version is
// discarded on read.
type cachedGraph struct {
	MissionVersion int         `json:"mission_version"`
	Tasks          []task.Task `json:"tasks"`
}

// GraphService loads and caches per-mission task graphs and enforces the
// task status state machine, including gate checks, on every transition.
type GraphService struct {
	store    statestore.Store
	cache    cache.Cache
	hub      broadcast.Broadcaster
	graphTTL time.Duration
}

// NewGraphService creates a GraphService. The cache may be nil, in which
// case every load rebuilds from the store.
func NewGraphService(store statestore.Store, c cache.Cache, hub broadcast.Broadcaster, graphTTL time.Duration) *GraphService {
	return &GraphService{store: store, cache: c, hub: hub, graphTTL: graphTTL}
}

func graphCacheKey(missionID string) string {
	return "graph:" + missionID
}

// Load returns the dependency graph for a mission, from cache when the
// cached entry matches the mission's current version.
func (s *GraphService) Load(ctx context.Context, missionID string) (*graph.Graph, error) {
	m, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, graphCacheKey(missionID)); err == nil && ok {
			var entry cachedGraph
			if err := json.Unmarshal(data, &entry); err == nil && entry.MissionVersion == m.Version {
				return graph.Build(missionID, entry.Tasks)
			}
		}
	}

	tasks, err := s.store.ListTasks(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for mission %s: %w", missionID, err)
	}

	g, err := graph.Build(missionID, tasks)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		data, err := json.Marshal(cachedGraph{MissionVersion: m.Version, Tasks: tasks})
		if err == nil {
			if err := s.cache.Set(ctx, graphCacheKey(missionID), data, s.graphTTL); err != nil {
				slog.Warn("graph cache set failed", "mission_id", missionID, "error", err)
			}
		}
	}
	return g, nil
}

// Invalidate drops the cached graph for a mission. Called after any task
// mutation.
func (s *GraphService) Invalidate(ctx context.Context, missionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, graphCacheKey(missionID)); err != nil {
		slog.Warn("graph cache invalidate failed", "mission_id", missionID, "error", err)
	}
}

// ExecutionOrder returns a full topological order for the mission's tasks.
func (s *GraphService) ExecutionOrder(ctx context.Context, missionID string) ([]string, error) {
	g, err := s.Load(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return g.ExecutionOrder()
}

// ReadyTasks returns the ids of tasks whose type gate currently passes.
func (s *GraphService) ReadyTasks(ctx context.Context, missionID string) ([]string, error) {
	g, err := s.Load(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return g.ReadyTasks(), nil
}

// Progress returns aggregate task counts for the mission.
func (s *GraphService) Progress(ctx context.Context, missionID string) (*graph.Progress, error) {
	g, err := s.Load(ctx, missionID)
	if err != nil {
		return nil, err
	}
	p := g.Progress()
	return &p, nil
}

// CheckGate evaluates the type gate for one task without transitioning it.
func (s *GraphService) CheckGate(ctx context.Context, taskID string) (*graph.GateResult, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	g, err := s.Load(ctx, t.MissionID)
	if err != nil {
		return nil, err
	}
	res := g.CheckTaskGate(taskID)
	return &res, nil
}

// Transition moves a task to a new status. The transition table is checked
// first; a move to running additionally requires the type gate, and a move
// to complete requires the artifact gate. Gate failures are returned as
// data so callers can report what is blocking.
func (s *GraphService) Transition(ctx context.Context, taskID string, to task.Status) (*graph.GateResult, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if err := task.ValidateTransition(t.Status, to); err != nil {
		return nil, fmt.Errorf("task %s: %w: %w", taskID, domain.ErrValidation, err)
	}

	switch to {
	case task.StatusRunning:
		g, err := s.Load(ctx, t.MissionID)
		if err != nil {
			return nil, err
		}
		if res := g.CheckTaskGate(taskID); !res.Passed {
			return &res, nil
		}
	case task.StatusComplete:
		g, err := s.Load(ctx, t.MissionID)
		if err != nil {
			return nil, err
		}
		types, err := s.store.ArtifactTypesByTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("artifact types for task %s: %w", taskID, err)
		}
		if res := g.CheckArtifactGate(taskID, types); !res.Passed {
			return &res, nil
		}
	}

	if err := s.store.UpdateTaskStatus(ctx, taskID, to); err != nil {
		return nil, err
	}
	s.Invalidate(ctx, t.MissionID)

	s.hub.BroadcastEvent(ctx, ws.EventTaskStatus, ws.TaskStatusEvent{
		TaskID:    taskID,
		MissionID: t.MissionID,
		Status:    string(to),
		AgentID:   t.AgentID,
	})
	slog.Info("task transitioned", "task_id", taskID, "from", t.Status, "to", to)

	res := graph.GateResult{Passed: true}
	return &res, nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/broadcast"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

// Executor runs a task to completion. The production executor dispatches
// over NATS and waits for the agent's result; tests substitute fakes.
type Executor interface {
	Execute(ctx context.Context, t task.Task) error
}

// queueItem is one pending submission.
type queueItem struct {
	TaskID    string
	MissionID string
	High      bool
	Diagnosis bool
	Enqueued  time.Time
}

// QueueService is the mission scheduler: a bounded-concurrency task queue
// with a persisted completion history. Tasks are promoted when their type
// gate passes, high priority first, FIFO within a priority band. In-flight
// tasks are lost on restart; only the history survives.
type QueueService struct {
	store    statestore.Store
	graphs   *GraphService
	exec     Executor
	hub      broadcast.Broadcaster
	maxConc  int
	histCap  int
	now      func() time.Time

	mu      sync.Mutex
	queue   []queueItem
	active  map[string]queueItem
	history []statestore.QueueEntry
	wg      sync.WaitGroup
}

// NewQueueService creates a QueueService.
func NewQueueService(store statestore.Store, graphs *GraphService, exec Executor, hub broadcast.Broadcaster, maxConcurrency, historyLimit int) *QueueService {
	return &QueueService{
		store:   store,
		graphs:  graphs,
		exec:    exec,
		hub:     hub,
		maxConc: maxConcurrency,
		histCap: historyLimit,
		now:     time.Now,
		active:  make(map[string]queueItem),
	}
}

// RestoreHistory reloads the persisted completion history. Called once at
// startup; a missing state is not an error.
func (s *QueueService) RestoreHistory(ctx context.Context) error {
	state, err := s.store.LoadQueueState(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.history = state.History
	s.mu.Unlock()
	slog.Info("queue history restored", "entries", len(state.History))
	return nil
}

// AddTask persists a new task and enqueues it for execution. High-priority
// submissions are promoted before normal ones.
func (s *QueueService) AddTask(ctx context.Context, req task.CreateRequest, highPriority bool) (*task.Task, error) {
	t, err := s.store.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}
	s.graphs.Invalidate(ctx, t.MissionID)

	s.enqueue(queueItem{
		TaskID:    t.ID,
		MissionID: t.MissionID,
		High:      highPriority,
		Enqueued:  s.now().UTC(),
	})
	s.broadcastState(ctx)
	s.Pass(ctx)
	return t, nil
}

func (s *QueueService) enqueue(item queueItem) {
	s.mu.Lock()
	s.queue = append(s.queue, item)
	s.mu.Unlock()
}

// Pass promotes as many queued tasks as the concurrency bound allows.
// Each promoted task moves pending -> ready -> running through the graph
// service, so gate checks apply; tasks whose gate is closed stay queued and
// are re-examined on the next pass.
func (s *QueueService) Pass(ctx context.Context) {
	tried := make(map[string]bool)
	for {
		s.mu.Lock()
		if len(s.active) >= s.maxConc {
			s.mu.Unlock()
			return
		}
		idx := s.nextLocked(tried)
		if idx < 0 {
			s.mu.Unlock()
			return
		}
		item := s.queue[idx]
		tried[item.TaskID] = true
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.active[item.TaskID] = item
		s.mu.Unlock()

		if !s.promote(ctx, item) {
			// Gate closed or transition refused: requeue and move on to
			// the next candidate.
			s.mu.Lock()
			delete(s.active, item.TaskID)
			s.queue = append(s.queue, item)
			s.mu.Unlock()
			continue
		}

		s.broadcastState(ctx)
		s.wg.Add(1)
		go s.run(ctx, item)
	}
}

// nextLocked picks the next untried item: high priority first, FIFO within
// each band. Caller holds s.mu.
func (s *QueueService) nextLocked(tried map[string]bool) int {
	for _, wantHigh := range []bool{true, false} {
		for i, item := range s.queue {
			if item.High == wantHigh && !tried[item.TaskID] {
				return i
			}
		}
	}
	return -1
}

// promote walks the task through pending -> ready -> running after checking
// its type gate. Returns false when the gate is still closed.
func (s *QueueService) promote(ctx context.Context, item queueItem) bool {
	res, err := s.graphs.CheckGate(ctx, item.TaskID)
	if err != nil {
		slog.Warn("task gate check failed", "task_id", item.TaskID, "error", err)
		return false
	}
	if !res.Passed {
		slog.Debug("task gate closed", "task_id", item.TaskID, "code", res.Code)
		return false
	}

	t, err := s.store.GetTask(ctx, item.TaskID)
	if err != nil {
		slog.Warn("task promotion failed", "task_id", item.TaskID, "error", err)
		return false
	}
	if t.Status == task.StatusPending {
		if _, err := s.graphs.Transition(ctx, item.TaskID, task.StatusReady); err != nil {
			slog.Warn("task promotion failed", "task_id", item.TaskID, "error", err)
			return false
		}
	}
	res2, err := s.graphs.Transition(ctx, item.TaskID, task.StatusRunning)
	if err != nil {
		slog.Warn("task start failed", "task_id", item.TaskID, "error", err)
		return false
	}
	return res2.Passed
}

func (s *QueueService) run(ctx context.Context, item queueItem) {
	defer s.wg.Done()

	t, err := s.store.GetTask(ctx, item.TaskID)
	if err != nil {
		slog.Error("load task for execution", "task_id", item.TaskID, "error", err)
		s.finish(ctx, item, fmt.Errorf("load task: %w", err))
		return
	}

	s.finish(ctx, item, s.exec.Execute(ctx, *t))
}

// finish records the outcome, persists the history ring, and triggers the
// next pass. A failed non-diagnosis task additionally enqueues a
// high-priority diagnosis task for the same mission.
func (s *QueueService) finish(ctx context.Context, item queueItem, execErr error) {
	entry := statestore.QueueEntry{
		TaskID:    item.TaskID,
		MissionID: item.MissionID,
		Status:    "completed",
		EndTime:   s.now().UTC(),
	}

	if execErr != nil {
		entry.Status = "failed"
		entry.Error = execErr.Error()
		if err := s.store.UpdateTaskError(ctx, item.TaskID, execErr.Error()); err != nil {
			slog.Error("record task error", "task_id", item.TaskID, "error", err)
		}
		if _, err := s.graphs.Transition(ctx, item.TaskID, task.StatusFailed); err != nil {
			slog.Error("mark task failed", "task_id", item.TaskID, "error", err)
		}
	} else {
		if res, err := s.graphs.Transition(ctx, item.TaskID, task.StatusComplete); err != nil {
			slog.Error("mark task complete", "task_id", item.TaskID, "error", err)
		} else if !res.Passed {
			// Required artifacts missing: the work ran but cannot close.
			entry.Status = "failed"
			entry.Error = "artifact gate failed: " + res.Code
			if _, err := s.graphs.Transition(ctx, item.TaskID, task.StatusFailed); err != nil {
				slog.Error("mark task failed", "task_id", item.TaskID, "error", err)
			}
		}
	}

	s.mu.Lock()
	delete(s.active, item.TaskID)
	s.history = append(s.history, entry)
	if len(s.history) > s.histCap {
		s.history = s.history[len(s.history)-s.histCap:]
	}
	hist := append([]statestore.QueueEntry(nil), s.history...)
	s.mu.Unlock()

	if err := s.store.SaveQueueState(ctx, statestore.QueueState{History: hist}); err != nil {
		slog.Error("persist queue state", "error", err)
	}

	if entry.Status == "failed" && !item.Diagnosis {
		s.intervene(ctx, item, entry.Error)
	}

	s.broadcastState(ctx)
	s.Pass(ctx)
}

// intervene enqueues a high-priority diagnosis task after a failure.
// Diagnosis tasks never spawn further diagnosis tasks.
func (s *QueueService) intervene(ctx context.Context, failed queueItem, errMsg string) {
	t, err := s.store.CreateTask(ctx, task.CreateRequest{
		MissionID:    failed.MissionID,
		Title:        "diagnose failure of task " + failed.TaskID,
		Instructions: "Investigate the failure and report root cause. Error: " + errMsg,
		Type:         task.TypeWork,
	})
	if err != nil {
		slog.Error("enqueue diagnosis task", "failed_task_id", failed.TaskID, "error", err)
		return
	}
	s.graphs.Invalidate(ctx, failed.MissionID)
	s.enqueue(queueItem{
		TaskID:    t.ID,
		MissionID: t.MissionID,
		High:      true,
		Diagnosis: true,
		Enqueued:  s.now().UTC(),
	})
	slog.Info("diagnosis task enqueued", "task_id", t.ID, "failed_task_id", failed.TaskID)
}

// State returns current queue depth, active count, and a copy of the history.
func (s *QueueService) State() (queued, active int, history []statestore.QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), len(s.active), append([]statestore.QueueEntry(nil), s.history...)
}

// Wait blocks until all in-flight executions have finished.
func (s *QueueService) Wait() {
	s.wg.Wait()
}

func (s *QueueService) broadcastState(ctx context.Context) {
	s.mu.Lock()
	queued, active := len(s.queue), len(s.active)
	s.mu.Unlock()
	s.hub.BroadcastEvent(ctx, ws.EventQueueState, ws.QueueStateEvent{
		Queued: queued,
		Active: active,
	})
}

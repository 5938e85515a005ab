package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/messagequeue"
	"github.com/Strob0t/MissionControl/internal/resilience"
)

// ErrDispatchTimeout is returned when no agent reports a result in time.
var ErrDispatchTimeout = errors.New("dispatch timed out waiting for agent result")

// DispatcherService executes tasks by publishing instructions to the agent
// queue and waiting for the correlated result. Concurrency is bounded by a
// weighted semaphore on top of the scheduler's own limit, and all sends go
// through the circuit breaker so a broken agent plane trips fast.
type DispatcherService struct {
	queue   messagequeue.Queue
	breaker *resilience.Breaker
	cost    *CostService
	metrics *otel.Metrics
	sem     *semaphore.Weighted
	timeout time.Duration
	waiter  *syncWaiter[messagequeue.TaskResultPayload]
}

// NewDispatcherService creates a DispatcherService. Cost and metrics may be
// nil.
func NewDispatcherService(queue messagequeue.Queue, breaker *resilience.Breaker, cost *CostService, metrics *otel.Metrics, maxInFlight int64, timeout time.Duration) *DispatcherService {
	return &DispatcherService{
		queue:   queue,
		breaker: breaker,
		cost:    cost,
		metrics: metrics,
		sem:     semaphore.NewWeighted(maxInFlight),
		timeout: timeout,
		waiter:  newSyncWaiter[messagequeue.TaskResultPayload]("task-dispatch"),
	}
}

// Start subscribes to the task result subject so agent results reach their
// waiting dispatch calls. The returned cancel func stops the subscription.
func (s *DispatcherService) Start(ctx context.Context) (func(), error) {
	return s.queue.Subscribe(ctx, messagequeue.SubjectTaskResult, func(ctx context.Context, _ string, data []byte) error {
		var payload messagequeue.TaskResultPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decode task result: %w", err)
		}
		s.waiter.deliver(payload.RequestID, &payload)
		return nil
	})
}

// Execute dispatches one task and blocks until the agent reports a result,
// the timeout elapses, or the context is canceled.
func (s *DispatcherService) Execute(ctx context.Context, t task.Task) error {
	if s.cost != nil {
		allowed, reason := s.cost.Authorize(ctx, t.MissionID, t.Instructions)
		if !allowed {
			return fmt.Errorf("dispatch of task %s denied: %s", t.ID, reason)
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire dispatch slot: %w", err)
	}
	defer s.sem.Release(1)

	ctx, span := otel.StartDispatchSpan(ctx, t.ID, t.MissionID, t.AgentID)
	defer span.End()

	start := time.Now()
	err := s.breaker.Execute(func() error {
		return s.dispatch(ctx, t)
	})

	if s.metrics != nil {
		s.metrics.TaskDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.metrics.TasksFailed.Add(ctx, 1)
		} else {
			s.metrics.TasksCompleted.Add(ctx, 1)
		}
	}
	return err
}

func (s *DispatcherService) dispatch(ctx context.Context, t task.Task) error {
	requestID := uuid.NewString()

	instruction := t.Instructions
	if instruction == "" {
		instruction = t.Title
	}
	data, err := json.Marshal(messagequeue.TaskDispatchPayload{
		RequestID:   requestID,
		TaskID:      t.ID,
		MissionID:   t.MissionID,
		AgentID:     t.AgentID,
		Instruction: instruction,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}

	ch := s.waiter.register(requestID)
	defer s.waiter.unregister(requestID)

	if err := s.queue.Publish(ctx, messagequeue.SubjectTaskDispatch, data); err != nil {
		return fmt.Errorf("publish dispatch for task %s: %w", t.ID, err)
	}
	if s.metrics != nil {
		s.metrics.TasksScheduled.Add(ctx, 1)
	}
	slog.Info("task dispatched", "task_id", t.ID, "request_id", requestID)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Status == "failed" {
			return fmt.Errorf("task %s failed on agent %s: %s", t.ID, res.AgentID, res.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("task %s: %w", t.ID, ErrDispatchTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/MissionControl/internal/config"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/messagequeue"
	"github.com/Strob0t/MissionControl/internal/resilience"
)

// respond plays the agent side: it waits for a dispatch to appear on the
// queue and delivers a correlated result.
func respond(t *testing.T, q *mockQueue, status, errMsg string) {
	t.Helper()
	go func() {
		deadline := time.After(2 * time.Second)
		for {
			select {
			case <-deadline:
				return
			case <-time.After(time.Millisecond):
			}
			msg, ok := q.lastPublished()
			if !ok || msg.Subject != messagequeue.SubjectTaskDispatch {
				continue
			}
			var disp messagequeue.TaskDispatchPayload
			if err := json.Unmarshal(msg.Data, &disp); err != nil {
				continue
			}
			_ = q.deliver(context.Background(), messagequeue.SubjectTaskResult, messagequeue.TaskResultPayload{
				RequestID: disp.RequestID,
				TaskID:    disp.TaskID,
				AgentID:   "agent-1",
				Status:    status,
				Error:     errMsg,
			})
			return
		}
	}()
}

func TestDispatcherCompletes(t *testing.T) {
	q := newMockQueue()
	svc := NewDispatcherService(q, resilience.NewBreaker(3, time.Minute), nil, nil, 4, 2*time.Second)
	ctx := context.Background()

	cancel, err := svc.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer cancel()

	respond(t, q, "completed", "")
	err = svc.Execute(ctx, task.Task{ID: "t1", MissionID: "m1", Title: "do the thing"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	msg, ok := q.lastPublished()
	if !ok {
		t.Fatal("nothing published")
	}
	var disp messagequeue.TaskDispatchPayload
	if err := json.Unmarshal(msg.Data, &disp); err != nil {
		t.Fatalf("decode dispatch: %v", err)
	}
	// Title stands in when no explicit instructions were written.
	if disp.Instruction != "do the thing" {
		t.Errorf("instruction = %q, want task title fallback", disp.Instruction)
	}
}

func TestDispatcherAgentFailure(t *testing.T) {
	q := newMockQueue()
	svc := NewDispatcherService(q, resilience.NewBreaker(3, time.Minute), nil, nil, 4, 2*time.Second)
	ctx := context.Background()

	cancel, err := svc.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer cancel()

	respond(t, q, "failed", "compile error")
	err = svc.Execute(ctx, task.Task{ID: "t1", MissionID: "m1", Title: "break"})
	if err == nil || !strings.Contains(err.Error(), "compile error") {
		t.Fatalf("err = %v, want agent error surfaced", err)
	}
}

func TestDispatcherTimeout(t *testing.T) {
	q := newMockQueue()
	svc := NewDispatcherService(q, resilience.NewBreaker(3, time.Minute), nil, nil, 4, 20*time.Millisecond)
	ctx := context.Background()

	cancel, err := svc.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer cancel()

	// No agent responds.
	err = svc.Execute(ctx, task.Task{ID: "t1", MissionID: "m1", Title: "lost"})
	if !errors.Is(err, ErrDispatchTimeout) {
		t.Fatalf("err = %v, want ErrDispatchTimeout", err)
	}
}

func TestDispatcherBreakerOpens(t *testing.T) {
	q := newMockQueue()
	breaker := resilience.NewBreaker(2, time.Minute)
	svc := NewDispatcherService(q, breaker, nil, nil, 4, 10*time.Millisecond)
	ctx := context.Background()

	cancel, err := svc.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer cancel()

	for range 2 {
		if err := svc.Execute(ctx, task.Task{ID: "t1", MissionID: "m1", Title: "x"}); err == nil {
			t.Fatal("timed-out dispatch succeeded")
		}
	}
	if breaker.State() != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open after consecutive failures", breaker.State())
	}

	published := len(q.published)
	err = svc.Execute(ctx, task.Task{ID: "t2", MissionID: "m1", Title: "y"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if len(q.published) != published {
		t.Error("dispatch published while breaker open")
	}
}

func TestDispatcherCostDenied(t *testing.T) {
	q := newMockQueue()
	cost := NewCostService(config.Cost{
		TokensPerChar:   1,
		USDPerKiloToken: 1000,
		MissionBudget:   0.001,
		CallsPerSecond:  100,
		Burst:           100,
	}, nil)
	svc := NewDispatcherService(q, resilience.NewBreaker(3, time.Minute), cost, nil, 4, time.Second)
	ctx := context.Background()

	err := svc.Execute(ctx, task.Task{ID: "t1", MissionID: "m1", Title: "an instruction well past the budget"})
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("err = %v, want cost denial", err)
	}
	if _, ok := q.lastPublished(); ok {
		t.Error("denied dispatch still published")
	}
}

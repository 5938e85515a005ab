package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Strob0t/MissionControl/internal/adapter/jsonfile"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/messagequeue"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

// newTestStore opens a jsonfile store in a temp dir.
func newTestStore(t *testing.T) statestore.Store {
	t.Helper()
	s, err := jsonfile.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

// mockHub records broadcast events.
type mockHub struct {
	mu     sync.Mutex
	events []struct {
		Type    string
		Payload any
	}
}

func (h *mockHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, struct {
		Type    string
		Payload any
	}{eventType, payload})
}

func (h *mockHub) eventTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

func (h *mockHub) hasEvent(eventType string) bool {
	for _, typ := range h.eventTypes() {
		if typ == eventType {
			return true
		}
	}
	return false
}

// mockQueue implements messagequeue.Queue, capturing published messages and
// letting tests register handlers directly.
type mockQueue struct {
	mu         sync.Mutex
	published  []publishedMsg
	handlers   map[string]messagequeue.Handler
	publishErr error
}

type publishedMsg struct {
	Subject string
	Data    []byte
}

func newMockQueue() *mockQueue {
	return &mockQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.mu.Lock()
	q.published = append(q.published, publishedMsg{subject, data})
	q.mu.Unlock()
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	q.handlers[subject] = handler
	q.mu.Unlock()
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

// deliver invokes the registered handler for a subject, simulating an agent.
func (q *mockQueue) deliver(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	h := q.handlers[subject]
	q.mu.Unlock()
	return h(ctx, subject, data)
}

func (q *mockQueue) lastPublished() (publishedMsg, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.published) == 0 {
		return publishedMsg{}, false
	}
	return q.published[len(q.published)-1], true
}

// fakeExecutor completes or fails tasks synchronously.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	fail     map[string]error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{fail: make(map[string]error)}
}

func (e *fakeExecutor) Execute(_ context.Context, t task.Task) error {
	e.mu.Lock()
	e.executed = append(e.executed, t.ID)
	e.mu.Unlock()
	return e.fail[t.ID]
}

func (e *fakeExecutor) executedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

// seedMission creates a mission for tests that need one.
func seedMission(t *testing.T, store statestore.Store) *mission.Mission {
	t.Helper()
	m, err := store.CreateMission(context.Background(), mission.CreateRequest{Title: "test mission"})
	if err != nil {
		t.Fatalf("seed mission: %v", err)
	}
	return m
}

// seedTask creates one task in the mission.
func seedTask(t *testing.T, store statestore.Store, missionID, title string, typ task.Type, deps []string) *task.Task {
	t.Helper()
	tk, err := store.CreateTask(context.Background(), task.CreateRequest{
		MissionID: missionID,
		Title:     title,
		Type:      typ,
		Deps:      deps,
	})
	if err != nil {
		t.Fatalf("seed task %s: %v", title, err)
	}
	return tk
}

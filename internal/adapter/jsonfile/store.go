// Package jsonfile implements the state store port as a single versioned
// JSON document on disk. Writes are atomic: the document is marshaled to a
// temp file and renamed over the previous one. Each exported method is the
// unit of atomicity; there are no multi-call transactions.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
	"github.com/Strob0t/MissionControl/internal/domain/artifact"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
	"github.com/Strob0t/MissionControl/internal/domain/task"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

// document is the on-disk shape of the whole store.
type document struct {
	Missions    map[string]*mission.Mission   `json:"missions"`
	Tasks       map[string]*task.Task         `json:"tasks"`
	Agents      map[string]*agent.Agent       `json:"agents"`
	Artifacts   map[string]*artifact.Artifact `json:"artifacts"`
	Proposals   map[string]*heal.Proposal     `json:"proposals"`
	HealRecords map[string]*heal.Record       `json:"heal_records"`
	Approvals   []statestore.Approval         `json:"approvals"`
	Queue       *statestore.QueueState        `json:"queue,omitempty"`
	Settings    statestore.Settings           `json:"settings"`
	Snapshots   []snapshotMeta                `json:"snapshots,omitempty"`
}

type snapshotMeta struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Store implements statestore.Store on a flat JSON file.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
	now  func() time.Time
}

// Open loads the document at path, creating a fresh one if the file does
// not exist.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		now:  time.Now,
		doc: document{
			Missions:    make(map[string]*mission.Mission),
			Tasks:       make(map[string]*task.Task),
			Agents:      make(map[string]*agent.Agent),
			Artifacts:   make(map[string]*artifact.Artifact),
			Proposals:   make(map[string]*heal.Proposal),
			HealRecords: make(map[string]*heal.Record),
			Settings: statestore.Settings{
				ArmedMode:     false,
				RiskThreshold: heal.RiskLow,
			},
		},
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("jsonfile open %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("jsonfile parse %s: %w", path, err)
	}
	s.ensureMaps()
	return s, nil
}

// ensureMaps re-creates nil maps after unmarshaling a sparse document.
func (s *Store) ensureMaps() {
	if s.doc.Missions == nil {
		s.doc.Missions = make(map[string]*mission.Mission)
	}
	if s.doc.Tasks == nil {
		s.doc.Tasks = make(map[string]*task.Task)
	}
	if s.doc.Agents == nil {
		s.doc.Agents = make(map[string]*agent.Agent)
	}
	if s.doc.Artifacts == nil {
		s.doc.Artifacts = make(map[string]*artifact.Artifact)
	}
	if s.doc.Proposals == nil {
		s.doc.Proposals = make(map[string]*heal.Proposal)
	}
	if s.doc.HealRecords == nil {
		s.doc.HealRecords = make(map[string]*heal.Record)
	}
}

// persist writes the document atomically. Must be called with s.mu held.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("jsonfile write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("jsonfile rename: %w", err)
	}
	return nil
}

// --- Missions ---

func (s *Store) ListMissions(_ context.Context) ([]mission.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]mission.Mission, 0, len(s.doc.Missions))
	for _, m := range s.doc.Missions {
		out = append(out, *m)
	}
	return out, nil
}

func (s *Store) GetMission(_ context.Context, id string) (*mission.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.doc.Missions[id]
	if !ok {
		return nil, fmt.Errorf("mission %s: %w", id, domain.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) CreateMission(_ context.Context, req mission.CreateRequest) (*mission.Mission, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("mission title is required: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	m := &mission.Mission{
		ID:           uuid.NewString(),
		ProjectID:    req.ProjectID,
		Title:        req.Title,
		Status:       mission.StatusQueued,
		MissionClass: req.MissionClass,
		Contract:     req.Contract,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.doc.Missions[m.ID] = m

	if err := s.persist(); err != nil {
		delete(s.doc.Missions, m.ID)
		return nil, err
	}
	cp := *m
	return &cp, nil
}

func (s *Store) UpdateMissionStatus(_ context.Context, id string, status mission.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.doc.Missions[id]
	if !ok {
		return fmt.Errorf("mission %s: %w", id, domain.ErrNotFound)
	}

	now := s.now().UTC()
	m.Status = status
	if status == mission.StatusRunning && m.StartedAt.IsZero() {
		m.StartedAt = now
	}
	m.Version++
	m.UpdatedAt = now
	return s.persist()
}

// --- Tasks ---

func (s *Store) ListTasks(_ context.Context, missionID string) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []task.Task
	for _, t := range s.doc.Tasks {
		if missionID == "" || t.MissionID == missionID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.doc.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("task title is required: %w", domain.ErrValidation)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("task type %q: %w", req.Type, domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.doc.Missions[req.MissionID]
	if !ok {
		return nil, fmt.Errorf("mission %s: %w", req.MissionID, domain.ErrNotFound)
	}

	now := s.now().UTC()
	t := &task.Task{
		ID:                uuid.NewString(),
		MissionID:         req.MissionID,
		Title:             req.Title,
		Instructions:      req.Instructions,
		Type:              req.Type,
		Status:            task.StatusPending,
		Deps:              req.Deps,
		RequiredArtifacts: req.RequiredArtifacts,
		MaxRetries:        req.MaxRetries,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.doc.Tasks[t.ID] = t
	m.TaskIDs = append(m.TaskIDs, t.ID)
	m.Version++
	m.UpdatedAt = now

	if err := s.persist(); err != nil {
		delete(s.doc.Tasks, t.ID)
		m.TaskIDs = m.TaskIDs[:len(m.TaskIDs)-1]
		return nil, err
	}
	cp := *t
	return &cp, nil
}

func (s *Store) UpdateTaskStatus(_ context.Context, id string, status task.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.doc.Tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}

	now := s.now().UTC()
	switch status {
	case task.StatusRunning:
		if t.StartedAt.IsZero() {
			t.StartedAt = now
		}
	case task.StatusComplete, task.StatusFailed:
		t.EndedAt = now
	case task.StatusPending:
		// Retry reset: clear the previous run.
		if t.Status == task.StatusFailed {
			t.RetryCount++
			t.Error = ""
			t.StartedAt = time.Time{}
			t.EndedAt = time.Time{}
		}
	}
	t.Status = status
	t.Version++
	t.UpdatedAt = now
	return s.persist()
}

func (s *Store) UpdateTaskError(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.doc.Tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	t.Error = errMsg
	t.Version++
	t.UpdatedAt = s.now().UTC()
	return s.persist()
}

// --- Agents ---

func (s *Store) ListAgents(_ context.Context) ([]agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]agent.Agent, 0, len(s.doc.Agents))
	for _, a := range s.doc.Agents {
		out = append(out, *a)
	}
	return out, nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.doc.Agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) RegisterAgent(_ context.Context, a agent.Agent) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := s.doc.Agents[a.ID]; exists {
		return nil, fmt.Errorf("agent %s: %w", a.ID, domain.ErrConflict)
	}
	if a.Status == "" {
		a.Status = agent.StatusRunning
	}
	if a.LastHeartbeat.IsZero() {
		a.LastHeartbeat = now
	}
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now

	s.doc.Agents[a.ID] = &a
	if err := s.persist(); err != nil {
		delete(s.doc.Agents, a.ID)
		return nil, err
	}
	cp := a
	return &cp, nil
}

func (s *Store) UpdateAgentStatus(_ context.Context, id string, status agent.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.doc.Agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.Status = status
	a.Version++
	a.UpdatedAt = s.now().UTC()
	return s.persist()
}

func (s *Store) UpdateAgentHeartbeat(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.doc.Agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.LastHeartbeat = at
	if a.Status != agent.StatusRunning {
		a.Status = agent.StatusRunning
	}
	a.Version++
	a.UpdatedAt = s.now().UTC()
	return s.persist()
}

// --- Artifacts ---

func (s *Store) AddArtifact(_ context.Context, a artifact.Artifact) (*artifact.Artifact, error) {
	if !artifact.IsKnownType(a.Type) {
		return nil, fmt.Errorf("artifact type %q: %w", a.Type, domain.ErrValidation)
	}
	if a.Provenance.Producer == "" {
		return nil, fmt.Errorf("artifact provenance producer is required: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a.MissionID != "" {
		if _, ok := s.doc.Missions[a.MissionID]; !ok {
			return nil, fmt.Errorf("mission %s: %w", a.MissionID, domain.ErrNotFound)
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := s.doc.Artifacts[a.ID]; exists {
		return nil, fmt.Errorf("artifact %s: %w", a.ID, domain.ErrConflict)
	}
	a.CreatedAt = s.now().UTC()

	s.doc.Artifacts[a.ID] = &a
	if m, ok := s.doc.Missions[a.MissionID]; ok {
		m.ArtifactIDs = append(m.ArtifactIDs, a.ID)
	}

	if err := s.persist(); err != nil {
		delete(s.doc.Artifacts, a.ID)
		return nil, err
	}
	cp := a
	return &cp, nil
}

// AppendArtifact grows an append-only artifact's payload. The payload is a
// JSON array of chunks; immutable artifact types reject the call.
func (s *Store) AppendArtifact(_ context.Context, id string, chunk []byte) error {
	if !json.Valid(chunk) {
		return fmt.Errorf("artifact chunk is not valid JSON: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.doc.Artifacts[id]
	if !ok {
		return fmt.Errorf("artifact %s: %w", id, domain.ErrNotFound)
	}
	if artifact.MutabilityOf(a.Type) != artifact.AppendOnly {
		return fmt.Errorf("artifact %s type %s is immutable: %w", id, a.Type, domain.ErrConflict)
	}

	var chunks []json.RawMessage
	if len(a.Payload) > 0 {
		if err := json.Unmarshal(a.Payload, &chunks); err != nil {
			return fmt.Errorf("artifact %s payload is not appendable: %w", id, err)
		}
	}
	chunks = append(chunks, json.RawMessage(chunk))

	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("artifact %s payload: %w", id, err)
	}
	a.Payload = data
	return s.persist()
}

func (s *Store) ListArtifacts(_ context.Context, missionID string) ([]artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []artifact.Artifact
	for _, a := range s.doc.Artifacts {
		if missionID == "" || a.MissionID == missionID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Store) ArtifactTypesByTask(_ context.Context, taskID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, a := range s.doc.Artifacts {
		if a.TaskID == taskID {
			counts[string(a.Type)]++
		}
	}
	return counts, nil
}

// --- Proposals ---

func (s *Store) CreateProposal(_ context.Context, p heal.Proposal) (*heal.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := s.doc.Proposals[p.ID]; exists {
		return nil, fmt.Errorf("proposal %s: %w", p.ID, domain.ErrConflict)
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	s.doc.Proposals[p.ID] = &p
	if err := s.persist(); err != nil {
		delete(s.doc.Proposals, p.ID)
		return nil, err
	}
	cp := p
	return &cp, nil
}

func (s *Store) GetProposal(_ context.Context, id string) (*heal.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.doc.Proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProposals(_ context.Context, missionID string) ([]heal.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []heal.Proposal
	for _, p := range s.doc.Proposals {
		if missionID == "" || p.MissionID == missionID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Store) UpdateProposal(_ context.Context, p heal.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Proposals[p.ID]; !ok {
		return fmt.Errorf("proposal %s: %w", p.ID, domain.ErrNotFound)
	}
	p.UpdatedAt = s.now().UTC()
	s.doc.Proposals[p.ID] = &p
	return s.persist()
}

func (s *Store) GetHealRecord(_ context.Context, key string) (*heal.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.HealRecords[key]
	if !ok {
		return nil, fmt.Errorf("heal record %s: %w", key, domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) PutHealRecord(_ context.Context, rec heal.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.UpdatedAt = s.now().UTC()
	s.doc.HealRecords[rec.Key] = &rec
	return s.persist()
}

// --- Approvals ---

func (s *Store) CreateApproval(_ context.Context, a statestore.Approval) (*statestore.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now().UTC()

	s.doc.Approvals = append(s.doc.Approvals, a)
	if err := s.persist(); err != nil {
		s.doc.Approvals = s.doc.Approvals[:len(s.doc.Approvals)-1]
		return nil, err
	}
	cp := a
	return &cp, nil
}

// --- Snapshots ---

// CreateSnapshot writes a point-in-time copy of the document to a sibling
// file and records it in the snapshot index.
func (s *Store) CreateSnapshot(_ context.Context, label string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	snapPath := fmt.Sprintf("%s.snapshot.%s.json", s.path, id)

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("snapshot marshal: %w", err)
	}
	if err := os.WriteFile(snapPath, data, 0o600); err != nil {
		return "", fmt.Errorf("snapshot write: %w", err)
	}

	s.doc.Snapshots = append(s.doc.Snapshots, snapshotMeta{
		ID:        id,
		Label:     label,
		Path:      filepath.Base(snapPath),
		CreatedAt: s.now().UTC(),
	})
	if err := s.persist(); err != nil {
		return "", err
	}
	return id, nil
}

// --- Queue state ---

func (s *Store) SaveQueueState(_ context.Context, state statestore.QueueState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.SavedAt = s.now().UTC()
	s.doc.Queue = &state
	return s.persist()
}

func (s *Store) LoadQueueState(_ context.Context) (*statestore.QueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.Queue == nil {
		return nil, fmt.Errorf("queue state: %w", domain.ErrNotFound)
	}
	cp := *s.doc.Queue
	cp.History = append([]statestore.QueueEntry(nil), s.doc.Queue.History...)
	return &cp, nil
}

// --- Settings ---

func (s *Store) GetSettings(_ context.Context) (*statestore.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.doc.Settings
	return &cp, nil
}

func (s *Store) UpdateSettings(_ context.Context, settings statestore.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Settings = settings
	return s.persist()
}

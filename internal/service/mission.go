package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/adapter/ws"
	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
	"github.com/Strob0t/MissionControl/internal/port/broadcast"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

// MissionService handles mission lifecycle operations.
type MissionService struct {
	store   statestore.Store
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
}

// NewMissionService creates a MissionService. Metrics may be nil.
func NewMissionService(store statestore.Store, hub broadcast.Broadcaster, metrics *otel.Metrics) *MissionService {
	return &MissionService{store: store, hub: hub, metrics: metrics}
}

// List returns all missions.
func (s *MissionService) List(ctx context.Context) ([]mission.Mission, error) {
	return s.store.ListMissions(ctx)
}

// Get returns one mission.
func (s *MissionService) Get(ctx context.Context, id string) (*mission.Mission, error) {
	return s.store.GetMission(ctx, id)
}

// Create registers a new mission in the queued state.
func (s *MissionService) Create(ctx context.Context, req mission.CreateRequest) (*mission.Mission, error) {
	m, err := s.store.CreateMission(ctx, req)
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastEvent(ctx, ws.EventMissionStatus, ws.MissionStatusEvent{
		MissionID: m.ID,
		Status:    string(m.Status),
	})
	slog.Info("mission created", "mission_id", m.ID, "title", m.Title)
	return m, nil
}

// UpdateStatus transitions a mission. Terminal missions refuse further
// changes.
func (s *MissionService) UpdateStatus(ctx context.Context, id string, status mission.Status) error {
	m, err := s.store.GetMission(ctx, id)
	if err != nil {
		return err
	}
	if m.Status.IsTerminal() {
		return fmt.Errorf("mission %s is %s and cannot change status: %w", id, m.Status, domain.ErrConflict)
	}

	if err := s.store.UpdateMissionStatus(ctx, id, status); err != nil {
		return err
	}

	if s.metrics != nil {
		switch {
		case status == mission.StatusRunning && m.Status != mission.StatusRunning:
			s.metrics.MissionsStarted.Add(ctx, 1)
		case status.IsTerminal():
			s.metrics.MissionsFinished.Add(ctx, 1)
		}
	}

	s.hub.BroadcastEvent(ctx, ws.EventMissionStatus, ws.MissionStatusEvent{
		MissionID: id,
		Status:    string(status),
	})
	slog.Info("mission status updated", "mission_id", id, "from", m.Status, "to", status)
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/mission"
)

const missionColumns = `id, project_id, title, status, mission_class, contract,
	task_ids, artifact_ids, agent_ids, version, started_at, created_at, updated_at`

func scanMission(row scannable) (*mission.Mission, error) {
	var (
		m            mission.Mission
		projectID    *string
		missionClass *string
		contract     []byte
		startedAt    *time.Time
	)
	err := row.Scan(&m.ID, &projectID, &m.Title, &m.Status, &missionClass,
		&contract, &m.TaskIDs, &m.ArtifactIDs, &m.AgentIDs, &m.Version,
		&startedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if projectID != nil {
		m.ProjectID = *projectID
	}
	if missionClass != nil {
		m.MissionClass = *missionClass
	}
	if len(contract) > 0 {
		if err := json.Unmarshal(contract, &m.Contract); err != nil {
			return nil, fmt.Errorf("decode contract: %w", err)
		}
	}
	if startedAt != nil {
		m.StartedAt = *startedAt
	}
	return &m, nil
}

func (s *Store) ListMissions(ctx context.Context) ([]mission.Mission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+missionColumns+`
		FROM missions
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var out []mission.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) GetMission(ctx context.Context, id string) (*mission.Mission, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+missionColumns+`
		FROM missions
		WHERE id = $1`, id)
	m, err := scanMission(row)
	if err != nil {
		return nil, notFoundWrap(err, "mission %s", id)
	}
	return m, nil
}

func (s *Store) CreateMission(ctx context.Context, req mission.CreateRequest) (*mission.Mission, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("mission title is required: %w", domain.ErrValidation)
	}

	contract, err := json.Marshal(req.Contract)
	if err != nil {
		return nil, fmt.Errorf("encode contract: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO missions (id, project_id, title, status, mission_class, contract)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+missionColumns,
		uuid.NewString(), nullIfEmpty(req.ProjectID), req.Title,
		mission.StatusQueued, nullIfEmpty(req.MissionClass), contract)

	m, err := scanMission(row)
	if err != nil {
		return nil, fmt.Errorf("create mission: %w", err)
	}
	return m, nil
}

func (s *Store) UpdateMissionStatus(ctx context.Context, id string, status mission.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE missions
		SET status = $2,
		    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1`, id, status)
	return execExpectOne(tag, err, "update mission %s status", id)
}

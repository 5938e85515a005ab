package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/agent"
)

const agentColumns = `id, name, status, mission_id, task_id, last_heartbeat,
	version, created_at, updated_at`

func scanAgent(row scannable) (*agent.Agent, error) {
	var (
		a         agent.Agent
		name      *string
		missionID *string
		taskID    *string
	)
	err := row.Scan(&a.ID, &name, &a.Status, &missionID, &taskID,
		&a.LastHeartbeat, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if name != nil {
		a.Name = *name
	}
	if missionID != nil {
		a.MissionID = *missionID
	}
	if taskID != nil {
		a.TaskID = *taskID
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "agent %s", id)
	}
	return a, nil
}

func (s *Store) RegisterAgent(ctx context.Context, a agent.Agent) (*agent.Agent, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = agent.StatusRunning
	}
	heartbeat := a.LastHeartbeat
	if heartbeat.IsZero() {
		heartbeat = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO agents (id, name, status, mission_id, task_id, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+agentColumns,
		a.ID, nullIfEmpty(a.Name), a.Status, nullIfEmpty(a.MissionID),
		nullIfEmpty(a.TaskID), heartbeat)

	out, err := scanAgent(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("agent %s: %w", a.ID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("register agent: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents
		SET status = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1`, id, status)
	return execExpectOne(tag, err, "update agent %s status", id)
}

// UpdateAgentHeartbeat records a heartbeat and revives stale or dead agents
// back to running.
func (s *Store) UpdateAgentHeartbeat(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents
		SET last_heartbeat = $2,
		    status = 'running',
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1`, id, at)
	return execExpectOne(tag, err, "update agent %s heartbeat", id)
}

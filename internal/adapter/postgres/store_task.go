package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/task"
)

const taskColumns = `id, mission_id, title, instructions, task_type, status, deps,
	required_artifacts, retry_count, max_retries, error, agent_id, version,
	started_at, ended_at, created_at, updated_at`

func scanTask(row scannable) (*task.Task, error) {
	var (
		t            task.Task
		instructions *string
		errMsg       *string
		agentID      *string
		startedAt    *time.Time
		endedAt      *time.Time
	)
	err := row.Scan(&t.ID, &t.MissionID, &t.Title, &instructions, &t.Type,
		&t.Status, &t.Deps, &t.RequiredArtifacts, &t.RetryCount, &t.MaxRetries,
		&errMsg, &agentID, &t.Version, &startedAt, &endedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if instructions != nil {
		t.Instructions = *instructions
	}
	if errMsg != nil {
		t.Error = *errMsg
	}
	if agentID != nil {
		t.AgentID = *agentID
	}
	if startedAt != nil {
		t.StartedAt = *startedAt
	}
	if endedAt != nil {
		t.EndedAt = *endedAt
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, missionID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE $1 = '' OR mission_id::text = $1
		ORDER BY created_at`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "task %s", id)
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("task title is required: %w", domain.ErrValidation)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("task type %q: %w", req.Type, domain.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create task: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.NewString()
	tag, err := tx.Exec(ctx, `
		UPDATE missions
		SET task_ids = task_ids || $2::text,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1`, req.MissionID, id)
	if err := execExpectOne(tag, err, "mission %s", req.MissionID); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tasks (id, mission_id, title, instructions, task_type, deps,
			required_artifacts, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+taskColumns,
		id, req.MissionID, req.Title, nullIfEmpty(req.Instructions), req.Type,
		pgTextArray(req.Deps), pgTextArray(req.RequiredArtifacts), req.MaxRetries)

	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create task: commit: %w", err)
	}
	return t, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status task.Status) error {
	// A failed task reset to pending counts as a retry: the retry counter
	// goes up and the previous run's error and timestamps are cleared.
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET retry_count = CASE WHEN $2 = 'pending' AND status = 'failed'
			THEN retry_count + 1 ELSE retry_count END,
		    error = CASE WHEN $2 = 'pending' AND status = 'failed'
			THEN NULL ELSE error END,
		    started_at = CASE
			WHEN $2 = 'pending' AND status = 'failed' THEN NULL
			WHEN $2 = 'running' AND started_at IS NULL THEN NOW()
			ELSE started_at END,
		    ended_at = CASE
			WHEN $2 = 'pending' AND status = 'failed' THEN NULL
			WHEN $2 IN ('complete', 'failed') THEN NOW()
			ELSE ended_at END,
		    status = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1`, id, status)
	return execExpectOne(tag, err, "update task %s status", id)
}

func (s *Store) UpdateTaskError(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET error = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1`, id, errMsg)
	return execExpectOne(tag, err, "update task %s error", id)
}

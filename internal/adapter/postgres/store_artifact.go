package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/artifact"
)

const artifactColumns = `id, artifact_type, mission_id, task_id, payload,
	producer, model, created_at`

func scanArtifact(row scannable) (*artifact.Artifact, error) {
	var (
		a         artifact.Artifact
		missionID *string
		taskID    *string
		payload   []byte
		model     *string
	)
	err := row.Scan(&a.ID, &a.Type, &missionID, &taskID, &payload,
		&a.Provenance.Producer, &model, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if missionID != nil {
		a.MissionID = *missionID
	}
	if taskID != nil {
		a.TaskID = *taskID
	}
	if len(payload) > 0 {
		a.Payload = json.RawMessage(payload)
	}
	if model != nil {
		a.Provenance.Model = *model
	}
	return &a, nil
}

func (s *Store) AddArtifact(ctx context.Context, a artifact.Artifact) (*artifact.Artifact, error) {
	if !artifact.IsKnownType(a.Type) {
		return nil, fmt.Errorf("artifact type %q: %w", a.Type, domain.ErrValidation)
	}
	if a.Provenance.Producer == "" {
		return nil, fmt.Errorf("artifact provenance producer is required: %w", domain.ErrValidation)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("add artifact: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if a.MissionID != "" {
		tag, err := tx.Exec(ctx, `
			UPDATE missions
			SET artifact_ids = artifact_ids || $2::text,
			    updated_at = NOW()
			WHERE id = $1`, a.MissionID, a.ID)
		if err := execExpectOne(tag, err, "mission %s", a.MissionID); err != nil {
			return nil, err
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO artifacts (id, artifact_type, mission_id, task_id, payload, producer, model)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+artifactColumns,
		a.ID, a.Type, nullIfEmpty(a.MissionID), nullIfEmpty(a.TaskID),
		[]byte(a.Payload), a.Provenance.Producer, nullIfEmpty(a.Provenance.Model))

	out, err := scanArtifact(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("artifact %s: %w", a.ID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("add artifact: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("add artifact: commit: %w", err)
	}
	return out, nil
}

// AppendArtifact grows an append-only artifact's payload. The payload is a
// JSON array of chunks; immutable artifact types reject the call.
func (s *Store) AppendArtifact(ctx context.Context, id string, chunk []byte) error {
	if !json.Valid(chunk) {
		return fmt.Errorf("artifact chunk is not valid JSON: %w", domain.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("append artifact: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		typ     artifact.Type
		payload []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT artifact_type, payload
		FROM artifacts
		WHERE id = $1
		FOR UPDATE`, id).Scan(&typ, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("artifact %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("append artifact %s: %w", id, err)
	}
	if artifact.MutabilityOf(typ) != artifact.AppendOnly {
		return fmt.Errorf("artifact %s type %s is immutable: %w", id, typ, domain.ErrConflict)
	}

	var chunks []json.RawMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &chunks); err != nil {
			return fmt.Errorf("artifact %s payload is not appendable: %w", id, err)
		}
	}
	chunks = append(chunks, json.RawMessage(chunk))

	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("artifact %s payload: %w", id, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE artifacts SET payload = $2 WHERE id = $1`, id, data); err != nil {
		return fmt.Errorf("append artifact %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("append artifact: commit: %w", err)
	}
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, missionID string) ([]artifact.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+artifactColumns+`
		FROM artifacts
		WHERE $1 = '' OR mission_id = $1
		ORDER BY created_at`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []artifact.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) ArtifactTypesByTask(ctx context.Context, taskID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT artifact_type, COUNT(*)
		FROM artifacts
		WHERE task_id = $1
		GROUP BY artifact_type`, taskID)
	if err != nil {
		return nil, fmt.Errorf("artifact types for task %s: %w", taskID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan artifact count: %w", err)
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

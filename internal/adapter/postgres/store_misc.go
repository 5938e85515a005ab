package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/port/statestore"
)

func (s *Store) CreateApproval(ctx context.Context, a statestore.Approval) (*statestore.Approval, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	var (
		out        statestore.Approval
		proposalID *string
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO approvals (id, mission_id, proposal_id, summary, risk, resolved, approved)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, mission_id, proposal_id, summary, risk, resolved, approved, created_at`,
		a.ID, a.MissionID, nullIfEmpty(a.ProposalID), a.Summary, a.Risk,
		a.Resolved, a.Approved).
		Scan(&out.ID, &out.MissionID, &proposalID, &out.Summary, &out.Risk,
			&out.Resolved, &out.Approved, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	if proposalID != nil {
		out.ProposalID = *proposalID
	}
	return &out, nil
}

// CreateSnapshot captures every table into a single JSONB document row,
// labeled for rollback reference.
func (s *Store) CreateSnapshot(ctx context.Context, label string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (id, label, document)
		SELECT $1, $2, jsonb_build_object(
			'missions',     (SELECT COALESCE(jsonb_agg(to_jsonb(m)), '[]'::jsonb) FROM missions m),
			'tasks',        (SELECT COALESCE(jsonb_agg(to_jsonb(t)), '[]'::jsonb) FROM tasks t),
			'agents',       (SELECT COALESCE(jsonb_agg(to_jsonb(a)), '[]'::jsonb) FROM agents a),
			'artifacts',    (SELECT COALESCE(jsonb_agg(to_jsonb(ar)), '[]'::jsonb) FROM artifacts ar),
			'proposals',    (SELECT COALESCE(jsonb_agg(to_jsonb(p)), '[]'::jsonb) FROM proposals p),
			'heal_records', (SELECT COALESCE(jsonb_agg(to_jsonb(h)), '[]'::jsonb) FROM heal_records h),
			'approvals',    (SELECT COALESCE(jsonb_agg(to_jsonb(ap)), '[]'::jsonb) FROM approvals ap),
			'queue_state',  (SELECT COALESCE(jsonb_agg(to_jsonb(q)), '[]'::jsonb) FROM queue_state q),
			'settings',     (SELECT COALESCE(jsonb_agg(to_jsonb(st)), '[]'::jsonb) FROM settings st)
		)`, id, label)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	return id, nil
}

func (s *Store) SaveQueueState(ctx context.Context, state statestore.QueueState) error {
	history, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("encode queue history: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO queue_state (singleton, history, saved_at)
		VALUES (TRUE, $1, NOW())
		ON CONFLICT (singleton) DO UPDATE
		SET history = EXCLUDED.history,
		    saved_at = NOW()`, history)
	if err != nil {
		return fmt.Errorf("save queue state: %w", err)
	}
	return nil
}

func (s *Store) LoadQueueState(ctx context.Context) (*statestore.QueueState, error) {
	var (
		state   statestore.QueueState
		history []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT history, saved_at FROM queue_state`).
		Scan(&history, &state.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("queue state: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load queue state: %w", err)
	}
	if err := json.Unmarshal(history, &state.History); err != nil {
		return nil, fmt.Errorf("decode queue history: %w", err)
	}
	return &state, nil
}

func (s *Store) GetSettings(ctx context.Context) (*statestore.Settings, error) {
	var out statestore.Settings
	err := s.pool.QueryRow(ctx, `
		SELECT armed_mode, risk_threshold, circuit_breaker_tripped
		FROM settings`).
		Scan(&out.ArmedMode, &out.RiskThreshold, &out.CircuitBreakerTripped)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &out, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings statestore.Settings) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE settings
		SET armed_mode = $1,
		    risk_threshold = $2,
		    circuit_breaker_tripped = $3
		WHERE singleton`, settings.ArmedMode, settings.RiskThreshold, settings.CircuitBreakerTripped)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

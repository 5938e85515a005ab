package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/MissionControl/internal/domain"
	"github.com/Strob0t/MissionControl/internal/domain/heal"
)

const proposalColumns = `id, mission_id, task_id, self_heal_key, failure_signature,
	diagnosis, proposed_commands, files_touched, risk_rating, rollback_plan,
	status, approver, snapshot_id, created_at, updated_at`

func scanProposal(row scannable) (*heal.Proposal, error) {
	var (
		p          heal.Proposal
		taskID     *string
		approver   *string
		snapshotID *string
	)
	err := row.Scan(&p.ID, &p.MissionID, &taskID, &p.SelfHealKey,
		&p.FailureSignature, &p.Diagnosis, &p.ProposedCommands, &p.FilesTouched,
		&p.RiskRating, &p.RollbackPlan, &p.Status, &approver, &snapshotID,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if taskID != nil {
		p.TaskID = *taskID
	}
	if approver != nil {
		p.Approver = *approver
	}
	if snapshotID != nil {
		p.SnapshotID = *snapshotID
	}
	return &p, nil
}

func (s *Store) CreateProposal(ctx context.Context, p heal.Proposal) (*heal.Proposal, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO proposals (id, mission_id, task_id, self_heal_key,
			failure_signature, diagnosis, proposed_commands, files_touched,
			risk_rating, rollback_plan, status, approver, snapshot_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+proposalColumns,
		p.ID, p.MissionID, nullIfEmpty(p.TaskID), p.SelfHealKey,
		p.FailureSignature, p.Diagnosis, pgTextArray(p.ProposedCommands),
		pgTextArray(p.FilesTouched), p.RiskRating, p.RollbackPlan, p.Status,
		nullIfEmpty(p.Approver), nullIfEmpty(p.SnapshotID))

	out, err := scanProposal(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("proposal %s: %w", p.ID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create proposal: %w", err)
	}
	return out, nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (*heal.Proposal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE id = $1`, id)
	p, err := scanProposal(row)
	if err != nil {
		return nil, notFoundWrap(err, "proposal %s", id)
	}
	return p, nil
}

func (s *Store) ListProposals(ctx context.Context, missionID string) ([]heal.Proposal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE $1 = '' OR mission_id = $1
		ORDER BY created_at`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []heal.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProposal(ctx context.Context, p heal.Proposal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE proposals
		SET diagnosis = $2,
		    proposed_commands = $3,
		    files_touched = $4,
		    risk_rating = $5,
		    rollback_plan = $6,
		    status = $7,
		    approver = $8,
		    snapshot_id = $9,
		    updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Diagnosis, pgTextArray(p.ProposedCommands),
		pgTextArray(p.FilesTouched), p.RiskRating, p.RollbackPlan, p.Status,
		nullIfEmpty(p.Approver), nullIfEmpty(p.SnapshotID))
	return execExpectOne(tag, err, "update proposal %s", p.ID)
}

func (s *Store) GetHealRecord(ctx context.Context, key string) (*heal.Record, error) {
	var rec heal.Record
	err := s.pool.QueryRow(ctx, `
		SELECT key, proposal_id, outcome, updated_at
		FROM heal_records
		WHERE key = $1`, key).
		Scan(&rec.Key, &rec.ProposalID, &rec.Outcome, &rec.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "heal record %s", key)
	}
	return &rec, nil
}

func (s *Store) PutHealRecord(ctx context.Context, rec heal.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO heal_records (key, proposal_id, outcome, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET proposal_id = EXCLUDED.proposal_id,
		    outcome = EXCLUDED.outcome,
		    updated_at = NOW()`,
		rec.Key, rec.ProposalID, rec.Outcome)
	if err != nil {
		return fmt.Errorf("put heal record %s: %w", rec.Key, err)
	}
	return nil
}

package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"arbitra/db"
	"arbitra/protocol"
)

// ErrNotFound signals no dispute exists for the subject and round.
var ErrNotFound = errors.New("dispute: not found")

type Repository interface {
	Save(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, subjectID string, round uint32) (Dispute, error)
	Get(ctx context.Context, q db.Querier, address uuid.UUID) (Dispute, error)
	List(ctx context.Context, q db.Querier, filter Filter) ([]Dispute, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const disputeColumns = `
	address, subject_address, subject_id, round, kind, dispute_type, details_ref, status, outcome,
	opened_by, opened_at, voting_deadline, resolved_at,
	defender_stake, challenger_stake, juror_stake_for_challenger, juror_stake_for_defender`

// Save upserts the dispute. Opening a second voting dispute on a subject
// trips the one-voting index and is reported as SubjectNotDisputable.
func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	var outcome *string
	if d.Outcome != "" {
		o := string(d.Outcome)
		outcome = &o
	}

	const query = `
		INSERT INTO disputes (
			address, subject_address, subject_id, round, kind, dispute_type, details_ref, status, outcome,
			opened_by, opened_at, voting_deadline, resolved_at,
			defender_stake, challenger_stake, juror_stake_for_challenger, juror_stake_for_defender
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (address) DO UPDATE
		SET status = EXCLUDED.status,
		    outcome = EXCLUDED.outcome,
		    resolved_at = EXCLUDED.resolved_at,
		    defender_stake = EXCLUDED.defender_stake,
		    challenger_stake = EXCLUDED.challenger_stake,
		    juror_stake_for_challenger = EXCLUDED.juror_stake_for_challenger,
		    juror_stake_for_defender = EXCLUDED.juror_stake_for_defender
		RETURNING ` + disputeColumns

	saved, err := scanDispute(tx.QueryRow(ctx, query,
		d.Address, d.SubjectAddress, d.SubjectID, int32(d.Round), string(d.Kind), string(d.DisputeType), d.DetailsRef,
		string(d.Status), outcome, string(d.OpenedBy), d.OpenedAt, d.VotingDeadline, d.ResolvedAt,
		int64(d.DefenderStake), int64(d.ChallengerStake), int64(d.JurorStakeForChallenger), int64(d.JurorStakeForDefender),
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Dispute{}, protocol.Reject(protocol.ErrSubjectNotDisputable, d.SubjectAddress.String(), "dispute").
				Withf("subject already has an open dispute")
		}
		return Dispute{}, fmt.Errorf("dispute: save: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, subjectID string, round uint32) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE address = $1 FOR UPDATE`
	d, err := scanDispute(tx.QueryRow(ctx, query, protocol.DisputeAddress(subjectID, round)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: lock: %w", err)
	}
	return d, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, address uuid.UUID) (Dispute, error) {
	d, err := scanDispute(q.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE address = $1`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, filter Filter) ([]Dispute, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE 1=1`
	args := []any{}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		query += fmt.Sprintf(" AND subject_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY opened_at DESC LIMIT $%d", len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d                                   Dispute
		round                               int32
		kind, disputeType, status, openedBy string
		outcome                             *string
		resolvedAt                          *time.Time
		defender, challenger                int64
		forChallenger, forDefender          int64
	)
	err := row.Scan(
		&d.Address, &d.SubjectAddress, &d.SubjectID, &round, &kind, &disputeType, &d.DetailsRef, &status, &outcome,
		&openedBy, &d.OpenedAt, &d.VotingDeadline, &resolvedAt,
		&defender, &challenger, &forChallenger, &forDefender,
	)
	if err != nil {
		return Dispute{}, err
	}
	d.Round = uint32(round)
	d.Kind = Kind(kind)
	d.DisputeType = protocol.DisputeType(disputeType)
	d.Status = protocol.DisputeStatus(status)
	if outcome != nil {
		d.Outcome = protocol.ResolutionOutcome(*outcome)
	}
	d.OpenedBy = protocol.Identity(openedBy)
	d.ResolvedAt = resolvedAt
	d.DefenderStake = protocol.Amount(defender)
	d.ChallengerStake = protocol.Amount(challenger)
	d.JurorStakeForChallenger = protocol.Amount(forChallenger)
	d.JurorStakeForDefender = protocol.Amount(forDefender)
	return d, nil
}

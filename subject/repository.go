package subject

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

// ErrNotFound signals the subject does not exist.
var ErrNotFound = errors.New("subject: not found")

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, s Subject) (Subject, error)
	Save(ctx context.Context, tx pgx.Tx, s Subject) (Subject, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, subjectID string) (Subject, error)
	Get(ctx context.Context, q db.Querier, subjectID string) (Subject, error)
	GetByAddress(ctx context.Context, q db.Querier, address uuid.UUID) (Subject, error)
	List(ctx context.Context, q db.Querier, filter Filter) ([]Subject, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const subjectColumns = `
	address, subject_id, namespace, details_ref, max_bond, match_mode, voting_period_seconds,
	status, current_round, created_by, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, s Subject) (Subject, error) {
	const query = `
		INSERT INTO subjects (
			address, subject_id, namespace, details_ref, max_bond, match_mode, voting_period_seconds,
			status, current_round, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + subjectColumns

	created, err := scanSubject(tx.QueryRow(ctx, query,
		s.Address, s.SubjectID, s.Namespace, s.DetailsRef, int64(s.MaxBond), s.MatchMode,
		int64(s.VotingPeriod/time.Second), string(s.Status), int32(s.CurrentRound), string(s.CreatedBy),
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Subject{}, protocol.Reject(protocol.ErrDuplicateSubject, s.Address.String(), "subject_id").
				Withf("subject %q already registered", s.SubjectID)
		}
		return Subject{}, fmt.Errorf("subject: insert: %w", err)
	}
	return created, nil
}

// Save writes the mutable lifecycle fields.
func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, s Subject) (Subject, error) {
	const query = `
		UPDATE subjects
		SET status = $2,
		    current_round = $3,
		    updated_at = now()
		WHERE address = $1
		RETURNING ` + subjectColumns

	saved, err := scanSubject(tx.QueryRow(ctx, query, s.Address, string(s.Status), int32(s.CurrentRound)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, ErrNotFound
		}
		return Subject{}, fmt.Errorf("subject: save: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, subjectID string) (Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE address = $1 FOR UPDATE`
	s, err := scanSubject(tx.QueryRow(ctx, query, protocol.SubjectAddress(subjectID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, ErrNotFound
		}
		return Subject{}, fmt.Errorf("subject: lock: %w", err)
	}
	return s, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, subjectID string) (Subject, error) {
	return r.GetByAddress(ctx, q, protocol.SubjectAddress(subjectID))
}

func (r *PGRepository) GetByAddress(ctx context.Context, q db.Querier, address uuid.UUID) (Subject, error) {
	s, err := scanSubject(q.QueryRow(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE address = $1`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, ErrNotFound
		}
		return Subject{}, fmt.Errorf("subject: get: %w", err)
	}
	return s, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, filter Filter) ([]Subject, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE 1=1`
	args := []any{}
	if filter.Namespace != "" {
		args = append(args, filter.Namespace)
		query += fmt.Sprintf(" AND namespace = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, subject_id LIMIT $%d", len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("subject: list: %w", err)
	}
	defer rows.Close()

	out := make([]Subject, 0, 16)
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("subject: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("subject: iterate: %w", err)
	}
	return out, nil
}

func scanSubject(row pgx.Row) (Subject, error) {
	var (
		s             Subject
		maxBond       int64
		periodSeconds int64
		status        string
		round         int32
		createdBy     string
	)
	err := row.Scan(
		&s.Address, &s.SubjectID, &s.Namespace, &s.DetailsRef, &maxBond, &s.MatchMode, &periodSeconds,
		&status, &round, &createdBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return Subject{}, err
	}
	s.MaxBond = protocol.Amount(maxBond)
	s.VotingPeriod = time.Duration(periodSeconds) * time.Second
	s.Status = protocol.SubjectStatus(status)
	s.CurrentRound = uint32(round)
	s.CreatedBy = protocol.Identity(createdBy)
	return s, nil
}

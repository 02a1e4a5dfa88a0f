package escrow

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

var (
	// ErrNotFound signals no escrow exists for the subject and round.
	ErrNotFound = errors.New("escrow: not found")
	// ErrRecordNotFound signals no record exists at the derived address.
	ErrRecordNotFound = errors.New("escrow: record not found")
)

// Repository persists escrows and the records they custody.
type Repository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, subjectID string, round uint32) (Escrow, error)
	Save(ctx context.Context, tx pgx.Tx, e Escrow) (Escrow, error)
	Get(ctx context.Context, q db.Querier, address uuid.UUID) (Escrow, error)
	ListBySubject(ctx context.Context, q db.Querier, subjectID string) ([]Escrow, error)

	GetRecordForUpdate(ctx context.Context, tx pgx.Tx, role protocol.Role, subjectID string, owner protocol.Identity, round uint32) (Record, error)
	SaveRecord(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	GetRecord(ctx context.Context, q db.Querier, address uuid.UUID) (Record, error)
	ListRecords(ctx context.Context, q db.Querier, filter RecordFilter) ([]Record, error)
	RoundRecords(ctx context.Context, tx pgx.Tx, subjectID string, round uint32) ([]Record, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const escrowColumns = `
address, subject_address, subject_id, round, bonds, stakes, jurors_for_challenger, jurors_for_defender,
challenger_records, defender_records, balance, deposited, released,
outcome, winning_weight, forfeit_pool, pending_claims, remainder, remainder_to, settled_at, created_at, updated_at`

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, subjectID string, round uint32) (Escrow, error) {
	q := `SELECT ` + escrowColumns + ` FROM escrows WHERE address = $1 FOR UPDATE`
	e, err := scanEscrow(tx.QueryRow(ctx, q, protocol.EscrowAddress(subjectID, round)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: lock: %w", err)
	}
	return e, nil
}

// Save upserts the escrow row keyed by its derived address.
func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, e Escrow) (Escrow, error) {
	var (
		outcome       *string
		winningWeight int64
		forfeitPool   int64
		pending       int
		remainder     int64
		remainderTo   *uuid.UUID
		settledAt     *time.Time
	)
	if s := e.Settlement; s != nil {
		o := string(s.Outcome)
		outcome = &o
		winningWeight = int64(s.WinningWeight)
		forfeitPool = int64(s.ForfeitPool)
		pending = s.PendingClaims
		remainder = int64(s.Remainder)
		if s.RemainderTo != uuid.Nil {
			to := s.RemainderTo
			remainderTo = &to
		}
		at := s.SettledAt
		settledAt = &at
	}

	const q = `
INSERT INTO escrows (
    address, subject_address, subject_id, round, bonds, stakes, jurors_for_challenger, jurors_for_defender,
    challenger_records, defender_records, balance, deposited, released,
    outcome, winning_weight, forfeit_pool, pending_claims, remainder, remainder_to, settled_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (address) DO UPDATE
SET bonds = EXCLUDED.bonds,
    stakes = EXCLUDED.stakes,
    jurors_for_challenger = EXCLUDED.jurors_for_challenger,
    jurors_for_defender = EXCLUDED.jurors_for_defender,
    challenger_records = EXCLUDED.challenger_records,
    defender_records = EXCLUDED.defender_records,
    balance = EXCLUDED.balance,
    deposited = EXCLUDED.deposited,
    released = EXCLUDED.released,
    outcome = EXCLUDED.outcome,
    winning_weight = EXCLUDED.winning_weight,
    forfeit_pool = EXCLUDED.forfeit_pool,
    pending_claims = EXCLUDED.pending_claims,
    remainder = EXCLUDED.remainder,
    remainder_to = EXCLUDED.remainder_to,
    settled_at = EXCLUDED.settled_at,
    updated_at = now()
RETURNING ` + escrowColumns

	saved, err := scanEscrow(tx.QueryRow(ctx, q,
		e.Address, e.SubjectAddress, e.SubjectID, int32(e.Round),
		int64(e.Bonds), int64(e.Stakes), int64(e.JurorsForChallenger), int64(e.JurorsForDefender),
		e.ChallengerRecords, e.DefenderRecords,
		int64(e.Balance), int64(e.Deposited), int64(e.Released),
		outcome, winningWeight, forfeitPool, pending, remainder, remainderTo, settledAt,
	))
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: save: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, address uuid.UUID) (Escrow, error) {
	e, err := scanEscrow(q.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE address = $1`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: get: %w", err)
	}
	return e, nil
}

func (r *PGRepository) ListBySubject(ctx context.Context, q db.Querier, subjectID string) ([]Escrow, error) {
	rows, err := q.Query(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE subject_id = $1 ORDER BY round`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("escrow: list: %w", err)
	}
	defer rows.Close()

	out := make([]Escrow, 0, 4)
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("escrow: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate: %w", err)
	}
	return out, nil
}

func scanEscrow(row pgx.Row) (Escrow, error) {
	var (
		e                                         Escrow
		round                                     int32
		bonds, stakes, forChallenger, forDefender int64
		balance, deposited, released              int64
		outcome                                   *string
		winningWeight, forfeitPool                int64
		pending                                   int
		remainder                                 int64
		remainderTo                               *uuid.UUID
		settledAt                                 *time.Time
	)
	err := row.Scan(
		&e.Address, &e.SubjectAddress, &e.SubjectID, &round,
		&bonds, &stakes, &forChallenger, &forDefender,
		&e.ChallengerRecords, &e.DefenderRecords,
		&balance, &deposited, &released,
		&outcome, &winningWeight, &forfeitPool, &pending, &remainder, &remainderTo, &settledAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return Escrow{}, err
	}
	e.Round = uint32(round)
	e.Bonds = protocol.Amount(bonds)
	e.Stakes = protocol.Amount(stakes)
	e.JurorsForChallenger = protocol.Amount(forChallenger)
	e.JurorsForDefender = protocol.Amount(forDefender)
	e.Balance = protocol.Amount(balance)
	e.Deposited = protocol.Amount(deposited)
	e.Released = protocol.Amount(released)
	if outcome != nil {
		s := Settlement{
			Outcome:       protocol.ResolutionOutcome(*outcome),
			WinningWeight: protocol.Amount(winningWeight),
			ForfeitPool:   protocol.Amount(forfeitPool),
			PendingClaims: pending,
			Remainder:     protocol.Amount(remainder),
		}
		if remainderTo != nil {
			s.RemainderTo = *remainderTo
		}
		if settledAt != nil {
			s.SettledAt = *settledAt
		}
		e.Settlement = &s
	}
	return e, nil
}

const recordColumns = `
address, role, subject_address, subject_id, round, owner, stake, bond_source, side, choice,
details_ref, claimed, payout, claimed_at, created_at, updated_at`

func (r *PGRepository) GetRecordForUpdate(ctx context.Context, tx pgx.Tx, role protocol.Role, subjectID string, owner protocol.Identity, round uint32) (Record, error) {
	q := `SELECT ` + recordColumns + ` FROM records WHERE address = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, q, protocol.RecordAddress(role, subjectID, owner, round)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("escrow: lock record: %w", err)
	}
	return rec, nil
}

// SaveRecord upserts the record keyed by its derived address. Identity
// columns never change after the first insert.
func (r *PGRepository) SaveRecord(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	var choice *string
	if rec.Choice != "" {
		c := rec.Choice
		choice = &c
	}

	const q = `
INSERT INTO records (
    address, role, subject_address, subject_id, round, owner, stake, bond_source, side, choice,
    details_ref, claimed, payout, claimed_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (address) DO UPDATE
SET stake = EXCLUDED.stake,
    details_ref = EXCLUDED.details_ref,
    claimed = EXCLUDED.claimed,
    payout = EXCLUDED.payout,
    claimed_at = EXCLUDED.claimed_at,
    updated_at = now()
RETURNING ` + recordColumns

	saved, err := scanRecord(tx.QueryRow(ctx, q,
		rec.Address, string(rec.Role), rec.SubjectAddress, rec.SubjectID, int32(rec.Round), string(rec.Owner),
		int64(rec.Stake), string(rec.Source), string(rec.Side), choice,
		rec.DetailsRef, rec.Claimed, int64(rec.Payout), rec.ClaimedAt,
	))
	if err != nil {
		return Record{}, fmt.Errorf("escrow: save record: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) GetRecord(ctx context.Context, q db.Querier, address uuid.UUID) (Record, error) {
	rec, err := scanRecord(q.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE address = $1`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("escrow: get record: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) ListRecords(ctx context.Context, q db.Querier, filter RecordFilter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := `SELECT ` + recordColumns + ` FROM records WHERE 1=1`
	args := []any{}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		query += fmt.Sprintf(" AND subject_id = $%d", len(args))
	}
	if filter.Round > 0 {
		args = append(args, int32(filter.Round))
		query += fmt.Sprintf(" AND round = $%d", len(args))
	}
	if filter.Owner != "" {
		args = append(args, string(filter.Owner))
		query += fmt.Sprintf(" AND owner = $%d", len(args))
	}
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY subject_id, round, role, owner LIMIT $%d", len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("escrow: list records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 16)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("escrow: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate records: %w", err)
	}
	return out, nil
}

// RoundRecords reads every record of one round, unpaged. Callers hold the
// subject lock, so the set cannot change underneath them.
func (r *PGRepository) RoundRecords(ctx context.Context, tx pgx.Tx, subjectID string, round uint32) ([]Record, error) {
	q := `SELECT ` + recordColumns + ` FROM records WHERE subject_id = $1 AND round = $2 ORDER BY address`
	rows, err := tx.Query(ctx, q, subjectID, int32(round))
	if err != nil {
		return nil, fmt.Errorf("escrow: round records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("escrow: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                       Record
		role, owner, source, side string
		round                     int32
		stake, payout             int64
		choice                    *string
	)
	err := row.Scan(
		&rec.Address, &role, &rec.SubjectAddress, &rec.SubjectID, &round, &owner,
		&stake, &source, &side, &choice,
		&rec.DetailsRef, &rec.Claimed, &payout, &rec.ClaimedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Role = protocol.Role(role)
	rec.Owner = protocol.Identity(owner)
	rec.Source = protocol.BondSource(source)
	rec.Side = protocol.Side(side)
	rec.Round = uint32(round)
	rec.Stake = protocol.Amount(stake)
	rec.Payout = protocol.Amount(payout)
	if choice != nil {
		rec.Choice = *choice
	}
	return rec, nil
}

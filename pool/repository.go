package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"arbitra/db"
	"arbitra/protocol"
)

// ErrNotFound signals the owner has no pool for the role.
var ErrNotFound = errors.New("pool: not found")

// Repository is the data access the ledger needs for stake pools.
type Repository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, owner protocol.Identity, role protocol.Role) (Pool, error)
	Create(ctx context.Context, tx pgx.Tx, p Pool) (bool, error)
	Save(ctx context.Context, tx pgx.Tx, p Pool) (Pool, error)
	Get(ctx context.Context, q db.Querier, address uuid.UUID) (Pool, error)
	List(ctx context.Context, q db.Querier, filter Filter) ([]Pool, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const poolColumns = `address, owner, role, balance, created_at, updated_at`

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, owner protocol.Identity, role protocol.Role) (Pool, error) {
	q := `SELECT ` + poolColumns + ` FROM stake_pools WHERE owner = $1 AND role = $2 FOR UPDATE`
	p, err := scanPool(tx.QueryRow(ctx, q, string(owner), string(role)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pool{}, ErrNotFound
		}
		return Pool{}, fmt.Errorf("pool: lock: %w", err)
	}
	return p, nil
}

// Create inserts an empty pool row unless one exists. A concurrent creator
// blocks here until the first insert commits, after which GetForUpdate sees
// the committed balance.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, p Pool) (bool, error) {
	const q = `
INSERT INTO stake_pools (address, owner, role, balance)
VALUES ($1, $2, $3, 0)
ON CONFLICT (address) DO NOTHING`

	tag, err := tx.Exec(ctx, q, p.Address, string(p.Owner), string(p.Role))
	if err != nil {
		return false, fmt.Errorf("pool: create: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Save upserts the pool row keyed by its derived address.
func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, p Pool) (Pool, error) {
	const q = `
INSERT INTO stake_pools (address, owner, role, balance)
VALUES ($1, $2, $3, $4)
ON CONFLICT (address) DO UPDATE
SET balance = EXCLUDED.balance,
    updated_at = now()
RETURNING ` + poolColumns

	saved, err := scanPool(tx.QueryRow(ctx, q, p.Address, string(p.Owner), string(p.Role), int64(p.Balance)))
	if err != nil {
		return Pool{}, fmt.Errorf("pool: save: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, address uuid.UUID) (Pool, error) {
	p, err := scanPool(q.QueryRow(ctx, `SELECT `+poolColumns+` FROM stake_pools WHERE address = $1`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pool{}, ErrNotFound
		}
		return Pool{}, fmt.Errorf("pool: get: %w", err)
	}
	return p, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, filter Filter) ([]Pool, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := `SELECT ` + poolColumns + ` FROM stake_pools WHERE 1=1`
	args := []any{}
	if filter.Owner != "" {
		args = append(args, string(filter.Owner))
		query += fmt.Sprintf(" AND owner = $%d", len(args))
	}
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY owner, role LIMIT $%d", len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pool: list: %w", err)
	}
	defer rows.Close()

	out := make([]Pool, 0, 16)
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("pool: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pool: iterate: %w", err)
	}
	return out, nil
}

func scanPool(row pgx.Row) (Pool, error) {
	var (
		p       Pool
		owner   string
		role    string
		balance int64
	)
	if err := row.Scan(&p.Address, &owner, &role, &balance, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Pool{}, err
	}
	p.Owner = protocol.Identity(owner)
	p.Role = protocol.Role(role)
	p.Balance = protocol.Amount(balance)
	return p, nil
}

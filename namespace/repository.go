package namespace

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"arbitra/db"
	"arbitra/protocol"
)

// ErrNotFound signals the namespace has no config.
var ErrNotFound = errors.New("namespace: not found")

// Repository provides access to protocol configs.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, cfg Config) (Config, error)
	Update(ctx context.Context, tx pgx.Tx, cfg Config) (Config, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, namespace string) (Config, error)
	GetForShare(ctx context.Context, tx pgx.Tx, namespace string) (Config, error)
	Get(ctx context.Context, q db.Querier, namespace string) (Config, error)
	GetByAddress(ctx context.Context, q db.Querier, address uuid.UUID) (Config, error)
	List(ctx context.Context, q db.Querier, limit int) ([]Config, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const configColumns = `address, namespace, authority, treasury, min_participation, created_at, updated_at`

// Insert creates the config row. A second insert for the same namespace
// fails with DuplicateNamespace.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, cfg Config) (Config, error) {
	const query = `
		INSERT INTO protocol_configs (address, namespace, authority, treasury, min_participation)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + configColumns

	created, err := scanConfig(tx.QueryRow(ctx, query,
		cfg.Address, cfg.Namespace, string(cfg.Authority), string(cfg.Treasury), int64(cfg.MinParticipation),
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Config{}, protocol.Reject(protocol.ErrDuplicateNamespace, cfg.Address.String(), "namespace").
				Withf("namespace %q already registered", cfg.Namespace)
		}
		return Config{}, fmt.Errorf("namespace: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, cfg Config) (Config, error) {
	const query = `
		UPDATE protocol_configs
		SET authority = $2,
		    treasury = $3,
		    updated_at = now()
		WHERE namespace = $1
		RETURNING ` + configColumns

	updated, err := scanConfig(tx.QueryRow(ctx, query, cfg.Namespace, string(cfg.Authority), string(cfg.Treasury)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, fmt.Errorf("namespace: update: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, namespace string) (Config, error) {
	return r.lock(ctx, tx, namespace, "FOR UPDATE")
}

// GetForShare pins the config while a subject is registered under it.
func (r *PGRepository) GetForShare(ctx context.Context, tx pgx.Tx, namespace string) (Config, error) {
	return r.lock(ctx, tx, namespace, "FOR SHARE")
}

func (r *PGRepository) lock(ctx context.Context, tx pgx.Tx, namespace, mode string) (Config, error) {
	query := `SELECT ` + configColumns + ` FROM protocol_configs WHERE namespace = $1 ` + mode
	cfg, err := scanConfig(tx.QueryRow(ctx, query, namespace))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, fmt.Errorf("namespace: lock: %w", err)
	}
	return cfg, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, namespace string) (Config, error) {
	cfg, err := scanConfig(q.QueryRow(ctx, `SELECT `+configColumns+` FROM protocol_configs WHERE namespace = $1`, namespace))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, fmt.Errorf("namespace: query by namespace: %w", err)
	}
	return cfg, nil
}

func (r *PGRepository) GetByAddress(ctx context.Context, q db.Querier, address uuid.UUID) (Config, error) {
	cfg, err := scanConfig(q.QueryRow(ctx, `SELECT `+configColumns+` FROM protocol_configs WHERE address = $1`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, fmt.Errorf("namespace: query by address: %w", err)
	}
	return cfg, nil
}

// List fetches up to limit configs ordered by namespace.
func (r *PGRepository) List(ctx context.Context, q db.Querier, limit int) ([]Config, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	rows, err := q.Query(ctx, `SELECT `+configColumns+` FROM protocol_configs ORDER BY namespace ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("namespace: list: %w", err)
	}
	defer rows.Close()

	configs := make([]Config, 0, 16)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("namespace: scan config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("namespace: iterate configs: %w", err)
	}
	return configs, nil
}

func scanConfig(row pgx.Row) (Config, error) {
	var (
		cfg       Config
		authority string
		treasury  string
		minimum   int64
	)
	err := row.Scan(&cfg.Address, &cfg.Namespace, &authority, &treasury, &minimum, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return Config{}, err
	}
	cfg.Authority = protocol.Identity(authority)
	cfg.Treasury = protocol.Identity(treasury)
	cfg.MinParticipation = protocol.Amount(minimum)
	return cfg, nil
}

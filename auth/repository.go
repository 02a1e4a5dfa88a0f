package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"arbitra/db"
	"arbitra/protocol"
)

var (
	// ErrIdentityNotFound signals that the identity does not exist.
	ErrIdentityNotFound = errors.New("auth: identity not found")
	// ErrDuplicateName signals that the name is already registered.
	ErrDuplicateName = errors.New("auth: name already registered")
)

// Repository handles identity storage.
type Repository interface {
	CreateIdentity(ctx context.Context, q db.Querier, params CreateIdentityParams) (Identity, error)
	GetIdentityByName(ctx context.Context, q db.Querier, name protocol.Identity) (Identity, error)
	GetIdentityByID(ctx context.Context, q db.Querier, id uuid.UUID) (Identity, error)
}

// CreateIdentityParams contains write parameters for creating identities.
type CreateIdentityParams struct {
	Name       protocol.Identity
	SecretHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const identityColumns = `id, name, secret_hash, created_at`

func (r *PGRepository) CreateIdentity(ctx context.Context, q db.Querier, params CreateIdentityParams) (Identity, error) {
	const insertSQL = `
		INSERT INTO identities (name, secret_hash)
		VALUES ($1, $2)
		RETURNING ` + identityColumns

	identity, err := scanIdentity(q.QueryRow(ctx, insertSQL, string(params.Name), params.SecretHash))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Identity{}, ErrDuplicateName
		}
		return Identity{}, fmt.Errorf("auth: create identity: %w", err)
	}
	return identity, nil
}

func (r *PGRepository) GetIdentityByName(ctx context.Context, q db.Querier, name protocol.Identity) (Identity, error) {
	const selectSQL = `SELECT ` + identityColumns + ` FROM identities WHERE name = $1`

	identity, err := scanIdentity(q.QueryRow(ctx, selectSQL, string(name)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("auth: get identity by name: %w", err)
	}
	return identity, nil
}

func (r *PGRepository) GetIdentityByID(ctx context.Context, q db.Querier, id uuid.UUID) (Identity, error) {
	const selectSQL = `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`

	identity, err := scanIdentity(q.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("auth: get identity by id: %w", err)
	}
	return identity, nil
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		identity Identity
		name     string
	)
	if err := row.Scan(&identity.ID, &name, &identity.SecretHash, &identity.CreatedAt); err != nil {
		return Identity{}, err
	}
	identity.Name = protocol.Identity(name)
	return identity, nil
}

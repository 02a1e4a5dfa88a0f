package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"arbitra/db"
	"arbitra/journal"
	"arbitra/protocol"
)

type Service struct {
	pool    db.TxBeginner
	reader  db.Querier
	repo    Repository
	journal journal.Sink
	logger  zerolog.Logger
}

// NewService wires the pool ledger. reader serves the read surface outside
// transactions and is usually the same *pgxpool.Pool as pool.
func NewService(pool db.TxBeginner, reader db.Querier, repo Repository, sink journal.Sink) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:    pool,
		reader:  reader,
		repo:    repo,
		journal: sink,
		logger:  zerolog.Nop(),
	}
}

func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger.With().Str("component", "pool").Logger()
	return s
}

type DepositParams struct {
	Owner  protocol.Identity
	Role   protocol.Role
	Amount protocol.Amount
}

// Deposit creates the owner's pool for the role on first use and tops it up
// on every later call.
func (s *Service) Deposit(ctx context.Context, params DepositParams) (Pool, error) {
	if params.Owner == "" {
		return Pool{}, protocol.Reject(protocol.ErrInvalidParameter, "", "owner").Withf("owner required")
	}
	if !params.Role.Valid() {
		return Pool{}, protocol.Reject(protocol.ErrInvalidParameter, "", "role").Withf("unknown role %q", params.Role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Pool{}, fmt.Errorf("pool: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, created, err := s.lockOrCreate(ctx, tx, params)
	if err != nil {
		return Pool{}, err
	}
	if err := p.Deposit(params.Amount); err != nil {
		return Pool{}, err
	}

	saved, err := s.repo.Save(ctx, tx, p)
	if err != nil {
		return Pool{}, err
	}

	if s.journal != nil {
		ev := journal.Event{
			Account: saved.Address,
			Kind:    journal.KindPoolDeposited,
			Actor:   params.Owner,
			Payload: map[string]any{
				"role":    saved.Role,
				"amount":  uint64(params.Amount),
				"balance": uint64(saved.Balance),
				"created": created,
			},
		}
		if err := s.journal.Append(ctx, tx, ev); err != nil {
			return Pool{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Pool{}, fmt.Errorf("pool: commit tx: %w", err)
	}

	s.logger.Debug().Str("owner", string(saved.Owner)).Str("role", string(saved.Role)).
		Uint64("balance", uint64(saved.Balance)).Bool("created", created).Msg("pool deposit")
	return saved, nil
}

// lockOrCreate locks the owner's pool, inserting an empty row first when
// there is none. Two first deposits racing on one pool both end up adding
// to the same locked row.
func (s *Service) lockOrCreate(ctx context.Context, tx pgx.Tx, params DepositParams) (Pool, bool, error) {
	p, err := s.repo.GetForUpdate(ctx, tx, params.Owner, params.Role)
	switch {
	case err == nil:
		return p, false, nil
	case !errors.Is(err, ErrNotFound):
		return Pool{}, false, err
	}

	fresh := New(params.Owner, params.Role)
	if err := fresh.Deposit(params.Amount); err != nil {
		return Pool{}, false, err
	}
	created, err := s.repo.Create(ctx, tx, New(params.Owner, params.Role))
	if err != nil {
		return Pool{}, false, err
	}
	p, err = s.repo.GetForUpdate(ctx, tx, params.Owner, params.Role)
	if err != nil {
		return Pool{}, false, err
	}
	return p, created, nil
}

type WithdrawParams struct {
	Owner  protocol.Identity
	Role   protocol.Role
	Amount protocol.Amount
}

// Withdraw moves funds out of a pool to the owner. The transfer itself is
// emitted on the outbox.
func (s *Service) Withdraw(ctx context.Context, params WithdrawParams) (Pool, error) {
	if !params.Role.Valid() {
		return Pool{}, protocol.Reject(protocol.ErrInvalidParameter, "", "role").Withf("unknown role %q", params.Role)
	}
	if params.Amount == 0 {
		return Pool{}, protocol.Reject(protocol.ErrBelowMinimum, "", "amount").Withf("withdrawal must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Pool{}, fmt.Errorf("pool: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, params.Owner, params.Role)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Pool{}, protocol.Reject(protocol.ErrInsufficientPoolBalance, protocol.PoolAddress(params.Role, params.Owner).String(), "pool").
				Withf("no %s pool", params.Role)
		}
		return Pool{}, err
	}
	if err := p.Withdraw(params.Amount); err != nil {
		return Pool{}, err
	}

	saved, err := s.repo.Save(ctx, tx, p)
	if err != nil {
		return Pool{}, err
	}

	if s.journal != nil {
		ev := journal.Event{
			Account: saved.Address,
			Kind:    journal.KindPoolWithdrawn,
			Actor:   params.Owner,
			Payload: map[string]any{"role": saved.Role, "amount": uint64(params.Amount), "balance": uint64(saved.Balance)},
		}
		if err := s.journal.Append(ctx, tx, ev); err != nil {
			return Pool{}, err
		}
		transfer := map[string]any{
			"owner":  saved.Owner,
			"role":   saved.Role,
			"amount": uint64(params.Amount),
			"pool":   saved.Address.String(),
		}
		if err := s.journal.Enqueue(ctx, tx, journal.TopicPoolWithdrawal, transfer); err != nil {
			return Pool{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Pool{}, fmt.Errorf("pool: commit tx: %w", err)
	}
	return saved, nil
}

func (s *Service) Get(ctx context.Context, address uuid.UUID) (Pool, error) {
	return s.repo.Get(ctx, s.reader, address)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Pool, error) {
	return s.repo.List(ctx, s.reader, filter)
}

// Package reward pays settled escrows out to the winning side.
package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"arbitra/db"
	"arbitra/escrow"
	"arbitra/journal"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/subject"
)

// Repos bundles the stores a claim touches. Nil fields fall back to the
// Postgres implementations.
type Repos struct {
	Subjects subject.Repository
	Escrows  escrow.Repository
	Pools    pool.Repository
}

func (r Repos) withDefaults() Repos {
	if r.Subjects == nil {
		r.Subjects = subject.NewRepository()
	}
	if r.Escrows == nil {
		r.Escrows = escrow.NewRepository()
	}
	if r.Pools == nil {
		r.Pools = pool.NewRepository()
	}
	return r
}

type Service struct {
	pool    db.TxBeginner
	reader  db.Querier
	repos   Repos
	journal journal.Sink
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(pool db.TxBeginner, reader db.Querier, repos Repos, sink journal.Sink) *Service {
	return &Service{
		pool:    pool,
		reader:  reader,
		repos:   repos.withDefaults(),
		journal: sink,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
}

func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger.With().Str("component", "reward").Logger()
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type ClaimParams struct {
	Caller    protocol.Identity
	Role      protocol.Role
	SubjectID string
	Round     uint32
}

// Payout is the result of a successful claim.
type Payout struct {
	Record        escrow.Record
	Amount        protocol.Amount
	Source        protocol.BondSource
	Pool          *pool.Pool
	EscrowBalance protocol.Amount
	PendingClaims int
}

func (s *Service) ClaimJurorReward(ctx context.Context, caller protocol.Identity, subjectID string, round uint32) (Payout, error) {
	return s.Claim(ctx, ClaimParams{Caller: caller, Role: protocol.RoleJuror, SubjectID: subjectID, Round: round})
}

func (s *Service) ClaimChallengerReward(ctx context.Context, caller protocol.Identity, subjectID string, round uint32) (Payout, error) {
	return s.Claim(ctx, ClaimParams{Caller: caller, Role: protocol.RoleChallenger, SubjectID: subjectID, Round: round})
}

func (s *Service) ClaimDefenderReward(ctx context.Context, caller protocol.Identity, subjectID string, round uint32) (Payout, error) {
	return s.Claim(ctx, ClaimParams{Caller: caller, Role: protocol.RoleDefender, SubjectID: subjectID, Round: round})
}

// Claim releases the caller's share of a settled round. Pool-funded records
// are paid back into the caller's role pool; direct records produce a
// payout.direct message for the settlement rail.
func (s *Service) Claim(ctx context.Context, params ClaimParams) (Payout, error) {
	if params.Caller == "" {
		return Payout{}, protocol.Reject(protocol.ErrUnauthorized, "", "caller").Withf("caller identity required")
	}
	if !params.Role.Valid() {
		return Payout{}, protocol.Reject(protocol.ErrInvalidParameter, "", "role").Withf("unknown role %q", params.Role)
	}
	escrowAddr := protocol.EscrowAddress(params.SubjectID, params.Round)
	recordAddr := protocol.RecordAddress(params.Role, params.SubjectID, params.Caller, params.Round)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payout{}, fmt.Errorf("reward: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repos.Subjects.GetForUpdate(ctx, tx, params.SubjectID); err != nil {
		if errors.Is(err, subject.ErrNotFound) {
			return Payout{}, protocol.Reject(protocol.ErrNotFound, protocol.SubjectAddress(params.SubjectID).String(), "subject_id")
		}
		return Payout{}, err
	}

	e, err := s.repos.Escrows.GetForUpdate(ctx, tx, params.SubjectID, params.Round)
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		return Payout{}, protocol.Reject(protocol.ErrDisputeNotResolved, escrowAddr.String(), "round").
			Withf("no escrow for round %d", params.Round)
	case err != nil:
		return Payout{}, err
	}
	if !e.Settled() {
		return Payout{}, protocol.Reject(protocol.ErrDisputeNotResolved, escrowAddr.String(), "settlement").
			Withf("round %d has not been resolved", params.Round)
	}

	// The pool sits before the record in the lock order, so it is locked
	// before the record says whether it will be credited.
	p, err := s.repos.Pools.GetForUpdate(ctx, tx, params.Caller, params.Role)
	hasPool := true
	switch {
	case errors.Is(err, pool.ErrNotFound):
		hasPool = false
	case err != nil:
		return Payout{}, err
	}

	rec, err := s.repos.Escrows.GetRecordForUpdate(ctx, tx, params.Role, params.SubjectID, params.Caller, params.Round)
	switch {
	case errors.Is(err, escrow.ErrRecordNotFound):
		return Payout{}, protocol.Reject(protocol.ErrNoRecordFound, recordAddr.String(), "record").
			Withf("%s has no %s record in round %d", params.Caller, params.Role, params.Round)
	case err != nil:
		return Payout{}, err
	}

	amount, err := e.Release(&rec, s.now())
	if err != nil {
		return Payout{}, err
	}

	out := Payout{Amount: amount, Source: rec.Source}
	if rec.Source == protocol.BondSourcePool {
		if !hasPool {
			p = pool.New(params.Caller, params.Role)
		}
		if err := p.Credit(amount); err != nil {
			return Payout{}, err
		}
		saved, err := s.repos.Pools.Save(ctx, tx, p)
		if err != nil {
			return Payout{}, err
		}
		out.Pool = &saved
	}

	savedEscrow, err := s.repos.Escrows.Save(ctx, tx, e)
	if err != nil {
		return Payout{}, err
	}
	savedRecord, err := s.repos.Escrows.SaveRecord(ctx, tx, rec)
	if err != nil {
		return Payout{}, err
	}
	out.Record = savedRecord
	out.EscrowBalance = savedEscrow.Balance
	out.PendingClaims = savedEscrow.Settlement.PendingClaims

	if err := s.record(ctx, tx, out, savedEscrow); err != nil {
		return Payout{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payout{}, fmt.Errorf("reward: commit tx: %w", err)
	}

	s.logger.Info().Str("subject_id", params.SubjectID).Uint32("round", params.Round).Str("role", string(params.Role)).
		Str("owner", string(params.Caller)).Uint64("amount", uint64(amount)).Int("pending", out.PendingClaims).
		Msg("reward claimed")
	return out, nil
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, out Payout, e escrow.Escrow) error {
	if s.journal == nil {
		return nil
	}
	rec := out.Record
	if err := s.journal.Append(ctx, tx, journal.Event{
		Account: rec.Address,
		Kind:    journal.KindRewardClaimed,
		Actor:   rec.Owner,
		Payload: map[string]any{
			"subject_id":     rec.SubjectID,
			"round":          rec.Round,
			"role":           rec.Role,
			"outcome":        e.Settlement.Outcome,
			"stake":          uint64(rec.Stake),
			"amount":         uint64(out.Amount),
			"source":         rec.Source,
			"escrow_balance": uint64(e.Balance),
			"pending_claims": e.Settlement.PendingClaims,
		},
	}); err != nil {
		return err
	}

	if out.Pool != nil {
		return s.journal.Append(ctx, tx, journal.Event{
			Account: out.Pool.Address,
			Kind:    journal.KindPoolCredited,
			Actor:   rec.Owner,
			Payload: map[string]any{
				"role":    out.Pool.Role,
				"amount":  uint64(out.Amount),
				"balance": uint64(out.Pool.Balance),
				"record":  rec.Address.String(),
			},
		})
	}
	return s.journal.Enqueue(ctx, tx, journal.TopicPayoutDirect, map[string]any{
		"record":     rec.Address.String(),
		"owner":      rec.Owner,
		"subject_id": rec.SubjectID,
		"round":      rec.Round,
		"amount":     uint64(out.Amount),
	})
}

// Entitlement previews what owner could claim for role in round without
// changing anything.
func (s *Service) Entitlement(ctx context.Context, role protocol.Role, subjectID string, owner protocol.Identity, round uint32) (protocol.Amount, error) {
	e, err := s.repos.Escrows.Get(ctx, s.reader, protocol.EscrowAddress(subjectID, round))
	if err != nil {
		return 0, err
	}
	rec, err := s.repos.Escrows.GetRecord(ctx, s.reader, protocol.RecordAddress(role, subjectID, owner, round))
	if err != nil {
		return 0, err
	}
	return e.Entitlement(rec), nil
}

// Records lists records, typically one subject's round, for claim status.
func (s *Service) Records(ctx context.Context, filter escrow.RecordFilter) ([]escrow.Record, error) {
	return s.repos.Escrows.ListRecords(ctx, s.reader, filter)
}

// Escrow fetches an escrow by address.
func (s *Service) Escrow(ctx context.Context, address uuid.UUID) (escrow.Escrow, error) {
	return s.repos.Escrows.Get(ctx, s.reader, address)
}

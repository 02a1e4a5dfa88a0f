package subject

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"arbitra/db"
	"arbitra/escrow"
	"arbitra/journal"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
)

// Repos bundles the stores the registry touches. Nil fields fall back to the
// Postgres implementations.
type Repos struct {
	Subjects   Repository
	Namespaces namespace.Repository
	Pools      pool.Repository
	Escrows    escrow.Repository
}

func (r Repos) withDefaults() Repos {
	if r.Subjects == nil {
		r.Subjects = NewRepository()
	}
	if r.Namespaces == nil {
		r.Namespaces = namespace.NewRepository()
	}
	if r.Pools == nil {
		r.Pools = pool.NewRepository()
	}
	if r.Escrows == nil {
		r.Escrows = escrow.NewRepository()
	}
	return r
}

type Service struct {
	pool    db.TxBeginner
	reader  db.Querier
	repos   Repos
	journal journal.Sink
	logger  zerolog.Logger
}

func NewService(pool db.TxBeginner, reader db.Querier, repos Repos, sink journal.Sink) *Service {
	return &Service{
		pool:    pool,
		reader:  reader,
		repos:   repos.withDefaults(),
		journal: sink,
		logger:  zerolog.Nop(),
	}
}

func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger.With().Str("component", "subject").Logger()
	return s
}

type CreateParams struct {
	Caller       protocol.Identity
	Namespace    string
	SubjectID    string
	DetailsRef   string
	MaxBond      protocol.Amount
	MatchMode    bool
	VotingPeriod time.Duration
	InitialBond  protocol.Amount
	BondSource   protocol.BondSource
}

// CreateSubject registers a subject under the caller's namespace and bonds
// it for round 1 on the caller's behalf.
func (s *Service) CreateSubject(ctx context.Context, params CreateParams) (Subject, error) {
	id := strings.TrimSpace(params.SubjectID)
	if id == "" || len(id) > MaxSubjectIDLen {
		return Subject{}, protocol.Reject(protocol.ErrInvalidParameter, "", "subject_id").
			Withf("subject id must be 1-%d characters", MaxSubjectIDLen)
	}
	if params.VotingPeriod < time.Second {
		return Subject{}, protocol.Reject(protocol.ErrInvalidParameter, "", "voting_period").Withf("voting period must be at least 1s")
	}
	if params.MaxBond > protocol.MaxAmount {
		return Subject{}, protocol.Reject(protocol.ErrAmountOverflow, "", "max_bond").Withf("max bond exceeds %d", protocol.MaxAmount)
	}
	if params.BondSource == "" {
		params.BondSource = protocol.BondSourceDirect
	}
	if !params.BondSource.Valid() {
		return Subject{}, protocol.Reject(protocol.ErrInvalidParameter, "", "bond_source").Withf("unknown bond source %q", params.BondSource)
	}
	address := protocol.SubjectAddress(id)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Subject{}, fmt.Errorf("subject: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg, err := s.repos.Namespaces.GetForShare(ctx, tx, params.Namespace)
	if err != nil {
		if errors.Is(err, namespace.ErrNotFound) {
			return Subject{}, protocol.Reject(protocol.ErrNotFound, protocol.ConfigAddress(params.Namespace).String(), "namespace")
		}
		return Subject{}, err
	}
	if !cfg.IsAuthority(params.Caller) {
		return Subject{}, protocol.Reject(protocol.ErrUnauthorized, cfg.Address.String(), "authority").
			Withf("%s is not the authority of %s", params.Caller, cfg.Namespace)
	}

	switch _, err := s.repos.Subjects.GetForUpdate(ctx, tx, id); {
	case err == nil:
		return Subject{}, protocol.Reject(protocol.ErrDuplicateSubject, address.String(), "subject_id").
			Withf("subject %q already registered", id)
	case !errors.Is(err, ErrNotFound):
		return Subject{}, err
	}

	if params.InitialBond == 0 || params.InitialBond > params.MaxBond {
		return Subject{}, protocol.Reject(protocol.ErrInvalidBond, address.String(), "initial_bond").
			Withf("initial bond %d must be in [1, %d]", params.InitialBond, params.MaxBond)
	}

	status := protocol.SubjectDormant
	if params.InitialBond > 0 {
		status = protocol.SubjectValid
	}
	created, err := s.repos.Subjects.Insert(ctx, tx, Subject{
		Address:      address,
		SubjectID:    id,
		Namespace:    cfg.Namespace,
		DetailsRef:   params.DetailsRef,
		MaxBond:      params.MaxBond,
		MatchMode:    params.MatchMode,
		VotingPeriod: params.VotingPeriod,
		Status:       status,
		CurrentRound: 1,
		CreatedBy:    params.Caller,
	})
	if err != nil {
		return Subject{}, err
	}

	e := escrow.New(id, created.CurrentRound)
	rec := escrow.NewRecord(protocol.RoleDefender, id, params.Caller, created.CurrentRound, params.BondSource)
	rec.DetailsRef = params.DetailsRef
	if err := e.Commit(&rec, params.InitialBond); err != nil {
		return Subject{}, err
	}
	if _, err := s.repos.Escrows.Save(ctx, tx, e); err != nil {
		return Subject{}, err
	}

	if err := s.debit(ctx, tx, params.Caller, params.BondSource, params.InitialBond); err != nil {
		return Subject{}, err
	}
	if _, err := s.repos.Escrows.SaveRecord(ctx, tx, rec); err != nil {
		return Subject{}, err
	}

	if s.journal != nil {
		ev := journal.Event{
			Account: created.Address,
			Kind:    journal.KindSubjectCreated,
			Actor:   params.Caller,
			Payload: map[string]any{
				"subject_id":   created.SubjectID,
				"namespace":    created.Namespace,
				"status":       created.Status,
				"initial_bond": uint64(params.InitialBond),
				"bond_source":  params.BondSource,
				"max_bond":     uint64(created.MaxBond),
				"match_mode":   created.MatchMode,
			},
		}
		if err := s.journal.Append(ctx, tx, ev); err != nil {
			return Subject{}, err
		}
		if err := s.journal.Enqueue(ctx, tx, journal.TopicSubjectCreated, map[string]any{
			"subject_id": created.SubjectID,
			"namespace":  created.Namespace,
			"status":     created.Status,
		}); err != nil {
			return Subject{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Subject{}, fmt.Errorf("subject: commit tx: %w", err)
	}

	s.logger.Info().Str("subject_id", created.SubjectID).Str("namespace", created.Namespace).
		Uint64("bond", uint64(params.InitialBond)).Msg("subject created")
	return created, nil
}

// CreateSubjectFromPool is CreateSubject funded from the caller's defender pool.
func (s *Service) CreateSubjectFromPool(ctx context.Context, params CreateParams) (Subject, error) {
	params.BondSource = protocol.BondSourcePool
	return s.CreateSubject(ctx, params)
}

func (s *Service) debit(ctx context.Context, tx pgx.Tx, owner protocol.Identity, source protocol.BondSource, amount protocol.Amount) error {
	if source != protocol.BondSourcePool {
		return pool.Direct().Debit(amount)
	}
	p, err := s.repos.Pools.GetForUpdate(ctx, tx, owner, protocol.RoleDefender)
	switch {
	case errors.Is(err, pool.ErrNotFound):
		return pool.FromPool(nil).Debit(amount)
	case err != nil:
		return err
	}
	if err := pool.FromPool(&p).Debit(amount); err != nil {
		return err
	}
	_, err = s.repos.Pools.Save(ctx, tx, p)
	return err
}

func (s *Service) Get(ctx context.Context, subjectID string) (Subject, error) {
	return s.repos.Subjects.Get(ctx, s.reader, subjectID)
}

func (s *Service) GetByAddress(ctx context.Context, address uuid.UUID) (Subject, error) {
	return s.repos.Subjects.GetByAddress(ctx, s.reader, address)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Subject, error) {
	return s.repos.Subjects.List(ctx, s.reader, filter)
}

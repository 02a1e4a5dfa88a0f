package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"arbitra/db"
	"arbitra/escrow"
	"arbitra/journal"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/subject"
)

// Repos bundles the stores a case spans. Nil fields fall back to the
// Postgres implementations.
type Repos struct {
	Disputes   Repository
	Subjects   subject.Repository
	Namespaces namespace.Repository
	Pools      pool.Repository
	Escrows    escrow.Repository
}

func (r Repos) withDefaults() Repos {
	if r.Disputes == nil {
		r.Disputes = NewRepository()
	}
	if r.Subjects == nil {
		r.Subjects = subject.NewRepository()
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

// Message is an outbox entry produced by a step.
type Message struct {
	Topic   string
	Payload map[string]any
}

// Effects is what a step hands back for Run to persist alongside the case.
type Effects struct {
	Contributions []Contribution
	Events        []journal.Event
	Messages      []Message
}

// Step mutates a loaded case. Participant may be called from inside a step
// to lock the caller's pool and record.
type Step func(ctx context.Context, tx pgx.Tx, c *Case) (Effects, error)

// Ledger runs steps against a subject's case in a single transaction.
// Accounts are locked subject first, then dispute, escrow, pool and record,
// so concurrent operations on one subject serialize on the subject row.
type Ledger struct {
	pool    db.TxBeginner
	repos   Repos
	journal journal.Sink
}

func NewLedger(pool db.TxBeginner, repos Repos, sink journal.Sink) *Ledger {
	return &Ledger{pool: pool, repos: repos.withDefaults(), journal: sink}
}

// Run loads the subject's case at now, applies step and persists the case,
// the step's contributions and its journal effects. Any error rolls the
// whole transaction back.
func (l *Ledger) Run(ctx context.Context, subjectID string, now time.Time, step Step) (*Case, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := l.Load(ctx, tx, subjectID, now)
	if err != nil {
		return nil, err
	}
	effects, err := step(ctx, tx, c)
	if err != nil {
		return nil, err
	}
	if err := l.Save(ctx, tx, c, effects.Contributions...); err != nil {
		return nil, err
	}

	if l.journal != nil {
		for _, ev := range effects.Events {
			if err := l.journal.Append(ctx, tx, ev); err != nil {
				return nil, err
			}
		}
		for _, m := range effects.Messages {
			if err := l.journal.Enqueue(ctx, tx, m.Topic, m.Payload); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dispute: commit tx: %w", err)
	}
	return c, nil
}

// Load locks the subject and the accounts of its current round.
func (l *Ledger) Load(ctx context.Context, tx pgx.Tx, subjectID string, now time.Time) (*Case, error) {
	s, err := l.repos.Subjects.GetForUpdate(ctx, tx, subjectID)
	if err != nil {
		if errors.Is(err, subject.ErrNotFound) {
			return nil, protocol.Reject(protocol.ErrNotFound, protocol.SubjectAddress(subjectID).String(), "subject_id")
		}
		return nil, err
	}
	cfg, err := l.repos.Namespaces.Get(ctx, tx, s.Namespace)
	if err != nil {
		return nil, fmt.Errorf("dispute: load namespace %s: %w", s.Namespace, err)
	}

	c := &Case{Config: cfg, Subject: s, Now: now}

	d, err := l.repos.Disputes.GetForUpdate(ctx, tx, s.SubjectID, s.CurrentRound)
	switch {
	case err == nil:
		c.Dispute = &d
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	e, err := l.repos.Escrows.GetForUpdate(ctx, tx, s.SubjectID, s.CurrentRound)
	switch {
	case err == nil:
		c.Escrow = e
	case errors.Is(err, escrow.ErrNotFound):
		c.Escrow = escrow.New(s.SubjectID, s.CurrentRound)
	default:
		return nil, err
	}
	return c, nil
}

// Participant locks owner's pool for role (when funding from it) and the
// owner's record in the case's round, creating neither.
func (l *Ledger) Participant(ctx context.Context, tx pgx.Tx, c *Case, role protocol.Role, owner protocol.Identity, source protocol.BondSource, amount protocol.Amount) (Contribution, error) {
	if owner == "" {
		return Contribution{}, protocol.Reject(protocol.ErrUnauthorized, "", "caller").Withf("caller identity required")
	}
	if source == "" {
		source = protocol.BondSourceDirect
	}
	in := Contribution{Amount: amount}
	switch source {
	case protocol.BondSourceDirect:
		in.Funding = pool.Direct()
	case protocol.BondSourcePool:
		p, err := l.repos.Pools.GetForUpdate(ctx, tx, owner, role)
		switch {
		case err == nil:
			in.Funding = pool.FromPool(&p)
		case errors.Is(err, pool.ErrNotFound):
			in.Funding = pool.FromPool(nil)
		default:
			return Contribution{}, err
		}
	default:
		return Contribution{}, protocol.Reject(protocol.ErrInvalidParameter, "", "bond_source").Withf("unknown bond source %q", source)
	}

	rec, err := l.repos.Escrows.GetRecordForUpdate(ctx, tx, role, c.Subject.SubjectID, owner, c.Subject.CurrentRound)
	switch {
	case err == nil:
	case errors.Is(err, escrow.ErrRecordNotFound):
		rec = escrow.NewRecord(role, c.Subject.SubjectID, owner, c.Subject.CurrentRound, source)
	default:
		return Contribution{}, err
	}
	in.Record = &rec
	return in, nil
}

// Save persists every account of the case plus each contribution's pool and
// record.
func (l *Ledger) Save(ctx context.Context, tx pgx.Tx, c *Case, contributions ...Contribution) error {
	saved, err := l.repos.Subjects.Save(ctx, tx, c.Subject)
	if err != nil {
		return err
	}
	c.Subject = saved

	if c.Dispute != nil {
		d, err := l.repos.Disputes.Save(ctx, tx, *c.Dispute)
		if err != nil {
			return err
		}
		c.Dispute = &d
	}

	e, err := l.repos.Escrows.Save(ctx, tx, c.Escrow)
	if err != nil {
		return err
	}
	c.Escrow = e

	for _, in := range contributions {
		if in.Funding.Source == protocol.BondSourcePool && in.Funding.Pool != nil {
			p, err := l.repos.Pools.Save(ctx, tx, *in.Funding.Pool)
			if err != nil {
				return err
			}
			*in.Funding.Pool = p
		}
		rec, err := l.repos.Escrows.SaveRecord(ctx, tx, *in.Record)
		if err != nil {
			return err
		}
		*in.Record = rec
	}
	return nil
}

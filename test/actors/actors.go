// Package actors drives the ledger services concurrently against one
// shared set of subjects and identities.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"arbitra/dispute"
	"arbitra/journal"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/restoration"
	"arbitra/reward"
	"arbitra/subject"
)

// World is the shared fixture every actor works against.
type World struct {
	Namespaces   *namespace.Service
	Subjects     *subject.Service
	Pools        *pool.Service
	Disputes     *dispute.Service
	Restorations *restoration.Service
	Rewards      *reward.Service

	Authority  protocol.Identity
	SubjectIDs []string
	Identities []protocol.Identity

	// Rejected counts protocol rejections; Transient counts everything else
	// (mostly connections killed by chaos).
	Rejected  atomic.Int64
	Transient atomic.Int64
	Committed atomic.Int64
}

func NewWorld(conn *pgxpool.Pool) *World {
	sink := journal.NewWriter()
	disputes := dispute.NewService(conn, conn, dispute.Repos{}, sink)
	return &World{
		Namespaces:   namespace.NewService(conn, conn, nil, sink),
		Subjects:     subject.NewService(conn, conn, subject.Repos{}, sink),
		Pools:        pool.NewService(conn, conn, nil, sink),
		Disputes:     disputes,
		Restorations: restoration.NewService(disputes),
		Rewards:      reward.NewService(conn, conn, reward.Repos{}, sink),
		Authority:    "platform",
	}
}

// Seed creates the namespace, subjectCount subjects with a one second voting
// period and identityCount funded identities.
func (w *World) Seed(ctx context.Context, subjectCount, identityCount int) error {
	if _, err := w.Namespaces.InitializeConfig(ctx, namespace.InitializeParams{
		Caller: w.Authority, Namespace: "stress", MinParticipation: 1,
	}); err != nil {
		return fmt.Errorf("seed namespace: %w", err)
	}
	for i := 0; i < subjectCount; i++ {
		id := fmt.Sprintf("subject-%d", i)
		if _, err := w.Subjects.CreateSubject(ctx, subject.CreateParams{
			Caller:       w.Authority,
			Namespace:    "stress",
			SubjectID:    id,
			MaxBond:      1_000,
			MatchMode:    i%2 == 0,
			VotingPeriod: time.Second,
			InitialBond:  5,
		}); err != nil {
			return fmt.Errorf("seed subject %s: %w", id, err)
		}
		w.SubjectIDs = append(w.SubjectIDs, id)
	}
	for i := 0; i < identityCount; i++ {
		who := protocol.Identity(fmt.Sprintf("actor-%d", i))
		for _, role := range []protocol.Role{protocol.RoleChallenger, protocol.RoleJuror, protocol.RoleDefender} {
			if _, err := w.Pools.Deposit(ctx, pool.DepositParams{Owner: who, Role: role, Amount: 10_000}); err != nil {
				return fmt.Errorf("seed pool %s/%s: %w", who, role, err)
			}
		}
		w.Identities = append(w.Identities, who)
	}
	return nil
}

func (w *World) subjectID(rng *rand.Rand) string { return w.SubjectIDs[rng.Intn(len(w.SubjectIDs))] }

func (w *World) identity(rng *rand.Rand) protocol.Identity {
	return w.Identities[rng.Intn(len(w.Identities))]
}

func source(rng *rand.Rand) protocol.BondSource {
	if rng.Intn(2) == 0 {
		return protocol.BondSourceDirect
	}
	return protocol.BondSourcePool
}

// observe classifies the outcome of one operation. It returns ctx's error
// once the run is over.
func (w *World) observe(ctx context.Context, err error) error {
	switch {
	case err == nil:
		w.Committed.Add(1)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		if _, ok := protocol.CodeOf(err); ok {
			w.Rejected.Add(1)
		} else {
			w.Transient.Add(1)
		}
	}
	return nil
}

// loop runs step until stop closes, pausing between iterations.
func loop(ctx context.Context, stop <-chan struct{}, rng *rand.Rand, pause time.Duration, step func() error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := step(); err != nil {
			return err
		}
		time.Sleep(pause + time.Duration(rng.Int63n(int64(pause))))
	}
}

// Challenger opens disputes and joins open ones with pool or direct funds.
func Challenger(ctx context.Context, w *World, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 10*time.Millisecond, func() error {
		id, who, stake := w.subjectID(rng), w.identity(rng), protocol.Amount(1+rng.Intn(10))
		var err error
		if rng.Intn(2) == 0 {
			_, err = w.Disputes.CreateDispute(ctx, dispute.CreateParams{
				Caller: who, SubjectID: id, DisputeType: protocol.DisputeTypeFraud, Stake: stake, BondSource: source(rng),
			})
		} else {
			_, err = w.Disputes.JoinChallengers(ctx, dispute.JoinParams{Caller: who, SubjectID: id, Stake: stake, BondSource: source(rng)})
		}
		return w.observe(ctx, err)
	})
}

// Defender adds bond to subjects whether or not they are disputed.
func Defender(ctx context.Context, w *World, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 15*time.Millisecond, func() error {
		_, err := w.Disputes.AddBond(ctx, dispute.BondParams{
			Caller: w.identity(rng), SubjectID: w.subjectID(rng), Amount: protocol.Amount(1 + rng.Intn(5)), BondSource: source(rng),
		})
		return w.observe(ctx, err)
	})
}

// Juror votes on challenges and restorations from its juror pool.
func Juror(ctx context.Context, w *World, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 10*time.Millisecond, func() error {
		id, who, stake := w.subjectID(rng), w.identity(rng), protocol.Amount(1+rng.Intn(8))
		var err error
		if rng.Intn(3) == 0 {
			choice := protocol.RestoreForRestoration
			if rng.Intn(2) == 0 {
				choice = protocol.RestoreAgainstRestoration
			}
			_, err = w.Restorations.VoteRestore(ctx, restoration.VoteParams{Caller: who, SubjectID: id, Choice: choice, Stake: stake})
		} else {
			choice := protocol.VoteForChallenger
			if rng.Intn(2) == 0 {
				choice = protocol.VoteForDefender
			}
			_, err = w.Disputes.Vote(ctx, dispute.VoteParams{Caller: who, SubjectID: id, Choice: choice, Stake: stake})
		}
		return w.observe(ctx, err)
	})
}

// Restorer reopens invalidated subjects.
func Restorer(ctx context.Context, w *World, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 25*time.Millisecond, func() error {
		_, err := w.Restorations.InitiateRestore(ctx, restoration.InitiateParams{
			Caller: w.identity(rng), SubjectID: w.subjectID(rng), Stake: protocol.Amount(1 + rng.Intn(10)), BondSource: source(rng),
		})
		return w.observe(ctx, err)
	})
}

// Resolver closes whatever disputes have passed their deadline.
func Resolver(ctx context.Context, w *World, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 20*time.Millisecond, func() error {
		_, err := w.Disputes.ResolveDispute(ctx, dispute.ResolveParams{Caller: "keeper", SubjectID: w.subjectID(rng)})
		return w.observe(ctx, err)
	})
}

// Claimant claims rewards for random identities, roles and past rounds.
func Claimant(ctx context.Context, w *World, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	roles := []protocol.Role{protocol.RoleDefender, protocol.RoleChallenger, protocol.RoleJuror}
	return loop(ctx, stop, rng, 10*time.Millisecond, func() error {
		caller := w.identity(rng)
		if rng.Intn(4) == 0 {
			caller = w.Authority
		}
		_, err := w.Rewards.Claim(ctx, reward.ClaimParams{
			Caller: caller, Role: roles[rng.Intn(len(roles))], SubjectID: w.subjectID(rng), Round: uint32(1 + rng.Intn(4)),
		})
		return w.observe(ctx, err)
	})
}

// Treasurer moves funds in and out of pools.
func Treasurer(ctx context.Context, w *World, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, 20*time.Millisecond, func() error {
		who, role, amount := w.identity(rng), protocol.RoleJuror, protocol.Amount(1+rng.Intn(50))
		var err error
		if rng.Intn(2) == 0 {
			_, err = w.Pools.Deposit(ctx, pool.DepositParams{Owner: who, Role: role, Amount: amount})
		} else {
			_, err = w.Pools.Withdraw(ctx, pool.WithdrawParams{Owner: who, Role: role, Amount: amount})
		}
		return w.observe(ctx, err)
	})
}

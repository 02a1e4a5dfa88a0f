package reward_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"arbitra/db"
	"arbitra/dispute"
	"arbitra/journal"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/reward"
	"arbitra/subject"
)

// TestLedgerLifecycle_Integration runs a full challenge and its claims
// against a live PostgreSQL given by DATABASE_URL.
func TestLedgerLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer conn.Close()
	if _, err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	run := time.Now().UnixNano()
	ns := fmt.Sprintf("it-%d", run)
	id := fmt.Sprintf("it-subject-%d", run)
	authority := protocol.Identity(fmt.Sprintf("authority-%d", run))
	carol := protocol.Identity(fmt.Sprintf("carol-%d", run))
	jane := protocol.Identity(fmt.Sprintf("jane-%d", run))

	now := time.Now().UTC()
	sink := journal.NewWriter()
	namespaces := namespace.NewService(conn, conn, nil, sink)
	subjects := subject.NewService(conn, conn, subject.Repos{}, sink)
	pools := pool.NewService(conn, conn, nil, sink)
	disputes := dispute.NewService(conn, conn, dispute.Repos{}, sink).WithClock(func() time.Time { return now })
	rewards := reward.NewService(conn, conn, reward.Repos{}, sink)

	if _, err := namespaces.InitializeConfig(ctx, namespace.InitializeParams{Caller: authority, Namespace: ns, MinParticipation: 1}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := subjects.CreateSubject(ctx, subject.CreateParams{
		Caller: authority, Namespace: ns, SubjectID: id, MaxBond: 50, VotingPeriod: time.Hour, InitialBond: 4,
	}); err != nil {
		t.Fatalf("create subject: %v", err)
	}
	if _, err := subjects.CreateSubject(ctx, subject.CreateParams{
		Caller: authority, Namespace: ns, SubjectID: id, MaxBond: 50, VotingPeriod: time.Hour, InitialBond: 4,
	}); !errors.Is(err, protocol.ErrDuplicateSubject) {
		t.Fatalf("expected DuplicateSubject from the unique index, got %v", err)
	}
	if _, err := pools.Deposit(ctx, pool.DepositParams{Owner: jane, Role: protocol.RoleJuror, Amount: 10}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := disputes.CreateDispute(ctx, dispute.CreateParams{Caller: carol, SubjectID: id, DisputeType: protocol.DisputeTypeFraud, Stake: 2}); err != nil {
		t.Fatalf("create dispute: %v", err)
	}
	if _, err := disputes.Vote(ctx, dispute.VoteParams{Caller: jane, SubjectID: id, Choice: protocol.VoteForChallenger, Stake: 6}); err != nil {
		t.Fatalf("vote: %v", err)
	}

	now = now.Add(2 * time.Hour)
	resolved, err := disputes.ResolveDispute(ctx, dispute.ResolveParams{Caller: "keeper", SubjectID: id})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Outcome != protocol.OutcomeChallengerWins {
		t.Fatalf("expected ChallengerWins, got %s", resolved.Outcome)
	}

	if _, err := rewards.ClaimDefenderReward(ctx, authority, id, 1); !errors.Is(err, protocol.ErrNotOnWinningSide) {
		t.Fatalf("expected NotOnWinningSide, got %v", err)
	}
	first, err := rewards.ClaimChallengerReward(ctx, carol, id, 1)
	if err != nil {
		t.Fatalf("challenger claim: %v", err)
	}
	// 2 + floor(2*4/8)
	if first.Amount != 3 {
		t.Fatalf("expected challenger payout 3, got %d", first.Amount)
	}
	last, err := rewards.ClaimJurorReward(ctx, jane, id, 1)
	if err != nil {
		t.Fatalf("juror claim: %v", err)
	}
	if last.Amount != 9 || last.EscrowBalance != 0 || last.PendingClaims != 0 {
		t.Fatalf("expected the last claim to drain the escrow, got %+v", last)
	}

	e, err := rewards.Escrow(ctx, protocol.EscrowAddress(id, 1))
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if e.Balance != 0 || e.Released != e.Deposited {
		t.Fatalf("expected drained escrow, got %+v", e)
	}
	var juror pool.Pool
	if list, err := pools.List(ctx, pool.Filter{Owner: jane, Role: protocol.RoleJuror}); err != nil || len(list) != 1 {
		t.Fatalf("list pools: %v %v", list, err)
	} else {
		juror = list[0]
	}
	if juror.Balance != 13 {
		t.Fatalf("expected juror pool 4 + 9 = 13, got %d", juror.Balance)
	}

	var events int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_events WHERE account = $1`, protocol.SubjectAddress(id)).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events == 0 {
		t.Fatal("expected ledger events on the subject account")
	}
}

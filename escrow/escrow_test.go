package escrow

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"arbitra/protocol"
)

var settledAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func juror(subjectID string, owner protocol.Identity, round uint32, choice protocol.VoteChoice) Record {
	rec := NewRecord(protocol.RoleJuror, subjectID, owner, round, protocol.BondSourcePool)
	rec.Choice = string(choice)
	rec.Side = choice.Side()
	return rec
}

func commit(t *testing.T, e *Escrow, rec *Record, amount protocol.Amount) {
	t.Helper()
	if err := e.Commit(rec, amount); err != nil {
		t.Fatalf("commit %s/%s: %v", rec.Role, rec.Owner, err)
	}
}

func TestCommit_TracksTotalsAndRecords(t *testing.T) {
	e := New("subject-1", 1)
	def := NewRecord(protocol.RoleDefender, "subject-1", "authority", 1, protocol.BondSourceDirect)
	ch := NewRecord(protocol.RoleChallenger, "subject-1", "carol", 1, protocol.BondSourceDirect)
	jr := juror("subject-1", "jane", 1, protocol.VoteForDefender)

	commit(t, &e, &def, 3)
	commit(t, &e, &def, 2)
	commit(t, &e, &ch, 4)
	commit(t, &e, &jr, 6)

	if e.Bonds != 5 || e.Stakes != 4 || e.JurorsForDefender != 6 || e.JurorsForChallenger != 0 {
		t.Fatalf("unexpected totals %+v", e)
	}
	if e.Balance != e.Bonds+e.Stakes+e.JurorsForDefender+e.JurorsForChallenger {
		t.Fatalf("balance %d does not match totals", e.Balance)
	}
	if e.DefenderRecords != 2 || e.ChallengerRecords != 1 {
		t.Fatalf("expected 2 defender and 1 challenger records, got %d/%d", e.DefenderRecords, e.ChallengerRecords)
	}
	if def.Stake != 5 || def.IsNew() {
		t.Fatalf("expected accumulated defender stake 5, got %d", def.Stake)
	}
}

func TestCommit_Rejections(t *testing.T) {
	e := New("subject-2", 2)

	other := NewRecord(protocol.RoleChallenger, "subject-2", "carol", 1, protocol.BondSourceDirect)
	if err := e.Commit(&other, 1); !errors.Is(err, protocol.ErrInvalidParameter) {
		t.Fatalf("expected InvalidParameter for another round, got %v", err)
	}

	sideless := NewRecord(protocol.RoleJuror, "subject-2", "jane", 2, protocol.BondSourcePool)
	if err := e.Commit(&sideless, 1); !errors.Is(err, protocol.ErrInvalidParameter) {
		t.Fatalf("expected InvalidParameter for juror without a side, got %v", err)
	}

	big := NewRecord(protocol.RoleChallenger, "subject-2", "max", 2, protocol.BondSourceDirect)
	commit(t, &e, &big, protocol.MaxAmount)
	more := NewRecord(protocol.RoleDefender, "subject-2", "authority", 2, protocol.BondSourceDirect)
	if err := e.Commit(&more, 1); !errors.Is(err, protocol.ErrAmountOverflow) {
		t.Fatalf("expected AmountOverflow, got %v", err)
	}
	if e.Bonds != 0 || more.Stake != 0 {
		t.Fatal("rejected commit must not mutate state")
	}

	if err := e.Settle(protocol.OutcomeChallengerWins, settledAt, []Record{big}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	late := NewRecord(protocol.RoleChallenger, "subject-2", "late", 2, protocol.BondSourceDirect)
	if err := e.Commit(&late, 1); !errors.Is(err, protocol.ErrDisputeNotVoting) {
		t.Fatalf("expected DisputeNotVoting after settlement, got %v", err)
	}
	if err := e.Settle(protocol.OutcomeDefenderWins, settledAt, nil); !errors.Is(err, protocol.ErrAlreadyResolved) {
		t.Fatalf("expected AlreadyResolved on second settle, got %v", err)
	}
}

// One challenger, one defender bond and a juror for the challenger: the
// defender's bond is shared between the winners.
func TestRelease_ChallengerWins(t *testing.T) {
	e := New("subject-b", 1)
	def := NewRecord(protocol.RoleDefender, "subject-b", "authority", 1, protocol.BondSourceDirect)
	ch := NewRecord(protocol.RoleChallenger, "subject-b", "carol", 1, protocol.BondSourceDirect)
	jr := juror("subject-b", "jane", 1, protocol.VoteForChallenger)
	commit(t, &e, &def, 1)
	commit(t, &e, &ch, 1)
	commit(t, &e, &jr, 5)

	if _, err := e.Release(&ch, settledAt); !errors.Is(err, protocol.ErrDisputeNotResolved) {
		t.Fatalf("expected DisputeNotResolved, got %v", err)
	}
	if err := e.Settle(protocol.OutcomeChallengerWins, settledAt, []Record{def, ch, jr}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if e.Settlement.WinningWeight != 6 || e.Settlement.ForfeitPool != 1 || e.Settlement.PendingClaims != 2 {
		t.Fatalf("unexpected settlement %+v", e.Settlement)
	}

	if _, err := e.Release(&def, settledAt); !errors.Is(err, protocol.ErrNotOnWinningSide) {
		t.Fatalf("expected NotOnWinningSide for defender, got %v", err)
	}

	got, err := e.Release(&ch, settledAt)
	if err != nil {
		t.Fatalf("release challenger: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected challenger payout 1, got %d", got)
	}
	if _, err := e.Release(&ch, settledAt); !errors.Is(err, protocol.ErrAlreadyClaimed) {
		t.Fatalf("expected AlreadyClaimed, got %v", err)
	}

	got, err = e.Release(&jr, settledAt)
	if err != nil {
		t.Fatalf("release juror: %v", err)
	}
	if got != 6 {
		t.Fatalf("expected juror to take the remainder 6, got %d", got)
	}
	if e.Balance != 0 || e.Released != e.Deposited || e.Settlement.PendingClaims != 0 {
		t.Fatalf("expected drained escrow, got balance %d released %d", e.Balance, e.Released)
	}
	if !jr.Claimed || jr.Payout != 6 || jr.ClaimedAt == nil {
		t.Fatal("expected juror record marked claimed")
	}
}

func TestRelease_NoParticipationRefundsExactStakes(t *testing.T) {
	e := New("subject-d", 3)
	recs := []Record{
		NewRecord(protocol.RoleDefender, "subject-d", "authority", 3, protocol.BondSourceDirect),
		NewRecord(protocol.RoleChallenger, "subject-d", "carol", 3, protocol.BondSourcePool),
		juror("subject-d", "jane", 3, protocol.VoteForChallenger),
		juror("subject-d", "john", 3, protocol.VoteForDefender),
	}
	stakes := []protocol.Amount{7, 3, 11, 2}
	for i := range recs {
		commit(t, &e, &recs[i], stakes[i])
	}
	if err := e.Settle(protocol.OutcomeNoParticipation, settledAt, recs); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if e.Settlement.ForfeitPool != 0 || e.Settlement.PendingClaims != 4 {
		t.Fatalf("unexpected settlement %+v", e.Settlement)
	}
	for i := range recs {
		got, err := e.Release(&recs[i], settledAt)
		if err != nil {
			t.Fatalf("refund %s: %v", recs[i].Owner, err)
		}
		if got != stakes[i] {
			t.Fatalf("expected refund %d for %s, got %d", stakes[i], recs[i].Owner, got)
		}
	}
	if e.Balance != 0 {
		t.Fatalf("expected empty escrow, got %d", e.Balance)
	}
}

func TestRelease_ProRataNeverExceedsBalance(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		e := New("subject-p", 1)
		var winners, all []Record
		var winningStake protocol.Amount

		losers := 1 + rng.Intn(4)
		for i := 0; i < losers; i++ {
			rec := juror("subject-p", protocol.Identity(fmt.Sprintf("loser-%d", i)), 1, protocol.VoteForChallenger)
			commit(t, &e, &rec, protocol.Amount(1+rng.Intn(1000)))
			all = append(all, rec)
		}
		def := NewRecord(protocol.RoleDefender, "subject-p", "authority", 1, protocol.BondSourceDirect)
		commit(t, &e, &def, protocol.Amount(1+rng.Intn(1000)))
		winners = append(winners, def)
		for i := 0; i < 1+rng.Intn(6); i++ {
			rec := juror("subject-p", protocol.Identity(fmt.Sprintf("winner-%d", i)), 1, protocol.VoteForDefender)
			commit(t, &e, &rec, protocol.Amount(1+rng.Intn(1000)))
			winners = append(winners, rec)
		}
		for _, w := range winners {
			winningStake += w.Stake
		}
		all = append(all, winners...)

		if err := e.Settle(protocol.OutcomeDefenderWins, settledAt, all); err != nil {
			t.Fatalf("settle: %v", err)
		}
		total := e.Balance
		var paid protocol.Amount
		rng.Shuffle(len(winners), func(i, j int) { winners[i], winners[j] = winners[j], winners[i] })
		for i := range winners {
			before := e.Balance
			got, err := e.Release(&winners[i], settledAt)
			if err != nil {
				t.Fatalf("iteration %d: release: %v", iter, err)
			}
			if got < winners[i].Stake {
				t.Fatalf("iteration %d: winner paid %d below stake %d", iter, got, winners[i].Stake)
			}
			if got > before || e.Balance != before-got {
				t.Fatalf("iteration %d: balance must drop by exactly the payout", iter)
			}
			paid += got
		}
		if paid != total || e.Balance != 0 {
			t.Fatalf("iteration %d: paid %d of %d, %d left", iter, paid, total, e.Balance)
		}
		if winningStake != e.Settlement.WinningWeight {
			t.Fatalf("iteration %d: winning weight %d != stakes %d", iter, e.Settlement.WinningWeight, winningStake)
		}
	}
}

func TestRoundsAreIsolated(t *testing.T) {
	first := New("subject-r", 1)
	second := New("subject-r", 2)
	if first.Address == second.Address {
		t.Fatal("expected distinct escrow addresses per round")
	}
	rec := NewRecord(protocol.RoleChallenger, "subject-r", "carol", 1, protocol.BondSourceDirect)
	commit(t, &first, &rec, 9)
	if err := second.Commit(&rec, 1); !errors.Is(err, protocol.ErrInvalidParameter) {
		t.Fatalf("expected round 1 record to be refused by round 2, got %v", err)
	}
	if second.Balance != 0 || second.Stakes != 0 {
		t.Fatal("round 2 escrow must stay untouched")
	}
}

func TestShare_LargeValues(t *testing.T) {
	half := protocol.Amount(math.MaxUint64 / 2)
	if got := share(half, half, half); got != half {
		t.Fatalf("expected %d, got %d", half, got)
	}
	if got := share(1, 10, 3); got != 3 {
		t.Fatalf("expected floor(10/3)=3, got %d", got)
	}
	if got := share(5, 10, 0); got != 0 {
		t.Fatalf("expected zero weight to yield 0, got %d", got)
	}
}

// Two claim orders over the same settlement must pay every record the same
// amount, and the flooring remainder goes to one fixed record.
func TestRelease_PayoutIndependentOfClaimOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 100; iter++ {
		base := New("subject-o", 1)
		var recs []Record
		def := NewRecord(protocol.RoleDefender, "subject-o", "authority", 1, protocol.BondSourceDirect)
		commit(t, &base, &def, protocol.Amount(1+rng.Intn(50)))
		recs = append(recs, def)
		for i := 0; i < 2+rng.Intn(5); i++ {
			rec := juror("subject-o", protocol.Identity(fmt.Sprintf("juror-%d", i)), 1, protocol.VoteForChallenger)
			commit(t, &base, &rec, protocol.Amount(1+rng.Intn(50)))
			recs = append(recs, rec)
		}
		ch := NewRecord(protocol.RoleChallenger, "subject-o", "carol", 1, protocol.BondSourceDirect)
		commit(t, &base, &ch, 1)
		recs = append(recs, ch)
		if err := base.Settle(protocol.OutcomeChallengerWins, settledAt, recs); err != nil {
			t.Fatalf("iteration %d: settle: %v", iter, err)
		}

		payouts := func(order []int) map[protocol.Identity]protocol.Amount {
			e := base
			s := *base.Settlement
			e.Settlement = &s
			out := map[protocol.Identity]protocol.Amount{}
			for _, i := range order {
				rec := recs[i]
				if rec.Side != protocol.SideChallenger {
					continue
				}
				got, err := e.Release(&rec, settledAt)
				if err != nil {
					t.Fatalf("iteration %d: release %s: %v", iter, rec.Owner, err)
				}
				out[rec.Owner] = got
			}
			if e.Balance != 0 || e.Settlement.PendingClaims != 0 {
				t.Fatalf("iteration %d: expected drained escrow, %d left", iter, e.Balance)
			}
			return out
		}

		forward := make([]int, len(recs))
		for i := range forward {
			forward[i] = i
		}
		backward := make([]int, len(recs))
		for i := range backward {
			backward[i] = len(recs) - 1 - i
		}
		a, b := payouts(forward), payouts(backward)
		for owner, amount := range a {
			if b[owner] != amount {
				t.Fatalf("iteration %d: %s paid %d in one order and %d in the other", iter, owner, amount, b[owner])
			}
		}
	}
}

func TestRelease_ZeroStakeIsNotAPendingWinner(t *testing.T) {
	e := New("subject-z", 1)
	def := NewRecord(protocol.RoleDefender, "subject-z", "authority", 1, protocol.BondSourceDirect)
	ch := NewRecord(protocol.RoleChallenger, "subject-z", "carol", 1, protocol.BondSourceDirect)
	jr := juror("subject-z", "jill", 1, protocol.VoteForChallenger)
	commit(t, &e, &def, 2)
	commit(t, &e, &ch, 0)
	commit(t, &e, &jr, 1)

	if err := e.Settle(protocol.OutcomeChallengerWins, settledAt, []Record{def, ch, jr}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if e.Settlement.PendingClaims != 1 || e.Settlement.RemainderTo != jr.Address {
		t.Fatalf("expected only the juror pending, got %+v", e.Settlement)
	}
	got, err := e.Release(&ch, settledAt)
	if err != nil || got != 0 {
		t.Fatalf("expected zero payout for a zero stake, got %d %v", got, err)
	}
	if got, err := e.Release(&jr, settledAt); err != nil || got != 3 {
		t.Fatalf("expected juror to receive 3, got %d %v", got, err)
	}
	if e.Balance != 0 || e.Settlement.PendingClaims != 0 {
		t.Fatalf("expected drained escrow, got %d", e.Balance)
	}
}

func TestRelease_RefusesRecordFromAnotherSubject(t *testing.T) {
	e := New("x", 1)
	ch := NewRecord(protocol.RoleChallenger, "x", "carol", 1, protocol.BondSourceDirect)
	commit(t, &e, &ch, 3)
	if err := e.Settle(protocol.OutcomeChallengerWins, settledAt, []Record{ch}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	stranger := NewRecord(protocol.RoleChallenger, "y", "carol", 1, protocol.BondSourceDirect)
	stranger.Stake = 3
	if _, err := e.Release(&stranger, settledAt); !errors.Is(err, protocol.ErrNoRecordFound) {
		t.Fatalf("expected NoRecordFound, got %v", err)
	}
	if stranger.Claimed || e.Balance != 3 {
		t.Fatal("foreign record must not be paid or marked claimed")
	}
}

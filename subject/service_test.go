package subject_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"arbitra/escrow"
	"arbitra/internal/testutil/journaltest"
	"arbitra/internal/testutil/memstore"
	"arbitra/internal/testutil/pgxfake"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/subject"
)

type harness struct {
	store    *memstore.Store
	journal  *journaltest.Recorder
	beginner *pgxfake.Beginner
	subjects *subject.Service
	pools    *pool.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memstore.New(),
		journal:  &journaltest.Recorder{},
		beginner: &pgxfake.Beginner{},
	}
	ns := namespace.NewService(h.beginner, nil, h.store.Namespaces, h.journal)
	if _, err := ns.InitializeConfig(context.Background(), namespace.InitializeParams{Caller: "platform", Namespace: "market", MinParticipation: 1}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.subjects = subject.NewService(h.beginner, nil, h.store.SubjectRepos(), h.journal)
	h.pools = pool.NewService(h.beginner, nil, h.store.Pools, h.journal)
	return h
}

func params() subject.CreateParams {
	return subject.CreateParams{
		Caller:       "platform",
		Namespace:    "market",
		SubjectID:    "listing-1",
		DetailsRef:   "ipfs://listing-1",
		MaxBond:      100,
		VotingPeriod: time.Hour,
		InitialBond:  10,
	}
}

func TestCreateSubject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.subjects.CreateSubject(ctx, params())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Status != protocol.SubjectValid || s.CurrentRound != 1 || s.Address != protocol.SubjectAddress("listing-1") {
		t.Fatalf("unexpected subject %+v", s)
	}
	if !h.beginner.Last().Committed {
		t.Fatal("expected commit")
	}

	e, err := h.store.Escrows.GetForUpdate(ctx, nil, "listing-1", 1)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if e.Bonds != 10 || e.Balance != 10 || e.DefenderRecords != 1 {
		t.Fatalf("unexpected escrow %+v", e)
	}
	rec, err := h.store.Escrows.GetRecord(ctx, nil, protocol.RecordAddress(protocol.RoleDefender, "listing-1", "platform", 1))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Stake != 10 || rec.Source != protocol.BondSourceDirect || rec.DetailsRef != "ipfs://listing-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !h.journal.Has("SUBJECT_CREATED") {
		t.Fatalf("expected SUBJECT_CREATED, got %v", h.journal.Kinds())
	}

	_, err = h.subjects.CreateSubject(ctx, params())
	if !errors.Is(err, protocol.ErrDuplicateSubject) {
		t.Fatalf("expected DuplicateSubject, got %v", err)
	}
}

func TestCreateSubject_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*subject.CreateParams)
		want   protocol.Code
	}{
		{"blank id", func(p *subject.CreateParams) { p.SubjectID = "  " }, protocol.ErrInvalidParameter},
		{"short voting period", func(p *subject.CreateParams) { p.VotingPeriod = time.Millisecond }, protocol.ErrInvalidParameter},
		{"unknown source", func(p *subject.CreateParams) { p.BondSource = "Credit" }, protocol.ErrInvalidParameter},
		{"unknown namespace", func(p *subject.CreateParams) { p.Namespace = "elsewhere" }, protocol.ErrNotFound},
		{"not authority", func(p *subject.CreateParams) { p.Caller = "mallory" }, protocol.ErrUnauthorized},
		{"zero bond", func(p *subject.CreateParams) { p.InitialBond = 0 }, protocol.ErrInvalidBond},
		{"bond above max", func(p *subject.CreateParams) { p.InitialBond = 101 }, protocol.ErrInvalidBond},
		{"no defender pool", func(p *subject.CreateParams) { p.BondSource = protocol.BondSourcePool }, protocol.ErrInsufficientPoolBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			p := params()
			tc.mutate(&p)
			before := len(h.beginner.Txs)
			_, err := h.subjects.CreateSubject(context.Background(), p)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
			if len(h.beginner.Txs) > before && h.beginner.Last().Committed {
				t.Fatal("rejected create must not commit")
			}
		})
	}
}

func TestCreateSubjectFromPool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.pools.Deposit(ctx, pool.DepositParams{Owner: "platform", Role: protocol.RoleDefender, Amount: 25}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	p := params()
	p.InitialBond = 30
	if _, err := h.subjects.CreateSubjectFromPool(ctx, p); !errors.Is(err, protocol.ErrInsufficientPoolBalance) {
		t.Fatalf("expected InsufficientPoolBalance, got %v", err)
	}

	h = newHarness(t)
	if _, err := h.pools.Deposit(ctx, pool.DepositParams{Owner: "platform", Role: protocol.RoleDefender, Amount: 25}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.subjects.CreateSubjectFromPool(ctx, params()); err != nil {
		t.Fatalf("create from pool: %v", err)
	}
	if got := h.store.Pools.Balance("platform", protocol.RoleDefender); got != 15 {
		t.Fatalf("expected pool balance 15, got %d", got)
	}
	records, err := h.store.Escrows.ListRecords(ctx, nil, escrow.RecordFilter{SubjectID: "listing-1"})
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 || records[0].Source != protocol.BondSourcePool {
		t.Fatalf("unexpected records %+v", records)
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arbitra/auth"
	"arbitra/dispute"
	"arbitra/escrow"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/reward"
	"arbitra/subject"
)

type stubAuth struct {
	registered auth.Identity
	login      auth.LoginResult
	err        error
}

func (s *stubAuth) Register(_ context.Context, req auth.RegisterRequest) (auth.Identity, error) {
	if s.err != nil {
		return auth.Identity{}, s.err
	}
	out := s.registered
	out.Name = protocol.Identity(req.Name)
	return out, nil
}

func (s *stubAuth) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.login, s.err
}

func (s *stubAuth) VerifyToken(token string) (protocol.Identity, error) {
	if token != "carol-token" {
		return "", auth.ErrInvalidToken
	}
	return "carol", nil
}

type stubSubjects struct {
	subject    subject.Subject
	err        error
	lastFilter subject.Filter
}

func (s *stubSubjects) CreateSubject(_ context.Context, params subject.CreateParams) (subject.Subject, error) {
	if s.err != nil {
		return subject.Subject{}, s.err
	}
	return subject.Subject{SubjectID: params.SubjectID, Namespace: params.Namespace, VotingPeriod: params.VotingPeriod, CreatedBy: params.Caller, Status: protocol.SubjectValid, CurrentRound: 1}, nil
}

func (s *stubSubjects) Get(_ context.Context, _ string) (subject.Subject, error) {
	return s.subject, s.err
}

func (s *stubSubjects) List(_ context.Context, filter subject.Filter) ([]subject.Subject, error) {
	s.lastFilter = filter
	if s.err != nil {
		return nil, s.err
	}
	return []subject.Subject{s.subject}, nil
}

type stubPools struct {
	lastFilter  pool.Filter
	lastDeposit pool.DepositParams
}

func (s *stubPools) Deposit(_ context.Context, params pool.DepositParams) (pool.Pool, error) {
	s.lastDeposit = params
	return pool.Pool{Owner: params.Owner, Role: params.Role, Balance: params.Amount}, nil
}

func (s *stubPools) Withdraw(_ context.Context, _ pool.WithdrawParams) (pool.Pool, error) {
	return pool.Pool{}, protocol.Reject(protocol.ErrInsufficientPoolBalance, "pool", "balance")
}

func (s *stubPools) List(_ context.Context, filter pool.Filter) ([]pool.Pool, error) {
	s.lastFilter = filter
	return nil, nil
}

type stubDisputes struct {
	dispute    dispute.Dispute
	err        error
	lastCreate dispute.CreateParams
	lastVote   dispute.VoteParams
}

func (s *stubDisputes) CreateDispute(_ context.Context, params dispute.CreateParams) (dispute.Dispute, error) {
	s.lastCreate = params
	return s.dispute, s.err
}

func (s *stubDisputes) JoinChallengers(_ context.Context, _ dispute.JoinParams) (dispute.Dispute, error) {
	return s.dispute, s.err
}

func (s *stubDisputes) AddBond(_ context.Context, params dispute.BondParams) (dispute.BondResult, error) {
	return dispute.BondResult{Round: 1, Bonds: params.Amount}, s.err
}

func (s *stubDisputes) Vote(_ context.Context, params dispute.VoteParams) (dispute.Dispute, error) {
	s.lastVote = params
	return s.dispute, s.err
}

func (s *stubDisputes) ResolveDispute(_ context.Context, _ dispute.ResolveParams) (dispute.Dispute, error) {
	return s.dispute, s.err
}

func (s *stubDisputes) Get(_ context.Context, _ string, _ uint32) (dispute.Dispute, error) {
	return s.dispute, s.err
}

func (s *stubDisputes) List(_ context.Context, _ dispute.Filter) ([]dispute.Dispute, error) {
	return []dispute.Dispute{s.dispute}, s.err
}

type stubRewards struct {
	payout    reward.Payout
	err       error
	lastClaim reward.ClaimParams
}

func (s *stubRewards) Claim(_ context.Context, params reward.ClaimParams) (reward.Payout, error) {
	s.lastClaim = params
	return s.payout, s.err
}

func (s *stubRewards) Records(_ context.Context, _ escrow.RecordFilter) ([]escrow.Record, error) {
	return nil, s.err
}

func (s *stubRewards) Escrow(_ context.Context, _ uuid.UUID) (escrow.Escrow, error) {
	return escrow.Escrow{}, escrow.ErrNotFound
}

type envelope struct {
	RequestID string          `json:"request_id"`
	Error     *errorBody      `json:"error"`
	Subject   subjectResponse `json:"subject"`
	Dispute   disputeResponse `json:"dispute"`
	Payout    payoutResponse  `json:"payout"`
	Session   sessionResponse `json:"session"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func serve(t *testing.T, s *Server, method, path, body, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if s.auth == nil {
		s.auth = &stubAuth{}
	}
	s.logger = zerolog.Nop()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	rec, _ := serve(t, &Server{}, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetSubject_Success(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Server{subjects: &stubSubjects{subject: subject.Subject{
		Address:      protocol.SubjectAddress("listing-1"),
		SubjectID:    "listing-1",
		Namespace:    "market",
		MaxBond:      100,
		VotingPeriod: time.Hour,
		Status:       protocol.SubjectDisputed,
		CurrentRound: 2,
		CreatedAt:    now,
	}}}

	rec, env := serve(t, s, http.MethodGet, "/api/subjects/listing-1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.RequestID == "" {
		t.Fatal("expected request id")
	}
	got := env.Subject
	if got.SubjectID != "listing-1" || got.Status != "Disputed" || got.CurrentRound != 2 || got.VotingPeriodSeconds != 3600 {
		t.Fatalf("unexpected subject payload %+v", got)
	}
	if got.Address != protocol.SubjectAddress("listing-1").String() || !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected address or timestamp %+v", got)
	}
}

func TestGetSubject_NotFound(t *testing.T) {
	s := &Server{subjects: &stubSubjects{err: subject.ErrNotFound}}
	rec, env := serve(t, s, http.MethodGet, "/api/subjects/missing", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "NotFound" {
		t.Fatalf("unexpected error body %+v", env.Error)
	}
}

func TestListSubjects_Filters(t *testing.T) {
	stub := &stubSubjects{}
	s := &Server{subjects: stub}

	rec, _ := serve(t, s, http.MethodGet, "/api/subjects?namespace=market&status=Invalid&limit=5000", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.lastFilter.Namespace != "market" || stub.lastFilter.Status != protocol.SubjectInvalid || stub.lastFilter.Limit != maxListLimit {
		t.Fatalf("unexpected filter %+v", stub.lastFilter)
	}

	rec, _ = serve(t, s, http.MethodGet, "/api/subjects?status=Sleeping", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
	rec, _ = serve(t, s, http.MethodGet, "/api/subjects?limit=-1", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestWrites_RequireBearerToken(t *testing.T) {
	s := &Server{disputes: &stubDisputes{}}
	body := `{"disputeType":"Fraud","stake":1}`

	rec, env := serve(t, s, http.MethodPost, "/api/subjects/listing-1/disputes", body, "")
	if rec.Code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "Unauthenticated" {
		t.Fatalf("expected 401 without token, got %d %+v", rec.Code, env.Error)
	}
	rec, _ = serve(t, s, http.MethodPost, "/api/subjects/listing-1/disputes", body, "forged")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with forged token, got %d", rec.Code)
	}
}

func TestCreateDispute_PassesCaller(t *testing.T) {
	stub := &stubDisputes{dispute: dispute.Dispute{SubjectID: "listing-1", Round: 1, Status: protocol.DisputeVoting, Kind: dispute.KindChallenge}}
	s := &Server{disputes: stub}

	rec, env := serve(t, s, http.MethodPost, "/api/subjects/listing-1/disputes", `{"disputeType":"Fraud","stake":3,"bondSource":"Pool"}`, "carol-token")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	p := stub.lastCreate
	if p.Caller != "carol" || p.SubjectID != "listing-1" || p.Stake != 3 || p.DisputeType != protocol.DisputeTypeFraud || p.BondSource != protocol.BondSourcePool {
		t.Fatalf("unexpected params %+v", p)
	}
	if env.Dispute.Status != "Voting" || env.Dispute.Kind != "challenge" {
		t.Fatalf("unexpected dispute payload %+v", env.Dispute)
	}
}

func TestCreateDispute_UnknownField(t *testing.T) {
	s := &Server{disputes: &stubDisputes{}}
	rec, _ := serve(t, s, http.MethodPost, "/api/subjects/listing-1/disputes", `{"stake":1,"bribe":9}`, "carol-token")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVote_RejectionMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"state", protocol.Reject(protocol.ErrAlreadyVoted, "rec-1", "voter"), http.StatusConflict, "AlreadyVoted"},
		{"funds", protocol.Reject(protocol.ErrNoJurorPool, "pool-1", "pool"), http.StatusBadRequest, "NoJurorPool"},
		{"authorization", protocol.Reject(protocol.ErrUnauthorized, "ns", "authority"), http.StatusForbidden, "Unauthorized"},
		{"bare code", protocol.ErrDisputeNotVoting, http.StatusConflict, "DisputeNotVoting"},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Server{disputes: &stubDisputes{err: tc.err}}
			rec, env := serve(t, s, http.MethodPost, "/api/subjects/listing-1/votes", `{"choice":"ForChallenger","stake":2}`, "carol-token")
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if env.Error == nil || env.Error.Code != tc.code {
				t.Fatalf("expected code %s, got %+v", tc.code, env.Error)
			}
			if tc.code == "INTERNAL" && strings.Contains(env.Error.Message, "connection") {
				t.Fatal("internal errors must not leak")
			}
		})
	}

	s := &Server{disputes: &stubDisputes{err: protocol.Reject(protocol.ErrAlreadyVoted, "rec-1", "voter")}}
	_, env := serve(t, s, http.MethodPost, "/api/subjects/listing-1/votes", `{"choice":"ForChallenger","stake":2}`, "carol-token")
	if env.Error.Details["account"] != "rec-1" || env.Error.Details["field"] != "voter" {
		t.Fatalf("expected account and field details, got %+v", env.Error.Details)
	}
}

func TestClaim(t *testing.T) {
	juror := pool.Pool{Owner: "carol", Role: protocol.RoleJuror, Balance: 8}
	stub := &stubRewards{payout: reward.Payout{
		Record: escrow.Record{Role: protocol.RoleJuror, Owner: "carol", Stake: 3, Claimed: true, Payout: 6},
		Amount: 6,
		Source: protocol.BondSourcePool,
		Pool:   &juror,
	}}
	s := &Server{rewards: stub}

	rec, env := serve(t, s, http.MethodPost, "/api/subjects/order-3/rounds/1/claims", `{"role":"juror"}`, "carol-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.lastClaim.Role != protocol.RoleJuror || stub.lastClaim.Round != 1 || stub.lastClaim.Caller != "carol" {
		t.Fatalf("unexpected claim params %+v", stub.lastClaim)
	}
	if env.Payout.Amount != 6 || env.Payout.Pool == nil || env.Payout.Pool.Balance != 8 {
		t.Fatalf("unexpected payout payload %+v", env.Payout)
	}

	rec, _ = serve(t, s, http.MethodPost, "/api/subjects/order-3/rounds/zero/claims", `{"role":"juror"}`, "carol-token")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad round, got %d", rec.Code)
	}
}

func TestGetEscrow_NotFound(t *testing.T) {
	s := &Server{rewards: &stubRewards{}}
	rec, _ := serve(t, s, http.MethodGet, "/api/subjects/order-3/rounds/4/escrow", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPools(t *testing.T) {
	stub := &stubPools{}
	s := &Server{pools: stub}

	rec, _ := serve(t, s, http.MethodPost, "/api/pools/challenger/deposit", `{"amount":40}`, "carol-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.lastDeposit.Owner != "carol" || stub.lastDeposit.Role != protocol.RoleChallenger || stub.lastDeposit.Amount != 40 {
		t.Fatalf("unexpected deposit %+v", stub.lastDeposit)
	}

	rec, env := serve(t, s, http.MethodPost, "/api/pools/challenger/withdraw", `{"amount":99}`, "carol-token")
	if rec.Code != http.StatusBadRequest || env.Error.Code != "InsufficientPoolBalance" {
		t.Fatalf("expected InsufficientPoolBalance, got %d %+v", rec.Code, env.Error)
	}

	if rec, _ := serve(t, s, http.MethodGet, "/api/pools?owner=carol&role=JUROR", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.lastFilter.Owner != "carol" || stub.lastFilter.Role != protocol.RoleJuror || stub.lastFilter.Limit != defaultListLimit {
		t.Fatalf("unexpected filter %+v", stub.lastFilter)
	}
}

func TestAuthRoutes(t *testing.T) {
	expires := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	stub := &stubAuth{
		registered: auth.Identity{ID: uuid.New()},
		login:      auth.LoginResult{Token: "carol-token", ExpiresAt: expires, Identity: auth.Identity{Name: "carol"}},
	}
	s := &Server{auth: stub}

	rec, _ := serve(t, s, http.MethodPost, "/api/auth/register", `{"name":"carol","secret":"correct horse"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec, env := serve(t, s, http.MethodPost, "/api/auth/login", `{"name":"carol","secret":"correct horse"}`, "")
	if rec.Code != http.StatusOK || env.Session.Token != "carol-token" || env.Session.Identity.Name != "carol" {
		t.Fatalf("unexpected login response %d %+v", rec.Code, env.Session)
	}

	stub.err = auth.ErrInvalidCredentials
	rec, _ = serve(t, s, http.MethodPost, "/api/auth/login", `{"name":"carol","secret":"wrong"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	stub.err = auth.ErrDuplicateName
	rec, env = serve(t, s, http.MethodPost, "/api/auth/register", `{"name":"carol","secret":"correct horse"}`, "")
	if rec.Code != http.StatusConflict || env.Error.Code != "DuplicateIdentity" {
		t.Fatalf("expected 409 DuplicateIdentity, got %d %+v", rec.Code, env.Error)
	}
}

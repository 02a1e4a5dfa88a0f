// Package api exposes the ledger over HTTP. Reads are public; every write
// runs as the identity named by the bearer token.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arbitra/auth"
	"arbitra/dispute"
	"arbitra/escrow"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/restoration"
	"arbitra/reward"
	"arbitra/subject"
)

type NamespaceService interface {
	InitializeConfig(ctx context.Context, params namespace.InitializeParams) (namespace.Config, error)
	UpdateConfig(ctx context.Context, params namespace.UpdateParams) (namespace.Config, error)
	Get(ctx context.Context, name string) (namespace.Config, error)
	List(ctx context.Context, limit int) ([]namespace.Config, error)
}

type SubjectService interface {
	CreateSubject(ctx context.Context, params subject.CreateParams) (subject.Subject, error)
	Get(ctx context.Context, subjectID string) (subject.Subject, error)
	List(ctx context.Context, filter subject.Filter) ([]subject.Subject, error)
}

type PoolService interface {
	Deposit(ctx context.Context, params pool.DepositParams) (pool.Pool, error)
	Withdraw(ctx context.Context, params pool.WithdrawParams) (pool.Pool, error)
	List(ctx context.Context, filter pool.Filter) ([]pool.Pool, error)
}

type DisputeService interface {
	CreateDispute(ctx context.Context, params dispute.CreateParams) (dispute.Dispute, error)
	JoinChallengers(ctx context.Context, params dispute.JoinParams) (dispute.Dispute, error)
	AddBond(ctx context.Context, params dispute.BondParams) (dispute.BondResult, error)
	Vote(ctx context.Context, params dispute.VoteParams) (dispute.Dispute, error)
	ResolveDispute(ctx context.Context, params dispute.ResolveParams) (dispute.Dispute, error)
	Get(ctx context.Context, subjectID string, round uint32) (dispute.Dispute, error)
	List(ctx context.Context, filter dispute.Filter) ([]dispute.Dispute, error)
}

type RestorationService interface {
	InitiateRestore(ctx context.Context, params restoration.InitiateParams) (dispute.Dispute, error)
	VoteRestore(ctx context.Context, params restoration.VoteParams) (dispute.Dispute, error)
	List(ctx context.Context, filter dispute.Filter) ([]dispute.Dispute, error)
}

type RewardService interface {
	Claim(ctx context.Context, params reward.ClaimParams) (reward.Payout, error)
	Records(ctx context.Context, filter escrow.RecordFilter) ([]escrow.Record, error)
	Escrow(ctx context.Context, address uuid.UUID) (escrow.Escrow, error)
}

type Authenticator interface {
	Register(ctx context.Context, req auth.RegisterRequest) (auth.Identity, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (protocol.Identity, error)
}

// Services is everything the server routes to.
type Services struct {
	Namespaces   NamespaceService
	Subjects     SubjectService
	Pools        PoolService
	Disputes     DisputeService
	Restorations RestorationService
	Rewards      RewardService
	Auth         Authenticator
}

type Server struct {
	namespaces   NamespaceService
	subjects     SubjectService
	pools        PoolService
	disputes     DisputeService
	restorations RestorationService
	rewards      RewardService
	auth         Authenticator
	logger       zerolog.Logger
}

func NewServer(services Services, logger zerolog.Logger) *Server {
	return &Server{
		namespaces:   services.Namespaces,
		subjects:     services.Subjects,
		pools:        services.Pools,
		disputes:     services.Disputes,
		restorations: services.Restorations,
		rewards:      services.Rewards,
		auth:         services.Auth,
		logger:       logger.With().Str("component", "api").Logger(),
	}
}

type ctxKey string

const ctxKeyIdentity ctxKey = "identity"

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Get("/namespaces", s.handleListNamespaces)
		api.Get("/namespaces/{namespace}", s.handleGetNamespace)

		api.Get("/subjects", s.handleListSubjects)
		api.Get("/subjects/{subject_id}", s.handleGetSubject)
		api.Get("/subjects/{subject_id}/rounds/{round}/dispute", s.handleGetDispute)
		api.Get("/subjects/{subject_id}/rounds/{round}/escrow", s.handleGetEscrow)
		api.Get("/subjects/{subject_id}/rounds/{round}/records", s.handleListRecords)

		api.Get("/disputes", s.handleListDisputes)
		api.Get("/restorations", s.handleListRestorations)
		api.Get("/pools", s.handleListPools)

		api.Group(func(authed chi.Router) {
			authed.Use(s.authenticate)

			authed.Post("/namespaces", s.handleInitializeNamespace)
			authed.Patch("/namespaces/{namespace}", s.handleUpdateNamespace)

			authed.Post("/subjects", s.handleCreateSubject)
			authed.Post("/subjects/{subject_id}/bonds", s.handleAddBond)
			authed.Post("/subjects/{subject_id}/disputes", s.handleCreateDispute)
			authed.Post("/subjects/{subject_id}/challengers", s.handleJoinChallengers)
			authed.Post("/subjects/{subject_id}/votes", s.handleVote)
			authed.Post("/subjects/{subject_id}/resolve", s.handleResolve)
			authed.Post("/subjects/{subject_id}/restorations", s.handleInitiateRestore)
			authed.Post("/subjects/{subject_id}/restorations/votes", s.handleVoteRestore)
			authed.Post("/subjects/{subject_id}/rounds/{round}/claims", s.handleClaim)

			authed.Post("/pools/{role}/deposit", s.handleDeposit)
			authed.Post("/pools/{role}/withdraw", s.handleWithdraw)
		})
	})
	return r
}

// authenticate resolves the bearer token to an identity.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, r, http.StatusUnauthorized, "Unauthenticated", "bearer token required", nil)
			return
		}
		if s.auth == nil {
			writeError(w, r, http.StatusServiceUnavailable, "Unavailable", "authentication not configured", nil)
			return
		}
		identity, err := s.auth.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "Unauthenticated", "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyIdentity, identity)))
	})
}

func callerFrom(ctx context.Context) protocol.Identity {
	identity, _ := ctx.Value(ctxKeyIdentity).(protocol.Identity)
	return identity
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		event := s.logger.Info()
		if status >= 500 {
			event = s.logger.Error()
		} else if status >= 400 {
			event = s.logger.Warn()
		}
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Int("bytes", ww.BytesWritten()).
			Msg("http_request")
	})
}

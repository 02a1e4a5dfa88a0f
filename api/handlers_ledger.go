package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/subject"
)

type initializeNamespaceRequest struct {
	Namespace        string          `json:"namespace"`
	MinParticipation protocol.Amount `json:"minParticipation"`
}

func (s *Server) handleInitializeNamespace(w http.ResponseWriter, r *http.Request) {
	var req initializeNamespaceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	cfg, err := s.namespaces.InitializeConfig(r.Context(), namespace.InitializeParams{
		Caller:           callerFrom(r.Context()),
		Namespace:        req.Namespace,
		MinParticipation: req.MinParticipation,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, "namespace", toNamespaceResponse(cfg))
}

type updateNamespaceRequest struct {
	NewAuthority string `json:"newAuthority"`
	NewTreasury  string `json:"newTreasury"`
}

func (s *Server) handleUpdateNamespace(w http.ResponseWriter, r *http.Request) {
	var req updateNamespaceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	cfg, err := s.namespaces.UpdateConfig(r.Context(), namespace.UpdateParams{
		Caller:       callerFrom(r.Context()),
		Namespace:    chi.URLParam(r, "namespace"),
		NewAuthority: protocol.Identity(strings.TrimSpace(req.NewAuthority)),
		NewTreasury:  protocol.Identity(strings.TrimSpace(req.NewTreasury)),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "namespace", toNamespaceResponse(cfg))
}

func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.namespaces.Get(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "namespace", toNamespaceResponse(cfg))
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	configs, err := s.namespaces.List(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]namespaceResponse, 0, len(configs))
	for _, c := range configs {
		out = append(out, toNamespaceResponse(c))
	}
	writeData(w, r, http.StatusOK, "namespaces", out)
}

type createSubjectRequest struct {
	Namespace           string          `json:"namespace"`
	SubjectID           string          `json:"subjectId"`
	DetailsRef          string          `json:"detailsRef"`
	MaxBond             protocol.Amount `json:"maxBond"`
	MatchMode           bool            `json:"matchMode"`
	VotingPeriodSeconds int64           `json:"votingPeriodSeconds"`
	InitialBond         protocol.Amount `json:"initialBond"`
	BondSource          string          `json:"bondSource"`
}

func (s *Server) handleCreateSubject(w http.ResponseWriter, r *http.Request) {
	var req createSubjectRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	if req.VotingPeriodSeconds <= 0 {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", "votingPeriodSeconds must be positive", nil)
		return
	}
	created, err := s.subjects.CreateSubject(r.Context(), subject.CreateParams{
		Caller:       callerFrom(r.Context()),
		Namespace:    req.Namespace,
		SubjectID:    req.SubjectID,
		DetailsRef:   req.DetailsRef,
		MaxBond:      req.MaxBond,
		MatchMode:    req.MatchMode,
		VotingPeriod: time.Duration(req.VotingPeriodSeconds) * time.Second,
		InitialBond:  req.InitialBond,
		BondSource:   protocol.BondSource(req.BondSource),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, "subject", toSubjectResponse(created))
}

func (s *Server) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	found, err := s.subjects.Get(r.Context(), chi.URLParam(r, "subject_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "subject", toSubjectResponse(found))
}

func (s *Server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	q := r.URL.Query()
	status := protocol.SubjectStatus(strings.TrimSpace(q.Get("status")))
	if status != "" && !status.Valid() {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", "unknown status", nil)
		return
	}
	subjects, err := s.subjects.List(r.Context(), subject.Filter{
		Namespace: strings.TrimSpace(q.Get("namespace")),
		Status:    status,
		Limit:     limit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]subjectResponse, 0, len(subjects))
	for _, sub := range subjects {
		out = append(out, toSubjectResponse(sub))
	}
	writeData(w, r, http.StatusOK, "subjects", out)
}

type amountRequest struct {
	Amount protocol.Amount `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	p, err := s.pools.Deposit(r.Context(), pool.DepositParams{
		Owner:  callerFrom(r.Context()),
		Role:   parseRole(chi.URLParam(r, "role")),
		Amount: req.Amount,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "pool", toPoolResponse(p))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	p, err := s.pools.Withdraw(r.Context(), pool.WithdrawParams{
		Owner:  callerFrom(r.Context()),
		Role:   parseRole(chi.URLParam(r, "role")),
		Amount: req.Amount,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "pool", toPoolResponse(p))
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	q := r.URL.Query()
	pools, err := s.pools.List(r.Context(), pool.Filter{
		Owner: protocol.Identity(strings.TrimSpace(q.Get("owner"))),
		Role:  parseRole(q.Get("role")),
		Limit: limit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		out = append(out, toPoolResponse(p))
	}
	writeData(w, r, http.StatusOK, "pools", out)
}

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"arbitra/dispute"
	"arbitra/escrow"
	"arbitra/protocol"
	"arbitra/restoration"
	"arbitra/reward"
)

type openDisputeRequest struct {
	DisputeType string          `json:"disputeType"`
	DetailsRef  string          `json:"detailsRef"`
	Stake       protocol.Amount `json:"stake"`
	BondSource  string          `json:"bondSource"`
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	var req openDisputeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	d, err := s.disputes.CreateDispute(r.Context(), dispute.CreateParams{
		Caller:      callerFrom(r.Context()),
		SubjectID:   chi.URLParam(r, "subject_id"),
		DisputeType: protocol.DisputeType(req.DisputeType),
		DetailsRef:  req.DetailsRef,
		Stake:       req.Stake,
		BondSource:  protocol.BondSource(req.BondSource),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, "dispute", toDisputeResponse(d))
}

type stakeRequest struct {
	Stake      protocol.Amount `json:"stake"`
	DetailsRef string          `json:"detailsRef"`
	BondSource string          `json:"bondSource"`
}

func (s *Server) handleJoinChallengers(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	d, err := s.disputes.JoinChallengers(r.Context(), dispute.JoinParams{
		Caller:     callerFrom(r.Context()),
		SubjectID:  chi.URLParam(r, "subject_id"),
		Stake:      req.Stake,
		DetailsRef: req.DetailsRef,
		BondSource: protocol.BondSource(req.BondSource),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "dispute", toDisputeResponse(d))
}

type bondRequest struct {
	Amount     protocol.Amount `json:"amount"`
	DetailsRef string          `json:"detailsRef"`
	BondSource string          `json:"bondSource"`
}

type bondResponse struct {
	Round   uint32           `json:"round"`
	Bonds   protocol.Amount  `json:"bonds"`
	Dispute *disputeResponse `json:"dispute,omitempty"`
}

func (s *Server) handleAddBond(w http.ResponseWriter, r *http.Request) {
	var req bondRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	res, err := s.disputes.AddBond(r.Context(), dispute.BondParams{
		Caller:     callerFrom(r.Context()),
		SubjectID:  chi.URLParam(r, "subject_id"),
		Amount:     req.Amount,
		DetailsRef: req.DetailsRef,
		BondSource: protocol.BondSource(req.BondSource),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := bondResponse{Round: res.Round, Bonds: res.Bonds}
	if res.Dispute != nil {
		d := toDisputeResponse(*res.Dispute)
		out.Dispute = &d
	}
	writeData(w, r, http.StatusOK, "bond", out)
}

type voteRequest struct {
	Choice       string          `json:"choice"`
	Stake        protocol.Amount `json:"stake"`
	RationaleRef string          `json:"rationaleRef"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	d, err := s.disputes.Vote(r.Context(), dispute.VoteParams{
		Caller:       callerFrom(r.Context()),
		SubjectID:    chi.URLParam(r, "subject_id"),
		Choice:       protocol.VoteChoice(req.Choice),
		Stake:        req.Stake,
		RationaleRef: req.RationaleRef,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "dispute", toDisputeResponse(d))
}

// handleResolve closes challenges and restorations alike.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputes.ResolveDispute(r.Context(), dispute.ResolveParams{
		Caller:    callerFrom(r.Context()),
		SubjectID: chi.URLParam(r, "subject_id"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "dispute", toDisputeResponse(d))
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	round, err := parseRound(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	d, err := s.disputes.Get(r.Context(), chi.URLParam(r, "subject_id"), round)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "dispute", toDisputeResponse(d))
}

func disputeFilter(r *http.Request) (dispute.Filter, error) {
	limit, err := parseLimit(r)
	if err != nil {
		return dispute.Filter{}, err
	}
	q := r.URL.Query()
	return dispute.Filter{
		SubjectID: strings.TrimSpace(q.Get("subject_id")),
		Status:    protocol.DisputeStatus(strings.TrimSpace(q.Get("status"))),
		Limit:     limit,
	}, nil
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	filter, err := disputeFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	filter.Kind = dispute.Kind(strings.TrimSpace(r.URL.Query().Get("kind")))
	disputes, err := s.disputes.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "disputes", toDisputeResponses(disputes))
}

func (s *Server) handleInitiateRestore(w http.ResponseWriter, r *http.Request) {
	var req openDisputeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	d, err := s.restorations.InitiateRestore(r.Context(), restoration.InitiateParams{
		Caller:      callerFrom(r.Context()),
		SubjectID:   chi.URLParam(r, "subject_id"),
		DisputeType: protocol.DisputeType(req.DisputeType),
		Stake:       req.Stake,
		DetailsRef:  req.DetailsRef,
		BondSource:  protocol.BondSource(req.BondSource),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, "dispute", toDisputeResponse(d))
}

func (s *Server) handleVoteRestore(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	d, err := s.restorations.VoteRestore(r.Context(), restoration.VoteParams{
		Caller:       callerFrom(r.Context()),
		SubjectID:    chi.URLParam(r, "subject_id"),
		Choice:       protocol.RestoreVoteChoice(req.Choice),
		Stake:        req.Stake,
		RationaleRef: req.RationaleRef,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "dispute", toDisputeResponse(d))
}

func (s *Server) handleListRestorations(w http.ResponseWriter, r *http.Request) {
	filter, err := disputeFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	disputes, err := s.restorations.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "restorations", toDisputeResponses(disputes))
}

type claimRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	round, err := parseRound(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	var req claimRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	payout, err := s.rewards.Claim(r.Context(), reward.ClaimParams{
		Caller:    callerFrom(r.Context()),
		Role:      parseRole(req.Role),
		SubjectID: chi.URLParam(r, "subject_id"),
		Round:     round,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "payout", toPayoutResponse(payout))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	round, err := parseRound(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	e, err := s.rewards.Escrow(r.Context(), protocol.EscrowAddress(chi.URLParam(r, "subject_id"), round))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, "escrow", toEscrowResponse(e))
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	round, err := parseRound(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "InvalidParameter", err.Error(), nil)
		return
	}
	q := r.URL.Query()
	records, err := s.rewards.Records(r.Context(), escrow.RecordFilter{
		SubjectID: chi.URLParam(r, "subject_id"),
		Round:     round,
		Owner:     protocol.Identity(strings.TrimSpace(q.Get("owner"))),
		Role:      parseRole(q.Get("role")),
		Limit:     limit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	writeData(w, r, http.StatusOK, "records", out)
}

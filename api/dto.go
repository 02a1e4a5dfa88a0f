package api

import (
	"time"

	"arbitra/dispute"
	"arbitra/escrow"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/reward"
	"arbitra/subject"
)

type namespaceResponse struct {
	Address          string          `json:"address"`
	Namespace        string          `json:"namespace"`
	Authority        string          `json:"authority"`
	Treasury         string          `json:"treasury"`
	MinParticipation protocol.Amount `json:"minParticipation"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func toNamespaceResponse(c namespace.Config) namespaceResponse {
	return namespaceResponse{
		Address:          c.Address.String(),
		Namespace:        c.Namespace,
		Authority:        string(c.Authority),
		Treasury:         string(c.Treasury),
		MinParticipation: c.MinParticipation,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

type subjectResponse struct {
	Address             string          `json:"address"`
	SubjectID           string          `json:"subjectId"`
	Namespace           string          `json:"namespace"`
	DetailsRef          string          `json:"detailsRef,omitempty"`
	MaxBond             protocol.Amount `json:"maxBond"`
	MatchMode           bool            `json:"matchMode"`
	VotingPeriodSeconds int64           `json:"votingPeriodSeconds"`
	Status              string          `json:"status"`
	CurrentRound        uint32          `json:"currentRound"`
	CreatedBy           string          `json:"createdBy"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

func toSubjectResponse(s subject.Subject) subjectResponse {
	return subjectResponse{
		Address:             s.Address.String(),
		SubjectID:           s.SubjectID,
		Namespace:           s.Namespace,
		DetailsRef:          s.DetailsRef,
		MaxBond:             s.MaxBond,
		MatchMode:           s.MatchMode,
		VotingPeriodSeconds: int64(s.VotingPeriod / time.Second),
		Status:              string(s.Status),
		CurrentRound:        s.CurrentRound,
		CreatedBy:           string(s.CreatedBy),
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

type poolResponse struct {
	Address   string          `json:"address"`
	Owner     string          `json:"owner"`
	Role      string          `json:"role"`
	Balance   protocol.Amount `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func toPoolResponse(p pool.Pool) poolResponse {
	return poolResponse{
		Address:   p.Address.String(),
		Owner:     string(p.Owner),
		Role:      string(p.Role),
		Balance:   p.Balance,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type disputeResponse struct {
	Address                 string          `json:"address"`
	SubjectID               string          `json:"subjectId"`
	Round                   uint32          `json:"round"`
	Kind                    string          `json:"kind"`
	DisputeType             string          `json:"disputeType"`
	DetailsRef              string          `json:"detailsRef,omitempty"`
	Status                  string          `json:"status"`
	Outcome                 string          `json:"outcome"`
	OpenedBy                string          `json:"openedBy"`
	OpenedAt                time.Time       `json:"openedAt"`
	VotingDeadline          time.Time       `json:"votingDeadline"`
	ResolvedAt              *time.Time      `json:"resolvedAt,omitempty"`
	DefenderStake           protocol.Amount `json:"defenderStake"`
	ChallengerStake         protocol.Amount `json:"challengerStake"`
	JurorStakeForChallenger protocol.Amount `json:"jurorStakeForChallenger"`
	JurorStakeForDefender   protocol.Amount `json:"jurorStakeForDefender"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	return disputeResponse{
		Address:                 d.Address.String(),
		SubjectID:               d.SubjectID,
		Round:                   d.Round,
		Kind:                    string(d.Kind),
		DisputeType:             string(d.DisputeType),
		DetailsRef:              d.DetailsRef,
		Status:                  string(d.Status),
		Outcome:                 string(d.Outcome),
		OpenedBy:                string(d.OpenedBy),
		OpenedAt:                d.OpenedAt,
		VotingDeadline:          d.VotingDeadline,
		ResolvedAt:              d.ResolvedAt,
		DefenderStake:           d.DefenderStake,
		ChallengerStake:         d.ChallengerStake,
		JurorStakeForChallenger: d.JurorStakeForChallenger,
		JurorStakeForDefender:   d.JurorStakeForDefender,
	}
}

func toDisputeResponses(ds []dispute.Dispute) []disputeResponse {
	out := make([]disputeResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, toDisputeResponse(d))
	}
	return out
}

type settlementResponse struct {
	Outcome       string          `json:"outcome"`
	WinningWeight protocol.Amount `json:"winningWeight"`
	ForfeitPool   protocol.Amount `json:"forfeitPool"`
	PendingClaims int             `json:"pendingClaims"`
	SettledAt     time.Time       `json:"settledAt"`
}

type escrowResponse struct {
	Address             string              `json:"address"`
	SubjectID           string              `json:"subjectId"`
	Round               uint32              `json:"round"`
	Bonds               protocol.Amount     `json:"bonds"`
	Stakes              protocol.Amount     `json:"stakes"`
	JurorsForChallenger protocol.Amount     `json:"jurorsForChallenger"`
	JurorsForDefender   protocol.Amount     `json:"jurorsForDefender"`
	ChallengerRecords   int                 `json:"challengerRecords"`
	DefenderRecords     int                 `json:"defenderRecords"`
	Balance             protocol.Amount     `json:"balance"`
	Deposited           protocol.Amount     `json:"deposited"`
	Released            protocol.Amount     `json:"released"`
	Settlement          *settlementResponse `json:"settlement,omitempty"`
}

func toEscrowResponse(e escrow.Escrow) escrowResponse {
	out := escrowResponse{
		Address:             e.Address.String(),
		SubjectID:           e.SubjectID,
		Round:               e.Round,
		Bonds:               e.Bonds,
		Stakes:              e.Stakes,
		JurorsForChallenger: e.JurorsForChallenger,
		JurorsForDefender:   e.JurorsForDefender,
		ChallengerRecords:   e.ChallengerRecords,
		DefenderRecords:     e.DefenderRecords,
		Balance:             e.Balance,
		Deposited:           e.Deposited,
		Released:            e.Released,
	}
	if st := e.Settlement; st != nil {
		out.Settlement = &settlementResponse{
			Outcome:       string(st.Outcome),
			WinningWeight: st.WinningWeight,
			ForfeitPool:   st.ForfeitPool,
			PendingClaims: st.PendingClaims,
			SettledAt:     st.SettledAt,
		}
	}
	return out
}

type recordResponse struct {
	Address    string          `json:"address"`
	Role       string          `json:"role"`
	SubjectID  string          `json:"subjectId"`
	Round      uint32          `json:"round"`
	Owner      string          `json:"owner"`
	Stake      protocol.Amount `json:"stake"`
	Source     string          `json:"source"`
	Side       string          `json:"side"`
	Choice     string          `json:"choice,omitempty"`
	DetailsRef string          `json:"detailsRef,omitempty"`
	Claimed    bool            `json:"claimed"`
	Payout     protocol.Amount `json:"payout"`
	ClaimedAt  *time.Time      `json:"claimedAt,omitempty"`
}

func toRecordResponse(r escrow.Record) recordResponse {
	return recordResponse{
		Address:    r.Address.String(),
		Role:       string(r.Role),
		SubjectID:  r.SubjectID,
		Round:      r.Round,
		Owner:      string(r.Owner),
		Stake:      r.Stake,
		Source:     string(r.Source),
		Side:       string(r.Side),
		Choice:     r.Choice,
		DetailsRef: r.DetailsRef,
		Claimed:    r.Claimed,
		Payout:     r.Payout,
		ClaimedAt:  r.ClaimedAt,
	}
}

type payoutResponse struct {
	Record        recordResponse  `json:"record"`
	Amount        protocol.Amount `json:"amount"`
	Source        string          `json:"source"`
	Pool          *poolResponse   `json:"pool,omitempty"`
	EscrowBalance protocol.Amount `json:"escrowBalance"`
	PendingClaims int             `json:"pendingClaims"`
}

func toPayoutResponse(p reward.Payout) payoutResponse {
	out := payoutResponse{
		Record:        toRecordResponse(p.Record),
		Amount:        p.Amount,
		Source:        string(p.Source),
		EscrowBalance: p.EscrowBalance,
		PendingClaims: p.PendingClaims,
	}
	if p.Pool != nil {
		pr := toPoolResponse(*p.Pool)
		out.Pool = &pr
	}
	return out
}

// Package restoration lets an invalidated subject be voted back to Valid.
// A restoration is a dispute of kind restoration: the restorer stakes on the
// challenger side and jurors voting ForRestoration join it.
package restoration

import (
	"context"

	"github.com/rs/zerolog"

	"arbitra/dispute"
	"arbitra/protocol"
)

// Disputes is the part of the dispute engine restorations run on.
type Disputes interface {
	Open(ctx context.Context, kind dispute.Kind, params dispute.CreateParams) (dispute.Dispute, error)
	CastVote(ctx context.Context, kind dispute.Kind, caller protocol.Identity, subjectID, choice string, side protocol.Side, stake protocol.Amount, rationaleRef string) (dispute.Dispute, error)
	ResolveDispute(ctx context.Context, params dispute.ResolveParams) (dispute.Dispute, error)
	Get(ctx context.Context, subjectID string, round uint32) (dispute.Dispute, error)
	List(ctx context.Context, filter dispute.Filter) ([]dispute.Dispute, error)
}

type Service struct {
	disputes Disputes
	logger   zerolog.Logger
}

func NewService(disputes Disputes) *Service {
	return &Service{disputes: disputes, logger: zerolog.Nop()}
}

func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger.With().Str("component", "restoration").Logger()
	return s
}

type InitiateParams struct {
	Caller      protocol.Identity
	SubjectID   string
	DisputeType protocol.DisputeType
	Stake       protocol.Amount
	DetailsRef  string
	BondSource  protocol.BondSource
}

// InitiateRestore opens a restoration on an Invalid subject, moving it to
// Restoring. The restorer's stake sits on the challenger side.
func (s *Service) InitiateRestore(ctx context.Context, params InitiateParams) (dispute.Dispute, error) {
	if params.DisputeType == "" {
		params.DisputeType = protocol.DisputeTypeOther
	}
	d, err := s.disputes.Open(ctx, dispute.KindRestoration, dispute.CreateParams{
		Caller:      params.Caller,
		SubjectID:   params.SubjectID,
		DisputeType: params.DisputeType,
		DetailsRef:  params.DetailsRef,
		Stake:       params.Stake,
		BondSource:  params.BondSource,
	})
	if err != nil {
		return dispute.Dispute{}, err
	}
	s.logger.Info().Str("subject_id", d.SubjectID).Uint32("round", d.Round).Str("restorer", string(params.Caller)).
		Msg("restoration initiated")
	return d, nil
}

type VoteParams struct {
	Caller       protocol.Identity
	SubjectID    string
	Choice       protocol.RestoreVoteChoice
	Stake        protocol.Amount
	RationaleRef string
}

// VoteRestore allocates juror stake to the open restoration.
func (s *Service) VoteRestore(ctx context.Context, params VoteParams) (dispute.Dispute, error) {
	if !params.Choice.Valid() {
		return dispute.Dispute{}, protocol.Reject(protocol.ErrInvalidParameter, "", "choice").Withf("unknown restore vote choice %q", params.Choice)
	}
	return s.disputes.CastVote(ctx, dispute.KindRestoration, params.Caller, params.SubjectID,
		string(params.Choice), params.Choice.Side(), params.Stake, params.RationaleRef)
}

// Resolve closes the restoration once voting has ended. It is the same
// resolution a challenge goes through.
func (s *Service) Resolve(ctx context.Context, caller protocol.Identity, subjectID string) (dispute.Dispute, error) {
	return s.disputes.ResolveDispute(ctx, dispute.ResolveParams{Caller: caller, SubjectID: subjectID})
}

// Get returns the restoration opened in round, if the round's dispute is one.
func (s *Service) Get(ctx context.Context, subjectID string, round uint32) (dispute.Dispute, error) {
	d, err := s.disputes.Get(ctx, subjectID, round)
	if err != nil {
		return dispute.Dispute{}, err
	}
	if d.Kind != dispute.KindRestoration {
		return dispute.Dispute{}, dispute.ErrNotFound
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, filter dispute.Filter) ([]dispute.Dispute, error) {
	filter.Kind = dispute.KindRestoration
	return s.disputes.List(ctx, filter)
}

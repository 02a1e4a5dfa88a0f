package dispute

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"arbitra/db"
	"arbitra/journal"
	"arbitra/protocol"
)

// Service is the dispute engine's write and read surface.
type Service struct {
	reader db.Querier
	repos  Repos
	ledger *Ledger
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(pool db.TxBeginner, reader db.Querier, repos Repos, sink journal.Sink) *Service {
	repos = repos.withDefaults()
	return &Service{
		reader: reader,
		repos:  repos,
		ledger: NewLedger(pool, repos, sink),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
}

func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger.With().Str("component", "dispute").Logger()
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateParams struct {
	Caller      protocol.Identity
	SubjectID   string
	DisputeType protocol.DisputeType
	DetailsRef  string
	Stake       protocol.Amount
	BondSource  protocol.BondSource
}

// CreateDispute challenges a Dormant or Valid subject and opens voting.
func (s *Service) CreateDispute(ctx context.Context, params CreateParams) (Dispute, error) {
	return s.Open(ctx, KindChallenge, params)
}

// Open starts a dispute of either kind in the subject's current round with
// the caller's stake on the challenger side.
func (s *Service) Open(ctx context.Context, kind Kind, params CreateParams) (Dispute, error) {
	var from protocol.SubjectStatus
	c, err := s.ledger.Run(ctx, params.SubjectID, s.now(), func(ctx context.Context, tx pgx.Tx, c *Case) (Effects, error) {
		from = c.Subject.Status
		in, err := s.ledger.Participant(ctx, tx, c, protocol.RoleChallenger, params.Caller, params.BondSource, params.Stake)
		if err != nil {
			return Effects{}, err
		}
		in.Record.DetailsRef = params.DetailsRef
		open := OpenParams{Kind: kind, Opener: params.Caller, DisputeType: params.DisputeType, DetailsRef: params.DetailsRef}
		if err := c.Open(open, in); err != nil {
			return Effects{}, err
		}
		return openedEffects(c, in, from), nil
	})
	if err != nil {
		return Dispute{}, err
	}
	s.logger.Info().Str("subject_id", c.Subject.SubjectID).Uint32("round", c.Dispute.Round).Str("kind", string(kind)).
		Str("type", string(c.Dispute.DisputeType)).Time("deadline", c.Dispute.VotingDeadline).Msg("dispute opened")
	return *c.Dispute, nil
}

type JoinParams struct {
	Caller     protocol.Identity
	SubjectID  string
	Stake      protocol.Amount
	DetailsRef string
	BondSource protocol.BondSource
}

// JoinChallengers adds the caller's stake to the open challenge.
func (s *Service) JoinChallengers(ctx context.Context, params JoinParams) (Dispute, error) {
	c, err := s.ledger.Run(ctx, params.SubjectID, s.now(), func(ctx context.Context, tx pgx.Tx, c *Case) (Effects, error) {
		in, err := s.ledger.Participant(ctx, tx, c, protocol.RoleChallenger, params.Caller, params.BondSource, params.Stake)
		if err != nil {
			return Effects{}, err
		}
		if params.DetailsRef != "" {
			in.Record.DetailsRef = params.DetailsRef
		}
		if err := c.JoinChallengers(in); err != nil {
			return Effects{}, err
		}
		return contributedEffects(c, in, journal.KindChallengerJoined, nil), nil
	})
	if err != nil {
		return Dispute{}, err
	}
	return *c.Dispute, nil
}

type BondParams struct {
	Caller     protocol.Identity
	SubjectID  string
	Amount     protocol.Amount
	DetailsRef string
	BondSource protocol.BondSource
}

// BondResult reports the round's defender bond after the addition. Dispute
// is nil when no dispute is running.
type BondResult struct {
	Round   uint32
	Bonds   protocol.Amount
	Dispute *Dispute
}

func (s *Service) AddBondDirect(ctx context.Context, params BondParams) (BondResult, error) {
	params.BondSource = protocol.BondSourceDirect
	return s.AddBond(ctx, params)
}

func (s *Service) AddBondFromPool(ctx context.Context, params BondParams) (BondResult, error) {
	params.BondSource = protocol.BondSourcePool
	return s.AddBond(ctx, params)
}

// AddBond adds defender bond to the subject's current round.
func (s *Service) AddBond(ctx context.Context, params BondParams) (BondResult, error) {
	c, err := s.ledger.Run(ctx, params.SubjectID, s.now(), func(ctx context.Context, tx pgx.Tx, c *Case) (Effects, error) {
		in, err := s.ledger.Participant(ctx, tx, c, protocol.RoleDefender, params.Caller, params.BondSource, params.Amount)
		if err != nil {
			return Effects{}, err
		}
		if params.DetailsRef != "" {
			in.Record.DetailsRef = params.DetailsRef
		}
		if err := c.AddBond(in); err != nil {
			return Effects{}, err
		}
		return contributedEffects(c, in, journal.KindBondAdded, map[string]any{"bonds": uint64(c.Escrow.Bonds)}), nil
	})
	if err != nil {
		return BondResult{}, err
	}
	return BondResult{Round: c.Escrow.Round, Bonds: c.Escrow.Bonds, Dispute: c.Dispute}, nil
}

type VoteParams struct {
	Caller       protocol.Identity
	SubjectID    string
	Choice       protocol.VoteChoice
	Stake        protocol.Amount
	RationaleRef string
}

// Vote allocates juror stake from the caller's juror pool to a side of the
// open challenge.
func (s *Service) Vote(ctx context.Context, params VoteParams) (Dispute, error) {
	if !params.Choice.Valid() {
		return Dispute{}, protocol.Reject(protocol.ErrInvalidParameter, "", "choice").Withf("unknown vote choice %q", params.Choice)
	}
	return s.CastVote(ctx, KindChallenge, params.Caller, params.SubjectID, string(params.Choice), params.Choice.Side(), params.Stake, params.RationaleRef)
}

// CastVote is the juror vote shared by both dispute kinds.
func (s *Service) CastVote(ctx context.Context, kind Kind, caller protocol.Identity, subjectID, choice string, side protocol.Side, stake protocol.Amount, rationaleRef string) (Dispute, error) {
	c, err := s.ledger.Run(ctx, subjectID, s.now(), func(ctx context.Context, tx pgx.Tx, c *Case) (Effects, error) {
		in, err := s.ledger.Participant(ctx, tx, c, protocol.RoleJuror, caller, protocol.BondSourcePool, stake)
		if err != nil {
			return Effects{}, err
		}
		if err := c.Vote(kind, choice, side, in); err != nil {
			return Effects{}, err
		}
		in.Record.DetailsRef = rationaleRef
		return contributedEffects(c, in, journal.KindVoteCast, map[string]any{"choice": choice}), nil
	})
	if err != nil {
		return Dispute{}, err
	}
	s.logger.Debug().Str("subject_id", subjectID).Str("juror", string(caller)).Str("choice", choice).
		Uint64("stake", uint64(stake)).Msg("vote cast")
	return *c.Dispute, nil
}

type ResolveParams struct {
	Caller    protocol.Identity
	SubjectID string
}

// ResolveDispute closes the subject's open dispute after its deadline.
// Anyone may resolve.
func (s *Service) ResolveDispute(ctx context.Context, params ResolveParams) (Dispute, error) {
	var from protocol.SubjectStatus
	c, err := s.ledger.Run(ctx, params.SubjectID, s.now(), func(ctx context.Context, tx pgx.Tx, c *Case) (Effects, error) {
		from = c.Subject.Status
		records, err := s.repos.Escrows.RoundRecords(ctx, tx, c.Subject.SubjectID, c.Subject.CurrentRound)
		if err != nil {
			return Effects{}, err
		}
		outcome, err := c.Resolve(records)
		if err != nil {
			return Effects{}, err
		}
		return resolvedEffects(c, params.Caller, from, outcome), nil
	})
	if err != nil {
		return Dispute{}, err
	}
	s.logger.Info().Str("subject_id", c.Subject.SubjectID).Uint32("round", c.Dispute.Round).
		Str("outcome", string(c.Dispute.Outcome)).Str("from", string(from)).Str("to", string(c.Subject.Status)).
		Msg("dispute resolved")
	return *c.Dispute, nil
}

// Get fetches the dispute for a subject and round.
func (s *Service) Get(ctx context.Context, subjectID string, round uint32) (Dispute, error) {
	return s.repos.Disputes.Get(ctx, s.reader, protocol.DisputeAddress(subjectID, round))
}

func (s *Service) GetByAddress(ctx context.Context, address uuid.UUID) (Dispute, error) {
	return s.repos.Disputes.Get(ctx, s.reader, address)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Dispute, error) {
	return s.repos.Disputes.List(ctx, s.reader, filter)
}

func openedEffects(c *Case, in Contribution, from protocol.SubjectStatus) Effects {
	d := c.Dispute
	kind := journal.KindDisputeOpened
	if d.Kind == KindRestoration {
		kind = journal.KindRestorationOpened
	}
	fx := contributedEffects(c, in, kind, map[string]any{
		"dispute_kind":    d.Kind,
		"dispute_type":    d.DisputeType,
		"voting_deadline": d.VotingDeadline,
	})
	fx.Events = append(fx.Events, statusEvent(c, in.Record.Owner, from))
	fx.Messages = append(fx.Messages, Message{
		Topic: journal.TopicDisputeOpened,
		Payload: map[string]any{
			"subject_id":      d.SubjectID,
			"round":           d.Round,
			"kind":            d.Kind,
			"dispute_type":    d.DisputeType,
			"voting_deadline": d.VotingDeadline,
		},
	})
	return fx
}

func contributedEffects(c *Case, in Contribution, kind string, extra map[string]any) Effects {
	payload := map[string]any{
		"subject_id":  c.Subject.SubjectID,
		"round":       in.Record.Round,
		"role":        in.Record.Role,
		"side":        in.Record.Side,
		"amount":      uint64(in.Amount),
		"stake":       uint64(in.Record.Stake),
		"bond_source": in.Funding.Source,
	}
	for k, v := range extra {
		payload[k] = v
	}
	account := c.Escrow.Address
	if c.Dispute != nil {
		account = c.Dispute.Address
	}
	return Effects{
		Contributions: []Contribution{in},
		Events:        []journal.Event{{Account: account, Kind: kind, Actor: in.Record.Owner, Payload: payload}},
	}
}

func statusEvent(c *Case, actor protocol.Identity, from protocol.SubjectStatus) journal.Event {
	payload := map[string]any{"previous_status": from, "status": c.Subject.Status, "round": c.Subject.CurrentRound}
	return journal.Event{Account: c.Subject.Address, Kind: journal.KindSubjectStatus, Actor: actor, Payload: payload}
}

func resolvedEffects(c *Case, caller protocol.Identity, from protocol.SubjectStatus, outcome protocol.ResolutionOutcome) Effects {
	d := c.Dispute
	s := c.Escrow.Settlement
	return Effects{
		Events: []journal.Event{
			{
				Account: d.Address,
				Kind:    journal.KindDisputeResolved,
				Actor:   caller,
				Payload: map[string]any{
					"subject_id":        d.SubjectID,
					"round":             d.Round,
					"kind":              d.Kind,
					"outcome":           outcome,
					"challenger_weight": uint64(d.ChallengerStake + d.JurorStakeForChallenger),
					"defender_weight":   uint64(d.DefenderStake + d.JurorStakeForDefender),
				},
			},
			{
				Account: c.Escrow.Address,
				Kind:    journal.KindEscrowSettled,
				Actor:   caller,
				Payload: map[string]any{
					"outcome":        outcome,
					"winning_weight": uint64(s.WinningWeight),
					"forfeit_pool":   uint64(s.ForfeitPool),
					"pending_claims": s.PendingClaims,
					"balance":        uint64(c.Escrow.Balance),
				},
			},
			statusEvent(c, caller, from),
		},
		Messages: []Message{
			{
				Topic: journal.TopicDisputeResolved,
				Payload: map[string]any{
					"subject_id": d.SubjectID,
					"round":      d.Round,
					"kind":       d.Kind,
					"outcome":    outcome,
				},
			},
			{
				Topic: journal.TopicSubjectStatus,
				Payload: map[string]any{
					"subject_id":      c.Subject.SubjectID,
					"previous_status": from,
					"status":          c.Subject.Status,
					"current_round":   c.Subject.CurrentRound,
				},
			},
		},
	}
}

package dispute

import (
	"time"

	"arbitra/escrow"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/protocol"
	"arbitra/subject"
)

// Case is every account one operation on a subject may touch, loaded and
// locked for the subject's current round. Dispute is nil when the round has
// none yet. Case methods validate before they mutate, so a rejected call
// leaves the Case as it was.
type Case struct {
	Config  namespace.Config
	Subject subject.Subject
	Dispute *Dispute
	Escrow  escrow.Escrow
	Now     time.Time
}

// Contribution is one owner committing Amount into the round's escrow
// through Record, paid for by Funding.
type Contribution struct {
	Record  *escrow.Record
	Funding pool.Funding
	Amount  protocol.Amount
}

type OpenParams struct {
	Kind        Kind
	Opener      protocol.Identity
	DisputeType protocol.DisputeType
	DetailsRef  string
}

// Open starts a dispute in the current round. The opener's stake sits on the
// challenger side in both kinds.
func (c *Case) Open(p OpenParams, in Contribution) error {
	addr := c.Subject.Address.String()
	next := protocol.SubjectDisputed
	switch p.Kind {
	case KindChallenge:
		if !c.Subject.Disputable() {
			return protocol.Reject(protocol.ErrSubjectNotDisputable, addr, "status").
				Withf("subject is %s", c.Subject.Status)
		}
	case KindRestoration:
		if !c.Subject.Restorable() {
			return protocol.Reject(protocol.ErrSubjectNotRestorable, addr, "status").
				Withf("subject is %s", c.Subject.Status)
		}
		next = protocol.SubjectRestoring
	default:
		return protocol.Reject(protocol.ErrInvalidParameter, addr, "kind").Withf("unknown dispute kind %q", p.Kind)
	}
	if c.Dispute != nil {
		return protocol.Reject(protocol.ErrSubjectNotDisputable, c.Dispute.Address.String(), "round").
			Withf("round %d already has a dispute", c.Subject.CurrentRound)
	}
	if !p.DisputeType.Valid() {
		return protocol.Reject(protocol.ErrInvalidParameter, addr, "dispute_type").Withf("unknown dispute type %q", p.DisputeType)
	}
	if in.Amount < c.Config.MinParticipation {
		return protocol.Reject(protocol.ErrStakeBelowMinimum, in.Record.Address.String(), "stake").
			Withf("stake %d < minimum %d", in.Amount, c.Config.MinParticipation)
	}
	if p.Kind == KindChallenge && c.Subject.MatchMode && in.Amount < c.Escrow.Bonds {
		return protocol.Reject(protocol.ErrBondRequiredIfMatchMode, addr, "stake").
			Withf("stake %d must match defender bond %d", in.Amount, c.Escrow.Bonds)
	}
	if err := c.check(in); err != nil {
		return err
	}
	if !subject.CanTransition(c.Subject.Status, next) {
		return protocol.Reject(protocol.ErrSubjectNotDisputable, addr, "status")
	}

	if err := c.commit(in); err != nil {
		return err
	}
	_ = c.Subject.Transition(next)
	c.Dispute = &Dispute{
		Address:        protocol.DisputeAddress(c.Subject.SubjectID, c.Subject.CurrentRound),
		SubjectAddress: c.Subject.Address,
		SubjectID:      c.Subject.SubjectID,
		Round:          c.Subject.CurrentRound,
		Kind:           p.Kind,
		DisputeType:    p.DisputeType,
		DetailsRef:     p.DetailsRef,
		Status:         protocol.DisputeVoting,
		OpenedBy:       p.Opener,
		OpenedAt:       c.Now,
		VotingDeadline: c.Now.Add(c.Subject.VotingPeriod),
	}
	c.Dispute.sync(c.Escrow)
	return nil
}

// JoinChallengers adds to an open challenge. Repeat calls accumulate on the
// caller's record for the round.
func (c *Case) JoinChallengers(in Contribution) error {
	if err := c.requireVoting(); err != nil {
		return err
	}
	if c.Dispute.Kind != KindChallenge {
		return protocol.Reject(protocol.ErrSubjectNotDisputable, c.Subject.Address.String(), "status").
			Withf("subject is %s", c.Subject.Status)
	}
	if in.Amount < c.Config.MinParticipation || in.Amount == 0 {
		return protocol.Reject(protocol.ErrStakeBelowMinimum, in.Record.Address.String(), "stake").
			Withf("stake %d < minimum %d", in.Amount, c.Config.MinParticipation)
	}
	if err := c.check(in); err != nil {
		return err
	}
	return c.commit(in)
}

// AddBond adds defender bond to the current round. While a dispute runs the
// bond is only accepted until its deadline.
func (c *Case) AddBond(in Contribution) error {
	addr := c.Subject.Address.String()
	if !c.Subject.Bondable() {
		return protocol.Reject(protocol.ErrSubjectNotDisputable, addr, "status").
			Withf("subject is %s", c.Subject.Status)
	}
	if c.Subject.Status == protocol.SubjectDisputed {
		if err := c.requireVoting(); err != nil {
			return err
		}
	}
	if in.Amount == 0 {
		return protocol.Reject(protocol.ErrBelowMinimum, in.Record.Address.String(), "bond").Withf("bond must be positive")
	}
	total, err := c.Escrow.Bonds.Add(in.Amount)
	if err != nil || total > c.Subject.MaxBond {
		return protocol.Reject(protocol.ErrMaxBondExceeded, addr, "max_bond").
			Withf("bond %d + %d exceeds %d", c.Escrow.Bonds, in.Amount, c.Subject.MaxBond)
	}
	if err := c.check(in); err != nil {
		return err
	}
	return c.commit(in)
}

// Vote allocates juror stake behind side. A juror votes once per round.
func (c *Case) Vote(kind Kind, choice string, side protocol.Side, in Contribution) error {
	if err := c.requireVoting(); err != nil {
		return err
	}
	if c.Dispute.Kind != kind {
		return protocol.Reject(protocol.ErrInvalidParameter, c.Dispute.Address.String(), "choice").
			Withf("%s dispute does not take %s votes", c.Dispute.Kind, kind)
	}
	if side != protocol.SideChallenger && side != protocol.SideDefender {
		return protocol.Reject(protocol.ErrInvalidParameter, c.Dispute.Address.String(), "choice").Withf("unknown choice %q", choice)
	}
	if in.Funding.Source != protocol.BondSourcePool || in.Funding.Pool == nil {
		return protocol.Reject(protocol.ErrNoJurorPool, protocol.PoolAddress(protocol.RoleJuror, in.Record.Owner).String(), "pool").
			Withf("%s has no juror pool", in.Record.Owner)
	}
	if !in.Record.IsNew() {
		return protocol.Reject(protocol.ErrAlreadyVoted, in.Record.Address.String(), "choice").
			Withf("already voted %s in round %d", in.Record.Choice, in.Record.Round)
	}
	if in.Amount < c.Config.MinParticipation || in.Amount == 0 {
		return protocol.Reject(protocol.ErrBelowMinimum, in.Record.Address.String(), "stake").
			Withf("stake %d < minimum %d", in.Amount, c.Config.MinParticipation)
	}

	prevSide, prevChoice := in.Record.Side, in.Record.Choice
	in.Record.Side, in.Record.Choice = side, choice
	if err := c.check(in); err != nil {
		in.Record.Side, in.Record.Choice = prevSide, prevChoice
		return err
	}
	return c.commit(in)
}

// Resolve closes the round's dispute once its deadline has passed, applies
// the verdict to the subject, settles the escrow over the round's records
// and opens the next round.
func (c *Case) Resolve(records []escrow.Record) (protocol.ResolutionOutcome, error) {
	if c.Dispute == nil || c.Dispute.Status != protocol.DisputeVoting {
		return "", protocol.Reject(protocol.ErrAlreadyResolved, c.Subject.Address.String(), "dispute").
			Withf("no open dispute in round %d", c.Subject.CurrentRound)
	}
	if c.Now.Before(c.Dispute.VotingDeadline) {
		return "", protocol.Reject(protocol.ErrVotingStillOpen, c.Dispute.Address.String(), "voting_deadline").
			Withf("voting closes at %s", c.Dispute.VotingDeadline.UTC().Format(time.RFC3339))
	}

	challenger, err := c.Escrow.ChallengerWeight()
	if err != nil {
		return "", protocol.Reject(protocol.ErrAmountOverflow, c.Escrow.Address.String(), "challenger_weight")
	}
	defender, err := c.Escrow.DefenderWeight()
	if err != nil {
		return "", protocol.Reject(protocol.ErrAmountOverflow, c.Escrow.Address.String(), "defender_weight")
	}
	outcome := Decide(challenger, defender)
	next := c.Dispute.Kind.Verdict(outcome)
	if !subject.CanTransition(c.Subject.Status, next) {
		return "", protocol.Reject(protocol.ErrInvalidParameter, c.Subject.Address.String(), "status").
			Withf("subject is %s", c.Subject.Status)
	}
	if err := c.Escrow.Settle(outcome, c.Now, records); err != nil {
		return "", err
	}

	_ = c.Subject.Transition(next)
	resolvedAt := c.Now
	c.Dispute.Status = protocol.DisputeResolved
	c.Dispute.Outcome = outcome
	c.Dispute.ResolvedAt = &resolvedAt
	c.Dispute.sync(c.Escrow)
	c.Subject.CurrentRound++
	return outcome, nil
}

func (c *Case) requireVoting() error {
	if c.Dispute == nil {
		return protocol.Reject(protocol.ErrDisputeNotVoting, c.Subject.Address.String(), "dispute").
			Withf("no dispute in round %d", c.Subject.CurrentRound)
	}
	if !c.Dispute.Voting(c.Now) {
		return protocol.Reject(protocol.ErrDisputeNotVoting, c.Dispute.Address.String(), "voting_deadline").
			Withf("dispute is %s, deadline %s", c.Dispute.Status, c.Dispute.VotingDeadline.UTC().Format(time.RFC3339))
	}
	return nil
}

// check validates in without mutating the funding, record or escrow.
func (c *Case) check(in Contribution) error {
	rec := in.Record
	if !rec.IsNew() && rec.Source != in.Funding.Source {
		return protocol.Reject(protocol.ErrBondSourceMismatch, rec.Address.String(), "bond_source").
			Withf("record is funded %s, got %s", rec.Source, in.Funding.Source)
	}
	if err := in.Funding.Check(in.Amount); err != nil {
		return err
	}
	return c.Escrow.Check(rec, in.Amount)
}

func (c *Case) commit(in Contribution) error {
	if err := in.Funding.Debit(in.Amount); err != nil {
		return err
	}
	if err := c.Escrow.Commit(in.Record, in.Amount); err != nil {
		return err
	}
	if c.Dispute != nil && c.Dispute.Round == c.Escrow.Round {
		c.Dispute.sync(c.Escrow)
	}
	return nil
}

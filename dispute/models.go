package dispute

import (
	"time"

	"github.com/google/uuid"

	"arbitra/escrow"
	"arbitra/protocol"
)

// Kind separates challenges of a live subject from restorations of an
// invalidated one. Both share the same voting and resolution rules.
type Kind string

const (
	KindChallenge   Kind = "challenge"
	KindRestoration Kind = "restoration"
)

// Verdict maps a resolution outcome onto the subject's next status.
func (k Kind) Verdict(outcome protocol.ResolutionOutcome) protocol.SubjectStatus {
	switch k {
	case KindRestoration:
		if outcome == protocol.OutcomeChallengerWins {
			return protocol.SubjectValid
		}
		return protocol.SubjectInvalid
	default:
		if outcome == protocol.OutcomeChallengerWins {
			return protocol.SubjectInvalid
		}
		return protocol.SubjectValid
	}
}

// Dispute mirrors the disputes table. Outcome is empty while voting.
type Dispute struct {
	Address                 uuid.UUID
	SubjectAddress          uuid.UUID
	SubjectID               string
	Round                   uint32
	Kind                    Kind
	DisputeType             protocol.DisputeType
	DetailsRef              string
	Status                  protocol.DisputeStatus
	Outcome                 protocol.ResolutionOutcome
	OpenedBy                protocol.Identity
	OpenedAt                time.Time
	VotingDeadline          time.Time
	ResolvedAt              *time.Time
	DefenderStake           protocol.Amount
	ChallengerStake         protocol.Amount
	JurorStakeForChallenger protocol.Amount
	JurorStakeForDefender   protocol.Amount
}

// Voting reports whether contributions are still accepted at now.
func (d *Dispute) Voting(now time.Time) bool {
	return d.Status == protocol.DisputeVoting && now.Before(d.VotingDeadline)
}

// sync copies the round's escrow totals so the dispute row always matches
// what the escrow custodies.
func (d *Dispute) sync(e escrow.Escrow) {
	d.DefenderStake = e.Bonds
	d.ChallengerStake = e.Stakes
	d.JurorStakeForChallenger = e.JurorsForChallenger
	d.JurorStakeForDefender = e.JurorsForDefender
}

// Decide applies the weighting rule. Equal non-zero weights keep the status
// quo, so the defender wins ties.
func Decide(challenger, defender protocol.Amount) protocol.ResolutionOutcome {
	switch {
	case challenger == 0 && defender == 0:
		return protocol.OutcomeNoParticipation
	case challenger > defender:
		return protocol.OutcomeChallengerWins
	default:
		return protocol.OutcomeDefenderWins
	}
}

// Filter narrows List results.
type Filter struct {
	SubjectID string
	Status    protocol.DisputeStatus
	Kind      Kind
	Limit     int
}

package escrow

import (
	"math/bits"
	"time"

	"github.com/google/uuid"

	"arbitra/protocol"
)

// Record is one owner's contribution to a subject in one round, in one role.
// Jurors carry the choice they voted for; defenders and challengers sit on
// their role's side.
type Record struct {
	Address        uuid.UUID
	Role           protocol.Role
	SubjectAddress uuid.UUID
	SubjectID      string
	Round          uint32
	Owner          protocol.Identity
	Stake          protocol.Amount
	Source         protocol.BondSource
	Side           protocol.Side
	Choice         string
	DetailsRef     string
	Claimed        bool
	Payout         protocol.Amount
	ClaimedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// fresh marks a record not yet counted by its escrow.
	fresh bool
}

// NewRecord returns an empty record at its derived address. The side is
// fixed by role for defenders and challengers and by the vote for jurors.
func NewRecord(role protocol.Role, subjectID string, owner protocol.Identity, round uint32, source protocol.BondSource) Record {
	rec := Record{
		Address:        protocol.RecordAddress(role, subjectID, owner, round),
		Role:           role,
		SubjectAddress: protocol.SubjectAddress(subjectID),
		SubjectID:      subjectID,
		Round:          round,
		Owner:          owner,
		Source:         source,
		fresh:          true,
	}
	switch role {
	case protocol.RoleDefender:
		rec.Side = protocol.SideDefender
	case protocol.RoleChallenger:
		rec.Side = protocol.SideChallenger
	}
	return rec
}

// IsNew reports whether the record has not been committed to an escrow yet.
func (r Record) IsNew() bool { return r.fresh }

// Settlement freezes the split once the round's dispute resolves.
type Settlement struct {
	Outcome       protocol.ResolutionOutcome
	WinningWeight protocol.Amount
	ForfeitPool   protocol.Amount
	PendingClaims int
	Remainder     protocol.Amount
	RemainderTo   uuid.UUID
	SettledAt     time.Time
}

// Escrow custodies every amount committed to one subject in one round.
//
// Bonds are defender stakes, Stakes are challenger stakes, and the juror
// totals are split by the side the vote supports. Until the first claim
// Balance equals the sum of the four totals.
type Escrow struct {
	Address             uuid.UUID
	SubjectAddress      uuid.UUID
	SubjectID           string
	Round               uint32
	Bonds               protocol.Amount
	Stakes              protocol.Amount
	JurorsForChallenger protocol.Amount
	JurorsForDefender   protocol.Amount
	ChallengerRecords   int
	DefenderRecords     int
	Balance             protocol.Amount
	Deposited           protocol.Amount
	Released            protocol.Amount
	Settlement          *Settlement
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func New(subjectID string, round uint32) Escrow {
	return Escrow{
		Address:        protocol.EscrowAddress(subjectID, round),
		SubjectAddress: protocol.SubjectAddress(subjectID),
		SubjectID:      subjectID,
		Round:          round,
	}
}

// Settled reports whether the round's outcome has been applied.
func (e *Escrow) Settled() bool { return e.Settlement != nil }

// ChallengerWeight is the effective weight on the challenger side.
func (e *Escrow) ChallengerWeight() (protocol.Amount, error) {
	return e.Stakes.Add(e.JurorsForChallenger)
}

// DefenderWeight is the effective weight on the defender side.
func (e *Escrow) DefenderWeight() (protocol.Amount, error) {
	return e.Bonds.Add(e.JurorsForDefender)
}

// Check validates a commit of amount into rec without mutating anything.
func (e *Escrow) Check(rec *Record, amount protocol.Amount) error {
	if e.Settled() {
		return protocol.Reject(protocol.ErrDisputeNotVoting, e.Address.String(), "settlement").Withf("escrow for round %d is settled", e.Round)
	}
	if !e.owns(rec) {
		return protocol.Reject(protocol.ErrInvalidParameter, rec.Address.String(), "round").Withf("record belongs to another escrow")
	}
	if rec.Side != protocol.SideChallenger && rec.Side != protocol.SideDefender {
		return protocol.Reject(protocol.ErrInvalidParameter, rec.Address.String(), "side").Withf("record has no side")
	}
	if _, err := rec.Stake.Add(amount); err != nil {
		return protocol.Reject(protocol.ErrAmountOverflow, rec.Address.String(), "stake")
	}
	if _, err := e.Balance.Add(amount); err != nil {
		return protocol.Reject(protocol.ErrAmountOverflow, e.Address.String(), "balance")
	}
	if _, err := e.Deposited.Add(amount); err != nil {
		return protocol.Reject(protocol.ErrAmountOverflow, e.Address.String(), "deposited")
	}
	total := e.bucket(rec)
	if _, err := total.Add(amount); err != nil {
		return protocol.Reject(protocol.ErrAmountOverflow, e.Address.String(), string(rec.Role))
	}
	return nil
}

// Commit moves amount into custody on rec's behalf.
func (e *Escrow) Commit(rec *Record, amount protocol.Amount) error {
	if err := e.Check(rec, amount); err != nil {
		return err
	}
	rec.Stake += amount
	e.Balance += amount
	e.Deposited += amount
	switch {
	case rec.Role == protocol.RoleDefender:
		e.Bonds += amount
	case rec.Role == protocol.RoleChallenger:
		e.Stakes += amount
	case rec.Side == protocol.SideChallenger:
		e.JurorsForChallenger += amount
	default:
		e.JurorsForDefender += amount
	}
	if rec.fresh {
		if rec.Side == protocol.SideChallenger {
			e.ChallengerRecords++
		} else {
			e.DefenderRecords++
		}
		rec.fresh = false
	}
	return nil
}

func (e *Escrow) bucket(rec *Record) protocol.Amount {
	switch {
	case rec.Role == protocol.RoleDefender:
		return e.Bonds
	case rec.Role == protocol.RoleChallenger:
		return e.Stakes
	case rec.Side == protocol.SideChallenger:
		return e.JurorsForChallenger
	default:
		return e.JurorsForDefender
	}
}

// Settle fixes the payout split for outcome from the round's records. The
// winning side shares the losing side's funds pro rata; NoParticipation
// refunds every record. Flooring leaves a remainder that is assigned up
// front to the largest winning stake (lowest address on ties), so no payout
// depends on the order of claims.
func (e *Escrow) Settle(outcome protocol.ResolutionOutcome, at time.Time, records []Record) error {
	if e.Settled() {
		return protocol.Reject(protocol.ErrAlreadyResolved, e.Address.String(), "settlement")
	}
	challenger, err := e.ChallengerWeight()
	if err != nil {
		return protocol.Reject(protocol.ErrAmountOverflow, e.Address.String(), "challenger_weight")
	}
	defender, err := e.DefenderWeight()
	if err != nil {
		return protocol.Reject(protocol.ErrAmountOverflow, e.Address.String(), "defender_weight")
	}

	s := Settlement{Outcome: outcome, SettledAt: at}
	switch outcome {
	case protocol.OutcomeChallengerWins:
		s.WinningWeight, s.ForfeitPool = challenger, defender
	case protocol.OutcomeDefenderWins:
		s.WinningWeight, s.ForfeitPool = defender, challenger
	case protocol.OutcomeNoParticipation:
		s.WinningWeight, s.ForfeitPool = e.Balance, 0
	default:
		return protocol.Reject(protocol.ErrInvalidParameter, e.Address.String(), "outcome").Withf("unknown outcome %q", outcome)
	}

	var (
		staked protocol.Amount
		paid   protocol.Amount
		lead   *Record
	)
	for i := range records {
		rec := &records[i]
		if !e.owns(rec) {
			return protocol.Reject(protocol.ErrInvalidParameter, rec.Address.String(), "round").Withf("record belongs to another escrow")
		}
		if rec.Stake == 0 || !wins(outcome, rec.Side) {
			continue
		}
		staked += rec.Stake
		paid += rec.Stake + share(rec.Stake, s.ForfeitPool, s.WinningWeight)
		s.PendingClaims++
		if lead == nil || rec.Stake > lead.Stake || (rec.Stake == lead.Stake && rec.Address.String() < lead.Address.String()) {
			lead = rec
		}
	}
	if staked != s.WinningWeight || paid > e.Balance {
		return protocol.Reject(protocol.ErrInvalidParameter, e.Address.String(), "records").
			Withf("winning records stake %d, escrow expects %d", staked, s.WinningWeight)
	}
	if lead != nil {
		s.Remainder = e.Balance - paid
		s.RemainderTo = lead.Address
	}
	e.Settlement = &s
	return nil
}

func (e *Escrow) owns(rec *Record) bool {
	return rec.Round == e.Round && rec.SubjectAddress == e.SubjectAddress
}

func wins(outcome protocol.ResolutionOutcome, side protocol.Side) bool {
	switch outcome {
	case protocol.OutcomeChallengerWins:
		return side == protocol.SideChallenger
	case protocol.OutcomeDefenderWins:
		return side == protocol.SideDefender
	case protocol.OutcomeNoParticipation:
		return true
	default:
		return false
	}
}

// Eligible reports whether rec may draw from the settled escrow.
func (e *Escrow) Eligible(rec Record) bool {
	return e.Settlement != nil && e.owns(&rec) && wins(e.Settlement.Outcome, rec.Side)
}

// Entitlement is what rec would receive if it claimed now. A zero stake
// earns nothing.
func (e *Escrow) Entitlement(rec Record) protocol.Amount {
	if !e.Eligible(rec) || rec.Claimed || rec.Stake == 0 {
		return 0
	}
	s := e.Settlement
	amount := rec.Stake + share(rec.Stake, s.ForfeitPool, s.WinningWeight)
	if rec.Address == s.RemainderTo {
		amount += s.Remainder
	}
	if amount > e.Balance {
		return e.Balance
	}
	return amount
}

// Release pays rec out of the escrow and marks it claimed.
func (e *Escrow) Release(rec *Record, at time.Time) (protocol.Amount, error) {
	if e.Settlement == nil {
		return 0, protocol.Reject(protocol.ErrDisputeNotResolved, e.Address.String(), "settlement")
	}
	if !e.owns(rec) {
		return 0, protocol.Reject(protocol.ErrNoRecordFound, rec.Address.String(), "record").
			Withf("record is not part of round %d of %s", e.Round, e.SubjectID)
	}
	if rec.Claimed {
		return 0, protocol.Reject(protocol.ErrAlreadyClaimed, rec.Address.String(), "claimed")
	}
	if !e.Eligible(*rec) {
		return 0, protocol.Reject(protocol.ErrNotOnWinningSide, rec.Address.String(), "side").
			Withf("%s side lost (%s)", rec.Side, e.Settlement.Outcome)
	}

	amount := e.Entitlement(*rec)
	e.Balance -= amount
	e.Released += amount
	if rec.Stake > 0 {
		e.Settlement.PendingClaims--
	}
	rec.Claimed = true
	rec.Payout = amount
	claimedAt := at
	rec.ClaimedAt = &claimedAt
	return amount, nil
}

// share is floor(stake*pool/weight) without intermediate overflow.
func share(stake, pool, weight protocol.Amount) protocol.Amount {
	if weight == 0 || pool == 0 || stake == 0 {
		return 0
	}
	if stake > weight {
		stake = weight
	}
	hi, lo := bits.Mul64(uint64(stake), uint64(pool))
	q, _ := bits.Div64(hi, lo, uint64(weight))
	return protocol.Amount(q)
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	SubjectID string
	Round     uint32
	Owner     protocol.Identity
	Role      protocol.Role
	Limit     int
}

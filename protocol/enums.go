package protocol

// DisputeType classifies the grievance a challenger raises against a subject.
type DisputeType string

const (
	DisputeTypeOther             DisputeType = "Other"
	DisputeTypeBreach            DisputeType = "Breach"
	DisputeTypeFraud             DisputeType = "Fraud"
	DisputeTypeQualityDispute    DisputeType = "QualityDispute"
	DisputeTypeNonDelivery       DisputeType = "NonDelivery"
	DisputeTypeMisrepresentation DisputeType = "Misrepresentation"
	DisputeTypePolicyViolation   DisputeType = "PolicyViolation"
	DisputeTypeDamagesClaim      DisputeType = "DamagesClaim"
)

func (t DisputeType) Valid() bool {
	switch t {
	case DisputeTypeOther, DisputeTypeBreach, DisputeTypeFraud, DisputeTypeQualityDispute,
		DisputeTypeNonDelivery, DisputeTypeMisrepresentation, DisputeTypePolicyViolation,
		DisputeTypeDamagesClaim:
		return true
	default:
		return false
	}
}

// VoteChoice is a juror's choice in a challenge dispute.
type VoteChoice string

const (
	VoteForChallenger VoteChoice = "ForChallenger"
	VoteForDefender   VoteChoice = "ForDefender"
)

func (c VoteChoice) Valid() bool {
	return c == VoteForChallenger || c == VoteForDefender
}

// Side maps the choice onto the side whose weight it increases.
func (c VoteChoice) Side() Side {
	switch c {
	case VoteForChallenger:
		return SideChallenger
	case VoteForDefender:
		return SideDefender
	default:
		return ""
	}
}

// RestoreVoteChoice is a juror's choice in a restoration dispute.
type RestoreVoteChoice string

const (
	RestoreForRestoration     RestoreVoteChoice = "ForRestoration"
	RestoreAgainstRestoration RestoreVoteChoice = "AgainstRestoration"
)

func (c RestoreVoteChoice) Valid() bool {
	return c == RestoreForRestoration || c == RestoreAgainstRestoration
}

// Side maps the choice onto the side whose weight it increases. The restorer
// stands where a challenger stands: it asks for the subject's status to change.
func (c RestoreVoteChoice) Side() Side {
	switch c {
	case RestoreForRestoration:
		return SideChallenger
	case RestoreAgainstRestoration:
		return SideDefender
	default:
		return ""
	}
}

// BondSource says where the funds behind a record came from.
type BondSource string

const (
	BondSourceDirect BondSource = "Direct"
	BondSourcePool   BondSource = "Pool"
)

func (s BondSource) Valid() bool {
	return s == BondSourceDirect || s == BondSourcePool
}

// SubjectStatus is the lifecycle state of a subject.
type SubjectStatus string

const (
	SubjectDormant   SubjectStatus = "Dormant"
	SubjectValid     SubjectStatus = "Valid"
	SubjectDisputed  SubjectStatus = "Disputed"
	SubjectInvalid   SubjectStatus = "Invalid"
	SubjectRestoring SubjectStatus = "Restoring"
)

func (s SubjectStatus) Valid() bool {
	switch s {
	case SubjectDormant, SubjectValid, SubjectDisputed, SubjectInvalid, SubjectRestoring:
		return true
	default:
		return false
	}
}

// DisputeStatus is the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeVoting   DisputeStatus = "Voting"
	DisputeResolved DisputeStatus = "Resolved"
)

// ResolutionOutcome is the verdict reached when a dispute resolves.
type ResolutionOutcome string

const (
	OutcomeChallengerWins  ResolutionOutcome = "ChallengerWins"
	OutcomeDefenderWins    ResolutionOutcome = "DefenderWins"
	OutcomeNoParticipation ResolutionOutcome = "NoParticipation"
)

func (o ResolutionOutcome) Valid() bool {
	switch o {
	case OutcomeChallengerWins, OutcomeDefenderWins, OutcomeNoParticipation:
		return true
	default:
		return false
	}
}

// Role is the capacity in which an identity commits funds.
type Role string

const (
	RoleDefender   Role = "Defender"
	RoleChallenger Role = "Challenger"
	RoleJuror      Role = "Juror"
)

func (r Role) Valid() bool {
	return r == RoleDefender || r == RoleChallenger || r == RoleJuror
}

// Side is one of the two weights compared at resolution.
type Side string

const (
	SideChallenger Side = "challenger"
	SideDefender   Side = "defender"
)

// Identity names a participant. Key custody lives outside the ledger.
type Identity string

package subject

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"arbitra/protocol"
)

// MaxSubjectIDLen bounds subject identifiers.
const MaxSubjectIDLen = 64

// ErrInvalidTransition is returned when a status change is not one of the
// lifecycle edges.
var ErrInvalidTransition = errors.New("subject: invalid status transition")

// Subject is a disputable entity registered under a namespace.
type Subject struct {
	Address      uuid.UUID
	SubjectID    string
	Namespace    string
	DetailsRef   string
	MaxBond      protocol.Amount
	MatchMode    bool
	VotingPeriod time.Duration
	Status       protocol.SubjectStatus
	CurrentRound uint32
	CreatedBy    protocol.Identity
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// transitions lists every reachable status edge.
var transitions = map[protocol.SubjectStatus][]protocol.SubjectStatus{
	protocol.SubjectDormant:   {protocol.SubjectDisputed},
	protocol.SubjectValid:     {protocol.SubjectDisputed},
	protocol.SubjectDisputed:  {protocol.SubjectInvalid, protocol.SubjectValid},
	protocol.SubjectInvalid:   {protocol.SubjectRestoring},
	protocol.SubjectRestoring: {protocol.SubjectValid, protocol.SubjectInvalid},
}

// CanTransition reports whether from → to is a lifecycle edge.
func CanTransition(from, to protocol.SubjectStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the subject to status to.
func (s *Subject) Transition(to protocol.SubjectStatus) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// Disputable reports whether a challenge may be opened.
func (s Subject) Disputable() bool {
	return s.Status == protocol.SubjectDormant || s.Status == protocol.SubjectValid
}

// Bondable reports whether the defender may add bond.
func (s Subject) Bondable() bool {
	return s.Status == protocol.SubjectValid || s.Status == protocol.SubjectDisputed
}

// Restorable reports whether a restoration may be opened.
func (s Subject) Restorable() bool {
	return s.Status == protocol.SubjectInvalid
}

// Filter narrows List results.
type Filter struct {
	Namespace string
	Status    protocol.SubjectStatus
	Limit     int
}

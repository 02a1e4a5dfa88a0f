package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a protocol rejection. Codes are comparable errors, so
// errors.Is(err, protocol.ErrAlreadyClaimed) matches any Rejection carrying it.
type Code string

func (c Code) Error() string { return string(c) }

// Authorization
const (
	ErrUnauthorized Code = "Unauthorized"
)

// Uniqueness
const (
	ErrDuplicateNamespace Code = "DuplicateNamespace"
	ErrDuplicateSubject   Code = "DuplicateSubject"
)

// State
const (
	ErrSubjectNotDisputable Code = "SubjectNotDisputable"
	ErrSubjectNotRestorable Code = "SubjectNotRestorable"
	ErrDisputeNotVoting     Code = "DisputeNotVoting"
	ErrVotingStillOpen      Code = "VotingStillOpen"
	ErrAlreadyResolved      Code = "AlreadyResolved"
	ErrDisputeNotResolved   Code = "DisputeNotResolved"
	ErrAlreadyVoted         Code = "AlreadyVoted"
)

// Funds
const (
	ErrInsufficientPoolBalance Code = "InsufficientPoolBalance"
	ErrBelowMinimum            Code = "BelowMinimum"
	ErrMaxBondExceeded         Code = "MaxBondExceeded"
	ErrStakeBelowMinimum       Code = "StakeBelowMinimum"
	ErrInvalidBond             Code = "InvalidBond"
	ErrBondRequiredIfMatchMode Code = "BondRequiredIfMatchMode"
	ErrNoJurorPool             Code = "NoJurorPool"
	ErrBondSourceMismatch      Code = "BondSourceMismatch"
	ErrAmountOverflow          Code = "AmountOverflow"
)

// Claim
const (
	ErrAlreadyClaimed   Code = "AlreadyClaimed"
	ErrNotOnWinningSide Code = "NotOnWinningSide"
	ErrNoRecordFound    Code = "NoRecordFound"
)

// Lookup and input
const (
	ErrNotFound         Code = "NotFound"
	ErrInvalidParameter Code = "InvalidParameter"
)

// Class groups codes by the kind of precondition they guard.
type Class string

const (
	ClassAuthorization Class = "authorization"
	ClassUniqueness    Class = "uniqueness"
	ClassState         Class = "state"
	ClassFunds         Class = "funds"
	ClassClaim         Class = "claim"
	ClassLookup        Class = "lookup"
	ClassInput         Class = "input"
)

func (c Code) Class() Class {
	switch c {
	case ErrUnauthorized:
		return ClassAuthorization
	case ErrDuplicateNamespace, ErrDuplicateSubject:
		return ClassUniqueness
	case ErrSubjectNotDisputable, ErrSubjectNotRestorable, ErrDisputeNotVoting, ErrVotingStillOpen,
		ErrAlreadyResolved, ErrDisputeNotResolved, ErrAlreadyVoted:
		return ClassState
	case ErrInsufficientPoolBalance, ErrBelowMinimum, ErrMaxBondExceeded, ErrStakeBelowMinimum,
		ErrInvalidBond, ErrBondRequiredIfMatchMode, ErrNoJurorPool, ErrBondSourceMismatch, ErrAmountOverflow:
		return ClassFunds
	case ErrAlreadyClaimed, ErrNotOnWinningSide, ErrNoRecordFound:
		return ClassClaim
	case ErrNotFound:
		return ClassLookup
	default:
		return ClassInput
	}
}

// Rejection is the typed failure returned by every write operation. Account is
// the derived address (or natural key) of the offending account and Field the
// attribute that failed the check.
type Rejection struct {
	Code    Code
	Account string
	Field   string
	Detail  string
}

// Reject builds a Rejection for the given account and field.
func Reject(code Code, account, field string) *Rejection {
	return &Rejection{Code: code, Account: account, Field: field}
}

// Withf attaches a human readable detail.
func (r *Rejection) Withf(format string, args ...any) *Rejection {
	r.Detail = fmt.Sprintf(format, args...)
	return r
}

func (r *Rejection) Error() string {
	var b strings.Builder
	b.WriteString("protocol: ")
	b.WriteString(string(r.Code))
	if r.Account != "" || r.Field != "" {
		fmt.Fprintf(&b, " (account=%s field=%s)", r.Account, r.Field)
	}
	if r.Detail != "" {
		b.WriteString(": ")
		b.WriteString(r.Detail)
	}
	return b.String()
}

func (r *Rejection) Unwrap() error { return r.Code }

// CodeOf extracts the rejection code carried by err, if any.
func CodeOf(err error) (Code, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Code, true
	}
	var code Code
	if errors.As(err, &code) {
		return code, true
	}
	return "", false
}

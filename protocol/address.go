package protocol

import (
	"strconv"

	"github.com/google/uuid"
)

// addressSpace roots every derived address. Changing it relocates every account.
var addressSpace = uuid.MustParse("6f0c3a52-9d1e-4b8a-a5a4-1f2d8c7e9b30")

// Seeds for deterministic address derivation.
const (
	SeedConfig           = "protocol_config"
	SeedSubject          = "subject"
	SeedDispute          = "dispute"
	SeedEscrow           = "escrow"
	SeedDefenderPool     = "defender_pool"
	SeedChallengerPool   = "challenger_pool"
	SeedJurorPool        = "juror_pool"
	SeedDefenderRecord   = "defender_record"
	SeedChallengerRecord = "challenger_record"
	SeedJurorRecord      = "juror_record"
)

// Derive computes the address of an account from its seed and identifying
// fields. It is a pure function: callers never need to consult the ledger.
// Each field is length-prefixed, so no field content can shift a boundary.
func Derive(seed string, fields ...string) uuid.UUID {
	buf := appendField(nil, seed)
	for _, f := range fields {
		buf = appendField(buf, f)
	}
	return uuid.NewSHA1(addressSpace, buf)
}

func appendField(buf []byte, f string) []byte {
	buf = strconv.AppendInt(buf, int64(len(f)), 10)
	buf = append(buf, ':')
	return append(buf, f...)
}

func ConfigAddress(namespace string) uuid.UUID {
	return Derive(SeedConfig, namespace)
}

func SubjectAddress(subjectID string) uuid.UUID {
	return Derive(SeedSubject, subjectID)
}

func DisputeAddress(subjectID string, round uint32) uuid.UUID {
	return Derive(SeedDispute, subjectID, formatRound(round))
}

func EscrowAddress(subjectID string, round uint32) uuid.UUID {
	return Derive(SeedEscrow, subjectID, formatRound(round))
}

// PoolAddress locates the stake pool an owner holds for a role.
func PoolAddress(role Role, owner Identity) uuid.UUID {
	return Derive(role.poolSeed(), string(owner))
}

// RecordAddress locates the (subject, owner, round) record for a role.
func RecordAddress(role Role, subjectID string, owner Identity, round uint32) uuid.UUID {
	return Derive(role.recordSeed(), subjectID, string(owner), formatRound(round))
}

func (r Role) poolSeed() string {
	switch r {
	case RoleDefender:
		return SeedDefenderPool
	case RoleChallenger:
		return SeedChallengerPool
	case RoleJuror:
		return SeedJurorPool
	default:
		return "unknown_pool:" + string(r)
	}
}

func (r Role) recordSeed() string {
	switch r {
	case RoleDefender:
		return SeedDefenderRecord
	case RoleChallenger:
		return SeedChallengerRecord
	case RoleJuror:
		return SeedJurorRecord
	default:
		return "unknown_record:" + string(r)
	}
}

func formatRound(round uint32) string {
	return strconv.FormatUint(uint64(round), 10)
}

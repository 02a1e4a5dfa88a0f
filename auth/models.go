package auth

import (
	"time"

	"github.com/google/uuid"

	"arbitra/protocol"
)

// MaxNameLen bounds identity names.
const MaxNameLen = 64

// Identity is a registered caller. The ledger itself only ever sees Name;
// the secret guards token issuance.
type Identity struct {
	ID         uuid.UUID
	Name       protocol.Identity
	SecretHash string
	CreatedAt  time.Time
}

// RegisterRequest contains identity registration data supplied by callers.
type RegisterRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// LoginRequest contains identity credentials.
type LoginRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

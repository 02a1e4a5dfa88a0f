package namespace

import (
	"time"

	"github.com/google/uuid"

	"arbitra/protocol"
)

// MaxNamespaceLen bounds the platform identifier.
const MaxNamespaceLen = 64

// Config is the protocol configuration a namespace registers. The namespace
// string never changes once created.
type Config struct {
	Address          uuid.UUID
	Namespace        string
	Authority        protocol.Identity
	Treasury         protocol.Identity
	MinParticipation protocol.Amount
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsAuthority reports whether id may administer the namespace.
func (c Config) IsAuthority(id protocol.Identity) bool {
	return id != "" && id == c.Authority
}

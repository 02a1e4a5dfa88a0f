package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"arbitra/protocol"
)

// Event kinds appended to ledger_events.
const (
	KindConfigInitialized  = "CONFIG_INITIALIZED"
	KindConfigUpdated      = "CONFIG_UPDATED"
	KindSubjectCreated     = "SUBJECT_CREATED"
	KindSubjectStatus      = "SUBJECT_STATUS_CHANGED"
	KindPoolDeposited      = "POOL_DEPOSITED"
	KindPoolWithdrawn      = "POOL_WITHDRAWN"
	KindPoolCredited       = "POOL_CREDITED"
	KindDisputeOpened      = "DISPUTE_OPENED"
	KindChallengerJoined   = "CHALLENGER_JOINED"
	KindBondAdded          = "BOND_ADDED"
	KindVoteCast           = "VOTE_CAST"
	KindDisputeResolved    = "DISPUTE_RESOLVED"
	KindRestorationOpened  = "RESTORATION_OPENED"
	KindRewardClaimed      = "REWARD_CLAIMED"
	KindEscrowSettled      = "ESCROW_SETTLED"
	KindIdentityRegistered = "IDENTITY_REGISTERED"
)

// Outbox topics.
const (
	TopicConfigInitialized = "namespace.initialized"
	TopicSubjectCreated    = "subject.created"
	TopicSubjectStatus     = "subject.status_changed"
	TopicDisputeOpened     = "dispute.opened"
	TopicDisputeResolved   = "dispute.resolved"
	TopicPayoutDirect      = "payout.direct"
	TopicPoolWithdrawal    = "pool.withdrawal"
)

// Event is one append-only ledger entry tied to an account address.
type Event struct {
	Account uuid.UUID
	Kind    string
	Actor   protocol.Identity
	Payload map[string]any
}

// Sink is what services write to inside their transaction. A nil Sink
// disables journaling.
type Sink interface {
	Append(ctx context.Context, tx pgx.Tx, ev Event) error
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Writer appends ledger events and outbox messages inside the caller's
// transaction so they commit or roll back with the state change.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Append(ctx context.Context, tx pgx.Tx, ev Event) error {
	if ev.Kind == "" {
		return fmt.Errorf("journal: event kind required")
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("journal: marshal event payload: %w", err)
	}
	var actor any
	if ev.Actor != "" {
		actor = string(ev.Actor)
	}

	const q = `
INSERT INTO ledger_events (account, kind, actor, payload)
VALUES ($1, $2, $3, $4::jsonb)
`
	if _, err := tx.Exec(ctx, q, ev.Account, ev.Kind, actor, body); err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return nil
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("journal: outbox topic required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("journal: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("journal: enqueue outbox: %w", err)
	}
	return nil
}

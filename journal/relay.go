package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"arbitra/db"
)

// Message is a claimed outbox row handed to a Publisher.
type Message struct {
	ID       string
	Topic    string
	Payload  json.RawMessage
	Attempts int
}

// Publisher delivers outbox messages downstream.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// LogPublisher writes each message to a zerolog logger. It is the default
// sink when no downstream transport is configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, msg Message) error {
	p.Logger.Info().
		Str("outbox_id", msg.ID).
		Str("topic", msg.Topic).
		RawJSON("payload", msg.Payload).
		Int("attempts", msg.Attempts).
		Msg("outbox message published")
	return nil
}

// Relay drains pending outbox rows using FOR UPDATE SKIP LOCKED so several
// relays can run against the same table.
type Relay struct {
	pool        db.TxBeginner
	publisher   Publisher
	logger      zerolog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

type RelayOptions struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

func NewRelay(pool db.TxBeginner, publisher Publisher, opts RelayOptions) *Relay {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Relay{
		pool:        pool,
		publisher:   publisher,
		logger:      zerolog.Nop(),
		interval:    opts.Interval,
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
	}
}

func (r *Relay) WithLogger(logger zerolog.Logger) *Relay {
	r.logger = logger
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Drain(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			r.logger.Warn().Err(err).Msg("outbox drain failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain processes one batch and returns how many messages were published.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch, err := claimBatch(ctx, tx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range batch {
		if pubErr := r.publisher.Publish(ctx, msg); pubErr != nil {
			status := "pending"
			if msg.Attempts+1 >= r.maxAttempts {
				status = "dead"
			}
			r.logger.Warn().Err(pubErr).Str("outbox_id", msg.ID).Str("topic", msg.Topic).Str("status", status).Msg("outbox publish failed")
			if _, err := tx.Exec(ctx, `
UPDATE outbox
SET attempts = attempts + 1, last_attempt = now(), last_error = $2, status = $3
WHERE id = $1
`, msg.ID, pubErr.Error(), status); err != nil {
				return published, fmt.Errorf("journal: record failure: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
UPDATE outbox
SET attempts = attempts + 1, last_attempt = now(), status = 'processed'
WHERE id = $1
`, msg.ID); err != nil {
			return published, fmt.Errorf("journal: mark processed: %w", err)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("journal: commit tx: %w", err)
	}
	return published, nil
}

func claimBatch(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const q = `
SELECT id::text, topic, payload, attempts
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT $1
`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: claim outbox: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg     Message
			payload []byte
		)
		if err := rows.Scan(&msg.ID, &msg.Topic, &payload, &msg.Attempts); err != nil {
			return nil, fmt.Errorf("journal: scan outbox: %w", err)
		}
		msg.Payload = json.RawMessage(payload)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate outbox: %w", err)
	}
	return out, nil
}

// Package journaltest records journal writes in memory.
package journaltest

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"arbitra/journal"
)

type Message struct {
	Topic   string
	Payload map[string]any
}

// Recorder implements journal.Sink. Writes made in a transaction that later
// rolls back are still recorded; tests assert on the transaction separately.
type Recorder struct {
	mu       sync.Mutex
	Events   []journal.Event
	Messages []Message
	Err      error
}

func (r *Recorder) Append(_ context.Context, _ pgx.Tx, ev journal.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Events = append(r.Events, ev)
	return nil
}

func (r *Recorder) Enqueue(_ context.Context, _ pgx.Tx, topic string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Messages = append(r.Messages, Message{Topic: topic, Payload: payload})
	return nil
}

// Kinds lists the recorded event kinds in order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, ev := range r.Events {
		out[i] = ev.Kind
	}
	return out
}

// Topics lists the recorded outbox topics in order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = m.Topic
	}
	return out
}

// Has reports whether an event of kind was recorded.
func (r *Recorder) Has(kind string) bool {
	for _, k := range r.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

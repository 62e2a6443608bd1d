package memory

import (
	"context"
	"sync"
	"time"

	appoutbox "swapyard/internal/app/outbox"
)

type outboxState string

const (
	outboxNew     outboxState = "NEW"
	outboxClaimed outboxState = "CLAIMED"
	outboxSent    outboxState = "SENT"
	outboxFailed  outboxState = "FAILED"
)

type outboxEntry struct {
	record        appoutbox.EventRecord
	state         outboxState
	attempts      int
	nextAttemptAt time.Time
	lastError     string
}

// Outbox keeps pending event records in memory; the publish worker drains it
// the same way it drains the Mongo store.
type Outbox struct {
	mu      sync.Mutex
	entries []*outboxEntry
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, &outboxEntry{
		record:        record,
		state:         outboxNew,
		nextAttemptAt: time.Now().UTC(),
	})
	return nil
}

// Claim hands out the oldest due record, or nil when none is pending.
func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.EventRecord, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now().UTC()
	for _, entry := range o.entries {
		due := entry.state == outboxNew || (entry.state == outboxFailed && !entry.nextAttemptAt.After(now))
		if !due {
			continue
		}
		entry.state = outboxClaimed
		entry.attempts++
		rec := entry.record
		return &rec, entry.attempts, nil
	}
	return nil, 0, nil
}

func (o *Outbox) MarkSent(ctx context.Context, recordID string) error {
	return o.transition(recordID, outboxSent, time.Time{}, "")
}

func (o *Outbox) MarkFailed(ctx context.Context, recordID string, nextAttemptAt time.Time, reason string) error {
	return o.transition(recordID, outboxFailed, nextAttemptAt, reason)
}

func (o *Outbox) transition(recordID string, state outboxState, nextAttemptAt time.Time, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, entry := range o.entries {
		if entry.record.ID != recordID {
			continue
		}
		entry.state = state
		entry.nextAttemptAt = nextAttemptAt
		entry.lastError = reason
		return nil
	}
	return nil
}

// Pending returns unsent records; used by tests to assert emitted events.
func (o *Outbox) Pending() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]appoutbox.EventRecord, 0, len(o.entries))
	for _, entry := range o.entries {
		if entry.state != outboxSent {
			out = append(out, entry.record)
		}
	}
	return out
}

var _ appoutbox.Outbox = (*Outbox)(nil)

package chat

import (
	"context"
	"time"
)

// InboxEventType distinguishes the initial snapshot from incremental deltas on
// a live inbox subscription.
type InboxEventType string

const (
	// InboxSnapshot carries the full visible-conversation set; it is always the
	// first event on a new subscription and may recur after a stream resync.
	InboxSnapshot InboxEventType = "snapshot"
	// InboxUpsert carries one created or updated conversation.
	InboxUpsert InboxEventType = "upsert"
	// InboxRemove signals that a conversation left the actor's inbox, either
	// hidden or purged.
	InboxRemove InboxEventType = "remove"
)

// InboxEvent is one notification on a WatchInbox subscription.
type InboxEvent struct {
	Type           InboxEventType
	Snapshot       []*Conversation
	Conversation   *Conversation
	ConversationID string
}

// CascadeResult summarizes what a participant-removal cascade touched.
type CascadeResult struct {
	Updated []string
	Purged  []string
}

// Store persists conversations and messages. Every method is one atomic
// logical event: readers never observe a torn state such as an updated
// LastMessageText with a stale ReadBy. Implementations mutate VisibleTo and
// ReadBy with commutative set operations so concurrent updates from both
// participants merge without lost updates.
type Store interface {
	// GetOrCreate inserts fresh under its derived ID unless a record already
	// exists. On the existing path, a caller missing from VisibleTo is added
	// back and LastMessageAt is bumped so the thread resorts to the top of
	// their inbox; last-message text and sender are left untouched. Safe under
	// concurrent first contact from both participants.
	GetOrCreate(ctx context.Context, fresh *Conversation, callerID string) (conv *Conversation, created bool, err error)

	// Get returns a conversation or ErrConversationNotFound.
	Get(ctx context.Context, id string) (*Conversation, error)

	// AppendMessage atomically inserts msg, assigns it a strictly increasing
	// server timestamp within the conversation, updates the parent summary
	// (last message fields, ReadBy reset to the sender, both participants
	// unioned back into VisibleTo) and records the MessageSent outbox event.
	// The message's SentAt is filled in on return.
	AppendMessage(ctx context.Context, conversationID string, msg *Message) (*Conversation, error)

	// MarkRead idempotently adds the actor to ReadBy. Never removes entries.
	MarkRead(ctx context.Context, conversationID, actorID string) error

	// Hide removes the actor from VisibleTo only. When VisibleTo empties, the
	// conversation and all of its messages are purged and purged=true.
	Hide(ctx context.Context, conversationID, actorID string) (purged bool, err error)

	// ListVisible returns the actor's inbox, newest activity first.
	ListVisible(ctx context.Context, actorID string) ([]*Conversation, error)

	// ListMessages returns messages ascending by timestamp. A zero before
	// means "from the beginning"; otherwise only messages sent strictly
	// before that instant are returned (cursor pagination).
	ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]*Message, error)

	// HasUnread reports whether any conversation visible to the actor
	// satisfies the unread predicate.
	HasUnread(ctx context.Context, actorID string) (bool, error)

	// WatchInbox opens a live subscription on the actor's inbox: an initial
	// snapshot followed by incremental deltas. The channel closes when ctx is
	// cancelled or the stream fails; no work accrues after teardown.
	WatchInbox(ctx context.Context, actorID string) (<-chan InboxEvent, error)

	// RemoveParticipant detaches actorID from every conversation they are in,
	// purging conversations whose participant set empties. Used by the account
	// deletion cascade.
	RemoveParticipant(ctx context.Context, actorID string) (CascadeResult, error)
}

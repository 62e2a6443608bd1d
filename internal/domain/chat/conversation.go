package chat

import (
	"sort"
	"strings"
	"time"
)

// Conversation is a two-party, listing-anchored message thread.
//
// Participants never changes after creation (except through the account
// deletion cascade). VisibleTo and ReadBy are set-valued and mutated through
// commutative add/remove operations at the store layer; whole-field overwrite
// is reserved for the defined reset of ReadBy on send.
type Conversation struct {
	ID              string
	Participants    []string
	DisplayNames    map[string]string
	VisibleTo       []string
	ListingID       string
	ListingTitle    string
	ListingImageURL string
	LastMessageText string
	LastSenderID    string
	LastMessageAt   time.Time
	ReadBy          []string
	CreatedAt       time.Time
}

// Message is an immutable entry in a conversation. Messages are only ever
// appended, never edited or removed individually.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	SentAt         time.Time
}

// ConversationID derives the stable thread identifier for a participant pair
// and listing. The pair is sorted so both parties compute the same identifier
// and concurrent first contacts converge on one record.
func ConversationID(actorA, actorB, listingID string) string {
	pair := []string{strings.TrimSpace(actorA), strings.TrimSpace(actorB)}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1] + "_" + strings.TrimSpace(listingID)
}

// IsParticipant reports whether the actor is one of the two parties.
func (c *Conversation) IsParticipant(actorID string) bool {
	for _, p := range c.Participants {
		if p == actorID {
			return true
		}
	}
	return false
}

// IsVisibleTo reports whether the thread currently appears in the actor's inbox.
func (c *Conversation) IsVisibleTo(actorID string) bool {
	for _, p := range c.VisibleTo {
		if p == actorID {
			return true
		}
	}
	return false
}

// Other returns the peer of the given actor, or "" when the actor is not a
// participant or has no peer left.
func (c *Conversation) Other(actorID string) string {
	for _, p := range c.Participants {
		if p != actorID {
			return p
		}
	}
	return ""
}

// IsUnread evaluates the unread predicate for an actor: the latest message
// exists, was sent by someone else, and the actor has not marked it read.
// Evaluated fresh on every read; never cached independently of ReadBy and
// LastSenderID.
func (c *Conversation) IsUnread(actorID string) bool {
	if c.LastSenderID == "" || c.LastSenderID == actorID {
		return false
	}
	for _, r := range c.ReadBy {
		if r == actorID {
			return false
		}
	}
	return true
}

// DisplayNameOf returns the snapshotted display label for an actor.
func (c *Conversation) DisplayNameOf(actorID string) string {
	if c.DisplayNames == nil {
		return ""
	}
	return c.DisplayNames[actorID]
}

// Clone returns a deep copy; stores hand out clones so callers cannot mutate
// shared state.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.VisibleTo = append([]string(nil), c.VisibleTo...)
	out.ReadBy = append([]string(nil), c.ReadBy...)
	if c.DisplayNames != nil {
		out.DisplayNames = make(map[string]string, len(c.DisplayNames))
		for k, v := range c.DisplayNames {
			out.DisplayNames[k] = v
		}
	}
	return &out
}

// CreateParams collects everything needed to open a new conversation.
// Listing title/image and display names are snapshotted at creation time and
// are immutable afterwards.
type CreateParams struct {
	ActorA          string
	ActorB          string
	DisplayNames    map[string]string
	ListingID       string
	ListingTitle    string
	ListingImageURL string
	Now             time.Time
}

// NewConversation validates params and builds the initial record. A fresh
// conversation starts with both parties visible, no messages and an empty
// read set; ReadBy is populated only by the send-time reset and by MarkRead.
func NewConversation(params CreateParams) (*Conversation, error) {
	a := strings.TrimSpace(params.ActorA)
	b := strings.TrimSpace(params.ActorB)
	listingID := strings.TrimSpace(params.ListingID)
	if a == "" || b == "" {
		return nil, &ValidationError{Field: "participants", Reason: "both actor identifiers are required"}
	}
	if a == b {
		return nil, &ValidationError{Field: "participants", Reason: "cannot start a conversation with yourself"}
	}
	if listingID == "" {
		return nil, &ValidationError{Field: "listing_id", Reason: "listing id is required"}
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	pair := []string{a, b}
	sort.Strings(pair)

	names := make(map[string]string, 2)
	for _, p := range pair {
		if params.DisplayNames != nil {
			names[p] = params.DisplayNames[p]
		}
	}

	return &Conversation{
		ID:              ConversationID(a, b, listingID),
		Participants:    pair,
		DisplayNames:    names,
		VisibleTo:       append([]string(nil), pair...),
		ListingID:       listingID,
		ListingTitle:    params.ListingTitle,
		ListingImageURL: params.ListingImageURL,
		LastMessageAt:   now,
		ReadBy:          []string{},
		CreatedAt:       now,
	}, nil
}

// ValidateText normalizes outgoing message text and rejects empty input.
func ValidateText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", &ValidationError{Field: "text", Reason: "message text is required"}
	}
	return trimmed, nil
}

package chat

import (
	"time"

	"swapyard/internal/domain/shared/events"
)

// EventMessageSent is consumed by the external notification dispatcher to fan
// out pushes to the non-sending participant. Delivery is best-effort and never
// blocks the send itself.
const EventMessageSent = "chat.message_sent"

// EventConversationPurged is emitted when the last visible participant hides a
// thread (or the deletion cascade empties it) and the record plus its messages
// are removed.
const EventConversationPurged = "chat.conversation_purged"

type MessageSent struct {
	events.BaseEvent
	ConversationID string   `json:"conversation_id"`
	SenderID       string   `json:"sender_id"`
	RecipientIDs   []string `json:"recipient_ids"`
	Text           string   `json:"text"`
	ListingTitle   string   `json:"listing_title"`
}

// NewMessageSent builds the dispatch event for a freshly appended message.
func NewMessageSent(conv *Conversation, msg *Message) MessageSent {
	recipients := make([]string, 0, 1)
	for _, p := range conv.Participants {
		if p != msg.SenderID {
			recipients = append(recipients, p)
		}
	}
	return MessageSent{
		BaseEvent: events.BaseEvent{
			Name:      EventMessageSent,
			Aggregate: conv.ID,
			Time:      msg.SentAt,
		},
		ConversationID: conv.ID,
		SenderID:       msg.SenderID,
		RecipientIDs:   recipients,
		Text:           msg.Text,
		ListingTitle:   conv.ListingTitle,
	}
}

type ConversationPurged struct {
	events.BaseEvent
	ConversationID string `json:"conversation_id"`
	ListingID      string `json:"listing_id"`
}

func NewConversationPurged(conv *Conversation, now time.Time) ConversationPurged {
	return ConversationPurged{
		BaseEvent: events.BaseEvent{
			Name:      EventConversationPurged,
			Aggregate: conv.ID,
			Time:      now.UTC(),
		},
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
	}
}

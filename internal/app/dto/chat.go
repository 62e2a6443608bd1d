package dto

import (
	"time"

	appchat "swapyard/internal/app/chat"
	domainchat "swapyard/internal/domain/chat"
)

// Conversation is the wire shape of a chat thread as one actor sees it.
type Conversation struct {
	ID              string            `json:"id"`
	Participants    []string          `json:"participants"`
	DisplayNames    map[string]string `json:"display_names,omitempty"`
	ListingID       string            `json:"listing_id"`
	ListingTitle    string            `json:"listing_title,omitempty"`
	ListingImageURL string            `json:"listing_image_url,omitempty"`
	LastMessageText string            `json:"last_message_text,omitempty"`
	LastSenderID    string            `json:"last_sender_id,omitempty"`
	LastMessageAt   time.Time         `json:"last_message_at"`
	CreatedAt       time.Time         `json:"created_at"`
	Unread          bool              `json:"unread"`
}

type ConversationList struct {
	Items []Conversation `json:"items"`
}

type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sent_at"`
}

type ChatMessageList struct {
	Items []ChatMessage `json:"items"`
}

func MapConversation(conv *domainchat.Conversation, unread bool) Conversation {
	if conv == nil {
		return Conversation{}
	}
	return Conversation{
		ID:              conv.ID,
		Participants:    append([]string(nil), conv.Participants...),
		DisplayNames:    conv.DisplayNames,
		ListingID:       conv.ListingID,
		ListingTitle:    conv.ListingTitle,
		ListingImageURL: conv.ListingImageURL,
		LastMessageText: conv.LastMessageText,
		LastSenderID:    conv.LastSenderID,
		LastMessageAt:   conv.LastMessageAt,
		CreatedAt:       conv.CreatedAt,
		Unread:          unread,
	}
}

func MapThreads(threads []appchat.Thread) ConversationList {
	out := ConversationList{Items: make([]Conversation, 0, len(threads))}
	for _, t := range threads {
		out.Items = append(out.Items, MapConversation(t.Conversation, t.Unread))
	}
	return out
}

func MapMessage(msg *domainchat.Message) ChatMessage {
	if msg == nil {
		return ChatMessage{}
	}
	return ChatMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		SentAt:         msg.SentAt,
	}
}

func MapMessages(msgs []*domainchat.Message) ChatMessageList {
	out := ChatMessageList{Items: make([]ChatMessage, 0, len(msgs))}
	for _, m := range msgs {
		out.Items = append(out.Items, MapMessage(m))
	}
	return out
}

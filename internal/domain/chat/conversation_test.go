package chat

import (
	"errors"
	"testing"
)

func TestConversationIDOrderIndependent(t *testing.T) {
	a := ConversationID("u1", "u2", "L9")
	b := ConversationID("u2", "u1", "L9")
	if a != b {
		t.Fatalf("identity depends on argument order: %q vs %q", a, b)
	}
	if a != "u1_u2_L9" {
		t.Fatalf("unexpected identity %q", a)
	}
}

func TestConversationIDSeparatesListings(t *testing.T) {
	if ConversationID("u1", "u2", "L9") == ConversationID("u1", "u2", "L10") {
		t.Fatal("different listings must yield different conversations")
	}
}

func TestNewConversationDefaults(t *testing.T) {
	conv, err := NewConversation(CreateParams{ActorA: "u2", ActorB: "u1", ListingID: "L9"})
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if conv.ID != "u1_u2_L9" {
		t.Fatalf("unexpected id %q", conv.ID)
	}
	if len(conv.Participants) != 2 || conv.Participants[0] != "u1" || conv.Participants[1] != "u2" {
		t.Fatalf("participants not sorted: %v", conv.Participants)
	}
	if !conv.IsVisibleTo("u1") || !conv.IsVisibleTo("u2") {
		t.Fatal("both participants must start visible")
	}
	if len(conv.ReadBy) != 0 {
		t.Fatalf("fresh conversation must start with empty read set, got %v", conv.ReadBy)
	}
	if conv.LastSenderID != "" || conv.LastMessageText != "" {
		t.Fatal("fresh conversation must have no last message")
	}
}

func TestNewConversationRejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		params CreateParams
	}{
		{"self chat", CreateParams{ActorA: "u1", ActorB: "u1", ListingID: "L9"}},
		{"missing actor", CreateParams{ActorA: "u1", ListingID: "L9"}},
		{"missing listing", CreateParams{ActorA: "u1", ActorB: "u2"}},
		{"blank actor", CreateParams{ActorA: "  ", ActorB: "u2", ListingID: "L9"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewConversation(tc.params); !IsValidation(err) {
				t.Fatalf("want validation error, got %v", err)
			}
		})
	}
}

func TestIsUnread(t *testing.T) {
	conv := &Conversation{Participants: []string{"u1", "u2"}}

	if conv.IsUnread("u1") {
		t.Fatal("a thread with no messages is never unread")
	}

	conv.LastSenderID = "u2"
	conv.ReadBy = []string{"u2"}
	if !conv.IsUnread("u1") {
		t.Fatal("peer's message not yet read must be unread")
	}
	if conv.IsUnread("u2") {
		t.Fatal("the sender never sees their own message as unread")
	}

	conv.ReadBy = append(conv.ReadBy, "u1")
	if conv.IsUnread("u1") {
		t.Fatal("reading clears the unread state")
	}
}

func TestValidateText(t *testing.T) {
	if _, err := ValidateText("   "); !IsValidation(err) {
		t.Fatalf("blank text must fail validation, got %v", err)
	}
	got, err := ValidateText("  hi there ")
	if err != nil {
		t.Fatalf("ValidateText: %v", err)
	}
	if got != "hi there" {
		t.Fatalf("text not trimmed: %q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	conv, err := NewConversation(CreateParams{ActorA: "u1", ActorB: "u2", ListingID: "L9"})
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	clone := conv.Clone()
	clone.VisibleTo[0] = "mutated"
	clone.DisplayNames["u1"] = "mutated"
	if conv.VisibleTo[0] == "mutated" || conv.DisplayNames["u1"] == "mutated" {
		t.Fatal("clone shares state with the original")
	}
}

func TestIsValidationDistinguishesSentinels(t *testing.T) {
	if IsValidation(ErrConversationNotFound) {
		t.Fatal("sentinel misclassified as validation error")
	}
	if !IsValidation(&ValidationError{Field: "text", Reason: "x"}) {
		t.Fatal("validation error not recognized")
	}
	if IsValidation(errors.New("other")) {
		t.Fatal("arbitrary error misclassified")
	}
}

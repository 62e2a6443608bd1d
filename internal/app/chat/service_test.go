package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	domainchat "swapyard/internal/domain/chat"
	domainlistings "swapyard/internal/domain/listings"
	domainuser "swapyard/internal/domain/user"
	"swapyard/internal/infra/storage/memory"
)

func newFixture(t *testing.T) (*Service, *memory.ConversationStore, *memory.Outbox) {
	t.Helper()
	box := memory.NewOutbox()
	store := memory.NewConversationStore(box)
	listings := memory.NewListingRepository()
	users := memory.NewUserRepository()

	listing, err := domainlistings.NewListing(domainlistings.CreateParams{
		ID:        "L9",
		Seller:    "u2",
		Title:     "Vintage workbench",
		ImageURLs: []string{"https://cdn.example/img/L9-0.jpg"},
	})
	if err != nil {
		t.Fatalf("NewListing: %v", err)
	}
	if err := listings.Save(context.Background(), listing); err != nil {
		t.Fatalf("Save listing: %v", err)
	}
	for _, u := range []struct{ id, name string }{{"u1", "alice"}, {"u2", "bob"}} {
		account, err := domainuser.NewUser(domainuser.CreateParams{
			ID: domainuser.ID(u.id), Email: u.id + "@example.com",
			Username: u.name, PasswordHash: "x",
		})
		if err != nil {
			t.Fatalf("NewUser: %v", err)
		}
		if err := users.Save(context.Background(), account); err != nil {
			t.Fatalf("Save user: %v", err)
		}
	}
	return &Service{Store: store, Listings: listings, Users: users}, store, box
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, "u1", "u2", "L9")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.ID != "u1_u2_L9" {
		t.Fatalf("unexpected conversation id %q", first.ID)
	}
	if first.ListingTitle != "Vintage workbench" {
		t.Fatalf("listing title not snapshotted: %q", first.ListingTitle)
	}
	if first.DisplayNameOf("u1") != "alice" || first.DisplayNameOf("u2") != "bob" {
		t.Fatalf("display names not snapshotted: %v", first.DisplayNames)
	}

	// Opening from the other side converges on the same record.
	second, err := svc.GetOrCreate(ctx, "u2", "u1", "L9")
	if err != nil {
		t.Fatalf("GetOrCreate from peer: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("peers diverged: %q vs %q", first.ID, second.ID)
	}
}

func TestGetOrCreateRejectsUnknownListing(t *testing.T) {
	svc, _, _ := newFixture(t)
	if _, err := svc.GetOrCreate(context.Background(), "u1", "u2", "missing"); !errors.Is(err, domainlistings.ErrNotFound) {
		t.Fatalf("want listing not found, got %v", err)
	}
}

func TestSendUpdatesSummaryAndUnread(t *testing.T) {
	svc, _, box := newFixture(t)
	ctx := context.Background()

	conv, err := svc.GetOrCreate(ctx, "u1", "u2", "L9")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	msg, err := svc.Send(ctx, conv.ID, "u1", "  is this still available? ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Text != "is this still available?" {
		t.Fatalf("text not trimmed: %q", msg.Text)
	}
	if msg.SentAt.IsZero() {
		t.Fatal("server must assign the timestamp")
	}

	updated, err := svc.Store.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.LastMessageText != msg.Text || updated.LastSenderID != "u1" {
		t.Fatalf("summary not updated: %+v", updated)
	}
	if len(updated.ReadBy) != 1 || updated.ReadBy[0] != "u1" {
		t.Fatalf("read set must reset to the sender, got %v", updated.ReadBy)
	}
	if !updated.IsUnread("u2") || updated.IsUnread("u1") {
		t.Fatal("message must be unread for the recipient only")
	}

	pending := box.Pending()
	if len(pending) != 1 || pending[0].Name != domainchat.EventMessageSent {
		t.Fatalf("want one message_sent outbox record, got %v", pending)
	}
}

func TestSendRejectsOutsiders(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	conv, _ := svc.GetOrCreate(ctx, "u1", "u2", "L9")

	if _, err := svc.Send(ctx, conv.ID, "intruder", "hello"); !errors.Is(err, domainchat.ErrNotParticipant) {
		t.Fatalf("want ErrNotParticipant, got %v", err)
	}
	if _, err := svc.Send(ctx, conv.ID, "u1", "   "); !domainchat.IsValidation(err) {
		t.Fatalf("want validation error for blank text, got %v", err)
	}
	if _, err := svc.Send(ctx, "nope", "u1", "hello"); !errors.Is(err, domainchat.ErrConversationNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestRapidSendsKeepOrder(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()

	// Freeze the clock so every send collides on the same instant.
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return frozen }

	conv, _ := svc.GetOrCreate(ctx, "u1", "u2", "L9")
	for _, text := range []string{"one", "two", "three"} {
		if _, err := svc.Send(ctx, conv.ID, "u1", text); err != nil {
			t.Fatalf("Send %q: %v", text, err)
		}
	}
	msgs, err := svc.Messages(ctx, conv.ID, "u1", 0, time.Time{})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("want 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if !msgs[i].SentAt.After(msgs[i-1].SentAt) {
			t.Fatalf("timestamps not strictly increasing: %v then %v", msgs[i-1].SentAt, msgs[i].SentAt)
		}
	}
	if msgs[0].Text != "one" || msgs[2].Text != "three" {
		t.Fatalf("order broken: %v", []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	conv, _ := svc.GetOrCreate(ctx, "u1", "u2", "L9")
	if _, err := svc.Send(ctx, conv.ID, "u1", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.MarkRead(ctx, conv.ID, "u2"); err != nil {
			t.Fatalf("MarkRead #%d: %v", i, err)
		}
	}
	updated, _ := svc.Store.Get(ctx, conv.ID)
	count := 0
	for _, r := range updated.ReadBy {
		if r == "u2" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("actor duplicated in read set: %v", updated.ReadBy)
	}
	if updated.IsUnread("u2") {
		t.Fatal("thread still unread after mark read")
	}
}

// Full lifecycle: open, message both ways, read, hide one side, resurface by
// message, then hide both sides and observe the purge.
func TestConversationLifecycle(t *testing.T) {
	svc, _, box := newFixture(t)
	ctx := context.Background()

	conv, err := svc.GetOrCreate(ctx, "u1", "u2", "L9")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := svc.Send(ctx, conv.ID, "u1", "is this still available?"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := svc.Send(ctx, conv.ID, "u2", "it is, come by tomorrow"); err != nil {
		t.Fatalf("Send reply: %v", err)
	}
	if err := svc.MarkRead(ctx, conv.ID, "u1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	// u1 hides the thread; it leaves u1's inbox but not u2's.
	if err := svc.Hide(ctx, conv.ID, "u1"); err != nil {
		t.Fatalf("Hide: %v", err)
	}
	u1Inbox, _ := svc.Inbox(ctx, "u1")
	u2Inbox, _ := svc.Inbox(ctx, "u2")
	if len(u1Inbox) != 0 {
		t.Fatalf("u1 inbox must be empty after hide, got %d", len(u1Inbox))
	}
	if len(u2Inbox) != 1 {
		t.Fatalf("u2 must keep the thread, got %d", len(u2Inbox))
	}

	// A new message resurfaces the thread for both participants.
	if _, err := svc.Send(ctx, conv.ID, "u2", "still coming?"); err != nil {
		t.Fatalf("Send after hide: %v", err)
	}
	u1Inbox, _ = svc.Inbox(ctx, "u1")
	if len(u1Inbox) != 1 {
		t.Fatal("message must bring the thread back into u1's inbox")
	}
	if !u1Inbox[0].Unread {
		t.Fatal("resurfaced thread must be unread for u1")
	}

	// Both hide: thread and messages are gone, purge event recorded.
	if err := svc.Hide(ctx, conv.ID, "u1"); err != nil {
		t.Fatalf("Hide u1: %v", err)
	}
	if err := svc.Hide(ctx, conv.ID, "u2"); err != nil {
		t.Fatalf("Hide u2: %v", err)
	}
	if _, err := svc.Store.Get(ctx, conv.ID); !errors.Is(err, domainchat.ErrConversationNotFound) {
		t.Fatalf("thread must be purged, got %v", err)
	}

	purged := false
	for _, rec := range box.Pending() {
		if rec.Name == domainchat.EventConversationPurged {
			purged = true
		}
	}
	if !purged {
		t.Fatal("purge event not recorded")
	}

	// Reopening after purge starts a genuinely fresh thread.
	fresh, err := svc.GetOrCreate(ctx, "u1", "u2", "L9")
	if err != nil {
		t.Fatalf("GetOrCreate after purge: %v", err)
	}
	if fresh.LastMessageText != "" || fresh.LastSenderID != "" {
		t.Fatalf("reopened thread must carry no history, got %+v", fresh)
	}
	msgs, err := svc.Messages(ctx, fresh.ID, "u1", 0, time.Time{})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("reopened thread must have no messages, got %d", len(msgs))
	}
}

func TestReopenAfterHideResurfacesOnlyCaller(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	conv, _ := svc.GetOrCreate(ctx, "u1", "u2", "L9")
	if _, err := svc.Send(ctx, conv.ID, "u2", "ping"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := svc.Hide(ctx, conv.ID, "u1"); err != nil {
		t.Fatalf("Hide: %v", err)
	}

	before, _ := svc.Store.Get(ctx, conv.ID)
	reopened, err := svc.GetOrCreate(ctx, "u1", "u2", "L9")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !reopened.IsVisibleTo("u1") {
		t.Fatal("caller must be visible again after reopen")
	}
	if reopened.LastMessageText != "ping" || reopened.LastSenderID != "u2" {
		t.Fatal("reopen must not touch the last message summary")
	}
	if !reopened.LastMessageAt.After(before.LastMessageAt.Add(-time.Millisecond)) {
		t.Fatal("reopen must bump the activity timestamp")
	}
}

func TestHasUnread(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	unread, err := svc.HasUnread(ctx, "u2")
	if err != nil || unread {
		t.Fatalf("fresh actor must have no unread, got %v %v", unread, err)
	}

	conv, _ := svc.GetOrCreate(ctx, "u1", "u2", "L9")
	if _, err := svc.Send(ctx, conv.ID, "u1", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if unread, _ := svc.HasUnread(ctx, "u2"); !unread {
		t.Fatal("recipient must have unread after a message")
	}
	if unread, _ := svc.HasUnread(ctx, "u1"); unread {
		t.Fatal("sender must not have unread")
	}
	if err := svc.MarkRead(ctx, conv.ID, "u2"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if unread, _ := svc.HasUnread(ctx, "u2"); unread {
		t.Fatal("unread must clear after mark read")
	}
}

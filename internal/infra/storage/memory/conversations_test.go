package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	domainchat "swapyard/internal/domain/chat"
)

func mustConversation(t *testing.T, a, b, listingID string) *domainchat.Conversation {
	t.Helper()
	conv, err := domainchat.NewConversation(domainchat.CreateParams{
		ActorA: a, ActorB: b, ListingID: listingID,
	})
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	return conv
}

func recvEvent(t *testing.T, ch <-chan domainchat.InboxEvent) domainchat.InboxEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("inbox stream closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbox event")
		return domainchat.InboxEvent{}
	}
}

func TestWatchInboxSnapshotThenDeltas(t *testing.T) {
	store := NewConversationStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seed := mustConversation(t, "u1", "u2", "L1")
	if _, _, err := store.GetOrCreate(ctx, seed, "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	events, err := store.WatchInbox(ctx, "u1")
	if err != nil {
		t.Fatalf("WatchInbox: %v", err)
	}

	first := recvEvent(t, events)
	if first.Type != domainchat.InboxSnapshot {
		t.Fatalf("first event must be a snapshot, got %v", first.Type)
	}
	if len(first.Snapshot) != 1 || first.Snapshot[0].ID != seed.ID {
		t.Fatalf("snapshot must carry the existing thread, got %v", first.Snapshot)
	}

	msg := &domainchat.Message{ID: "m1", ConversationID: seed.ID, SenderID: "u2", Text: "hi"}
	if _, err := store.AppendMessage(ctx, seed.ID, msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	delta := recvEvent(t, events)
	if delta.Type != domainchat.InboxUpsert || delta.Conversation.LastMessageText != "hi" {
		t.Fatalf("want upsert with new message, got %+v", delta)
	}

	// u1 hides: that subscriber sees a remove, not an upsert.
	if _, err := store.Hide(ctx, seed.ID, "u1"); err != nil {
		t.Fatalf("Hide: %v", err)
	}
	removed := recvEvent(t, events)
	if removed.Type != domainchat.InboxRemove || removed.ConversationID != seed.ID {
		t.Fatalf("want remove for %q, got %+v", seed.ID, removed)
	}
}

func TestWatchInboxClosesOnCancel(t *testing.T) {
	store := NewConversationStore(nil)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := store.WatchInbox(ctx, "u1")
	if err != nil {
		t.Fatalf("WatchInbox: %v", err)
	}
	recvEvent(t, events) // snapshot

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestWatchInboxPeerDoesNotSeeForeignThreads(t *testing.T) {
	store := NewConversationStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := store.WatchInbox(ctx, "u3")
	if err != nil {
		t.Fatalf("WatchInbox: %v", err)
	}
	snap := recvEvent(t, events)
	if len(snap.Snapshot) != 0 {
		t.Fatalf("fresh actor must get an empty snapshot, got %v", snap.Snapshot)
	}

	seed := mustConversation(t, "u1", "u2", "L1")
	if _, _, err := store.GetOrCreate(ctx, seed, "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	// u3 is not a participant: the only signal may be a remove, never an upsert.
	select {
	case ev := <-events:
		if ev.Type == domainchat.InboxUpsert {
			t.Fatalf("outsider received an upsert: %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConcurrentGetOrCreateConvergesOnOneRecord(t *testing.T) {
	store := NewConversationStore(nil)
	ctx := context.Background()

	const attempts = 32
	var wg sync.WaitGroup
	created := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		caller := "u1"
		if i%2 == 1 {
			caller = "u2"
		}
		wg.Add(1)
		go func(caller string) {
			defer wg.Done()
			fresh := mustConversation(t, "u1", "u2", "L1")
			_, wasCreated, err := store.GetOrCreate(ctx, fresh, caller)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			created <- wasCreated
		}(caller)
	}
	wg.Wait()
	close(created)

	count := 0
	for c := range created {
		if c {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("exactly one caller must create the record, got %d", count)
	}
	convs, err := store.ListVisible(ctx, "u1")
	if err != nil {
		t.Fatalf("ListVisible: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("want one conversation, got %d", len(convs))
	}
}

func TestListVisibleSortsNewestFirst(t *testing.T) {
	store := NewConversationStore(nil)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	first := mustConversation(t, "u1", "u2", "L1")
	second := mustConversation(t, "u1", "u3", "L2")
	if _, _, err := store.GetOrCreate(ctx, first, "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, _, err := store.GetOrCreate(ctx, second, "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Activity in the older thread moves it to the top.
	now = now.Add(time.Minute)
	msg := &domainchat.Message{ID: "m1", ConversationID: first.ID, SenderID: "u2", Text: "bump"}
	if _, err := store.AppendMessage(ctx, first.ID, msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	convs, err := store.ListVisible(ctx, "u1")
	if err != nil {
		t.Fatalf("ListVisible: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != first.ID {
		t.Fatalf("most recently active thread must sort first, got %v", convs)
	}
}

func TestListMessagesPagination(t *testing.T) {
	store := NewConversationStore(nil)
	ctx := context.Background()

	conv := mustConversation(t, "u1", "u2", "L1")
	if _, _, err := store.GetOrCreate(ctx, conv, "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	for i, text := range []string{"a", "b", "c", "d"} {
		msg := &domainchat.Message{ID: string(rune('1' + i)), ConversationID: conv.ID, SenderID: "u1", Text: text}
		if _, err := store.AppendMessage(ctx, conv.ID, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	all, err := store.ListMessages(ctx, conv.ID, 0, time.Time{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("want 4 messages, got %d", len(all))
	}

	limited, err := store.ListMessages(ctx, conv.ID, 2, time.Time{})
	if err != nil {
		t.Fatalf("ListMessages limited: %v", err)
	}
	if len(limited) != 2 || limited[0].Text != "a" {
		t.Fatalf("want the two oldest, got %v", limited)
	}

	older, err := store.ListMessages(ctx, conv.ID, 0, all[2].SentAt)
	if err != nil {
		t.Fatalf("ListMessages before: %v", err)
	}
	if len(older) != 2 || older[1].Text != "b" {
		t.Fatalf("cursor must return messages strictly before it, got %v", older)
	}
}

func TestRemoveParticipantCascade(t *testing.T) {
	store := NewConversationStore(nil)
	ctx := context.Background()

	shared := mustConversation(t, "u1", "u2", "L1")
	other := mustConversation(t, "u2", "u3", "L2")
	if _, _, err := store.GetOrCreate(ctx, shared, "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, _, err := store.GetOrCreate(ctx, other, "u2"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	result, err := store.RemoveParticipant(ctx, "u2")
	if err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if len(result.Updated) != 2 || len(result.Purged) != 0 {
		t.Fatalf("both threads keep one participant, got %+v", result)
	}

	// Removing the remaining peers empties and purges each thread.
	if _, err := store.RemoveParticipant(ctx, "u1"); err != nil {
		t.Fatalf("RemoveParticipant u1: %v", err)
	}
	result, err = store.RemoveParticipant(ctx, "u3")
	if err != nil {
		t.Fatalf("RemoveParticipant u3: %v", err)
	}
	if len(result.Purged) != 1 {
		t.Fatalf("emptied thread must be purged, got %+v", result)
	}
}

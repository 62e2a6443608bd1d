package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	appoutbox "swapyard/internal/app/outbox"
	domainchat "swapyard/internal/domain/chat"
)

const subscriberBuffer = 64

// ConversationStore is the in-process implementation of the conversation
// store: mutex-guarded maps with per-operation atomicity and an in-memory
// watch fan-out. Used by tests and brokerless local runs.
type ConversationStore struct {
	mu       sync.RWMutex
	convs    map[string]*domainchat.Conversation
	messages map[string][]*domainchat.Message
	subs     map[int]*inboxSubscriber
	nextSub  int

	box appoutbox.Outbox
	enc appoutbox.EventEncoder

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

type inboxSubscriber struct {
	actorID string
	ch      chan domainchat.InboxEvent
	closed  bool
}

func NewConversationStore(box appoutbox.Outbox) *ConversationStore {
	return &ConversationStore{
		convs:    make(map[string]*domainchat.Conversation),
		messages: make(map[string][]*domainchat.Message),
		subs:     make(map[int]*inboxSubscriber),
		box:      box,
		enc:      appoutbox.JSONEventEncoder{},
		Now:      time.Now,
	}
}

func (s *ConversationStore) GetOrCreate(ctx context.Context, fresh *domainchat.Conversation, callerID string) (*domainchat.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.convs[fresh.ID]; ok {
		if !existing.IsVisibleTo(callerID) {
			existing.VisibleTo = append(existing.VisibleTo, callerID)
			existing.LastMessageAt = s.now()
			s.notifyUpsert(existing)
		}
		return existing.Clone(), false, nil
	}

	stored := fresh.Clone()
	s.convs[stored.ID] = stored
	s.messages[stored.ID] = nil
	s.notifyUpsert(stored)
	return stored.Clone(), true, nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID string, msg *domainchat.Message) (*domainchat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	if !conv.IsParticipant(msg.SenderID) {
		return nil, domainchat.ErrNotParticipant
	}

	// Server-assigned timestamp, strictly increasing within the conversation
	// so display order matches send order even for rapid-fire sends.
	at := s.now()
	if !at.After(conv.LastMessageAt) {
		at = conv.LastMessageAt.Add(time.Millisecond)
	}
	msg.SentAt = at

	stored := *msg
	s.messages[conversationID] = append(s.messages[conversationID], &stored)

	conv.LastMessageText = msg.Text
	conv.LastSenderID = msg.SenderID
	conv.LastMessageAt = at
	conv.ReadBy = []string{msg.SenderID}
	for _, p := range conv.Participants {
		if !conv.IsVisibleTo(p) {
			conv.VisibleTo = append(conv.VisibleTo, p)
		}
	}

	if err := appoutbox.Record(ctx, s.box, s.enc, domainchat.NewMessageSent(conv, msg)); err != nil {
		return nil, err
	}
	s.notifyUpsert(conv)
	return conv.Clone(), nil
}

func (s *ConversationStore) MarkRead(ctx context.Context, conversationID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[conversationID]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	for _, r := range conv.ReadBy {
		if r == actorID {
			return nil
		}
	}
	conv.ReadBy = append(conv.ReadBy, actorID)
	s.notifyUpsert(conv)
	return nil
}

func (s *ConversationStore) Hide(ctx context.Context, conversationID, actorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[conversationID]
	if !ok {
		return false, domainchat.ErrConversationNotFound
	}
	conv.VisibleTo = removeElement(conv.VisibleTo, actorID)

	if len(conv.VisibleTo) == 0 {
		return true, s.purgeLocked(ctx, conv)
	}
	s.notifyUpsert(conv)
	return false, nil
}

func (s *ConversationStore) ListVisible(ctx context.Context, actorID string) ([]*domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visibleLocked(actorID), nil
}

func (s *ConversationStore) ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]*domainchat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.convs[conversationID]; !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	out := make([]*domainchat.Message, 0, limit)
	for _, msg := range s.messages[conversationID] {
		if !before.IsZero() && !msg.SentAt.Before(before) {
			continue
		}
		copyMsg := *msg
		out = append(out, &copyMsg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *ConversationStore) HasUnread(ctx context.Context, actorID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conv := range s.convs {
		if conv.IsVisibleTo(actorID) && conv.IsUnread(actorID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *ConversationStore) WatchInbox(ctx context.Context, actorID string) (<-chan domainchat.InboxEvent, error) {
	s.mu.Lock()
	sub := &inboxSubscriber{
		actorID: actorID,
		ch:      make(chan domainchat.InboxEvent, subscriberBuffer),
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	sub.ch <- domainchat.InboxEvent{Type: domainchat.InboxSnapshot, Snapshot: s.visibleLocked(actorID)}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.dropSubscriber(id)
	}()
	return sub.ch, nil
}

func (s *ConversationStore) RemoveParticipant(ctx context.Context, actorID string) (domainchat.CascadeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result domainchat.CascadeResult
	for _, conv := range s.convs {
		if !conv.IsParticipant(actorID) {
			continue
		}
		conv.Participants = removeElement(conv.Participants, actorID)
		conv.VisibleTo = removeElement(conv.VisibleTo, actorID)

		if len(conv.Participants) == 0 {
			if err := s.purgeLocked(ctx, conv); err != nil {
				return result, err
			}
			result.Purged = append(result.Purged, conv.ID)
			continue
		}
		s.notifyUpsert(conv)
		result.Updated = append(result.Updated, conv.ID)
	}
	return result, nil
}

func (s *ConversationStore) purgeLocked(ctx context.Context, conv *domainchat.Conversation) error {
	delete(s.convs, conv.ID)
	delete(s.messages, conv.ID)
	if err := appoutbox.Record(ctx, s.box, s.enc, domainchat.NewConversationPurged(conv, s.now())); err != nil {
		return err
	}
	s.notifyRemove(conv.ID)
	return nil
}

func (s *ConversationStore) visibleLocked(actorID string) []*domainchat.Conversation {
	out := make([]*domainchat.Conversation, 0)
	for _, conv := range s.convs {
		if conv.IsVisibleTo(actorID) {
			out = append(out, conv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// notifyUpsert fans a changed conversation out to subscribers. A subscriber
// whose inbox no longer contains the thread gets a remove instead. Callers
// hold the write lock.
func (s *ConversationStore) notifyUpsert(conv *domainchat.Conversation) {
	for id, sub := range s.subs {
		var ev domainchat.InboxEvent
		if conv.IsVisibleTo(sub.actorID) {
			ev = domainchat.InboxEvent{Type: domainchat.InboxUpsert, Conversation: conv.Clone()}
		} else {
			ev = domainchat.InboxEvent{Type: domainchat.InboxRemove, ConversationID: conv.ID}
		}
		s.sendLocked(id, sub, ev)
	}
}

func (s *ConversationStore) notifyRemove(conversationID string) {
	for id, sub := range s.subs {
		s.sendLocked(id, sub, domainchat.InboxEvent{Type: domainchat.InboxRemove, ConversationID: conversationID})
	}
}

// sendLocked delivers without blocking. A subscriber that falls behind the
// buffer is torn down; on reconnect it receives a fresh snapshot, which is the
// documented resync path.
func (s *ConversationStore) sendLocked(id int, sub *inboxSubscriber, ev domainchat.InboxEvent) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- ev:
	default:
		sub.closed = true
		close(sub.ch)
		delete(s.subs, id)
	}
}

func (s *ConversationStore) dropSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	delete(s.subs, id)
}

func (s *ConversationStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func removeElement(values []string, target string) []string {
	out := values[:0]
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

var _ domainchat.Store = (*ConversationStore)(nil)

package chat

import (
	"context"

	domainchat "swapyard/internal/domain/chat"
)

// WatchInbox opens a live subscription on the actor's inbox. The first event
// is a full snapshot; subsequent events are deltas. The channel closes when
// ctx is cancelled or the store stream ends.
func (s *Service) WatchInbox(ctx context.Context, actorID string) (<-chan domainchat.InboxEvent, error) {
	return s.Store.WatchInbox(ctx, actorID)
}

// WatchUnread folds an inbox subscription into the aggregate "has unread"
// flag. The current value is emitted immediately after the snapshot and then
// again whenever it flips; consumers drive a badge, not a log, so unchanged
// values are not repeated.
func (s *Service) WatchUnread(ctx context.Context, actorID string) (<-chan bool, error) {
	events, err := s.Store.WatchInbox(ctx, actorID)
	if err != nil {
		return nil, err
	}

	out := make(chan bool, 1)
	go func() {
		defer close(out)

		unread := make(map[string]bool)
		emitted := false
		last := false
		for ev := range events {
			switch ev.Type {
			case domainchat.InboxSnapshot:
				unread = make(map[string]bool, len(ev.Snapshot))
				for _, conv := range ev.Snapshot {
					if conv.IsUnread(actorID) {
						unread[conv.ID] = true
					}
				}
			case domainchat.InboxUpsert:
				if ev.Conversation == nil {
					continue
				}
				if ev.Conversation.IsUnread(actorID) {
					unread[ev.Conversation.ID] = true
				} else {
					delete(unread, ev.Conversation.ID)
				}
			case domainchat.InboxRemove:
				delete(unread, ev.ConversationID)
			}

			current := len(unread) > 0
			if !emitted || current != last {
				select {
				case out <- current:
				case <-ctx.Done():
					return
				}
				emitted = true
				last = current
			}
		}
	}()
	return out, nil
}

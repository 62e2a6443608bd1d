package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domainchat "swapyard/internal/domain/chat"
	domainlistings "swapyard/internal/domain/listings"
	domainuser "swapyard/internal/domain/user"
)

// Service owns conversation records and enforces the visibility and
// read-state rules on top of a Store. The acting user is always an explicit
// parameter; the service never consults ambient identity.
type Service struct {
	Store    domainchat.Store
	Listings domainlistings.Repository
	Users    domainuser.Repository
	Logger   *slog.Logger
}

// Thread is a conversation as seen by one actor, with the unread predicate
// evaluated against the current ReadBy/LastSenderID state.
type Thread struct {
	Conversation *domainchat.Conversation
	Unread       bool
}

// GetOrCreate opens (or resurfaces) the thread between actorID and
// recipientID about a listing. The identity is a pure function of the inputs,
// so both parties racing to start the same conversation converge on one
// record. Listing title/image and usernames are snapshotted on the create
// path only.
func (s *Service) GetOrCreate(ctx context.Context, actorID, recipientID, listingID string) (*domainchat.Conversation, error) {
	listing, err := s.Listings.ByID(ctx, domainlistings.ListingID(listingID))
	if err != nil {
		return nil, err
	}

	fresh, err := domainchat.NewConversation(domainchat.CreateParams{
		ActorA:          actorID,
		ActorB:          recipientID,
		DisplayNames:    s.lookupDisplayNames(ctx, actorID, recipientID),
		ListingID:       string(listing.ID),
		ListingTitle:    listing.Title,
		ListingImageURL: listing.PrimaryImageURL(),
	})
	if err != nil {
		return nil, err
	}

	conv, created, err := s.Store.GetOrCreate(ctx, fresh, actorID)
	if errors.Is(err, domainchat.ErrConcurrentCreate) {
		// Both participants raced on first contact; the record exists now.
		conv, created, err = s.Store.GetOrCreate(ctx, fresh, actorID)
		if errors.Is(err, domainchat.ErrConcurrentCreate) {
			return nil, fmt.Errorf("%w: %v", domainchat.ErrStoreUnavailable, err)
		}
	}
	if err != nil {
		return nil, err
	}
	if created && s.Logger != nil {
		s.Logger.Info("conversation created",
			"conversation_id", conv.ID, "listing_id", conv.ListingID, "actor_id", actorID)
	}
	return conv, nil
}

// Send validates and appends a message, atomically updating the parent
// summary: last-message fields, ReadBy reset to the sender, and both
// participants resurfaced into VisibleTo. The MessageSent event is recorded
// with the same write; notification fan-out downstream is best-effort.
func (s *Service) Send(ctx context.Context, conversationID, senderID, text string) (*domainchat.Message, error) {
	trimmed, err := domainchat.ValidateText(text)
	if err != nil {
		return nil, err
	}
	conv, err := s.Store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(senderID) {
		return nil, domainchat.ErrNotParticipant
	}

	msg := &domainchat.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Text:           trimmed,
	}
	if _, err := s.Store.AppendMessage(ctx, conv.ID, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead records that the actor has seen the thread up to its latest
// message. Idempotent; entries are never removed here.
func (s *Service) MarkRead(ctx context.Context, conversationID, actorID string) error {
	conv, err := s.Store.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(actorID) {
		return domainchat.ErrNotParticipant
	}
	return s.Store.MarkRead(ctx, conversationID, actorID)
}

// Hide removes the thread from the actor's inbox only. The peer keeps the
// thread and a later message from either side resurfaces it; when nobody is
// left watching, the thread and its messages are purged.
func (s *Service) Hide(ctx context.Context, conversationID, actorID string) error {
	conv, err := s.Store.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(actorID) {
		return domainchat.ErrNotParticipant
	}
	purged, err := s.Store.Hide(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if purged && s.Logger != nil {
		s.Logger.Info("conversation purged", "conversation_id", conversationID)
	}
	return nil
}

// Messages lists a conversation's messages ascending by timestamp, restricted
// to participants. A zero before starts from the beginning.
func (s *Service) Messages(ctx context.Context, conversationID, actorID string, limit int, before time.Time) ([]*domainchat.Message, error) {
	conv, err := s.Store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(actorID) {
		return nil, domainchat.ErrNotParticipant
	}
	return s.Store.ListMessages(ctx, conversationID, limit, before)
}

// Inbox returns the actor's visible threads, newest activity first, each
// annotated with the unread predicate.
func (s *Service) Inbox(ctx context.Context, actorID string) ([]Thread, error) {
	convs, err := s.Store.ListVisible(ctx, actorID)
	if err != nil {
		return nil, err
	}
	threads := make([]Thread, 0, len(convs))
	for _, conv := range convs {
		threads = append(threads, Thread{Conversation: conv, Unread: conv.IsUnread(actorID)})
	}
	return threads, nil
}

// HasUnread reports whether any visible thread is unread for the actor.
func (s *Service) HasUnread(ctx context.Context, actorID string) (bool, error) {
	return s.Store.HasUnread(ctx, actorID)
}

func (s *Service) lookupDisplayNames(ctx context.Context, ids ...string) map[string]string {
	names := make(map[string]string, len(ids))
	if s.Users == nil {
		return names
	}
	for _, id := range ids {
		u, err := s.Users.ByID(ctx, domainuser.ID(id))
		if err != nil {
			// Display names are a snapshot convenience, not a correctness
			// requirement; an unresolvable id stays blank.
			if s.Logger != nil && !errors.Is(err, domainuser.ErrNotFound) {
				s.Logger.Warn("display name lookup failed", "user_id", id, "error", err)
			}
			continue
		}
		names[id] = u.Username
	}
	return names
}

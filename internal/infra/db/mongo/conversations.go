package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appoutbox "swapyard/internal/app/outbox"
	domainchat "swapyard/internal/domain/chat"
)

// ConversationStore is the production conversation store. Set-valued fields
// are mutated with $addToSet/$pull so concurrent participants merge without
// lost updates; send runs in a multi-document transaction together with the
// outbox record.
type ConversationStore struct {
	convs  *mongo.Collection
	msgs   *mongo.Collection
	client *mongo.Client
	box    appoutbox.Outbox
	enc    appoutbox.EventEncoder
	logger *slog.Logger
}

func NewConversationStore(db *mongo.Database, box appoutbox.Outbox, logger *slog.Logger) *ConversationStore {
	convs := db.Collection("conversations")
	msgs := db.Collection("conversation_messages")

	// Best-effort index setup; the queries still work unindexed.
	_, _ = convs.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{Keys: bson.D{{Key: "visible_to", Value: 1}, {Key: "last_message_at", Value: -1}}},
		{Keys: bson.D{{Key: "participants", Value: 1}}},
	})
	_, _ = msgs.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sent_at", Value: 1}},
	})

	return &ConversationStore{
		convs:  convs,
		msgs:   msgs,
		client: db.Client(),
		box:    box,
		enc:    appoutbox.JSONEventEncoder{},
		logger: logger,
	}
}

type conversationDocument struct {
	ID              string            `bson:"_id"`
	Participants    []string          `bson:"participants"`
	DisplayNames    map[string]string `bson:"display_names"`
	VisibleTo       []string          `bson:"visible_to"`
	ReadBy          []string          `bson:"read_by"`
	ListingID       string            `bson:"listing_id"`
	ListingTitle    string            `bson:"listing_title"`
	ListingImageURL string            `bson:"listing_image_url"`
	LastMessageText string            `bson:"last_message_text"`
	LastSenderID    string            `bson:"last_sender_id"`
	LastMessageAt   int64             `bson:"last_message_at"`
	CreatedAt       int64             `bson:"created_at"`
}

type messageDocument struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	SenderID       string `bson:"sender_id"`
	Text           string `bson:"text"`
	SentAt         int64  `bson:"sent_at"`
}

func (s *ConversationStore) GetOrCreate(ctx context.Context, fresh *domainchat.Conversation, callerID string) (*domainchat.Conversation, bool, error) {
	doc := newConversationDocument(fresh)
	setOnInsert := bson.M{
		"participants":      doc.Participants,
		"display_names":     doc.DisplayNames,
		"visible_to":        doc.VisibleTo,
		"read_by":           doc.ReadBy,
		"listing_id":        doc.ListingID,
		"listing_title":     doc.ListingTitle,
		"listing_image_url": doc.ListingImageURL,
		"last_message_text": "",
		"last_sender_id":    "",
		"last_message_at":   doc.LastMessageAt,
		"created_at":        doc.CreatedAt,
	}
	res, err := s.convs.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": setOnInsert},
		options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, false, domainchat.ErrConcurrentCreate
		}
		return nil, false, transient(err)
	}
	created := res.UpsertedCount == 1

	if !created {
		// Re-surface a previously hidden thread for the caller and bump the
		// activity timestamp so it resorts to the top of their inbox. Text and
		// sender of the last message stay untouched.
		var updated conversationDocument
		err := s.convs.FindOneAndUpdate(ctx,
			bson.M{"_id": doc.ID, "visible_to": bson.M{"$ne": callerID}},
			bson.M{
				"$addToSet": bson.M{"visible_to": callerID},
				"$set":      bson.M{"last_message_at": time.Now().UTC().UnixMilli()},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&updated)
		if err == nil {
			return updated.toDomain(), false, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, transient(err)
		}
	}

	conv, err := s.Get(ctx, doc.ID)
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := s.convs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, transient(err)
	}
	return doc.toDomain(), nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID string, msg *domainchat.Message) (*domainchat.Conversation, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, transient(err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var doc conversationDocument
		if err := s.convs.FindOne(sc, bson.M{"_id": conversationID}).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, domainchat.ErrConversationNotFound
			}
			return nil, err
		}
		conv := doc.toDomain()
		if !conv.IsParticipant(msg.SenderID) {
			return nil, domainchat.ErrNotParticipant
		}

		// Server-assigned, strictly increasing within the conversation.
		at := time.Now().UTC()
		if !at.After(conv.LastMessageAt) {
			at = conv.LastMessageAt.Add(time.Millisecond)
		}
		msg.SentAt = at

		if _, err := s.msgs.InsertOne(sc, messageDocument{
			ID:             msg.ID,
			ConversationID: conversationID,
			SenderID:       msg.SenderID,
			Text:           msg.Text,
			SentAt:         at.UnixMilli(),
		}); err != nil {
			return nil, err
		}

		if _, err := s.convs.UpdateOne(sc,
			bson.M{"_id": conversationID},
			bson.M{
				"$set": bson.M{
					"last_message_text": msg.Text,
					"last_sender_id":    msg.SenderID,
					"last_message_at":   at.UnixMilli(),
					// The read-state reset is the one defined whole-field write.
					"read_by": []string{msg.SenderID},
				},
				// A message resurfaces the thread for both parties.
				"$addToSet": bson.M{"visible_to": bson.M{"$each": conv.Participants}},
			}); err != nil {
			return nil, err
		}

		conv.LastMessageText = msg.Text
		conv.LastSenderID = msg.SenderID
		conv.LastMessageAt = at
		conv.ReadBy = []string{msg.SenderID}
		conv.VisibleTo = unionStrings(conv.VisibleTo, conv.Participants)

		// Outbox record joins the transaction through the session context.
		if err := appoutbox.Record(sc, s.box, s.enc, domainchat.NewMessageSent(conv, msg)); err != nil {
			return nil, err
		}
		return conv, nil
	})
	if err != nil {
		if errors.Is(err, domainchat.ErrConversationNotFound) || errors.Is(err, domainchat.ErrNotParticipant) {
			return nil, err
		}
		return nil, transient(err)
	}
	return result.(*domainchat.Conversation), nil
}

func (s *ConversationStore) MarkRead(ctx context.Context, conversationID, actorID string) error {
	res, err := s.convs.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$addToSet": bson.M{"read_by": actorID}})
	if err != nil {
		return transient(err)
	}
	if res.MatchedCount == 0 {
		return domainchat.ErrConversationNotFound
	}
	return nil
}

func (s *ConversationStore) Hide(ctx context.Context, conversationID, actorID string) (bool, error) {
	var doc conversationDocument
	err := s.convs.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$pull": bson.M{"visible_to": actorID}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, domainchat.ErrConversationNotFound
		}
		return false, transient(err)
	}
	if len(doc.VisibleTo) > 0 {
		return false, nil
	}
	return s.purge(ctx, doc.toDomain())
}

// purge deletes the conversation and its messages once nobody sees it. The
// delete is conditioned on visible_to still being empty so a concurrent
// resurface wins over the purge.
func (s *ConversationStore) purge(ctx context.Context, conv *domainchat.Conversation) (bool, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return false, transient(err)
	}
	defer session.EndSession(ctx)

	purged, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := s.convs.DeleteOne(sc, bson.M{"_id": conv.ID, "visible_to": bson.M{"$size": 0}})
		if err != nil {
			return false, err
		}
		if res.DeletedCount == 0 {
			return false, nil
		}
		if _, err := s.msgs.DeleteMany(sc, bson.M{"conversation_id": conv.ID}); err != nil {
			return false, err
		}
		if err := appoutbox.Record(sc, s.box, s.enc, domainchat.NewConversationPurged(conv, time.Now())); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, transient(err)
	}
	return purged.(bool), nil
}

func (s *ConversationStore) ListVisible(ctx context.Context, actorID string) ([]*domainchat.Conversation, error) {
	cursor, err := s.convs.Find(ctx,
		bson.M{"visible_to": actorID},
		options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, transient(err)
	}
	defer cursor.Close(ctx)

	out := make([]*domainchat.Conversation, 0)
	for cursor.Next(ctx) {
		var doc conversationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, transient(err)
		}
		out = append(out, doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, transient(err)
	}
	return out, nil
}

func (s *ConversationStore) ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]*domainchat.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if err := s.convs.FindOne(ctx, bson.M{"_id": conversationID}).Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, transient(err)
	}

	filter := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		filter["sent_at"] = bson.M{"$lt": before.UnixMilli()}
	}
	cursor, err := s.msgs.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "sent_at", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, transient(err)
	}
	defer cursor.Close(ctx)

	out := make([]*domainchat.Message, 0, limit)
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, transient(err)
		}
		out = append(out, doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, transient(err)
	}
	return out, nil
}

func (s *ConversationStore) HasUnread(ctx context.Context, actorID string) (bool, error) {
	count, err := s.convs.CountDocuments(ctx, bson.M{
		"visible_to":     actorID,
		"read_by":        bson.M{"$ne": actorID},
		"last_sender_id": bson.M{"$nin": []string{actorID, ""}},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, transient(err)
	}
	return count > 0, nil
}

type changeEvent struct {
	OperationType string               `bson:"operationType"`
	FullDocument  conversationDocument `bson:"fullDocument"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

func (s *ConversationStore) WatchInbox(ctx context.Context, actorID string) (<-chan domainchat.InboxEvent, error) {
	snapshot, err := s.ListVisible(ctx, actorID)
	if err != nil {
		return nil, err
	}
	stream, err := s.convs.Watch(ctx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, transient(err)
	}

	out := make(chan domainchat.InboxEvent, 1)
	out <- domainchat.InboxEvent{Type: domainchat.InboxSnapshot, Snapshot: snapshot}

	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				if s.logger != nil {
					s.logger.Warn("change stream decode failed", "error", err)
				}
				continue
			}
			var inboxEv domainchat.InboxEvent
			switch ev.OperationType {
			case "delete":
				inboxEv = domainchat.InboxEvent{Type: domainchat.InboxRemove, ConversationID: ev.DocumentKey.ID}
			case "insert", "update", "replace":
				conv := ev.FullDocument.toDomain()
				if conv.IsVisibleTo(actorID) {
					inboxEv = domainchat.InboxEvent{Type: domainchat.InboxUpsert, Conversation: conv}
				} else {
					inboxEv = domainchat.InboxEvent{Type: domainchat.InboxRemove, ConversationID: conv.ID}
				}
			default:
				continue
			}
			select {
			case out <- inboxEv:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *ConversationStore) RemoveParticipant(ctx context.Context, actorID string) (domainchat.CascadeResult, error) {
	var result domainchat.CascadeResult

	cursor, err := s.convs.Find(ctx, bson.M{"participants": actorID})
	if err != nil {
		return result, transient(err)
	}
	ids := make([]string, 0)
	for cursor.Next(ctx) {
		var doc conversationDocument
		if err := cursor.Decode(&doc); err != nil {
			cursor.Close(ctx)
			return result, transient(err)
		}
		ids = append(ids, doc.ID)
	}
	cursor.Close(ctx)

	for _, id := range ids {
		var doc conversationDocument
		err := s.convs.FindOneAndUpdate(ctx,
			bson.M{"_id": id},
			bson.M{"$pull": bson.M{"participants": actorID, "visible_to": actorID}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				continue
			}
			return result, transient(err)
		}
		if len(doc.Participants) == 0 {
			if _, err := s.deleteEmptied(ctx, doc.toDomain()); err != nil {
				return result, err
			}
			result.Purged = append(result.Purged, id)
			continue
		}
		result.Updated = append(result.Updated, id)
	}
	return result, nil
}

func (s *ConversationStore) deleteEmptied(ctx context.Context, conv *domainchat.Conversation) (bool, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return false, transient(err)
	}
	defer session.EndSession(ctx)

	purged, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := s.convs.DeleteOne(sc, bson.M{"_id": conv.ID, "participants": bson.M{"$size": 0}})
		if err != nil {
			return false, err
		}
		if res.DeletedCount == 0 {
			return false, nil
		}
		if _, err := s.msgs.DeleteMany(sc, bson.M{"conversation_id": conv.ID}); err != nil {
			return false, err
		}
		if err := appoutbox.Record(sc, s.box, s.enc, domainchat.NewConversationPurged(conv, time.Now())); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, transient(err)
	}
	return purged.(bool), nil
}

func newConversationDocument(conv *domainchat.Conversation) conversationDocument {
	return conversationDocument{
		ID:              conv.ID,
		Participants:    append([]string(nil), conv.Participants...),
		DisplayNames:    conv.DisplayNames,
		VisibleTo:       append([]string(nil), conv.VisibleTo...),
		ReadBy:          append([]string{}, conv.ReadBy...),
		ListingID:       conv.ListingID,
		ListingTitle:    conv.ListingTitle,
		ListingImageURL: conv.ListingImageURL,
		LastMessageText: conv.LastMessageText,
		LastSenderID:    conv.LastSenderID,
		LastMessageAt:   conv.LastMessageAt.UnixMilli(),
		CreatedAt:       conv.CreatedAt.UnixMilli(),
	}
}

func (d conversationDocument) toDomain() *domainchat.Conversation {
	return &domainchat.Conversation{
		ID:              d.ID,
		Participants:    append([]string(nil), d.Participants...),
		DisplayNames:    d.DisplayNames,
		VisibleTo:       append([]string(nil), d.VisibleTo...),
		ReadBy:          append([]string(nil), d.ReadBy...),
		ListingID:       d.ListingID,
		ListingTitle:    d.ListingTitle,
		ListingImageURL: d.ListingImageURL,
		LastMessageText: d.LastMessageText,
		LastSenderID:    d.LastSenderID,
		LastMessageAt:   millisToTime(d.LastMessageAt),
		CreatedAt:       millisToTime(d.CreatedAt),
	}
}

func (d messageDocument) toDomain() *domainchat.Message {
	return &domainchat.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Text:           d.Text,
		SentAt:         millisToTime(d.SentAt),
	}
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func unionStrings(base []string, add []string) []string {
	out := append([]string(nil), base...)
	for _, v := range add {
		found := false
		for _, existing := range out {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", domainchat.ErrStoreUnavailable, err)
}

var _ domainchat.Store = (*ConversationStore)(nil)

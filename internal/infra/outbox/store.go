package outbox

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appoutbox "swapyard/internal/app/outbox"
)

const (
	stateNew     = "NEW"
	stateClaimed = "CLAIMED"
	stateSent    = "SENT"
	stateFailed  = "FAILED"
)

// MongoStore is the durable outbox. Add participates in the caller's session
// when invoked with a session context, which is how records commit atomically
// with the state change that produced them.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	coll := db.Collection("outbox")
	_, _ = coll.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "state", Value: 1}, {Key: "next_attempt_at", Value: 1}},
	})
	return &MongoStore{coll: coll}
}

type eventDocument struct {
	ID            string            `bson:"_id"`
	Name          string            `bson:"name"`
	Payload       []byte            `bson:"payload"`
	OccurredAt    int64             `bson:"occurred_at"`
	Aggregate     string            `bson:"aggregate"`
	Headers       map[string]string `bson:"headers"`
	State         string            `bson:"state"`
	Attempts      int               `bson:"attempts"`
	NextAttemptAt int64             `bson:"next_attempt_at"`
	ClaimedBy     string            `bson:"claimed_by,omitempty"`
	LastError     string            `bson:"last_error,omitempty"`
}

func (s *MongoStore) Add(ctx context.Context, record appoutbox.EventRecord) error {
	doc := eventDocument{
		ID:            record.ID,
		Name:          record.Name,
		Payload:       record.Payload,
		OccurredAt:    record.OccurredAt.UnixMilli(),
		Aggregate:     record.Aggregate,
		Headers:       record.Headers,
		State:         stateNew,
		NextAttemptAt: time.Now().UnixMilli(),
	}
	_, err := s.coll.InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) Claim(ctx context.Context, workerID string) (*appoutbox.EventRecord, int, error) {
	var doc eventDocument
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{
			"state":           bson.M{"$in": []string{stateNew, stateFailed}},
			"next_attempt_at": bson.M{"$lte": time.Now().UnixMilli()},
		},
		bson.M{"$set": bson.M{"state": stateClaimed, "claimed_by": workerID}},
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "occurred_at", Value: 1}}).
			SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	return &appoutbox.EventRecord{
		ID:         doc.ID,
		Name:       doc.Name,
		Payload:    doc.Payload,
		OccurredAt: time.UnixMilli(doc.OccurredAt).UTC(),
		Aggregate:  doc.Aggregate,
		Headers:    doc.Headers,
	}, doc.Attempts, nil
}

func (s *MongoStore) MarkSent(ctx context.Context, recordID string) error {
	_, err := s.coll.UpdateByID(ctx, recordID, bson.M{
		"$set":   bson.M{"state": stateSent, "last_error": ""},
		"$unset": bson.M{"claimed_by": ""},
	})
	return err
}

func (s *MongoStore) MarkFailed(ctx context.Context, recordID string, nextAttemptAt time.Time, reason string) error {
	_, err := s.coll.UpdateByID(ctx, recordID, bson.M{
		"$set": bson.M{
			"state":           stateFailed,
			"next_attempt_at": nextAttemptAt.UnixMilli(),
			"last_error":      reason,
		},
		"$inc":   bson.M{"attempts": 1},
		"$unset": bson.M{"claimed_by": ""},
	})
	return err
}

var (
	_ appoutbox.Outbox = (*MongoStore)(nil)
	_ Store            = (*MongoStore)(nil)
)

package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// sequenceID is the _id of the counter document in the sequence collection.
const sequenceID = "shard_channel"

// MongoStore implements Store using MongoDB.
//
// Assignments and the sequence counter live in separate collections, so
// any shard id is a valid assignment key.
//
// Document structure:
//
//	shard_channel:     { "_id": "orders", "channel": 2, "assigned_at": ISODate(...) }
//	shard_channel_seq: { "_id": "shard_channel", "n": 17 }
//
// When two processes see a new shard at the same time the loser of the
// insert reads back the winner's channel; its sequence number stays unused,
// so channels of later shards shift by one.
//
// Example:
//
//	client, _ := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
//	store := assignment.NewMongoStore(client.Database("replicator").Collection("shard_channel"))
type MongoStore struct {
	collection *mongo.Collection
	sequence   *mongo.Collection
}

// MongoOption configures a MongoStore.
type MongoOption func(*MongoStore)

// WithSequenceCollection sets the collection holding the sequence counter.
// Default is the assignment collection's name with a "_seq" suffix in the
// same database.
func WithSequenceCollection(c *mongo.Collection) MongoOption {
	return func(s *MongoStore) {
		if c != nil {
			s.sequence = c
		}
	}
}

type shardDoc struct {
	ID         string    `bson:"_id"`
	Channel    int       `bson:"channel"`
	AssignedAt time.Time `bson:"assigned_at"`
}

type sequenceDoc struct {
	ID string `bson:"_id"`
	N  int64  `bson:"n"`
}

// NewMongoStore creates a new MongoDB-backed assignment store.
func NewMongoStore(collection *mongo.Collection, opts ...MongoOption) *MongoStore {
	s := &MongoStore{
		collection: collection,
		sequence:   collection.Database().Collection(collection.Name() + "_seq"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChannelAssignment returns the recorded channel, assigning one on first sight.
func (s *MongoStore) ChannelAssignment(ctx context.Context, shardID string, channels int) (int, error) {
	if err := checkChannels(channels); err != nil {
		return 0, err
	}

	ch, found, err := s.get(ctx, shardID)
	if err != nil || found {
		return ch, err
	}

	var seq sequenceDoc
	err = s.sequence.FindOneAndUpdate(ctx,
		bson.M{"_id": sequenceID},
		bson.M{"$inc": bson.M{"n": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&seq)
	if err != nil {
		return 0, fmt.Errorf("assignment: next sequence: %w", err)
	}
	ch = int((seq.N - 1) % int64(channels))

	_, err = s.collection.InsertOne(ctx, shardDoc{
		ID:         shardID,
		Channel:    ch,
		AssignedAt: time.Now(),
	})
	if mongo.IsDuplicateKeyError(err) {
		ch, _, err = s.get(ctx, shardID)
		return ch, err
	}
	if err != nil {
		return 0, fmt.Errorf("assignment: record shard %q: %w", shardID, err)
	}
	return ch, nil
}

func (s *MongoStore) get(ctx context.Context, shardID string) (int, bool, error) {
	var doc shardDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": shardID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("assignment: lookup shard %q: %w", shardID, err)
	}
	return doc.Channel, true, nil
}

// List returns every recorded assignment.
func (s *MongoStore) List(ctx context.Context) (map[string]int, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make(map[string]int)
	for cursor.Next(ctx) {
		var doc shardDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out[doc.ID] = doc.Channel
	}
	return out, cursor.Err()
}

// Reset removes all assignments and the sequence document.
func (s *MongoStore) Reset(ctx context.Context) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	_, err := s.sequence.DeleteOne(ctx, bson.M{"_id": sequenceID})
	return err
}

// Compile-time check
var _ Store = (*MongoStore)(nil)

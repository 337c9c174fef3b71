package checkpoint

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store using MongoDB.
// Several pipelines can share one collection; documents are scoped by
// pipeline name.
//
// Document structure:
//
//	{
//	    "_id": "orders-pipeline/3",
//	    "pipeline": "orders-pipeline",
//	    "task": 3,
//	    "position": { "seqno": 1042, "fragno": 0, "last_frag": true, ... }
//	}
//
// Example:
//
//	client, _ := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
//	collection := client.Database("replicator").Collection("restart_positions")
//	cp := checkpoint.NewMongoStore(collection, "orders-pipeline")
type MongoStore struct {
	collection *mongo.Collection
	pipeline   string
	ttl        time.Duration
}

// MongoOption configures the MongoDB checkpoint store
type MongoOption func(*MongoStore)

// WithMongoTTL sets a TTL for position documents.
// This creates a TTL index on "position.updated_at" through EnsureIndexes.
// Default is 0 (no expiration).
func WithMongoTTL(ttl time.Duration) MongoOption {
	return func(s *MongoStore) {
		s.ttl = ttl
	}
}

// positionDoc represents the MongoDB document structure
type positionDoc struct {
	ID       string   `bson:"_id"`
	Pipeline string   `bson:"pipeline"`
	Task     int      `bson:"task"`
	Position Position `bson:"position"`
}

// NewMongoStore creates a new MongoDB-backed checkpoint store for one pipeline.
func NewMongoStore(collection *mongo.Collection, pipeline string, opts ...MongoOption) *MongoStore {
	s := &MongoStore{
		collection: collection,
		pipeline:   pipeline,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MongoStore) docID(taskID int) string {
	return s.pipeline + "/" + strconv.Itoa(taskID)
}

// Indexes returns the index models for the collection.
func (s *MongoStore) Indexes() []mongo.IndexModel {
	indexes := []mongo.IndexModel{{
		Keys:    bson.D{{Key: "pipeline", Value: 1}, {Key: "task", Value: 1}},
		Options: options.Index().SetName("pipeline_task"),
	}}
	if s.ttl > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys: bson.D{{Key: "position.updated_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(s.ttl.Seconds())).
				SetName("position_ttl"),
		})
	}
	return indexes
}

// EnsureIndexes creates the indexes. Call this once during startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, s.Indexes())
	return err
}

// Save persists the position for a task.
func (s *MongoStore) Save(ctx context.Context, taskID int, pos Position) error {
	doc := positionDoc{
		ID:       s.docID(taskID),
		Pipeline: s.pipeline,
		Task:     taskID,
		Position: pos,
	}
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": doc.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

// Load retrieves the position for a task.
func (s *MongoStore) Load(ctx context.Context, taskID int) (Position, bool, error) {
	var doc positionDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": s.docID(taskID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, err
	}
	return doc.Position, true, nil
}

// LoadAll returns every position saved for this pipeline.
func (s *MongoStore) LoadAll(ctx context.Context) (map[int]Position, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"pipeline": s.pipeline})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	positions := make(map[int]Position)
	for cursor.Next(ctx) {
		var doc positionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		positions[doc.Task] = doc.Position
	}
	return positions, cursor.Err()
}

// Delete removes the position for a task.
func (s *MongoStore) Delete(ctx context.Context, taskID int) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": s.docID(taskID)})
	return err
}

// Compile-time check
var _ Store = (*MongoStore)(nil)

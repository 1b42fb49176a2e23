package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kaya7oast/FSDP-sub000/internal/model"
)

const mongoCollection = "conversations"

// MongoStore keeps one document per conversation with the messages
// embedded as an array.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to uri and prepares the conversations collection.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(mongoCollection),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "userId", Value: 1},
			{Key: "agentId", Value: 1},
			{Key: "status", Value: 1},
			{Key: "updatedAt", Value: -1},
		}},
		{Keys: bson.D{
			{Key: "userId", Value: 1},
			{Key: "status", Value: 1},
			{Key: "updatedAt", Value: -1},
		}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Insert implements ConversationStore.
func (s *MongoStore) Insert(ctx context.Context, conv *model.Conversation) error {
	if _, err := s.coll.InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Get implements ConversationStore.
func (s *MongoStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return s.findOne(ctx, bson.M{"_id": id}, nil)
}

// FindLatestActive implements ConversationStore.
func (s *MongoStore) FindLatestActive(ctx context.Context, userID, agentID string) (*model.Conversation, error) {
	filter := bson.M{
		"userId":  userID,
		"agentId": agentID,
		"status":  model.StatusActive,
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	return s.findOne(ctx, filter, opts)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*model.Conversation, error) {
	var conv model.Conversation
	var err error
	if opts != nil {
		err = s.coll.FindOne(ctx, filter, opts).Decode(&conv)
	} else {
		err = s.coll.FindOne(ctx, filter).Decode(&conv)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessages pushes msgs onto an active conversation with $push.
func (s *MongoStore) AppendMessages(ctx context.Context, id string, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": msgs}},
		"$set":  bson.M{"updatedAt": msgs[len(msgs)-1].CreatedAt},
	}
	return s.updateOne(ctx, id, update, true)
}

// SetStatus implements ConversationStore.
func (s *MongoStore) SetStatus(ctx context.Context, id string, status model.Status) error {
	return s.setFields(ctx, id, bson.M{"status": status}, false)
}

// SetProvider implements ConversationStore.
func (s *MongoStore) SetProvider(ctx context.Context, id, provider string) error {
	return s.setFields(ctx, id, bson.M{"provider": provider}, true)
}

// SetSummary implements ConversationStore.
func (s *MongoStore) SetSummary(ctx context.Context, id, summary string) error {
	return s.setFields(ctx, id, bson.M{"summary": summary}, true)
}

func (s *MongoStore) setFields(ctx context.Context, id string, fields bson.M, activeOnly bool) error {
	fields["updatedAt"] = time.Now().UTC()
	return s.updateOne(ctx, id, bson.M{"$set": fields}, activeOnly)
}

// updateOne applies update to one conversation. With activeOnly the filter
// also requires status active, and a deleted match reports ErrInactive.
func (s *MongoStore) updateOne(ctx context.Context, id string, update bson.M, activeOnly bool) error {
	filter := bson.M{"_id": id}
	if activeOnly {
		filter["status"] = model.StatusActive
	}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if !activeOnly {
		return ErrNotFound
	}

	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrInactive
	}
	return ErrNotFound
}

// ListActive implements ConversationStore.
func (s *MongoStore) ListActive(ctx context.Context, userID string) ([]model.Conversation, error) {
	filter := bson.M{"userId": userID, "status": model.StatusActive}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	out := make([]model.Conversation, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is an alternative durable Store on MongoDB. Retention is
// enforced by a TTL index on expiresAt, so expired documents disappear
// without any purge logic here.
type MongoStore struct {
	collection *mongo.Collection
	queueName  string
	logger     *slog.Logger
}

type messageDocument struct {
	ID            string            `bson:"_id"`
	KeyID         string            `bson:"keyId"`
	QueueName     string            `bson:"queueName"`
	Payload       string            `bson:"payload"`
	Headers       map[string]string `bson:"headers"`
	EnqueuedAt    time.Time         `bson:"enqueuedAt"`
	CreatedAt     time.Time         `bson:"createdAt"`
	LastAttemptAt *time.Time        `bson:"lastAttemptAt,omitempty"`
	AttemptCount  int               `bson:"attemptCount"`
	Status        string            `bson:"status"`
	LastError     string            `bson:"lastError,omitempty"`
	ExpiresAt     time.Time         `bson:"expiresAt"`
}

// NewMongoStore creates a Store over the given collection.
func NewMongoStore(collection *mongo.Collection, queueName string, logger *slog.Logger) *MongoStore {
	return &MongoStore{
		collection: collection,
		queueName:  queueName,
		logger:     logger,
	}
}

// EnsureIndexes creates the TTL index on expiresAt and the lookup index on
// the normalized id.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetName("ttl_expires_at").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "keyId", Value: 1}},
			Options: options.Index().SetName("key_id"),
		},
		{
			Keys:    bson.D{{Key: "queueName", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("queue_status"),
		},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	s.logger.Info("MongoDB indexes ensured",
		slog.String("collection", s.collection.Name()),
	)
	return nil
}

func (s *MongoStore) Upsert(ctx context.Context, record *Record) error {
	doc := toDocument(record)
	filter := bson.M{"keyId": doc.KeyID}
	opts := options.Replace().SetUpsert(true)

	if _, err := s.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to upsert message record: %w", err)
	}
	return nil
}

func (s *MongoStore) MarkProcessing(ctx context.Context, id string) error {
	update := bson.M{
		"$set": bson.M{"status": string(StatusProcessing), "lastAttemptAt": time.Now().UTC()},
		"$inc": bson.M{"attemptCount": 1},
	}

	if _, err := s.collection.UpdateOne(ctx, bson.M{"keyId": Key(id)}, update); err != nil {
		return fmt.Errorf("failed to mark message processing: %w", err)
	}
	return nil
}

func (s *MongoStore) MarkCompleted(ctx context.Context, id string) error {
	update := bson.M{
		"$set": bson.M{"status": string(StatusCompleted), "lastAttemptAt": time.Now().UTC()},
	}

	if _, err := s.collection.UpdateOne(ctx, bson.M{"keyId": Key(id)}, update); err != nil {
		return fmt.Errorf("failed to mark message completed: %w", err)
	}
	return nil
}

func (s *MongoStore) MarkMovedToError(ctx context.Context, id, errorText string) error {
	update := bson.M{
		"$set": bson.M{
			"status":        string(StatusMovedToError),
			"lastError":     errorText,
			"lastAttemptAt": time.Now().UTC(),
		},
	}

	if _, err := s.collection.UpdateOne(ctx, bson.M{"keyId": Key(id)}, update); err != nil {
		return fmt.Errorf("failed to mark message moved to error: %w", err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"keyId": Key(id)}); err != nil {
		return fmt.Errorf("failed to delete message record: %w", err)
	}
	return nil
}

func (s *MongoStore) LoadUnfinished(ctx context.Context) ([]Record, error) {
	filter := bson.M{
		"queueName": s.queueName,
		"status":    bson.M{"$in": []string{string(StatusPending), string(StatusProcessing)}},
	}

	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load unfinished messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode unfinished messages: %w", err)
	}

	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, doc.toRecord())
	}

	s.logger.Info("Loaded unfinished messages",
		slog.Int("count", len(records)),
		slog.String("queue", s.queueName),
	)
	return records, nil
}

func (s *MongoStore) GetStatuses(ctx context.Context, ids []string) (map[string]Status, error) {
	if len(ids) == 0 {
		return map[string]Status{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, Key(id))
	}

	cursor, err := s.collection.Find(ctx, bson.M{"keyId": bson.M{"$in": keys}})
	if err != nil {
		return nil, fmt.Errorf("failed to get message statuses: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode message statuses: %w", err)
	}

	statuses := make(map[string]Status, len(docs))
	for _, doc := range docs {
		statuses[doc.KeyID] = Status(doc.Status)
	}
	return statuses, nil
}

func (s *MongoStore) ExistsUnfinished(ctx context.Context, id string) (bool, error) {
	filter := bson.M{
		"keyId":  Key(id),
		"status": bson.M{"$in": []string{string(StatusPending), string(StatusProcessing)}},
	}

	count, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to check unfinished message: %w", err)
	}
	return count > 0, nil
}

func toDocument(record *Record) messageDocument {
	return messageDocument{
		ID:            record.ID,
		KeyID:         Key(record.ID),
		QueueName:     record.QueueName,
		Payload:       record.Payload,
		Headers:       record.Headers,
		EnqueuedAt:    record.EnqueuedAt.UTC(),
		CreatedAt:     record.CreatedAt.UTC(),
		LastAttemptAt: record.LastAttemptAt,
		AttemptCount:  record.AttemptCount,
		Status:        string(record.Status),
		LastError:     record.LastError,
		ExpiresAt:     record.ExpiresAt.UTC(),
	}
}

func (d messageDocument) toRecord() Record {
	headers := d.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	return Record{
		ID:            d.ID,
		QueueName:     d.QueueName,
		Payload:       d.Payload,
		Headers:       headers,
		EnqueuedAt:    d.EnqueuedAt,
		CreatedAt:     d.CreatedAt,
		LastAttemptAt: d.LastAttemptAt,
		AttemptCount:  d.AttemptCount,
		Status:        Status(d.Status),
		LastError:     d.LastError,
		ExpiresAt:     d.ExpiresAt,
	}
}

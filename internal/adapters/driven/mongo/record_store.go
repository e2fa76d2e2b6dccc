// Package mongo implements the RecordStore port on MongoDB. Each entity
// type maps to its own collection, with the business fields held in a
// nested document so the sync core never needs a per-entity schema.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RecordStore = (*RecordStore)(nil)

// Config holds MongoDB connection settings.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// DefaultConfig returns connection settings with sensible defaults.
func DefaultConfig(uri, database string) Config {
	return Config{
		URI:            uri,
		Database:       database,
		ConnectTimeout: 10 * time.Second,
	}
}

// recordDoc is the stored document shape.
type recordDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Fields    map[string]any     `bson:"fields"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

// RecordStore is the production local record store.
type RecordStore struct {
	client *mongo.Client
	db     *mongo.Database

	mu      sync.RWMutex
	handler func(ctx context.Context, ev domain.RecordEvent)
}

// Connect establishes the MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo URI is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("database name is required")
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &RecordStore{
		client: client,
		db:     client.Database(cfg.Database),
	}, nil
}

// collection maps an entity type to its collection. Dots in entity types
// (e.g. "order.line") are flattened since Mongo reserves them.
func (s *RecordStore) collection(entityType string) *mongo.Collection {
	name := make([]byte, 0, len(entityType))
	for i := 0; i < len(entityType); i++ {
		if entityType[i] == '.' {
			name = append(name, '_')
		} else {
			name = append(name, entityType[i])
		}
	}
	return s.db.Collection(string(name))
}

// Create inserts a record and returns its new local id.
func (s *RecordStore) Create(ctx context.Context, entityType string, fields map[string]any) (string, error) {
	now := time.Now().UTC()
	res, err := s.collection(entityType).InsertOne(ctx, recordDoc{
		Fields:    fields,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert record: %w", err)
	}

	id := res.InsertedID.(primitive.ObjectID).Hex()

	s.fire(ctx, domain.RecordEvent{
		EntityType: entityType,
		LocalID:    id,
		Changed:    fieldNames(fields),
		Created:    true,
	})

	return id, nil
}

// Update writes field values onto an existing record.
func (s *RecordStore) Update(ctx context.Context, entityType, id string, fields map[string]any) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	for name, value := range fields {
		set["fields."+name] = value
	}

	res, err := s.collection(entityType).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}

	s.fire(ctx, domain.RecordEvent{
		EntityType: entityType,
		LocalID:    id,
		Changed:    fieldNames(fields),
	})

	return nil
}

// Get retrieves one record.
func (s *RecordStore) Get(ctx context.Context, entityType, id string) (*domain.Record, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var doc recordDoc
	err = s.collection(entityType).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return &domain.Record{
		EntityType: entityType,
		ID:         doc.ID.Hex(),
		Fields:     doc.Fields,
	}, nil
}

// Search returns the local ids whose fields equal all given filters.
func (s *RecordStore) Search(ctx context.Context, entityType string, filters map[string]any) ([]string, error) {
	query := bson.M{}
	for name, value := range filters {
		query["fields."+name] = value
	}

	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := s.collection(entityType).Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode record id: %w", err)
		}
		ids = append(ids, doc.ID.Hex())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return ids, nil
}

// Browse retrieves multiple records by id, skipping missing ones.
func (s *RecordStore) Browse(ctx context.Context, entityType string, ids []string) ([]*domain.Record, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return nil, nil
	}

	cursor, err := s.collection(entityType).Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, fmt.Errorf("failed to browse records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*domain.Record
	for cursor.Next(ctx) {
		var doc recordDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, &domain.Record{
			EntityType: entityType,
			ID:         doc.ID.Hex(),
			Fields:     doc.Fields,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, nil
}

// Delete removes a record.
func (s *RecordStore) Delete(ctx context.Context, entityType, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	res, err := s.collection(entityType).DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// Subscribe registers the handler receiving record events.
func (s *RecordStore) Subscribe(handler func(ctx context.Context, ev domain.RecordEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Ping checks database connectivity.
func (s *RecordStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *RecordStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *RecordStore) fire(ctx context.Context, ev domain.RecordEvent) {
	if domain.SyncSuppressed(ctx) {
		return
	}

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()

	if handler != nil {
		handler(ctx, ev)
	}
}

func fieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	return names
}

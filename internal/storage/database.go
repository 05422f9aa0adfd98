package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/pagearchive/internal/types"
)

// MongoStorage keeps one collection per record type and relation. Page
// batches are multi-document transactions, so the server must be a replica
// set (a single-node replica set is enough).
type MongoStorage struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *slog.Logger

	mu     sync.Mutex
	tables map[string]bool // name -> is relation
}

type recordDoc struct {
	ID        string    `bson:"_id"`
	ParentID  string    `bson:"parent_id,omitempty"`
	Payload   string    `bson:"payload"`
	FetchedAt time.Time `bson:"fetched_at"`
}

// NewMongoStorage connects to uri and uses database for every collection.
func NewMongoStorage(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Op: "connect", Err: err}
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &types.StorageError{Backend: "mongodb", Op: "ping", Err: err}
	}

	return &MongoStorage{
		client:   client,
		database: client.Database(database),
		tables:   make(map[string]bool),
		logger:   logger.With("component", "mongo_storage", "database", database),
	}, nil
}

func (s *MongoStorage) Name() string { return "mongodb" }

// EnsureSchema implements Storage.
func (s *MongoStorage) EnsureSchema(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return &types.StorageError{Backend: "mongodb", Op: "schema", Err: err}
	}

	existing, err := s.database.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return &types.StorageError{Backend: "mongodb", Op: "schema", Err: err}
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	// Collections cannot be created implicitly inside a transaction on
	// older servers, so create them up front.
	for _, name := range append(append([]string(nil), schema.RecordTypes...), schema.Relations...) {
		if have[name] {
			continue
		}
		if err := s.database.CreateCollection(ctx, name); err != nil {
			var cmdErr mongo.CommandError
			if !errors.As(err, &cmdErr) || cmdErr.Name != "NamespaceExists" {
				return &types.StorageError{Backend: "mongodb", Op: "schema", Err: err}
			}
		}
		indexModel := mongo.IndexModel{
			Keys: bson.D{{Key: "parent_id", Value: 1}},
		}
		if _, err := s.database.Collection(name).Indexes().CreateOne(ctx, indexModel); err != nil {
			s.logger.Warn("create parent index failed", "collection", name, "error", err)
		}
	}

	s.mu.Lock()
	for _, name := range schema.RecordTypes {
		s.tables[name] = false
	}
	for _, name := range schema.Relations {
		s.tables[name] = true
	}
	s.mu.Unlock()
	return nil
}

func (s *MongoStorage) checkTable(name string, relation bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	isRelation, ok := s.tables[name]
	if !ok || isRelation != relation {
		return fmt.Errorf("%w: %q is not in the schema", types.ErrInvalidRecord, name)
	}
	return nil
}

// Begin implements Storage.
func (s *MongoStorage) Begin(ctx context.Context) (Batch, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Op: "begin", Err: err}
	}
	if err := session.StartTransaction(); err != nil {
		session.EndSession(ctx)
		return nil, &types.StorageError{Backend: "mongodb", Op: "begin", Err: err}
	}
	return &mongoBatch{store: s, session: session, now: time.Now().UTC()}, nil
}

// Count implements Storage.
func (s *MongoStorage) Count(ctx context.Context, name string) (int64, error) {
	n, err := s.database.Collection(name).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, &types.StorageError{Backend: "mongodb", Op: "count", Err: err}
	}
	return n, nil
}

// Scan implements Storage.
func (s *MongoStorage) Scan(ctx context.Context, recordType string, fn func(types.Record) error) error {
	if err := s.checkTable(recordType, false); err != nil {
		return &types.StorageError{Backend: "mongodb", Op: "scan", Err: err}
	}

	cursor, err := s.database.Collection(recordType).Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return &types.StorageError{Backend: "mongodb", Op: "scan", Err: err}
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc recordDoc
		if err := cursor.Decode(&doc); err != nil {
			return &types.StorageError{Backend: "mongodb", Op: "scan", Err: err}
		}
		if err := fn(types.Record{Type: recordType, ID: doc.ID, ParentID: doc.ParentID, Payload: doc.Payload}); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return &types.StorageError{Backend: "mongodb", Op: "scan", Err: err}
	}
	return nil
}

// Close implements Storage.
func (s *MongoStorage) Close() error {
	s.logger.Debug("mongodb storage closing")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type mongoBatch struct {
	store   *MongoStorage
	session mongo.Session
	now     time.Time
	done    bool
}

// insertIfAbsent upserts with $setOnInsert so an existing document is never
// touched. The _id comes from the filter.
func (b *mongoBatch) insertIfAbsent(ctx context.Context, collection, id string, fields bson.D) (bool, error) {
	sessCtx := mongo.NewSessionContext(ctx, b.session)
	res, err := b.store.database.Collection(collection).UpdateOne(sessCtx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$setOnInsert", Value: fields}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

func (b *mongoBatch) UpsertRecord(ctx context.Context, rec types.Record) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, &types.StorageError{Backend: "mongodb", Op: "upsert", Err: err}
	}
	if err := b.store.checkTable(rec.Type, false); err != nil {
		return false, &types.StorageError{Backend: "mongodb", Op: "upsert", Err: err}
	}

	fields := bson.D{
		{Key: "payload", Value: rec.Payload},
		{Key: "fetched_at", Value: b.now},
	}
	if rec.ParentID != "" {
		fields = append(fields, bson.E{Key: "parent_id", Value: rec.ParentID})
	}
	inserted, err := b.insertIfAbsent(ctx, rec.Type, rec.ID, fields)
	if err != nil {
		return false, &types.StorageError{Backend: "mongodb", Op: "upsert", Err: err}
	}
	return inserted, nil
}

func (b *mongoBatch) Associate(ctx context.Context, a types.Association) (bool, error) {
	if err := a.Validate(); err != nil {
		return false, &types.StorageError{Backend: "mongodb", Op: "associate", Err: err}
	}
	if err := b.store.checkTable(a.Relation, true); err != nil {
		return false, &types.StorageError{Backend: "mongodb", Op: "associate", Err: err}
	}

	inserted, err := b.insertIfAbsent(ctx, a.Relation, associationID(a.ParentID, a.ChildID), bson.D{
		{Key: "parent_id", Value: a.ParentID},
		{Key: "child_id", Value: a.ChildID},
		{Key: "fetched_at", Value: b.now},
	})
	if err != nil {
		return false, &types.StorageError{Backend: "mongodb", Op: "associate", Err: err}
	}
	return inserted, nil
}

func (b *mongoBatch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer b.session.EndSession(ctx)

	if err := b.session.CommitTransaction(ctx); err != nil {
		return &types.StorageError{Backend: "mongodb", Op: "commit", Err: err}
	}
	return nil
}

func (b *mongoBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer b.session.EndSession(ctx)

	if err := b.session.AbortTransaction(ctx); err != nil {
		return &types.StorageError{Backend: "mongodb", Op: "rollback", Err: err}
	}
	return nil
}

// associationID is the composite key of a relation row. NUL cannot appear
// in either identity.
func associationID(parentID, childID string) string {
	return parentID + "\x00" + childID
}

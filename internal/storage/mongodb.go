package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/models"
)

// MongoDBStorage implements Storage interface using MongoDB
type MongoDBStorage struct {
	client *mongo.Client
	posts  *mongo.Collection
	status *mongo.Collection
}

type statusDocument struct {
	ID                string `bson:"_id"`
	models.SyncStatus `bson:",inline"`
}

// NewMongoDBStorage connects to MongoDB and prepares the ledger collections
func NewMongoDBStorage(ctx context.Context, cfg config.StorageConfig) (*MongoDBStorage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	storage := &MongoDBStorage{
		client: client,
		posts:  db.Collection(cfg.TableName),
		status: db.Collection(cfg.TableName + "_status"),
	}

	_, err = storage.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "record_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create record_id index: %w", err)
	}

	return storage, nil
}

// StorePosts upserts ledger entries by record id
func (m *MongoDBStorage) StorePosts(ctx context.Context, posts []models.PostEntry) error {
	if len(posts) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(posts))
	for _, post := range posts {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"record_id": post.RecordID}).
			SetReplacement(post).
			SetUpsert(true))
	}

	if _, err := m.posts.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to store entries: %w", err)
	}
	return nil
}

// GetPosts retrieves entries ordered by record id
func (m *MongoDBStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.PostEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "record_id", Value: 1}}).
		SetSkip(int64(max(offset, 0))).
		SetProjection(bson.M{"_id": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.posts.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}

	posts := []models.PostEntry{}
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("failed to decode entries: %w", err)
	}
	return posts, nil
}

// GetPostByRecordID retrieves the entry of a specific record
func (m *MongoDBStorage) GetPostByRecordID(ctx context.Context, recordID string) (*models.PostEntry, error) {
	var post models.PostEntry
	err := m.posts.FindOne(ctx, bson.M{"record_id": recordID}, options.FindOne().SetProjection(bson.M{"_id": 0})).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", recordID, err)
	}
	return &post, nil
}

// UpdateSyncStatus replaces the single status document
func (m *MongoDBStorage) UpdateSyncStatus(ctx context.Context, status models.SyncStatus) error {
	doc := statusDocument{ID: statusKey, SyncStatus: status}
	_, err := m.status.ReplaceOne(ctx, bson.M{"_id": statusKey}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store sync status: %w", err)
	}
	return nil
}

// GetSyncStatus retrieves the current sync status
func (m *MongoDBStorage) GetSyncStatus(ctx context.Context) (*models.SyncStatus, error) {
	var doc statusDocument
	err := m.status.FindOne(ctx, bson.M{"_id": statusKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return neverRun(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	return &doc.SyncStatus, nil
}

// Close disconnects the MongoDB client
func (m *MongoDBStorage) Close() error {
	return m.client.Disconnect(context.Background())
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/models"
)

// ErrNotFound is returned by GetPostByRecordID when no entry exists.
var ErrNotFound = errors.New("not found")

// statusKey is the fixed key of the single sync status item.
const statusKey = "sync_status"

// Storage interface defines the contract for the sync ledger
type Storage interface {
	StorePosts(ctx context.Context, posts []models.PostEntry) error
	GetPosts(ctx context.Context, limit int, offset int) ([]models.PostEntry, error)
	GetPostByRecordID(ctx context.Context, recordID string) (*models.PostEntry, error)
	UpdateSyncStatus(ctx context.Context, status models.SyncStatus) error
	GetSyncStatus(ctx context.Context) (*models.SyncStatus, error)
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "mongodb":
		return NewMongoDBStorage(ctx, cfg)
	case "postgresql":
		return NewPostgreSQLStorage(ctx, cfg)
	case "sqlite":
		return NewSQLiteStorage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// neverRun is reported before the first sync has recorded anything.
func neverRun() *models.SyncStatus {
	return &models.SyncStatus{Status: "never_run"}
}

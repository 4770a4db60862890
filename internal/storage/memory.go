package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/cyderes/bitable-sync/internal/models"
)

// MemoryStorage keeps the ledger for the lifetime of the process only.
type MemoryStorage struct {
	mu     sync.RWMutex
	posts  map[string]models.PostEntry
	status *models.SyncStatus
}

// NewMemoryStorage creates an empty in-memory ledger
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{posts: make(map[string]models.PostEntry)}
}

// StorePosts upserts entries keyed by record id
func (m *MemoryStorage) StorePosts(ctx context.Context, posts []models.PostEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, post := range posts {
		m.posts[post.RecordID] = post
	}
	return nil
}

// GetPosts returns entries ordered by record id
func (m *MemoryStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.PostEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]models.PostEntry, 0, len(m.posts))
	for _, post := range m.posts {
		all = append(all, post)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RecordID < all[j].RecordID })

	return page(all, limit, offset), nil
}

// GetPostByRecordID retrieves the entry of a single record
func (m *MemoryStorage) GetPostByRecordID(ctx context.Context, recordID string) (*models.PostEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	post, ok := m.posts[recordID]
	if !ok {
		return nil, ErrNotFound
	}
	return &post, nil
}

// UpdateSyncStatus replaces the stored status
func (m *MemoryStorage) UpdateSyncStatus(ctx context.Context, status models.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = &status
	return nil
}

// GetSyncStatus retrieves the current sync status
func (m *MemoryStorage) GetSyncStatus(ctx context.Context) (*models.SyncStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.status == nil {
		return neverRun(), nil
	}
	status := *m.status
	return &status, nil
}

// Close is a no-op
func (m *MemoryStorage) Close() error {
	return nil
}

func page(posts []models.PostEntry, limit, offset int) []models.PostEntry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(posts) {
		return []models.PostEntry{}
	}
	posts = posts[offset:]
	if limit > 0 && limit < len(posts) {
		posts = posts[:limit]
	}
	return posts
}

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/models"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	ctx := context.Background()

	sqlite, err := NewSQLiteStorage(ctx, config.StorageConfig{
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": sqlite,
	}
}

func entries(runID string, at time.Time) []models.PostEntry {
	return []models.PostEntry{
		{RecordID: "rec3", RunID: runID, Status: models.PostSkipped, Reason: "record is missing required fields: slug", GeneratedAt: at},
		{RecordID: "rec1", RunID: runID, Path: "_posts/2024-01-05-hello.md", Status: models.PostWritten, GeneratedAt: at},
		{RecordID: "rec2", RunID: runID, Path: "_posts/2024-02-01-second.md", Status: models.PostWritten, GeneratedAt: at},
	}
}

func TestStorage_Posts(t *testing.T) {
	at := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.StorePosts(ctx, entries("run-1", at)))

			all, err := store.GetPosts(ctx, 10, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "rec1", all[0].RecordID)
			assert.Equal(t, "rec2", all[1].RecordID)
			assert.Equal(t, "rec3", all[2].RecordID)
			assert.Equal(t, "_posts/2024-01-05-hello.md", all[0].Path)
			assert.True(t, at.Equal(all[0].GeneratedAt))

			paged, err := store.GetPosts(ctx, 1, 1)
			require.NoError(t, err)
			require.Len(t, paged, 1)
			assert.Equal(t, "rec2", paged[0].RecordID)

			past, err := store.GetPosts(ctx, 10, 5)
			require.NoError(t, err)
			assert.Empty(t, past)

			post, err := store.GetPostByRecordID(ctx, "rec3")
			require.NoError(t, err)
			assert.Equal(t, models.PostSkipped, post.Status)
			assert.Equal(t, "record is missing required fields: slug", post.Reason)

			_, err = store.GetPostByRecordID(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStorage_PostsUpsert(t *testing.T) {
	at := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.StorePosts(ctx, entries("run-1", at)))

			fixed := models.PostEntry{
				RecordID:    "rec3",
				RunID:       "run-2",
				Path:        "_posts/2024-03-01-third.md",
				Status:      models.PostWritten,
				GeneratedAt: at.Add(time.Hour),
			}
			require.NoError(t, store.StorePosts(ctx, []models.PostEntry{fixed}))

			all, err := store.GetPosts(ctx, 0, 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			post, err := store.GetPostByRecordID(ctx, "rec3")
			require.NoError(t, err)
			assert.Equal(t, "run-2", post.RunID)
			assert.Equal(t, models.PostWritten, post.Status)
			assert.Empty(t, post.Reason)
		})
	}
}

func TestStorage_SyncStatus(t *testing.T) {
	started := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			status, err := store.GetSyncStatus(ctx)
			require.NoError(t, err)
			assert.Equal(t, "never_run", status.Status)

			require.NoError(t, store.UpdateSyncStatus(ctx, models.SyncStatus{
				RunID:     "run-1",
				State:     "INIT",
				Status:    "running",
				StartedAt: started,
			}))
			require.NoError(t, store.UpdateSyncStatus(ctx, models.SyncStatus{
				RunID:          "run-1",
				State:          "DONE",
				Status:         "success",
				TableID:        "tblB",
				StartedAt:      started,
				FinishedAt:     started.Add(2 * time.Second),
				RecordsFetched: 3,
				RecordsWritten: 2,
				RecordsSkipped: 1,
			}))

			status, err = store.GetSyncStatus(ctx)
			require.NoError(t, err)
			assert.Equal(t, "run-1", status.RunID)
			assert.Equal(t, "DONE", status.State)
			assert.Equal(t, "success", status.Status)
			assert.Equal(t, "tblB", status.TableID)
			assert.True(t, started.Equal(status.StartedAt))
			assert.True(t, started.Add(2*time.Second).Equal(status.FinishedAt))
			assert.Equal(t, 3, status.RecordsFetched)
			assert.Equal(t, 2, status.RecordsWritten)
			assert.Equal(t, 1, status.RecordsSkipped)
		})
	}
}

func TestNewStorage(t *testing.T) {
	ctx := context.Background()

	store, err := NewStorage(ctx, config.StorageConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, store)

	store, err = NewStorage(ctx, config.StorageConfig{Type: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "l.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLStorage{}, store)
	assert.NoError(t, store.Close())

	_, err = NewStorage(ctx, config.StorageConfig{Type: "redis"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage type: redis")
}

func TestSQLStorage_Rebind(t *testing.T) {
	pg := &SQLStorage{numbered: true}
	lite := &SQLStorage{}

	query := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS synced_posts (
	record_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	generated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_status (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	state TEXT NOT NULL,
	status TEXT NOT NULL,
	table_id TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	records_fetched INTEGER NOT NULL DEFAULT 0,
	records_written INTEGER NOT NULL DEFAULT 0,
	records_skipped INTEGER NOT NULL DEFAULT 0
);`

// SQLStorage implements Storage interface on PostgreSQL or SQLite
type SQLStorage struct {
	db       *sql.DB
	numbered bool // postgres placeholders are $1, $2, ...
}

// NewPostgreSQLStorage opens a PostgreSQL ledger using lib/pq
func NewPostgreSQLStorage(ctx context.Context, cfg config.StorageConfig) (*SQLStorage, error) {
	return openSQL(ctx, "postgres", cfg.PostgresURI, true)
}

// NewSQLiteStorage opens a SQLite ledger file
func NewSQLiteStorage(ctx context.Context, cfg config.StorageConfig) (*SQLStorage, error) {
	return openSQL(ctx, "sqlite", cfg.SQLitePath, false)
}

func openSQL(ctx context.Context, driver, dsn string, numbered bool) (*SQLStorage, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize %s schema: %w", driver, err)
	}
	return &SQLStorage{db: db, numbered: numbered}, nil
}

// rebind rewrites ? placeholders for drivers that use numbered parameters
func (s *SQLStorage) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// StorePosts upserts ledger entries in a single transaction
func (s *SQLStorage) StorePosts(ctx context.Context, posts []models.PostEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := s.rebind(`
		INSERT INTO synced_posts (record_id, run_id, path, status, reason, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (record_id) DO UPDATE SET
			run_id = excluded.run_id,
			path = excluded.path,
			status = excluded.status,
			reason = excluded.reason,
			generated_at = excluded.generated_at`)

	for _, post := range posts {
		_, err := tx.ExecContext(ctx, stmt, post.RecordID, post.RunID, post.Path, post.Status, post.Reason, post.GeneratedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to store entry %s: %w", post.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entries: %w", err)
	}
	return nil
}

// GetPosts retrieves entries ordered by record id
func (s *SQLStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.PostEntry, error) {
	query := `SELECT record_id, run_id, path, status, reason, generated_at FROM synced_posts ORDER BY record_id`
	args := []any{}
	switch {
	case limit > 0:
		query += ` LIMIT ?`
		args = append(args, limit)
	case !s.numbered:
		query += ` LIMIT -1` // SQLite requires LIMIT before OFFSET
	}
	query += ` OFFSET ?`
	args = append(args, max(offset, 0))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	posts := []models.PostEntry{}
	for rows.Next() {
		var post models.PostEntry
		if err := rows.Scan(&post.RecordID, &post.RunID, &post.Path, &post.Status, &post.Reason, &post.GeneratedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	return posts, nil
}

// GetPostByRecordID retrieves the entry of a specific record
func (s *SQLStorage) GetPostByRecordID(ctx context.Context, recordID string) (*models.PostEntry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT record_id, run_id, path, status, reason, generated_at
		FROM synced_posts
		WHERE record_id = ?`), recordID)

	var post models.PostEntry
	err := row.Scan(&post.RecordID, &post.RunID, &post.Path, &post.Status, &post.Reason, &post.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", recordID, err)
	}
	return &post, nil
}

// UpdateSyncStatus upserts the single status row
func (s *SQLStorage) UpdateSyncStatus(ctx context.Context, status models.SyncStatus) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sync_status (id, run_id, state, status, table_id, started_at, finished_at,
			error_message, records_fetched, records_written, records_skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			run_id = excluded.run_id,
			state = excluded.state,
			status = excluded.status,
			table_id = excluded.table_id,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			error_message = excluded.error_message,
			records_fetched = excluded.records_fetched,
			records_written = excluded.records_written,
			records_skipped = excluded.records_skipped`),
		statusKey, status.RunID, status.State, status.Status, status.TableID,
		status.StartedAt.UTC(), status.FinishedAt.UTC(), status.ErrorMessage,
		status.RecordsFetched, status.RecordsWritten, status.RecordsSkipped)
	if err != nil {
		return fmt.Errorf("failed to store sync status: %w", err)
	}
	return nil
}

// GetSyncStatus retrieves the current sync status
func (s *SQLStorage) GetSyncStatus(ctx context.Context) (*models.SyncStatus, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT run_id, state, status, table_id, started_at, finished_at, error_message,
			records_fetched, records_written, records_skipped
		FROM sync_status
		WHERE id = ?`), statusKey)

	var status models.SyncStatus
	var startedAt, finishedAt time.Time
	err := row.Scan(&status.RunID, &status.State, &status.Status, &status.TableID, &startedAt, &finishedAt,
		&status.ErrorMessage, &status.RecordsFetched, &status.RecordsWritten, &status.RecordsSkipped)
	if errors.Is(err, sql.ErrNoRows) {
		return neverRun(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	status.StartedAt = startedAt.UTC()
	status.FinishedAt = finishedAt.UTC()
	return &status, nil
}

// Close closes the database handle
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

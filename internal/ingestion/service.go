// Package ingestion drives a single Bitable to Jekyll sync run.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/cyderes/bitable-sync/internal/markdown"
	"github.com/cyderes/bitable-sync/internal/models"
	"github.com/cyderes/bitable-sync/internal/storage"
)

// Run states
const (
	StateInit           = "INIT"
	StateAuthenticated  = "AUTHENTICATED"
	StateTableSelected  = "TABLE_SELECTED"
	StateRecordsFetched = "RECORDS_FETCHED"
	StateSkip           = "SKIP"
	StateDone           = "DONE"
	StateFailed         = "FAILED"
)

// Process exit codes
const (
	ExitOK         = 0
	ExitUnexpected = 1
	ExitConfig     = 2
	ExitAuth       = 3
	ExitDiscovery  = 4
	ExitOutput     = 5
	ExitLedger     = 6
)

// ErrNoTables is returned when the base has no sub-tables.
var ErrNoTables = errors.New("base has no tables")

// API is the subset of the Feishu client a run needs.
type API interface {
	TenantAccessToken(ctx context.Context) (string, error)
	ListTables(ctx context.Context, token string) ([]models.Table, error)
	ListRecords(ctx context.Context, token, tableID string) ([]models.Record, error)
}

// Generator renders and writes one record.
type Generator interface {
	Generate(record models.Record) (*models.GeneratedFile, error)
}

// TableSelector picks the table to sync from the listed tables.
type TableSelector func(tables []models.Table) (models.Table, error)

// SelectFirstTable picks the first table in API order.
func SelectFirstTable(tables []models.Table) (models.Table, error) {
	if len(tables) == 0 {
		return models.Table{}, ErrNoTables
	}
	return tables[0], nil
}

// RunError is returned when a run ends in FAILED.
type RunError struct {
	State string
	Code  int
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("sync failed in state %s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ExitCode is the process exit code for this failure.
func (e *RunError) ExitCode() int {
	return e.Code
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	State      string
	TableID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Written    int
	Skipped    int
	Entries    []models.PostEntry
}

// Service runs syncs against one base
type Service struct {
	api         API
	generator   Generator
	storage     storage.Storage
	logger      glog.Logger
	selectTable TableSelector
	newRunID    func() string
}

// NewService creates a new sync service. store may be nil, in which case no
// ledger is kept.
func NewService(api API, gen Generator, store storage.Storage, logger glog.Logger) *Service {
	return &Service{
		api:         api,
		generator:   gen,
		storage:     store,
		logger:      logger,
		selectTable: SelectFirstTable,
		newRunID:    uuid.NewString,
	}
}

// WithTableSelector replaces the default first-table selection.
func (s *Service) WithTableSelector(sel TableSelector) *Service {
	s.selectTable = sel
	return s
}

// Run performs one sync. The returned Result is never nil; err is a
// *RunError when the run ends in FAILED.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		RunID:     s.newRunID(),
		State:     StateInit,
		StartedAt: time.Now().UTC(),
	}
	logger := s.logger
	if fl, ok := logger.(glog.FieldsLogger); ok {
		logger = fl.WithFields(map[string]any{"run_id": result.RunID})
	}

	s.recordStatus(ctx, logger, result, "running", nil)

	err := s.run(ctx, logger, result)
	result.FinishedAt = time.Now().UTC()

	status := "success"
	if err != nil {
		status = "failure"
		result.State = StateFailed
		logger.Error("sync failed", "error", err)
	}

	s.recordPosts(ctx, logger, result.Entries)
	s.recordStatus(ctx, logger, result, status, err)

	logger.Info("sync finished",
		"state", result.State,
		"table_id", result.TableID,
		"processed", result.Fetched,
		"written", result.Written,
		"skipped", result.Skipped,
		"duration", result.FinishedAt.Sub(result.StartedAt).String(),
	)
	return result, err
}

func (s *Service) run(ctx context.Context, logger glog.Logger, result *Result) error {
	token, err := s.api.TenantAccessToken(ctx)
	if err != nil {
		return &RunError{State: result.State, Code: ExitAuth, Err: fmt.Errorf("failed to acquire tenant access token: %w", err)}
	}
	result.State = StateAuthenticated

	tables, err := s.api.ListTables(ctx, token)
	if err != nil {
		return &RunError{State: result.State, Code: ExitDiscovery, Err: fmt.Errorf("failed to list tables: %w", err)}
	}
	table, err := s.selectTable(tables)
	if err != nil {
		return &RunError{State: result.State, Code: ExitDiscovery, Err: err}
	}
	result.State = StateTableSelected
	result.TableID = table.ID
	logger.Info("table selected", "table_id", table.ID, "name", table.Name, "tables", len(tables))

	records, err := s.api.ListRecords(ctx, token, table.ID)
	if err != nil && ctx.Err() != nil {
		return &RunError{State: result.State, Code: ExitUnexpected, Err: fmt.Errorf("sync cancelled while fetching records: %w", err)}
	}
	if err != nil {
		logger.Warn("failed to fetch records, continuing with none", "table_id", table.ID, "error", err)
		records = nil
	}
	result.State = StateRecordsFetched
	result.Fetched = len(records)

	if len(records) == 0 {
		logger.Info("no records to sync", "table_id", table.ID)
		result.State = StateSkip
		return nil
	}

	for _, record := range records {
		file, err := s.generator.Generate(record)
		if err != nil {
			if markdown.IsSkippable(err) {
				logger.Warn("skipping record", "record_id", record.ID, "error", err)
				result.Skipped++
				result.Entries = append(result.Entries, models.PostEntry{
					RecordID:    record.ID,
					RunID:       result.RunID,
					Status:      models.PostSkipped,
					Reason:      err.Error(),
					GeneratedAt: time.Now().UTC(),
				})
				continue
			}
			return &RunError{State: result.State, Code: ExitOutput, Err: fmt.Errorf("record %s: %w", record.ID, err)}
		}

		logger.Debug("post written", "record_id", record.ID, "path", file.Path)
		result.Written++
		result.Entries = append(result.Entries, models.PostEntry{
			RecordID:    record.ID,
			RunID:       result.RunID,
			Path:        file.Path,
			Status:      models.PostWritten,
			GeneratedAt: time.Now().UTC(),
		})
	}

	result.State = StateDone
	return nil
}

// recordStatus and recordPosts are best-effort: ledger failures are logged
// and never change the run outcome.
func (s *Service) recordStatus(ctx context.Context, logger glog.Logger, result *Result, status string, runErr error) {
	if s.storage == nil {
		return
	}
	entry := models.SyncStatus{
		RunID:          result.RunID,
		State:          result.State,
		Status:         status,
		TableID:        result.TableID,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
		RecordsFetched: result.Fetched,
		RecordsWritten: result.Written,
		RecordsSkipped: result.Skipped,
	}
	if runErr != nil {
		entry.ErrorMessage = runErr.Error()
	}
	if err := s.storage.UpdateSyncStatus(ctx, entry); err != nil {
		logger.Warn("failed to update sync status", "status", status, "error", err)
	}
}

func (s *Service) recordPosts(ctx context.Context, logger glog.Logger, entries []models.PostEntry) {
	if s.storage == nil || len(entries) == 0 {
		return
	}
	if err := s.storage.StorePosts(ctx, entries); err != nil {
		logger.Warn("failed to store post entries", "count", len(entries), "error", err)
	}
}

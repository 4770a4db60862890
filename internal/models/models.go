package models

import "time"

// Field names read from a Bitable record
const (
	FieldTitle    = "title"
	FieldContent  = "content"
	FieldDate     = "date"
	FieldSlug     = "slug"
	FieldCategory = "category"
)

// Record represents one row returned by the Bitable records endpoint,
// with every field value flattened to a string
type Record struct {
	ID     string            `json:"record_id"`
	Fields map[string]string `json:"fields"`
}

// Table is a sub-table listed under the configured base
type Table struct {
	ID       string `json:"table_id"`
	Name     string `json:"name"`
	Revision int    `json:"revision"`
}

// GeneratedFile is a rendered post ready to be written to disk
type GeneratedFile struct {
	Path string
	Body []byte
}

// Post outcomes recorded in the sync ledger
const (
	PostWritten = "written"
	PostSkipped = "skipped"
)

// PostEntry tracks what a sync run did with a single record. Record field
// values are never stored, only the outcome.
type PostEntry struct {
	RecordID    string    `json:"record_id" bson:"record_id"`
	RunID       string    `json:"run_id" bson:"run_id"`
	Path        string    `json:"path,omitempty" bson:"path,omitempty"`
	Status      string    `json:"status" bson:"status"` // "written", "skipped"
	Reason      string    `json:"reason,omitempty" bson:"reason,omitempty"`
	GeneratedAt time.Time `json:"generated_at" bson:"generated_at"`
}

// SyncStatus tracks the status of the latest sync run
type SyncStatus struct {
	RunID          string    `json:"run_id" bson:"run_id"`
	State          string    `json:"state" bson:"state"`
	Status         string    `json:"status" bson:"status"` // "success", "failure", "running"
	TableID        string    `json:"table_id,omitempty" bson:"table_id,omitempty"`
	StartedAt      time.Time `json:"started_at" bson:"started_at"`
	FinishedAt     time.Time `json:"finished_at" bson:"finished_at"`
	ErrorMessage   string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	RecordsFetched int       `json:"records_fetched" bson:"records_fetched"`
	RecordsWritten int       `json:"records_written" bson:"records_written"`
	RecordsSkipped int       `json:"records_skipped" bson:"records_skipped"`
}

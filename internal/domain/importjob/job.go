package importjob

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Type string

const (
	TypeUsers    Type = "users"
	TypeProducts Type = "products"
)

func ParseType(raw string) (Type, error) {
	switch Type(raw) {
	case TypeUsers, TypeProducts:
		return Type(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidImportType, raw)
	}
}

// Checkpoint marks the last orchestration step that completed durably.
// Steps are ordered; a job never moves back to an earlier checkpoint.
type Checkpoint string

const (
	CheckpointNone          Checkpoint = ""
	CheckpointStarted       Checkpoint = "started"
	CheckpointCounted       Checkpoint = "counted"
	CheckpointRowsProcessed Checkpoint = "rows_processed"
)

func (c Checkpoint) rank() int {
	switch c {
	case CheckpointStarted:
		return 1
	case CheckpointCounted:
		return 2
	case CheckpointRowsProcessed:
		return 3
	default:
		return 0
	}
}

// Reached reports whether c is at or beyond target.
func (c Checkpoint) Reached(target Checkpoint) bool {
	return c.rank() >= target.rank()
}

// RowError is one entry of a job's error listing. Row is the human-facing
// line number in the source file (header is line 1); zero when the error
// is not tied to a row.
type RowError struct {
	Row     int    `json:"row,omitempty"`
	Message string `json:"message"`
}

func (e RowError) String() string {
	if e.Row == 0 {
		return e.Message
	}
	return fmt.Sprintf("Row %d: %s", e.Row, e.Message)
}

type Results struct {
	Type            Type    `json:"type"`
	Total           int64   `json:"total"`
	Successful      int64   `json:"successful"`
	Failed          int64   `json:"failed"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type ImportJob struct {
	ID       string
	TenantID string
	Type     Type
	FileName string
	BlobURL  string
	Status   Status

	Checkpoint Checkpoint
	RowCursor  int64

	TotalRecords      int64
	ProcessedRecords  int64
	SuccessfulRecords int64
	FailedRecords     int64

	Errors  []RowError
	Results *Results

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedBy   string
}

// Progress is the checkpoint committed together with each batch of rows.
// Errors holds only the entries produced by that batch; the store appends
// them to what it already holds.
type Progress struct {
	RowCursor         int64
	ProcessedRecords  int64
	SuccessfulRecords int64
	FailedRecords     int64
	Errors            []RowError
	Done              bool
}

// ImportRequested is the event that triggers the orchestrator for one job.
type ImportRequested struct {
	JobID      string `json:"job_id"`
	BlobURL    string `json:"blob_url"`
	TenantID   string `json:"tenant_id"`
	FileName   string `json:"file_name"`
	UploadedBy string `json:"uploaded_by"`
	ImportType Type   `json:"import_type"`
}

func (e ImportRequested) Validate() error {
	if e.JobID == "" || e.TenantID == "" || e.BlobURL == "" {
		return ErrInvalidEvent
	}
	if _, err := ParseType(string(e.ImportType)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

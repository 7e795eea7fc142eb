package importing

import (
	"context"
	"fmt"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/product"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/user"
)

// Entry is one classified record. Exactly one of Product, User or Err is set.
type Entry struct {
	Row     int
	Product *product.Product
	User    *user.User
	Err     *importjob.RowError
}

// Writable reports whether the entry carries an entity to insert.
func (e Entry) Writable() bool {
	return e.Err == nil && (e.Product != nil || e.User != nil)
}

func (e Entry) writeFailure(err error) importjob.RowError {
	kind := "product"
	if e.User != nil {
		kind = "user"
	}
	return importjob.RowError{Row: e.Row, Message: fmt.Sprintf("create %s: %v", kind, err)}
}

// Batch is a run of consecutive records and the checkpoint that follows it.
// Base holds the job's cumulative counters before the batch.
type Batch struct {
	JobID   string
	Owner   string
	Entries []Entry
	Base    importjob.Progress
	Cursor  int64
	Done    bool
}

// Settle folds the outcome of the inserts into the checkpoint. writeErrs is
// indexed like Entries; a nil element means the insert succeeded.
func (b Batch) Settle(writeErrs []error) importjob.Progress {
	progress := importjob.Progress{
		RowCursor:         b.Cursor,
		ProcessedRecords:  b.Base.ProcessedRecords,
		SuccessfulRecords: b.Base.SuccessfulRecords,
		FailedRecords:     b.Base.FailedRecords,
		Done:              b.Done,
	}

	for i, entry := range b.Entries {
		progress.ProcessedRecords++

		failure := entry.Err
		if failure == nil && i < len(writeErrs) && writeErrs[i] != nil {
			rowErr := entry.writeFailure(writeErrs[i])
			failure = &rowErr
		}
		if failure == nil {
			progress.SuccessfulRecords++
			continue
		}
		progress.FailedRecords++
		progress.Errors = append(progress.Errors, *failure)
	}
	return progress
}

// BatchStore inserts a batch's entities and writes its checkpoint in one
// transaction: either every accepted row and the advanced cursor are
// persisted, or nothing is. The checkpoint is rejected, and the inserts
// rolled back, when Owner no longer holds the job's lease.
type BatchStore interface {
	CommitBatch(ctx context.Context, batch Batch) (importjob.Progress, error)
}

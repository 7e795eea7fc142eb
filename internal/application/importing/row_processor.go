package importing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/product"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/user"
)

// headerLines is the offset between a record's zero-based index and the
// line number a person sees in the file.
const headerLines = 2

type RowProcessor struct {
	newID func() string
}

func NewRowProcessor() *RowProcessor {
	return &RowProcessor{newID: uuid.NewString}
}

// Classify validates rec against the schema of importType. A valid row comes
// back as an entity ready to insert; anything else, a panic included, comes
// back with Err set.
func (p *RowProcessor) Classify(tenantID string, importType importjob.Type, index int, rec Record) (entry Entry) {
	entry.Row = index + headerLines

	defer func() {
		if r := recover(); r != nil {
			entry = failedEntry(entry.Row, fmt.Sprintf("unexpected error: %v", r))
		}
	}()

	switch importType {
	case importjob.TypeProducts:
		item, err := product.FromRow(rec)
		if err != nil {
			return failedEntry(entry.Row, rowMessage(err))
		}
		item.ID = p.newID()
		item.TenantID = tenantID
		entry.Product = &item
	case importjob.TypeUsers:
		u, err := user.FromRow(rec)
		if err != nil {
			return failedEntry(entry.Row, rowMessage(err))
		}
		u.ID = p.newID()
		u.TenantID = tenantID
		entry.User = &u
	default:
		return failedEntry(entry.Row, fmt.Sprintf("%v: %q", importjob.ErrInvalidImportType, importType))
	}
	return entry
}

func rowMessage(err error) string {
	var verr *importjob.RowValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return err.Error()
}

func failedEntry(row int, message string) Entry {
	return Entry{Row: row, Err: &importjob.RowError{Row: row, Message: message}}
}

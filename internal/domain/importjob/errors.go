package importjob

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("import job not found")
	ErrJobTerminal       = errors.New("import job is terminal")
	ErrFetch             = errors.New("fetch import file")
	ErrPersistence       = errors.New("import ledger write")
	ErrInvalidImportType = errors.New("invalid import type")
	ErrInvalidEvent      = errors.New("invalid import event")
	ErrLeaseHeld         = errors.New("import job is leased by another executor")
	ErrLeaseLost         = errors.New("import job lease lost")
)

// RowValidationError rejects a single row. Only the first failing rule of a
// row is reported.
type RowValidationError struct {
	Field   string
	Message string
}

func (e *RowValidationError) Error() string {
	return e.Message
}

func MissingField(field string) *RowValidationError {
	return &RowValidationError{Field: field, Message: fmt.Sprintf("missing required field: %s", field)}
}

func InvalidField(field, format string, args ...any) *RowValidationError {
	return &RowValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

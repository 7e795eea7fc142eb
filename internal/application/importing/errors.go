package importing

import "errors"

var (
	ErrTenantRequired    = errors.New("tenant id is required")
	ErrInvalidImportFile = errors.New("invalid import file")
	ErrFileTooLarge      = errors.New("import file too large")
	ErrEnqueueImportJob  = errors.New("failed to enqueue import job")
	ErrCreateImportJob   = errors.New("failed to create import job")
	ErrStoreImportFile   = errors.New("failed to store import file")
	ErrImportNotFound    = errors.New("import job not found")
	ErrGetImportStatus   = errors.New("failed to get import status")
)

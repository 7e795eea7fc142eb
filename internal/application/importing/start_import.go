package importing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

const DefaultMaxUploadBytes int64 = 100 << 20

type BlobStore interface {
	Put(ctx context.Context, key string, content io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

type ImportPublisher interface {
	Publish(ctx context.Context, evt importjob.ImportRequested) error
}

type importJobCreator interface {
	Create(ctx context.Context, job importjob.ImportJob) error
}

type StartImportInput struct {
	TenantID   string
	UploadedBy string
	ImportType string
	FileName   string
	FileSize   int64
	Content    io.Reader
}

type StartImportOutput struct {
	JobID              string           `json:"job_id"`
	FileName           string           `json:"file_name"`
	FileSize           int64            `json:"file_size"`
	EstimatedItemCount int64            `json:"estimated_item_count"`
	Status             importjob.Status `json:"status"`
}

type StartImport interface {
	Execute(ctx context.Context, in StartImportInput) (StartImportOutput, error)
}

type startImport struct {
	ledger    importJobCreator
	blobs     BlobStore
	publisher ImportPublisher
	maxBytes  int64
	now       func() time.Time
	newID     func() string
}

func NewStartImport(ledger importJobCreator, blobs BlobStore, publisher ImportPublisher, maxBytes int64) StartImport {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &startImport{
		ledger:    ledger,
		blobs:     blobs,
		publisher: publisher,
		maxBytes:  maxBytes,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (uc *startImport) Execute(ctx context.Context, in StartImportInput) (StartImportOutput, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return StartImportOutput{}, ErrTenantRequired
	}

	fileName := filepath.Base(strings.TrimSpace(in.FileName))
	if fileName == "" || fileName == "." || strings.ToLower(filepath.Ext(fileName)) != ".csv" || in.Content == nil {
		return StartImportOutput{}, ErrInvalidImportFile
	}
	if in.FileSize > uc.maxBytes {
		return StartImportOutput{}, ErrFileTooLarge
	}

	rawType := strings.ToLower(strings.TrimSpace(in.ImportType))
	if rawType == "" {
		rawType = string(importjob.TypeProducts)
	}
	importType, err := importjob.ParseType(rawType)
	if err != nil {
		return StartImportOutput{}, err
	}

	jobID := uc.newID()
	key := path.Join(tenantID, jobID, fileName)

	counter := &lineCounter{}
	limited := io.LimitReader(in.Content, uc.maxBytes+1)
	blobURL, err := uc.blobs.Put(ctx, key, io.TeeReader(limited, counter))
	if err != nil {
		return StartImportOutput{}, fmt.Errorf("%w: %v", ErrStoreImportFile, err)
	}
	if counter.bytes > uc.maxBytes {
		_ = uc.blobs.Delete(ctx, key)
		return StartImportOutput{}, ErrFileTooLarge
	}

	job := importjob.ImportJob{
		ID:        jobID,
		TenantID:  tenantID,
		Type:      importType,
		FileName:  fileName,
		BlobURL:   blobURL,
		Status:    importjob.StatusPending,
		CreatedAt: uc.now(),
		CreatedBy: strings.TrimSpace(in.UploadedBy),
	}
	if err := uc.ledger.Create(ctx, job); err != nil {
		_ = uc.blobs.Delete(ctx, key)
		return StartImportOutput{}, fmt.Errorf("%w: %v", ErrCreateImportJob, err)
	}

	if err := uc.publisher.Publish(ctx, importjob.ImportRequested{
		JobID:      job.ID,
		BlobURL:    job.BlobURL,
		TenantID:   job.TenantID,
		FileName:   job.FileName,
		UploadedBy: job.CreatedBy,
		ImportType: job.Type,
	}); err != nil {
		return StartImportOutput{}, fmt.Errorf("%w: %v", ErrEnqueueImportJob, err)
	}

	return StartImportOutput{
		JobID:              job.ID,
		FileName:           job.FileName,
		FileSize:           counter.bytes,
		EstimatedItemCount: counter.dataLines(),
		Status:             job.Status,
	}, nil
}

// lineCounter observes uploaded bytes to estimate the number of data rows.
type lineCounter struct {
	bytes    int64
	newlines int64
	last     byte
}

func (c *lineCounter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.bytes += int64(len(p))
	c.newlines += int64(bytes.Count(p, []byte{'\n'}))
	c.last = p[len(p)-1]
	return len(p), nil
}

func (c *lineCounter) dataLines() int64 {
	lines := c.newlines
	if c.bytes > 0 && c.last != '\n' {
		lines++
	}
	if lines <= 1 {
		return 0
	}
	return lines - 1
}

package importing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

type GetImportStatusInput struct {
	TenantID string
	JobID    string
}

type GetImportStatus interface {
	Execute(ctx context.Context, in GetImportStatusInput) (importjob.ProgressReport, error)
}

type importJobReader interface {
	GetForTenant(ctx context.Context, tenantID, jobID string) (*importjob.ImportJob, error)
}

type getImportStatus struct {
	ledger importJobReader
	now    func() time.Time
}

func NewGetImportStatus(ledger importJobReader) GetImportStatus {
	return &getImportStatus{ledger: ledger, now: time.Now}
}

// Execute never reveals whether an id exists under another tenant: both
// cases report ErrImportNotFound.
func (uc *getImportStatus) Execute(ctx context.Context, in GetImportStatusInput) (importjob.ProgressReport, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	jobID := strings.TrimSpace(in.JobID)
	if tenantID == "" {
		return importjob.ProgressReport{}, ErrImportNotFound
	}
	if _, err := uuid.Parse(jobID); err != nil {
		return importjob.ProgressReport{}, ErrImportNotFound
	}

	job, err := uc.ledger.GetForTenant(ctx, tenantID, jobID)
	if err != nil {
		if errors.Is(err, importjob.ErrJobNotFound) {
			return importjob.ProgressReport{}, ErrImportNotFound
		}
		return importjob.ProgressReport{}, fmt.Errorf("%w: %v", ErrGetImportStatus, err)
	}

	return importjob.NewProgressReport(*job, uc.now()), nil
}

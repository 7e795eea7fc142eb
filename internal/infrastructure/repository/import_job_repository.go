package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
	"github.com/musaver/admintaxmahir-sub002/internal/infrastructure/db/models"
)

var activeStatuses = []string{string(importjob.StatusPending), string(importjob.StatusProcessing)}

// ImportJobRepository is the gorm-backed job ledger. Mutations are
// conditional updates so that a terminal row is never rewritten and a job is
// only written by the executor holding its lease.
type ImportJobRepository struct {
	db *gorm.DB
}

func NewImportJobRepository(db *gorm.DB) *ImportJobRepository {
	return &ImportJobRepository{db: db}
}

func (r *ImportJobRepository) Create(ctx context.Context, job importjob.ImportJob) error {
	errs, err := marshalErrors(job.Errors)
	if err != nil {
		return err
	}

	row := models.ImportJob{
		ID:                job.ID,
		TenantID:          job.TenantID,
		Type:              string(job.Type),
		FileName:          job.FileName,
		BlobURL:           job.BlobURL,
		Status:            string(job.Status),
		Checkpoint:        string(job.Checkpoint),
		RowCursor:         job.RowCursor,
		TotalRecords:      job.TotalRecords,
		ProcessedRecords:  job.ProcessedRecords,
		SuccessfulRecords: job.SuccessfulRecords,
		FailedRecords:     job.FailedRecords,
		Errors:            errs,
		CreatedBy:         job.CreatedBy,
		StartedAt:         job.StartedAt,
		CompletedAt:       job.CompletedAt,
		CreatedAt:         job.CreatedAt,
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

func (r *ImportJobRepository) GetForTenant(ctx context.Context, tenantID, jobID string) (*importjob.ImportJob, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, importjob.ErrJobNotFound
	}

	var row models.ImportJob
	err := r.db.WithContext(ctx).First(&row, "id = ? AND tenant_id = ?", jobID, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, importjob.ErrJobNotFound
		}
		return nil, fmt.Errorf("get import job: %w", err)
	}

	return toDomainJob(row)
}

// AcquireLease takes the job for owner when it is unleased, already owned by
// owner, or its previous lease ran out.
func (r *ImportJobRepository) AcquireLease(ctx context.Context, jobID, owner string, leaseDuration time.Duration) error {
	return r.update(ctx, "acquire lease", guard{
		jobID: jobID,
		scope: func(q *gorm.DB) *gorm.DB {
			return q.Where("(lease_owner IS NULL OR lease_owner = ? OR lease_expires_at < NOW())", owner)
		},
		unmatched: importjob.ErrLeaseHeld,
	}, map[string]any{
		"lease_owner":      owner,
		"lease_expires_at": leaseExpiry(leaseDuration),
	})
}

func (r *ImportJobRepository) RenewLease(ctx context.Context, jobID, owner string, leaseDuration time.Duration) error {
	return r.update(ctx, "renew lease", guard{jobID: jobID, owner: owner}, map[string]any{
		"lease_expires_at": leaseExpiry(leaseDuration),
	})
}

func (r *ImportJobRepository) ReleaseLease(ctx context.Context, jobID, owner string) error {
	err := r.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ? AND lease_owner = ?", jobID, owner).
		Updates(map[string]any{"lease_owner": nil, "lease_expires_at": nil}).Error
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (r *ImportJobRepository) MarkProcessing(ctx context.Context, jobID, owner string, startedAt time.Time) error {
	return r.update(ctx, "mark processing", guard{jobID: jobID, owner: owner}, map[string]any{
		"status":     string(importjob.StatusProcessing),
		"started_at": gorm.Expr("COALESCE(started_at, ?)", startedAt),
		"checkpoint": gorm.Expr("CASE WHEN checkpoint = '' THEN ? ELSE checkpoint END", string(importjob.CheckpointStarted)),
	})
}

func (r *ImportJobRepository) RecordTotal(ctx context.Context, jobID, owner string, total int64) error {
	return r.update(ctx, "record total", guard{jobID: jobID, owner: owner}, map[string]any{
		"total_records": total,
		"checkpoint":    string(importjob.CheckpointCounted),
	})
}

func (r *ImportJobRepository) Complete(ctx context.Context, jobID, owner string, completedAt time.Time, results importjob.Results) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return r.update(ctx, "complete import job", guard{jobID: jobID, owner: owner}, map[string]any{
		"status":           string(importjob.StatusCompleted),
		"completed_at":     completedAt,
		"results":          datatypes.JSON(payload),
		"lease_owner":      nil,
		"lease_expires_at": nil,
	})
}

func (r *ImportJobRepository) Fail(ctx context.Context, jobID, owner string, completedAt time.Time, failure importjob.RowError) error {
	errs, err := marshalErrors([]importjob.RowError{failure})
	if err != nil {
		return err
	}
	return r.update(ctx, "fail import job", guard{jobID: jobID, owner: owner}, map[string]any{
		"status":           string(importjob.StatusFailed),
		"completed_at":     completedAt,
		"errors":           errs,
		"lease_owner":      nil,
		"lease_expires_at": nil,
	})
}

// guard narrows a conditional update. owner, when set, must hold the lease.
// unmatched is reported when the row exists, is active and is owned, so only
// scope can have excluded it.
type guard struct {
	jobID     string
	owner     string
	scope     func(*gorm.DB) *gorm.DB
	unmatched error
}

func (r *ImportJobRepository) update(ctx context.Context, op string, g guard, values map[string]any) error {
	q := r.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ? AND status IN ?", g.jobID, activeStatuses)
	if g.owner != "" {
		q = q.Where("lease_owner = ?", g.owner)
	}
	if g.scope != nil {
		q = g.scope(q)
	}

	res := q.Updates(values)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.explainSkippedUpdate(ctx, op, g)
	}
	return nil
}

// explainSkippedUpdate tells apart the reasons a conditional update matched
// no row.
func (r *ImportJobRepository) explainSkippedUpdate(ctx context.Context, op string, g guard) error {
	var row models.ImportJob
	err := r.db.WithContext(ctx).Select("status", "lease_owner").First(&row, "id = ?", g.jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return importjob.ErrJobNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return classifySkip(op, importjob.Status(row.Status), row.LeaseOwner, g.owner, g.unmatched)
}

// classifySkip is shared with the pgx batch store.
func classifySkip(op string, status importjob.Status, leaseOwner *string, owner string, unmatched error) error {
	if status.Terminal() {
		return importjob.ErrJobTerminal
	}
	if owner != "" && (leaseOwner == nil || *leaseOwner != owner) {
		return importjob.ErrLeaseLost
	}
	if unmatched != nil {
		return unmatched
	}
	return fmt.Errorf("%s: %w", op, errStaleProgress)
}

func leaseExpiry(leaseDuration time.Duration) clause.Expr {
	return gorm.Expr("NOW() + (? * INTERVAL '1 millisecond')", leaseDuration.Milliseconds())
}

func toDomainJob(row models.ImportJob) (*importjob.ImportJob, error) {
	job := &importjob.ImportJob{
		ID:                row.ID,
		TenantID:          row.TenantID,
		Type:              importjob.Type(row.Type),
		FileName:          row.FileName,
		BlobURL:           row.BlobURL,
		Status:            importjob.Status(row.Status),
		Checkpoint:        importjob.Checkpoint(row.Checkpoint),
		RowCursor:         row.RowCursor,
		TotalRecords:      row.TotalRecords,
		ProcessedRecords:  row.ProcessedRecords,
		SuccessfulRecords: row.SuccessfulRecords,
		FailedRecords:     row.FailedRecords,
		Errors:            []importjob.RowError{},
		CreatedAt:         row.CreatedAt,
		StartedAt:         row.StartedAt,
		CompletedAt:       row.CompletedAt,
		CreatedBy:         row.CreatedBy,
	}

	if !isNullJSON(row.Errors) {
		if err := json.Unmarshal(row.Errors, &job.Errors); err != nil {
			return nil, fmt.Errorf("decode import job errors: %w", err)
		}
	}
	if !isNullJSON(row.Results) {
		var results importjob.Results
		if err := json.Unmarshal(row.Results, &results); err != nil {
			return nil, fmt.Errorf("decode import job results: %w", err)
		}
		job.Results = &results
	}

	return job, nil
}

func marshalErrors(errs []importjob.RowError) (datatypes.JSON, error) {
	if len(errs) == 0 {
		return datatypes.JSON("[]"), nil
	}
	payload, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("encode row errors: %w", err)
	}
	return datatypes.JSON(payload), nil
}

func isNullJSON(raw datatypes.JSON) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

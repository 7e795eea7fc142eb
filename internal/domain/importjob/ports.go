package importjob

import (
	"context"
	"time"
)

// Ledger persists import jobs. Every mutation after Create is rejected with
// ErrJobTerminal once the job reached completed or failed.
//
// An executor must hold the job's lease before it mutates the job. Mutations
// carry the lease owner and fail with ErrLeaseLost once another executor has
// taken the job over, so at most one executor writes to a job at a time.
type Ledger interface {
	Create(ctx context.Context, job ImportJob) error
	GetForTenant(ctx context.Context, tenantID, jobID string) (*ImportJob, error)

	// AcquireLease fails with ErrLeaseHeld while another owner's lease is live.
	AcquireLease(ctx context.Context, jobID, owner string, leaseDuration time.Duration) error
	RenewLease(ctx context.Context, jobID, owner string, leaseDuration time.Duration) error
	// ReleaseLease is a no-op when owner no longer holds the lease.
	ReleaseLease(ctx context.Context, jobID, owner string) error

	MarkProcessing(ctx context.Context, jobID, owner string, startedAt time.Time) error
	RecordTotal(ctx context.Context, jobID, owner string, total int64) error
	Complete(ctx context.Context, jobID, owner string, completedAt time.Time, results Results) error
	Fail(ctx context.Context, jobID, owner string, completedAt time.Time, failure RowError) error
}

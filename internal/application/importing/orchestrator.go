package importing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultAborted   = "aborted"
)

type recordSource interface {
	Load(ctx context.Context, url string) ([]Record, error)
}

type recordClassifier interface {
	Classify(tenantID string, importType importjob.Type, index int, rec Record) Entry
}

type importMetrics interface {
	JobStarted(importType importjob.Type)
	JobFinished(importType importjob.Type, result string, elapsed time.Duration)
	RowsClassified(importType importjob.Type, successful, failed int64)
}

type OrchestratorConfig struct {
	BatchSize int
	// LeaseDuration is how long a job stays reserved for one executor
	// without a renewal.
	LeaseDuration time.Duration
	RenewInterval time.Duration
}

// Orchestrator drives one import job from pending to a terminal state. Each
// step records a checkpoint in the ledger, so a redelivered event resumes at
// the first step that has not completed. A job is executed under a ledger
// lease; a second delivery of the same job is turned away while the lease is
// live.
type Orchestrator struct {
	ledger    importjob.Ledger
	batches   BatchStore
	source    recordSource
	processor recordClassifier
	metrics   importMetrics
	logger    *slog.Logger
	cfg       OrchestratorConfig
	now       func() time.Time
	newOwner  func() string
}

func NewOrchestrator(
	ledger importjob.Ledger,
	batches BatchStore,
	source recordSource,
	processor recordClassifier,
	metrics importMetrics,
	logger *slog.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}
	if cfg.RenewInterval <= 0 || cfg.RenewInterval >= cfg.LeaseDuration {
		cfg.RenewInterval = cfg.LeaseDuration / 3
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		ledger:    ledger,
		batches:   batches,
		source:    source,
		processor: processor,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		newOwner:  uuid.NewString,
	}
}

// Handle runs the job named by evt. Redelivery against a terminal job is a
// no-op and redelivery against a leased job returns ErrLeaseHeld without
// touching it. Process-level faults mark the job failed and are returned so
// the queue can apply its redelivery policy.
func (o *Orchestrator) Handle(ctx context.Context, evt importjob.ImportRequested) error {
	if err := evt.Validate(); err != nil {
		return err
	}

	job, err := o.ledger.GetForTenant(ctx, evt.TenantID, evt.JobID)
	if err != nil {
		if errors.Is(err, importjob.ErrJobNotFound) {
			return err
		}
		return fmt.Errorf("%w: load job: %w", importjob.ErrPersistence, err)
	}

	logger := o.logger.With(
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("import_type", string(job.Type)),
	)

	if job.Status.Terminal() {
		logger.Info("import job already terminal, skipping", slog.String("status", string(job.Status)))
		return nil
	}

	owner := o.newOwner()
	if err := o.ledger.AcquireLease(ctx, job.ID, owner, o.cfg.LeaseDuration); err != nil {
		switch {
		case errors.Is(err, importjob.ErrJobTerminal):
			logger.Info("import job became terminal, skipping")
			return nil
		case errors.Is(err, importjob.ErrLeaseHeld):
			logger.Info("import job is running elsewhere, skipping")
			return err
		case errors.Is(err, importjob.ErrJobNotFound):
			return err
		default:
			return fmt.Errorf("%w: acquire lease: %w", importjob.ErrPersistence, err)
		}
	}
	logger = logger.With(slog.String("lease_owner", owner))

	runCtx, stop := context.WithCancelCause(ctx)
	renewing := make(chan struct{})
	go func() {
		defer close(renewing)
		o.keepLease(runCtx, stop, logger, job.ID, owner)
	}()
	defer func() {
		stop(nil)
		<-renewing
		o.releaseLease(ctx, logger, job.ID, owner)
	}()

	began := o.now()
	o.metrics.JobStarted(job.Type)

	result := ResultCompleted
	err = o.run(runCtx, logger, job, owner)
	if err != nil && errors.Is(context.Cause(runCtx), importjob.ErrLeaseLost) {
		err = fmt.Errorf("%w: %w", importjob.ErrLeaseLost, err)
	}
	if err != nil {
		result = ResultFailed
		if isShutdown(ctx, err) || errors.Is(err, importjob.ErrLeaseLost) {
			result = ResultAborted
		}
	}
	o.metrics.JobFinished(job.Type, result, o.now().Sub(began))

	if err == nil {
		return nil
	}
	return o.fail(ctx, logger, job, owner, err)
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, job *importjob.ImportJob, owner string) error {
	if job.Status == importjob.StatusPending {
		startedAt := o.now()
		if err := o.ledger.MarkProcessing(ctx, job.ID, owner, startedAt); err != nil {
			return fmt.Errorf("%w: mark processing: %w", importjob.ErrPersistence, err)
		}
		job.Status = importjob.StatusProcessing
		job.StartedAt = &startedAt
		job.Checkpoint = importjob.CheckpointStarted
		logger.Info("import job started")
	}

	if !job.Checkpoint.Reached(importjob.CheckpointRowsProcessed) {
		if err := o.ingestAndProcess(ctx, logger, job, owner); err != nil {
			return err
		}
	}

	completedAt := o.now()
	results := importjob.Results{
		Type:       job.Type,
		Total:      job.TotalRecords,
		Successful: job.SuccessfulRecords,
		Failed:     job.FailedRecords,
	}
	if job.StartedAt != nil {
		results.DurationSeconds = completedAt.Sub(*job.StartedAt).Seconds()
	}

	if err := o.ledger.Complete(ctx, job.ID, owner, completedAt, results); err != nil {
		return fmt.Errorf("%w: complete: %w", importjob.ErrPersistence, err)
	}

	logger.Info("import job completed",
		slog.Int64("total_records", job.TotalRecords),
		slog.Int64("successful_records", job.SuccessfulRecords),
		slog.Int64("failed_records", job.FailedRecords),
	)
	return nil
}

func (o *Orchestrator) ingestAndProcess(ctx context.Context, logger *slog.Logger, job *importjob.ImportJob, owner string) error {
	if job.BlobURL == "" {
		return fmt.Errorf("%w: job has no source url", importjob.ErrFetch)
	}

	records, err := o.source.Load(ctx, job.BlobURL)
	if err != nil {
		return err
	}

	if !job.Checkpoint.Reached(importjob.CheckpointCounted) {
		total := int64(len(records))
		if err := o.ledger.RecordTotal(ctx, job.ID, owner, total); err != nil {
			return fmt.Errorf("%w: record total: %w", importjob.ErrPersistence, err)
		}
		job.TotalRecords = total
		job.Checkpoint = importjob.CheckpointCounted
		logger.Info("import total recorded", slog.Int64("total_records", total))
	}

	return o.processRecords(ctx, logger, job, owner, records)
}

// processRecords classifies records from the job's cursor onwards and commits
// them batch by batch, each batch together with its progress checkpoint. The
// last checkpoint is flagged Done.
func (o *Orchestrator) processRecords(ctx context.Context, logger *slog.Logger, job *importjob.ImportJob, owner string, records []Record) error {
	total := len(records)
	start := int(job.RowCursor)
	if start > total {
		start = total
	}
	if start > 0 {
		logger.Info("resuming import from checkpoint", slog.Int("row_cursor", start))
	}

	for i := start; ; {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := i + o.cfg.BatchSize
		if end > total {
			end = total
		}

		batch := Batch{
			JobID: job.ID,
			Owner: owner,
			Base: importjob.Progress{
				RowCursor:         job.RowCursor,
				ProcessedRecords:  job.ProcessedRecords,
				SuccessfulRecords: job.SuccessfulRecords,
				FailedRecords:     job.FailedRecords,
			},
			Entries: make([]Entry, 0, end-i),
			Cursor:  int64(end),
			Done:    end == total,
		}
		for idx := i; idx < end; idx++ {
			batch.Entries = append(batch.Entries, o.processor.Classify(job.TenantID, job.Type, idx, records[idx]))
		}

		progress, err := o.batches.CommitBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("%w: commit batch: %w", importjob.ErrPersistence, err)
		}

		o.metrics.RowsClassified(job.Type,
			progress.SuccessfulRecords-job.SuccessfulRecords,
			progress.FailedRecords-job.FailedRecords,
		)
		job.RowCursor = progress.RowCursor
		job.ProcessedRecords = progress.ProcessedRecords
		job.SuccessfulRecords = progress.SuccessfulRecords
		job.FailedRecords = progress.FailedRecords
		job.Errors = append(job.Errors, progress.Errors...)

		if progress.Done {
			job.Checkpoint = importjob.CheckpointRowsProcessed
			return nil
		}
		i = end
	}
}

// keepLease renews the job's lease until ctx ends. Losing the lease cancels
// the run with ErrLeaseLost as the cause.
func (o *Orchestrator) keepLease(ctx context.Context, stop context.CancelCauseFunc, logger *slog.Logger, jobID, owner string) {
	ticker := time.NewTicker(o.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := o.ledger.RenewLease(ctx, jobID, owner, o.cfg.LeaseDuration)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, importjob.ErrLeaseLost), errors.Is(err, importjob.ErrJobTerminal):
			logger.Warn("import job lease lost, stopping", slog.String("error", err.Error()))
			stop(importjob.ErrLeaseLost)
			return
		default:
			// The next tick retries; commits are checked against the lease anyway.
			logger.Warn("renew import job lease failed", slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) releaseLease(ctx context.Context, logger *slog.Logger, jobID, owner string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := o.ledger.ReleaseLease(releaseCtx, jobID, owner); err != nil {
		logger.Warn("release import job lease failed", slog.String("error", err.Error()))
	}
}

// fail marks the job failed on a best-effort basis and returns cause. A job
// interrupted by shutdown, or taken over by another executor, is left as is.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, job *importjob.ImportJob, owner string, cause error) error {
	if errors.Is(cause, importjob.ErrJobTerminal) {
		logger.Warn("import job became terminal concurrently", slog.String("error", cause.Error()))
		return nil
	}
	if errors.Is(cause, importjob.ErrLeaseLost) {
		logger.Warn("import job taken over by another executor", slog.String("error", cause.Error()))
		return cause
	}
	if isShutdown(ctx, cause) {
		logger.Warn("import job interrupted, leaving for redelivery", slog.String("error", cause.Error()))
		return cause
	}

	failure := importjob.RowError{Message: "Import failed: " + cause.Error()}
	if err := o.ledger.Fail(ctx, job.ID, owner, o.now(), failure); err != nil {
		logger.Error("mark import job failed", slog.String("error", err.Error()), slog.String("cause", cause.Error()))
		return fmt.Errorf("%w; mark failed: %w", cause, err)
	}

	logger.Error("import job failed", slog.String("error", cause.Error()))
	return cause
}

func isShutdown(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

type noopMetrics struct{}

func (noopMetrics) JobStarted(importjob.Type) {}

func (noopMetrics) JobFinished(importjob.Type, string, time.Duration) {}

func (noopMetrics) RowsClassified(importjob.Type, int64, int64) {}

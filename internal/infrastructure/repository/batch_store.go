package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	app "github.com/musaver/admintaxmahir-sub002/internal/application/importing"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/product"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/user"
)

var errStaleProgress = errors.New("processed records would decrease")

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BatchStore writes a batch of imported rows together with the job
// checkpoint that covers them. Every row insert runs under its own
// savepoint, so a rejected row is recorded as a row failure without
// aborting the rest of the batch. Rows are never merged with existing
// products or users.
type BatchStore struct {
	pool txBeginner
}

func NewBatchStore(pool txBeginner) *BatchStore {
	return &BatchStore{pool: pool}
}

func (s *BatchStore) CommitBatch(ctx context.Context, batch app.Batch) (importjob.Progress, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return importjob.Progress{}, fmt.Errorf("begin import batch: %w", err)
	}
	defer func() {
		// Rollback after Commit returns pgx.ErrTxClosed.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	writeErrs := make([]error, len(batch.Entries))
	for i, entry := range batch.Entries {
		if !entry.Writable() {
			continue
		}

		sp, err := tx.Begin(ctx)
		if err != nil {
			return importjob.Progress{}, fmt.Errorf("begin savepoint: %w", err)
		}
		if err := insertEntry(ctx, sp, entry); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return importjob.Progress{}, ctxErr
			}
			if rbErr := sp.Rollback(ctx); rbErr != nil {
				return importjob.Progress{}, fmt.Errorf("rollback savepoint: %w", rbErr)
			}
			writeErrs[i] = err
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return importjob.Progress{}, fmt.Errorf("release savepoint: %w", err)
		}
	}

	progress := batch.Settle(writeErrs)
	if err := saveProgress(ctx, tx, batch.JobID, batch.Owner, progress); err != nil {
		return importjob.Progress{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return importjob.Progress{}, fmt.Errorf("commit import batch: %w", err)
	}
	return progress, nil
}

const saveProgressSQL = `
UPDATE import_jobs
SET row_cursor = $3,
    processed_records = $4,
    successful_records = $5,
    failed_records = $6,
    errors = errors || $7::jsonb,
    checkpoint = CASE WHEN $8::boolean THEN $9::text ELSE checkpoint END,
    updated_at = NOW()
WHERE id = $1
  AND lease_owner = $2
  AND status IN ('pending', 'processing')
  AND processed_records <= $4
`

// saveProgress advances the checkpoint only while owner holds the lease and
// the processed count does not go backwards.
func saveProgress(ctx context.Context, tx pgx.Tx, jobID, owner string, progress importjob.Progress) error {
	errs, err := marshalErrors(progress.Errors)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, saveProgressSQL,
		jobID,
		owner,
		progress.RowCursor,
		progress.ProcessedRecords,
		progress.SuccessfulRecords,
		progress.FailedRecords,
		string(errs),
		progress.Done,
		string(importjob.CheckpointRowsProcessed),
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	var leaseOwner *string
	err = tx.QueryRow(ctx, `SELECT status, lease_owner FROM import_jobs WHERE id = $1`, jobID).Scan(&status, &leaseOwner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return importjob.ErrJobNotFound
		}
		return fmt.Errorf("save progress: %w", err)
	}
	return classifySkip("save progress", importjob.Status(status), leaseOwner, owner, nil)
}

func insertEntry(ctx context.Context, tx pgx.Tx, entry app.Entry) error {
	switch {
	case entry.Product != nil:
		return insertProduct(ctx, tx, *entry.Product)
	case entry.User != nil:
		return insertUser(ctx, tx, *entry.User)
	}
	return nil
}

func insertProduct(ctx context.Context, tx pgx.Tx, p product.Product) error {
	_, err := tx.Exec(ctx, `
INSERT INTO products (id, tenant_id, name, price, sku, description, category, stock_quantity, created_at, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, NOW(), NOW())
`,
		p.ID,
		p.TenantID,
		p.Name,
		p.Price.String(),
		nullableText(p.SKU),
		nullableText(p.Description),
		nullableText(p.Category),
		p.StockQuantity,
	)
	return err
}

func insertUser(ctx context.Context, tx pgx.Tx, u user.User) error {
	_, err := tx.Exec(ctx, `
INSERT INTO users (id, tenant_id, name, email, phone, role, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
`, u.ID, u.TenantID, u.Name, u.Email, nullableText(u.Phone), u.Role)
	return err
}

func nullableText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

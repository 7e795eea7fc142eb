package importing_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	app "github.com/musaver/admintaxmahir-sub002/internal/application/importing"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/product"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/user"
)

type memoryLease struct {
	owner   string
	expires time.Time
}

// memoryLedger mirrors the conditional updates of the gorm ledger and the
// transactional batch commit of the pgx batch store.
type memoryLedger struct {
	mu     sync.Mutex
	jobs   map[string]*importjob.ImportJob
	leases map[string]memoryLease

	failOn   map[string]error
	calls    []string
	progress []importjob.Progress

	products []product.Product
	users    []user.User

	// writeErr fails the insert of a single entry inside a commit.
	writeErr func(app.Entry) error
	// beforeCommit runs at the start of every CommitBatch, outside the lock.
	beforeCommit func(ctx context.Context, batch app.Batch)
}

func newMemoryLedger(jobs ...importjob.ImportJob) *memoryLedger {
	l := &memoryLedger{
		jobs:   map[string]*importjob.ImportJob{},
		leases: map[string]memoryLease{},
		failOn: map[string]error{},
	}
	for _, job := range jobs {
		j := job
		l.jobs[j.ID] = &j
	}
	return l
}

func (l *memoryLedger) record(op string) error {
	l.calls = append(l.calls, op)
	return l.failOn[op]
}

func (l *memoryLedger) mutable(jobID string) (*importjob.ImportJob, error) {
	job, ok := l.jobs[jobID]
	if !ok {
		return nil, importjob.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil, importjob.ErrJobTerminal
	}
	return job, nil
}

func (l *memoryLedger) owned(jobID, owner string) (*importjob.ImportJob, error) {
	job, err := l.mutable(jobID)
	if err != nil {
		return nil, err
	}
	if lease, ok := l.leases[jobID]; !ok || lease.owner != owner {
		return nil, importjob.ErrLeaseLost
	}
	return job, nil
}

func (l *memoryLedger) Create(ctx context.Context, job importjob.ImportJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("create"); err != nil {
		return err
	}
	l.jobs[job.ID] = &job
	return nil
}

func (l *memoryLedger) GetForTenant(ctx context.Context, tenantID, jobID string) (*importjob.ImportJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("get"); err != nil {
		return nil, err
	}
	job, ok := l.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return nil, importjob.ErrJobNotFound
	}
	cp := *job
	cp.Errors = append([]importjob.RowError(nil), job.Errors...)
	return &cp, nil
}

func (l *memoryLedger) AcquireLease(ctx context.Context, jobID, owner string, leaseDuration time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("acquire_lease"); err != nil {
		return err
	}
	if _, err := l.mutable(jobID); err != nil {
		return err
	}
	if lease, ok := l.leases[jobID]; ok && lease.owner != owner && time.Now().Before(lease.expires) {
		return importjob.ErrLeaseHeld
	}
	l.leases[jobID] = memoryLease{owner: owner, expires: time.Now().Add(leaseDuration)}
	return nil
}

func (l *memoryLedger) RenewLease(ctx context.Context, jobID, owner string, leaseDuration time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("renew_lease"); err != nil {
		return err
	}
	if _, err := l.owned(jobID, owner); err != nil {
		return err
	}
	l.leases[jobID] = memoryLease{owner: owner, expires: time.Now().Add(leaseDuration)}
	return nil
}

func (l *memoryLedger) ReleaseLease(ctx context.Context, jobID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("release_lease"); err != nil {
		return err
	}
	if lease, ok := l.leases[jobID]; ok && lease.owner == owner {
		delete(l.leases, jobID)
	}
	return nil
}

// steal hands the job's lease to another executor, as an expired lease
// picked up elsewhere would.
func (l *memoryLedger) steal(jobID, owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leases[jobID] = memoryLease{owner: owner, expires: time.Now().Add(time.Hour)}
}

func (l *memoryLedger) leaseHeld(jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.leases[jobID]
	return ok
}

func (l *memoryLedger) MarkProcessing(ctx context.Context, jobID, owner string, startedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("mark_processing"); err != nil {
		return err
	}
	job, err := l.owned(jobID, owner)
	if err != nil {
		return err
	}
	job.Status = importjob.StatusProcessing
	job.StartedAt = &startedAt
	job.Checkpoint = importjob.CheckpointStarted
	return nil
}

func (l *memoryLedger) RecordTotal(ctx context.Context, jobID, owner string, total int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("record_total"); err != nil {
		return err
	}
	job, err := l.owned(jobID, owner)
	if err != nil {
		return err
	}
	job.TotalRecords = total
	job.Checkpoint = importjob.CheckpointCounted
	return nil
}

func (l *memoryLedger) CommitBatch(ctx context.Context, batch app.Batch) (importjob.Progress, error) {
	if l.beforeCommit != nil {
		l.beforeCommit(ctx, batch)
	}
	if err := ctx.Err(); err != nil {
		return importjob.Progress{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("commit_batch"); err != nil {
		return importjob.Progress{}, err
	}
	job, err := l.owned(batch.JobID, batch.Owner)
	if err != nil {
		return importjob.Progress{}, err
	}

	writeErrs := make([]error, len(batch.Entries))
	var products []product.Product
	var users []user.User
	for i, entry := range batch.Entries {
		if !entry.Writable() {
			continue
		}
		if l.writeErr != nil {
			if err := l.writeErr(entry); err != nil {
				writeErrs[i] = err
				continue
			}
		}
		if entry.Product != nil {
			products = append(products, *entry.Product)
		} else {
			users = append(users, *entry.User)
		}
	}

	progress := batch.Settle(writeErrs)
	if progress.ProcessedRecords < job.ProcessedRecords {
		return importjob.Progress{}, errors.New("processed records would decrease")
	}

	l.products = append(l.products, products...)
	l.users = append(l.users, users...)
	l.progress = append(l.progress, progress)
	job.RowCursor = progress.RowCursor
	job.ProcessedRecords = progress.ProcessedRecords
	job.SuccessfulRecords = progress.SuccessfulRecords
	job.FailedRecords = progress.FailedRecords
	job.Errors = append(job.Errors, progress.Errors...)
	if progress.Done {
		job.Checkpoint = importjob.CheckpointRowsProcessed
	}
	return progress, nil
}

func (l *memoryLedger) Complete(ctx context.Context, jobID, owner string, completedAt time.Time, results importjob.Results) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("complete"); err != nil {
		return err
	}
	job, err := l.owned(jobID, owner)
	if err != nil {
		return err
	}
	job.Status = importjob.StatusCompleted
	job.CompletedAt = &completedAt
	job.Results = &results
	delete(l.leases, jobID)
	return nil
}

func (l *memoryLedger) Fail(ctx context.Context, jobID, owner string, completedAt time.Time, failure importjob.RowError) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("fail"); err != nil {
		return err
	}
	job, err := l.owned(jobID, owner)
	if err != nil {
		return err
	}
	job.Status = importjob.StatusFailed
	job.CompletedAt = &completedAt
	job.Errors = []importjob.RowError{failure}
	delete(l.leases, jobID)
	return nil
}

func (l *memoryLedger) job(id string) importjob.ImportJob {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.jobs[id]
}

func (l *memoryLedger) committedProducts() []product.Product {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]product.Product(nil), l.products...)
}

func (l *memoryLedger) committedUsers() []user.User {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]user.User(nil), l.users...)
}

func (l *memoryLedger) count(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == op {
			n++
		}
	}
	return n
}

type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string]string
	err   error
	calls int

	// When gate is set, Fetch signals entered and waits for gate to close.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls++
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.data[url]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeFetcher) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// cancellingClassifier cancels the context after classifying n records.
type cancellingClassifier struct {
	inner  *app.RowProcessor
	after  int
	cancel context.CancelFunc
	seen   int
}

func (c *cancellingClassifier) Classify(tenantID string, importType importjob.Type, index int, rec app.Record) app.Entry {
	c.seen++
	entry := c.inner.Classify(tenantID, importType, index, rec)
	if c.seen == c.after {
		c.cancel()
	}
	return entry
}

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/musaver/admintaxmahir-sub002/internal/application/importing"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/product"
	"github.com/musaver/admintaxmahir-sub002/internal/infrastructure/repository"
)

// txState records what a fake transaction and its savepoints saw.
type txState struct {
	statements []string
	insertErr  func(args []any) error
	// beforeProgress runs just before the checkpoint update.
	beforeProgress func()
	progressRows   int64
	progressArgs   []any
	status         string
	leaseOwner     *string
	committed      bool
	rolledBack     bool
}

// fakeTx implements the parts of pgx.Tx the batch store uses. Anything else
// panics through the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	state     *txState
	savepoint bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.state.statements = append(t.state.statements, "SAVEPOINT")
	return &fakeTx{state: t.state, savepoint: true}, nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO"):
		t.state.statements = append(t.state.statements, "INSERT")
		if t.state.insertErr != nil {
			if err := t.state.insertErr(args); err != nil {
				return pgconn.CommandTag{}, err
			}
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "UPDATE import_jobs"):
		if t.state.beforeProgress != nil {
			t.state.beforeProgress()
		}
		if err := ctx.Err(); err != nil {
			return pgconn.CommandTag{}, err
		}
		t.state.statements = append(t.state.statements, "UPDATE")
		t.state.progressArgs = args
		return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", t.state.progressRows)), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected statement: %s", sql)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return statusRow{state: t.state}
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.savepoint {
		t.state.statements = append(t.state.statements, "RELEASE")
		return nil
	}
	t.state.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.savepoint {
		t.state.statements = append(t.state.statements, "ROLLBACK TO")
		return nil
	}
	if t.state.committed {
		return pgx.ErrTxClosed
	}
	t.state.rolledBack = true
	return nil
}

type statusRow struct {
	state *txState
}

func (r statusRow) Scan(dest ...any) error {
	if r.state.status == "" {
		return pgx.ErrNoRows
	}
	*dest[0].(*string) = r.state.status
	*dest[1].(**string) = r.state.leaseOwner
	return nil
}

type fakeBeginner struct {
	state *txState
}

func (b fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fakeTx{state: b.state}, nil
}

func batchOf(names ...string) app.Batch {
	batch := app.Batch{JobID: mockJobID, Owner: mockOwner, Cursor: int64(len(names))}
	for i, name := range names {
		batch.Entries = append(batch.Entries, app.Entry{Row: i + 2, Product: &product.Product{
			ID: fmt.Sprintf("id-%d", i), TenantID: "tenant-a", Name: name, Price: decimal.NewFromInt(1),
		}})
	}
	return batch
}

func TestBatchStoreCommitsInsertsWithCheckpoint(t *testing.T) {
	t.Parallel()

	state := &txState{progressRows: 1}
	store := repository.NewBatchStore(fakeBeginner{state: state})

	batch := batchOf("A", "B")
	batch.Done = true
	progress, err := store.CommitBatch(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, []string{"SAVEPOINT", "INSERT", "RELEASE", "SAVEPOINT", "INSERT", "RELEASE", "UPDATE"}, state.statements)
	assert.True(t, state.committed)
	assert.Equal(t, int64(2), progress.SuccessfulRecords)
	require.Len(t, state.progressArgs, 9)
	assert.Equal(t, mockOwner, state.progressArgs[1])
	assert.Equal(t, int64(2), state.progressArgs[3])
	assert.Equal(t, "[]", state.progressArgs[6])
	assert.Equal(t, true, state.progressArgs[7])
}

func TestBatchStoreRejectedRowRollsBackToSavepoint(t *testing.T) {
	t.Parallel()

	state := &txState{
		progressRows: 1,
		insertErr: func(args []any) error {
			if args[2] == "B" {
				return errors.New("value too long for type character varying(255)")
			}
			return nil
		},
	}
	store := repository.NewBatchStore(fakeBeginner{state: state})

	progress, err := store.CommitBatch(context.Background(), batchOf("A", "B", "C"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"SAVEPOINT", "INSERT", "RELEASE",
		"SAVEPOINT", "INSERT", "ROLLBACK TO",
		"SAVEPOINT", "INSERT", "RELEASE",
		"UPDATE",
	}, state.statements)
	assert.True(t, state.committed)
	assert.Equal(t, int64(2), progress.SuccessfulRecords)
	assert.Equal(t, int64(1), progress.FailedRecords)
	require.Len(t, progress.Errors, 1)
	assert.Equal(t, importjob.RowError{Row: 3, Message: "create product: value too long for type character varying(255)"}, progress.Errors[0])
	assert.Contains(t, state.progressArgs[6], "value too long")
}

func TestBatchStoreInterruptedBeforeCheckpointCommitsNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	state := &txState{progressRows: 1, beforeProgress: cancel}
	store := repository.NewBatchStore(fakeBeginner{state: state})

	_, err := store.CommitBatch(ctx, batchOf("A", "B"))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"SAVEPOINT", "INSERT", "RELEASE", "SAVEPOINT", "INSERT", "RELEASE"}, state.statements)
	assert.False(t, state.committed)
	assert.True(t, state.rolledBack, "inserts must be rolled back with the missing checkpoint")
}

func TestBatchStoreStaleOwnerRollsBack(t *testing.T) {
	t.Parallel()

	other := "executor-b"
	state := &txState{status: "processing", leaseOwner: &other}
	store := repository.NewBatchStore(fakeBeginner{state: state})

	_, err := store.CommitBatch(context.Background(), batchOf("A"))
	require.ErrorIs(t, err, importjob.ErrLeaseLost)
	assert.False(t, state.committed)
	assert.True(t, state.rolledBack)
}

func TestBatchStoreClassifiesSkippedCheckpoint(t *testing.T) {
	t.Parallel()

	owner := mockOwner
	cases := []struct {
		name   string
		status string
		owner  *string
		want   error
	}{
		{name: "terminal", status: "completed", want: importjob.ErrJobTerminal},
		{name: "missing", status: "", want: importjob.ErrJobNotFound},
		{name: "released", status: "processing", want: importjob.ErrLeaseLost},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			state := &txState{status: tc.status, leaseOwner: tc.owner}
			_, err := repository.NewBatchStore(fakeBeginner{state: state}).CommitBatch(context.Background(), batchOf("A"))
			require.ErrorIs(t, err, tc.want)
			assert.False(t, state.committed)
		})
	}

	t.Run("stale", func(t *testing.T) {
		t.Parallel()

		state := &txState{status: "processing", leaseOwner: &owner}
		_, err := repository.NewBatchStore(fakeBeginner{state: state}).CommitBatch(context.Background(), batchOf("A"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "processed records would decrease")
		assert.False(t, state.committed)
	})
}

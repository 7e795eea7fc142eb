package importing_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/musaver/admintaxmahir-sub002/internal/application/importing"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (s *fakeBlobStore) Put(ctx context.Context, key string, content io.Reader) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return "file:///blobs/" + key, nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

type fakePublisher struct {
	events []importjob.ImportRequested
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, evt importjob.ImportRequested) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

const productsCSV = "name,price\nWidget,9.99\nGadget,1.50\nGizmo,3\n"

func csvInput(content string) app.StartImportInput {
	return app.StartImportInput{
		TenantID:   "tenant-a",
		UploadedBy: "ops@example.com",
		ImportType: "products",
		FileName:   "products.csv",
		FileSize:   int64(len(content)),
		Content:    strings.NewReader(content),
	}
}

func TestStartImportAcceptsUpload(t *testing.T) {
	t.Parallel()

	ledger := newMemoryLedger()
	blobs := newFakeBlobStore()
	publisher := &fakePublisher{}
	uc := app.NewStartImport(ledger, blobs, publisher, 0)

	out, err := uc.Execute(context.Background(), csvInput(productsCSV))
	require.NoError(t, err)

	assert.NotEmpty(t, out.JobID)
	assert.Equal(t, "products.csv", out.FileName)
	assert.Equal(t, int64(len(productsCSV)), out.FileSize)
	assert.Equal(t, int64(3), out.EstimatedItemCount)
	assert.Equal(t, importjob.StatusPending, out.Status)

	key := "tenant-a/" + out.JobID + "/products.csv"
	assert.Equal(t, []byte(productsCSV), blobs.objects[key])

	job := ledger.job(out.JobID)
	assert.Equal(t, importjob.StatusPending, job.Status)
	assert.Equal(t, importjob.TypeProducts, job.Type)
	assert.Equal(t, "file:///blobs/"+key, job.BlobURL)
	assert.Equal(t, "ops@example.com", job.CreatedBy)
	assert.Zero(t, job.ProcessedRecords)

	require.Len(t, publisher.events, 1)
	evt := publisher.events[0]
	assert.Equal(t, out.JobID, evt.JobID)
	assert.Equal(t, job.BlobURL, evt.BlobURL)
	assert.Equal(t, "tenant-a", evt.TenantID)
	assert.Equal(t, importjob.TypeProducts, evt.ImportType)
	assert.NoError(t, evt.Validate())
}

func TestStartImportDefaultsToProducts(t *testing.T) {
	t.Parallel()

	ledger := newMemoryLedger()
	uc := app.NewStartImport(ledger, newFakeBlobStore(), &fakePublisher{}, 0)

	in := csvInput(productsCSV)
	in.ImportType = ""
	out, err := uc.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, importjob.TypeProducts, ledger.job(out.JobID).Type)
}

func TestStartImportEstimateWithoutTrailingNewline(t *testing.T) {
	t.Parallel()

	uc := app.NewStartImport(newMemoryLedger(), newFakeBlobStore(), &fakePublisher{}, 0)

	out, err := uc.Execute(context.Background(), csvInput("name,price\nWidget,1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.EstimatedItemCount)
}

func TestStartImportRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*app.StartImportInput)
		want   error
	}{
		{name: "missing tenant", mutate: func(in *app.StartImportInput) { in.TenantID = " " }, want: app.ErrTenantRequired},
		{name: "not csv", mutate: func(in *app.StartImportInput) { in.FileName = "products.xlsx" }, want: app.ErrInvalidImportFile},
		{name: "no file", mutate: func(in *app.StartImportInput) { in.Content = nil }, want: app.ErrInvalidImportFile},
		{name: "declared too large", mutate: func(in *app.StartImportInput) { in.FileSize = 1 << 30 }, want: app.ErrFileTooLarge},
		{name: "unknown type", mutate: func(in *app.StartImportInput) { in.ImportType = "orders" }, want: importjob.ErrInvalidImportType},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ledger := newMemoryLedger()
			publisher := &fakePublisher{}
			uc := app.NewStartImport(ledger, newFakeBlobStore(), publisher, 1024)

			in := csvInput(productsCSV)
			tt.mutate(&in)

			_, err := uc.Execute(context.Background(), in)
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, ledger.count("create"))
			assert.Empty(t, publisher.events)
		})
	}
}

func TestStartImportStreamedOversizeIsDiscarded(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobStore()
	ledger := newMemoryLedger()
	uc := app.NewStartImport(ledger, blobs, &fakePublisher{}, 16)

	in := csvInput("")
	in.FileSize = 0
	in.Content = bytes.NewReader(bytes.Repeat([]byte("a,b\n"), 10))

	_, err := uc.Execute(context.Background(), in)
	require.ErrorIs(t, err, app.ErrFileTooLarge)
	assert.Empty(t, blobs.objects)
	assert.Len(t, blobs.deleted, 1)
	assert.Zero(t, ledger.count("create"))
}

func TestStartImportBlobFailure(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobStore()
	blobs.putErr = errors.New("disk full")
	ledger := newMemoryLedger()
	uc := app.NewStartImport(ledger, blobs, &fakePublisher{}, 0)

	_, err := uc.Execute(context.Background(), csvInput(productsCSV))
	require.ErrorIs(t, err, app.ErrStoreImportFile)
	assert.Zero(t, ledger.count("create"))
}

func TestStartImportLedgerFailureRemovesBlob(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobStore()
	ledger := newMemoryLedger()
	ledger.failOn["create"] = errors.New("connection refused")
	publisher := &fakePublisher{}
	uc := app.NewStartImport(ledger, blobs, publisher, 0)

	_, err := uc.Execute(context.Background(), csvInput(productsCSV))
	require.ErrorIs(t, err, app.ErrCreateImportJob)
	assert.Empty(t, blobs.objects)
	assert.Empty(t, publisher.events)
}

func TestStartImportPublishFailureKeepsPendingJob(t *testing.T) {
	t.Parallel()

	ledger := newMemoryLedger()
	uc := app.NewStartImport(ledger, newFakeBlobStore(), &fakePublisher{err: errors.New("redis down")}, 0)

	_, err := uc.Execute(context.Background(), csvInput(productsCSV))
	require.ErrorIs(t, err, app.ErrEnqueueImportJob)

	require.Len(t, ledger.jobs, 1)
	for _, job := range ledger.jobs {
		assert.Equal(t, importjob.StatusPending, job.Status)
	}
}

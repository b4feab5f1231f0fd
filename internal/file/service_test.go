package file_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filehub-dev/filehub/internal/audit"
	"github.com/filehub-dev/filehub/internal/db"
	"github.com/filehub-dev/filehub/internal/file"
	"github.com/filehub-dev/filehub/internal/storage"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", t.Name())
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	// one writer connection keeps the shared-cache memory DB free of
	// table-lock errors under concurrent tests
	dbh.SetMaxOpenConns(1)
	t.Cleanup(func() { dbh.Close() })
	return dbh
}

func newTestService(t *testing.T, maxBytes int64) (*file.Service, *file.SQLStore) {
	t.Helper()
	dbh := newTestDB(t)

	bs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	store := file.NewSQLStore(dbh, "sqlite")
	return file.NewService(store, bs, audit.NewEventRepo(dbh), maxBytes), store
}

func TestUploadDedupAcrossNames(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()
	content := bytes.Repeat([]byte("x"), 512)

	a, err := svc.Upload(ctx, "report.pdf", "application/pdf", bytes.NewReader(content))
	require.NoError(t, err)
	b, err := svc.Upload(ctx, "report_copy.pdf", "application/pdf", bytes.NewReader(content))
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, a.Digest, b.Digest)
	require.EqualValues(t, 512, a.Size)
	require.Equal(t, "pdf", b.Extension)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, st.LogicalFileCount)
	require.EqualValues(t, 1, st.PhysicalFileCount)
	require.EqualValues(t, 1024, st.TotalLogicalSizeBytes)
	require.EqualValues(t, 512, st.TotalPhysicalSizeBytes)
	require.EqualValues(t, 512, st.StorageSavingsBytes)
}

func TestStatsScenario(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()
	content := bytes.Repeat([]byte("p"), 500*1024)

	first, err := svc.Upload(ctx, "report.pdf", "application/pdf", bytes.NewReader(content))
	require.NoError(t, err)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, st.LogicalFileCount)
	require.EqualValues(t, 1, st.PhysicalFileCount)
	require.EqualValues(t, 0, st.StorageSavingsBytes)

	_, err = svc.Upload(ctx, "report_copy.pdf", "application/pdf", bytes.NewReader(content))
	require.NoError(t, err)

	st, err = svc.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, st.LogicalFileCount)
	require.EqualValues(t, 1, st.PhysicalFileCount)
	require.EqualValues(t, 500*1024, st.StorageSavingsBytes)

	require.NoError(t, svc.Delete(ctx, first.ID))

	st, err = svc.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, st.LogicalFileCount)
	require.EqualValues(t, 1, st.PhysicalFileCount)
	require.EqualValues(t, 0, st.StorageSavingsBytes)
	require.GreaterOrEqual(t, st.StorageSavingsBytes, int64(0))
}

func TestDeleteFreesBlobAtZeroRefs(t *testing.T) {
	svc, store := newTestService(t, 0)
	ctx := context.Background()

	a, err := svc.Upload(ctx, "a.txt", "text/plain", strings.NewReader("shared"))
	require.NoError(t, err)
	b, err := svc.Upload(ctx, "b.txt", "text/plain", strings.NewReader("shared"))
	require.NoError(t, err)

	blob, err := store.FindBlob(ctx, a.Digest)
	require.NoError(t, err)
	require.EqualValues(t, 2, blob.RefCount)

	require.NoError(t, svc.Delete(ctx, a.ID))
	blob, err = store.FindBlob(ctx, a.Digest)
	require.NoError(t, err)
	require.EqualValues(t, 1, blob.RefCount)

	// the survivor still downloads
	_, rc, err := svc.Open(ctx, b.ID)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	require.Equal(t, "shared", string(got))

	require.NoError(t, svc.Delete(ctx, b.ID))
	_, err = store.FindBlob(ctx, a.Digest)
	require.ErrorIs(t, err, file.ErrBlobNotFound)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, st.LogicalFileCount)
	require.EqualValues(t, 0, st.PhysicalFileCount)
}

func TestDeleteUnknownID(t *testing.T) {
	svc, _ := newTestService(t, 0)
	err := svc.Delete(context.Background(), "no-such-id")
	require.ErrorIs(t, err, file.ErrNotFound)
}

func TestZeroByteUploadDedups(t *testing.T) {
	svc, store := newTestService(t, 0)
	ctx := context.Background()

	a, err := svc.Upload(ctx, "empty1.txt", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	require.EqualValues(t, 0, a.Size)

	b, err := svc.Upload(ctx, "empty2.log", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, a.Digest, b.Digest)

	blob, err := store.FindBlob(ctx, a.Digest)
	require.NoError(t, err)
	require.EqualValues(t, 2, blob.RefCount)
}

func TestUploadOverCap(t *testing.T) {
	svc, _ := newTestService(t, 8)
	_, err := svc.Upload(context.Background(), "big.bin", "application/octet-stream",
		strings.NewReader("way more than eight bytes"))
	var ve *file.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "file", ve.Field)

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, st.LogicalFileCount)
	require.EqualValues(t, 0, st.PhysicalFileCount)
}

// failingBlobStore rejects a number of Puts before delegating.
type failingBlobStore struct {
	storage.BlobStore
	failures int
}

func (f *failingBlobStore) Put(key string, r io.Reader) (int64, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("disk full")
	}
	return f.BlobStore.Put(key, r)
}

func TestFailedByteWritePersistsNothing(t *testing.T) {
	ctx := context.Background()
	dbh := newTestDB(t)
	fs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	flaky := &failingBlobStore{BlobStore: fs, failures: 1}
	store := file.NewSQLStore(dbh, "sqlite")
	svc := file.NewService(store, flaky, nil, 0)

	_, err = svc.Upload(ctx, "a.txt", "text/plain", strings.NewReader("payload"))
	require.Error(t, err)

	// the write happens before any row is created, so a failure leaves
	// neither a blob row nor a logical record behind
	digest, _, err := file.Digest(strings.NewReader("payload"), 0)
	require.NoError(t, err)
	_, err = store.FindBlob(ctx, digest)
	require.ErrorIs(t, err, file.ErrBlobNotFound)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, st.LogicalFileCount)
	require.EqualValues(t, 0, st.PhysicalFileCount)

	// the same content uploads cleanly on retry
	rec, err := svc.Upload(ctx, "a.txt", "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	_, rc, err := svc.Open(ctx, rec.ID)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	require.Equal(t, "payload", string(got))
}

func TestDedupHitAfterBlobFreedRewritesBytes(t *testing.T) {
	svc, store := newTestService(t, 0)
	ctx := context.Background()

	a, err := svc.Upload(ctx, "one.txt", "text/plain", strings.NewReader("recycled"))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, a.ID))
	_, err = store.FindBlob(ctx, a.Digest)
	require.ErrorIs(t, err, file.ErrBlobNotFound)

	// same content again after its blob was fully released: the bytes
	// must come back with the new reference
	b, err := svc.Upload(ctx, "two.txt", "text/plain", strings.NewReader("recycled"))
	require.NoError(t, err)
	require.Equal(t, a.Digest, b.Digest)

	_, rc, err := svc.Open(ctx, b.ID)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	require.Equal(t, "recycled", string(got))
}

func TestConcurrentIdenticalUploads(t *testing.T) {
	svc, store := newTestService(t, 0)
	ctx := context.Background()
	content := []byte("concurrently uploaded payload")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	files := make([]file.File, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			files[i], errs[i] = svc.Upload(ctx, fmt.Sprintf("copy-%d.bin", i),
				"application/octet-stream", bytes.NewReader(content))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	blob, err := store.FindBlob(ctx, files[0].Digest)
	require.NoError(t, err)
	require.EqualValues(t, n, blob.RefCount)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, n, st.LogicalFileCount)
	require.EqualValues(t, 1, st.PhysicalFileCount)
}

package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filehub-dev/filehub/internal/audit"
	"github.com/filehub-dev/filehub/internal/storage"
)

// Service is the dedup coordinator: it hashes incoming content, reuses an
// existing blob when the digest is known, persists the bytes otherwise, and
// always creates a fresh logical record.
type Service struct {
	store    Store
	blobs    storage.BlobStore
	events   *audit.EventRepo // optional
	maxBytes int64

	// striped per-digest locks serialize create/increment against
	// decrement-to-zero byte deletion within this process; cross-process
	// safety comes from the digest primary key (see SQLStore.AddRef).
	locks [64]sync.Mutex
}

func NewService(store Store, blobs storage.BlobStore, events *audit.EventRepo, maxBytes int64) *Service {
	return &Service{store: store, blobs: blobs, events: events, maxBytes: maxBytes}
}

func (s *Service) lock(digest string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = io.WriteString(h, digest)
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// Upload spools r to a temp file while hashing, then links or creates the
// blob and records the upload. Declared name and content type never affect
// the digest; the recorded size is the counted byte length.
func (s *Service) Upload(ctx context.Context, name, contentType string, r io.Reader) (File, error) {
	tmp, err := os.CreateTemp("", "filehub-upload-*")
	if err != nil {
		return File{}, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	h := NewHasher()
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		return File{}, err
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return File{}, &ValidationError{
			Field: "file",
			Msg:   fmt.Sprintf("file exceeds maximum upload size of %d bytes", s.maxBytes),
		}
	}
	digest := HexDigest(h)
	key := storage.Key(digest)
	blob := Blob{Digest: digest, Size: n, StorageKey: key}

	writeBytes := func() error {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := s.blobs.Put(key, tmp)
		return err
	}

	mu := s.lock(digest)
	mu.Lock()
	_, findErr := s.store.FindBlob(ctx, digest)
	isNew := errors.Is(findErr, ErrBlobNotFound)
	if findErr != nil && !isNew {
		mu.Unlock()
		return File{}, findErr
	}
	if isNew {
		// bytes land on disk before any row can reference them; the write
		// is idempotent under the content-addressed key, so a concurrent
		// duplicate writing the same key is harmless
		if err := writeBytes(); err != nil {
			mu.Unlock()
			return File{}, err
		}
	}
	refs, err := s.store.AddRef(ctx, blob)
	if err != nil {
		if isNew {
			_ = s.blobs.Delete(key)
		}
		mu.Unlock()
		return File{}, err
	}
	if refs == 1 && !isNew {
		// the row vanished between lookup and upsert (last reference was
		// just released); we own the blob again, so re-persist the bytes
		if err := writeBytes(); err != nil {
			s.rollbackRef(ctx, digest)
			mu.Unlock()
			return File{}, err
		}
	}
	mu.Unlock()

	f := File{
		ID:           uuid.NewString(),
		OriginalName: name,
		Size:         n,
		ContentType:  contentType,
		Extension:    Ext(name),
		Digest:       digest,
		UploadedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := s.store.PutFile(ctx, f); err != nil {
		// undo the reference so a failed insert leaves no orphaned count
		s.release(ctx, digest)
		return File{}, err
	}

	s.emit(ctx, "file.uploaded", f.ID, map[string]any{
		"name": f.OriginalName, "digest": digest, "size": n, "dedup": refs > 1,
	})
	return f, nil
}

// Delete removes the record and releases its blob reference; the bytes are
// unlinked once nothing references them.
func (s *Service) Delete(ctx context.Context, id string) error {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		return err
	}

	mu := s.lock(f.Digest)
	mu.Lock()
	remaining, key, err := s.store.DeleteFile(ctx, id)
	if err == nil && remaining <= 0 && key != "" {
		if derr := s.blobs.Delete(key); derr != nil {
			log.Printf("blob unlink %s: %v", key, derr)
		}
	}
	mu.Unlock()
	if err != nil {
		return err
	}

	s.emit(ctx, "file.deleted", id, map[string]any{
		"name": f.OriginalName, "digest": f.Digest, "remaining_refs": remaining,
	})
	return nil
}

// Open returns the record and a reader over its blob bytes.
func (s *Service) Open(ctx context.Context, id string) (File, io.ReadCloser, error) {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		return File{}, nil, err
	}
	rc, err := s.blobs.Get(storage.Key(f.Digest))
	if err != nil {
		return File{}, nil, err
	}
	return f, rc, nil
}

func (s *Service) List(ctx context.Context, opts ListOpts) ([]File, error) {
	return s.store.ListFiles(ctx, opts)
}

func (s *Service) Stats(ctx context.Context) (StorageStats, error) {
	return s.store.Stats(ctx)
}

// rollbackRef undoes an AddRef whose byte write failed. Caller holds the
// digest lock, so no new reference can slip in between.
func (s *Service) rollbackRef(ctx context.Context, digest string) {
	if _, _, err := s.store.ReleaseRef(ctx, digest); err != nil {
		log.Printf("release ref %s: %v", digest, err)
	}
}

func (s *Service) release(ctx context.Context, digest string) {
	mu := s.lock(digest)
	mu.Lock()
	defer mu.Unlock()
	remaining, key, err := s.store.ReleaseRef(ctx, digest)
	if err != nil {
		log.Printf("release ref %s: %v", digest, err)
		return
	}
	if remaining <= 0 && key != "" {
		if err := s.blobs.Delete(key); err != nil {
			log.Printf("blob unlink %s: %v", key, err)
		}
	}
}

// emit appends an audit event, best effort.
func (s *Service) emit(ctx context.Context, typ, key string, data map[string]any) {
	if s.events == nil {
		return
	}
	buf, _ := json.Marshal(data)
	if err := s.events.Append(ctx, audit.Event{Type: typ, Key: key, DataJSON: string(buf)}); err != nil {
		log.Printf("audit append %s: %v", typ, err)
	}
}

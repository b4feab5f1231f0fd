package file

import (
	"context"
	"time"
)

// ListOpts are optional, AND-composed filters for listing files. Zero/nil
// values impose no constraint.
type ListOpts struct {
	NameContains string     // case-insensitive substring of original_name
	Extension    string     // case-insensitive exact match, leading dot ignored
	ContentType  string     // case-insensitive exact match
	MinSize      *int64     // inclusive, bytes
	MaxSize      *int64     // inclusive, bytes
	StartDate    *time.Time // inclusive, UTC day granularity
	EndDate      *time.Time // inclusive, UTC day granularity
	Limit        int
	Offset       int
}

type Store interface {
	// FindBlob looks a blob up by digest; ErrBlobNotFound when absent.
	FindBlob(ctx context.Context, digest string) (Blob, error)

	// AddRef inserts the blob with ref_count 1, or bumps the count when a
	// row for the digest already exists, as a single atomic upsert. The
	// returned count is the post-increment value: 1 means the row is new
	// and the caller owns persisting the bytes.
	AddRef(ctx context.Context, b Blob) (int64, error)

	// ReleaseRef decrements the digest's refcount and drops the blob row
	// once it reaches 0, reporting the storage key so callers can unlink
	// the bytes. Unknown digests are a no-op (remaining 0, empty key).
	ReleaseRef(ctx context.Context, digest string) (remaining int64, storageKey string, err error)

	PutFile(ctx context.Context, f File) error
	GetFile(ctx context.Context, id string) (File, error)

	// DeleteFile removes the record and releases its blob reference in one
	// transaction. remaining is the blob's post-decrement refcount; at 0
	// the blob row is gone and the caller must unlink storageKey.
	DeleteFile(ctx context.Context, id string) (remaining int64, storageKey string, err error)

	ListFiles(ctx context.Context, opts ListOpts) ([]File, error)
	Stats(ctx context.Context) (StorageStats, error)
}

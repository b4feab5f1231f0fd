package storage

import "io"

// BlobStore persists raw blob bytes under content-derived keys. Callers are
// responsible for key uniqueness; Put must be atomic so a crash mid-write
// never leaves a partial blob at the final key.
type BlobStore interface {
	Put(key string, r io.Reader) (int64, error) // returns bytes written
	Get(key string) (io.ReadCloser, error)
	Delete(key string) error
	SignedURL(key string) (string, error) // fs returns "file://..." for dev
}

// Key fans a hex digest out into a two-level directory layout
// (blobs/ab/cd/abcd...) so no single directory grows unbounded.
func Key(digest string) string {
	if len(digest) < 4 {
		return "blobs/" + digest
	}
	return "blobs/" + digest[0:2] + "/" + digest[2:4] + "/" + digest
}

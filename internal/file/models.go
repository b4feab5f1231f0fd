package file

import (
	"path/filepath"
	"strings"
	"time"
)

// Blob is one physically stored copy of unique byte content, keyed by its
// digest. RefCount equals the number of File records pointing at it; the
// bytes live under StorageKey and are removed when the count reaches zero.
type Blob struct {
	Digest     string `json:"digest"`
	Size       int64  `json:"size"`
	StorageKey string `json:"storage_key"`
	RefCount   int64  `json:"ref_count"`
	CreatedAt  int64  `json:"created_at,omitempty"`
}

// File is one user-visible upload record. It shares its blob with any other
// record whose content hashed to the same digest; Size is the blob's byte
// size, not whatever length the client declared.
type File struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	FileURL      string    `json:"file_url"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	Extension    string    `json:"extension"`
	Digest       string    `json:"-"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

type StorageStats struct {
	LogicalFileCount       int64 `json:"logical_file_count"`
	PhysicalFileCount      int64 `json:"physical_file_count"`
	TotalLogicalSizeBytes  int64 `json:"total_logical_size_bytes"`
	TotalPhysicalSizeBytes int64 `json:"total_physical_size_bytes"`
	StorageSavingsBytes    int64 `json:"storage_savings_bytes"`
}

// Ext derives the extension from the user-supplied name: lowercase, no dot.
// "Report.PDF" -> "pdf", "Makefile" -> "".
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

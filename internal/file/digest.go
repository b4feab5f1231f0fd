package file

import (
	"encoding/hex"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
)

// NewHasher returns the content hasher used for dedup keys (BLAKE2b-256).
// The digest depends only on the bytes, never on name or declared type.
func NewHasher() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only possible with a key larger than the block size
		panic(err)
	}
	return h
}

// HexDigest finalizes h into the lowercase hex form used as blob key.
func HexDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Digest consumes r fully and returns its content digest and byte count.
// max > 0 enforces a size cap: exceeding it returns ErrTooLarge. A short or
// failed read returns the underlying error and an empty digest.
func Digest(r io.Reader, max int64) (string, int64, error) {
	h := NewHasher()
	src := r
	if max > 0 {
		src = io.LimitReader(r, max+1)
	}
	n, err := io.Copy(h, src)
	if err != nil {
		return "", 0, err
	}
	if max > 0 && n > max {
		return "", 0, ErrTooLarge
	}
	return HexDigest(h), n, nil
}

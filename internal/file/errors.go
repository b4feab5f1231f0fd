package file

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no logical file record exists for an id.
	ErrNotFound = errors.New("file not found")
	// ErrBlobNotFound is returned when no blob row exists for a digest.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrTooLarge is returned when an upload exceeds the configured byte cap.
	ErrTooLarge = errors.New("file exceeds maximum upload size")
)

// ValidationError reports a rejected request value for a named field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

package drive

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the remote file or folder does not exist.
	ErrNotFound = errors.New("remote resource not found")

	// ErrNotMutable is returned when the remote rejects an edit because the
	// file cannot be modified.
	ErrNotMutable = errors.New("remote file not mutable")
)

// StatusError carries the HTTP status the remote service answered with, so
// the caller can relay it.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote service responded %d: %s", e.Code, e.Message)
}

// StatusCode extracts the remote status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

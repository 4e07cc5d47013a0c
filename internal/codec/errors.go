package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat means no registered codec recognizes the input
	// or handles the requested format.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrCorrupted means the format was recognized but the content is
	// structurally invalid.
	ErrCorrupted         = errors.New("corrupted document")
	ErrPasswordRequired  = errors.New("password required")
	ErrWrongPassword     = errors.New("wrong password")
	ErrCanceled          = errors.New("operation canceled")
	ErrOptionsMismatch   = errors.New("save options do not match format")
)

// FormatError carries the format and direction of a failed decode or
// encode.
type FormatError struct {
	Format Format
	Op     string // "decode" or "encode"
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Format, e.Op, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Corruptf returns an error wrapping ErrCorrupted.
func Corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupted, fmt.Sprintf(format, args...))
}

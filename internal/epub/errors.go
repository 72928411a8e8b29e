package epub

import (
	"errors"
	"fmt"
)

// ErrResourceNotFound is returned by ResolveResource when the referenced
// file does not exist in the archive. Callers treat this as non-fatal.
var ErrResourceNotFound = errors.New("epub: resource not found in archive")

// ErrSectionNotFound is returned when a section id is not in the spine.
var ErrSectionNotFound = errors.New("epub: section not found")

// ParseError means the container cannot be opened at all, or yielded no
// usable sections after best-effort parsing. It is fatal for the current
// load; no partial document is exposed.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("epub: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("epub: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Package axonerr defines the error kinds used across the blob store and
// the operations for wrapping and classifying them.
package axonerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested digest is not present in the
	// size-index. Surfaced to HTTP callers as 404.
	ErrNotFound = errors.New("no such blob")

	// ErrLimitExceeded signals that max:bytes or max:count would be crossed
	// by completing the save.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrBadDigest signals that a digest argument was not exactly 32 bytes
	// (64 hex characters).
	ErrBadDigest = errors.New("bad digest")

	// ErrBadRequest signals a malformed request body or schema violation.
	ErrBadRequest = errors.New("bad request")

	// ErrUnauthorized signals that the permission oracle denied the
	// requested operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAborted signals that an operation was cancelled mid-stream.
	ErrAborted = errors.New("aborted")

	// ErrInternal signals storage corruption or an unexpected I/O failure.
	ErrInternal = errors.New("internal error")
)

// Newf wraps the base error and a formatted error created by fmt.Errorf,
// returns the error joined.
func Newf(base error, format string, args ...any) error {
	return errors.Join(base, fmt.Errorf(format, args...))
}

// NewE wraps the base error and the input error, returns the error joined.
func NewE(base error, err error) error {
	if err == nil || errors.Is(err, base) {
		return err
	}
	return errors.Join(base, err)
}

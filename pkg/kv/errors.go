package kv

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Reason tags reported to clients as "ERROR <reason>".
const (
	ReasonInvalidKey   = "invalid key"
	ReasonOpenFailed   = "open failed"
	ReasonWriteFailed  = "write failed"
	ReasonReadFailed   = "read failed"
	ReasonDeleteFailed = "delete failed"
	ReasonClosed       = "store closed"
	ReasonInternal     = "internal error"
)

var (
	// ErrInvalidKey is returned when a key cannot be mapped onto the backing medium.
	ErrInvalidKey = errors.New("invalid key")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// StorageError describes a failed store operation.
type StorageError struct {
	Op     string // "put", "get" or "delete"
	Key    string
	Reason string
	Err    error
}

// NewStorageError wraps err with the operation context. The underlying error
// keeps its stack trace.
func NewStorageError(op, key, reason string, err error) *StorageError {
	return &StorageError{
		Op:     op,
		Key:    key,
		Reason: reason,
		Err:    errors.WithStack(err),
	}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Key, e.Reason, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ReasonOf returns the client-facing reason tag carried by err.
func ReasonOf(err error) string {
	var se *StorageError
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	switch {
	case errors.Is(err, ErrInvalidKey):
		return ReasonInvalidKey
	case errors.Is(err, ErrClosed):
		return ReasonClosed
	}
	return ReasonInternal
}

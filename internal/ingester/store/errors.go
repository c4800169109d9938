// Package store persists patches and discussions in Redis, encoding the
// secondary access patterns (by submitter, series, status, thread, author,
// patch) as sorted-set indexes that are recomputed on every upsert.
package store

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by point reads for a missing key. Non-fatal; the
// caller decides what a miss means.
type ErrNotFound struct {
	Type  string
	Value string
}

func (err *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q does not exist", err.Type, err.Value)
}

// ErrMaxRetriesExceeded is returned once a transient store error has been
// retried up to the configured budget.
type ErrMaxRetriesExceeded struct {
	Message   string
	LastError error
}

func (err *ErrMaxRetriesExceeded) Error() string {
	if err.LastError != nil {
		return fmt.Sprintf("%s: %v", err.Message, err.LastError)
	}
	return err.Message
}

func (err *ErrMaxRetriesExceeded) Unwrap() error {
	return err.LastError
}

func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

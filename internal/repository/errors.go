package repository

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrConflict means the record changed since the copy was fetched.
	// Recover by calling FindMutable again and redoing the change.
	ErrConflict = fmt.Errorf("record was modified concurrently: %w", errdefs.ErrConflict)

	// ErrInvalidState means a mutable copy was misused: saved twice, saved after a
	// conflict, or handed to a repository that did not create it.
	ErrInvalidState = fmt.Errorf("invalid use of mutable copy: %w", errdefs.ErrFailedPrecondition)
)

// DataAccessError reports a Store failure (unreachable, malformed data, I/O).
// It matches both the underlying cause and errdefs.ErrUnavailable.
type DataAccessError struct {
	Op  string
	Key string
	Err error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("data access failed: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *DataAccessError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrUnavailable}
}

// IsConflict reports whether err is an optimistic-lock conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errdefs.IsConflict(err)
}

// IsDataAccess reports whether err is a Store failure.
func IsDataAccess(err error) bool {
	var dae *DataAccessError
	return errors.As(err, &dae)
}

// IsInvalidState reports whether err signals misuse of a mutable copy.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func dataAccess(op string, key any, err error) error {
	var dae *DataAccessError
	if errors.As(err, &dae) {
		return err
	}
	return &DataAccessError{Op: op, Key: fmt.Sprint(key), Err: err}
}

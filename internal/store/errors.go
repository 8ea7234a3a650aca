package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when no template exists for a user ID.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when enrollment would overwrite a live template.
	ErrUserExists = errors.New("user already enrolled")
)

// StorageError wraps permission and disk failures. It is fatal for the
// current operation but never corrupts other users' records.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Package core holds primitives shared by the storage subsystems:
// sentinel errors and the typed storage error wrapper.
package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotInitialized = errors.New("store not initialized")
	ErrClosed         = errors.New("store closed")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// StorageError wraps a failure in the persistence layer with the
// operation and backing path that produced it.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s [path=%s]: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(op, path string, err error) *StorageError {
	return &StorageError{Op: op, Path: path, Err: err}
}

package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidEmbeddingLength  = errors.New("invalid embedding length")
	ErrInvalidAnnotationTarget = errors.New("annotation needs a finding id or a file path")
	ErrInvalidFinding          = errors.New("invalid finding")
	// ErrDuplicateKeyRace is logged when an upsert collides with a row that
	// appeared after its lookup. It is never returned to callers.
	ErrDuplicateKeyRace = errors.New("duplicate key race")
)

// StorageError wraps a failure of the underlying database or disk.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by helpers addressing an entity that does not exist.
var ErrNotFound = errors.New("not found")

// StorageError reports a failed durable read or write. The cache is left at
// its last known good value whenever a StorageError is returned.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ImportError rejects an imported document. The current state is untouched.
type ImportError struct {
	Reason string
	Err    error
}

func (e *ImportError) Error() string {
	if e.Err == nil {
		return "import rejected: " + e.Reason
	}
	return fmt.Sprintf("import rejected: %s: %v", e.Reason, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

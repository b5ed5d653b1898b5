// Package storage provides the durable media an envelope can be persisted to.
// A Medium stores opaque bytes under a key and knows nothing about envelopes.
package storage

//go:generate mockgen -source=medium.go -destination=../mocks/storage/mock_medium.go -package=mock_storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Remove when there is nothing to remove.
	ErrNotFound = errors.New("storage: key not found")
	// ErrQuotaExceeded is returned when a write would exceed the medium's capacity.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// Medium is a durable key/value store. Get reports a missing key with
// found == false and a nil error.
type Medium interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryMedium keeps values in process memory. It is the default medium for
// tests and for the memory backend.
type MemoryMedium struct {
	mu    sync.RWMutex
	data  map[string][]byte
	quota int
}

type MemoryOption func(*MemoryMedium)

// WithQuota limits the total number of bytes held. Zero means unlimited.
func WithQuota(bytes int) MemoryOption {
	return func(m *MemoryMedium) {
		m.quota = bytes
	}
}

func NewMemoryMedium(opts ...MemoryOption) *MemoryMedium {
	m := &MemoryMedium{data: make(map[string][]byte)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryMedium) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryMedium) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		used := len(value)
		for k, v := range m.data {
			if k != key {
				used += len(v)
			}
		}
		if used > m.quota {
			return fmt.Errorf("%w: %d bytes needed, %d available", ErrQuotaExceeded, used, m.quota)
		}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryMedium) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return ErrNotFound
	}
	delete(m.data, key)
	return nil
}

package store

import (
	"context"
	"sync"

	"github.com/heysubinoy/filekv/pkg/kv"
)

// MemStore is an in-memory implementation of the kv.Store interface.
// It uses a map protected by a RWMutex for thread-safe operations.
// Nothing survives a restart.
type MemStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// Compile-time check to ensure MemStore implements kv.Store.
var _ kv.Store = (*MemStore)(nil)

// NewMemStore creates and returns a new MemStore instance.
func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves a copy of the value stored under key.
func (s *MemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, kv.NewStorageError("get", key, kv.ReasonClosed, kv.ErrClosed)
	}
	val, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), val...), true, nil
}

// Put stores a copy of value under key.
func (s *MemStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.NewStorageError("put", key, kv.ReasonClosed, kv.ErrClosed)
	}
	s.data[key] = append([]byte{}, value...)
	return nil
}

// Delete removes a key from the store.
// Always returns nil on an open store, even if the key doesn't exist.
func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.NewStorageError("delete", key, kv.ReasonClosed, kv.ErrClosed)
	}
	delete(s.data, key)
	return nil
}

// Close drops the data. Later calls fail with kv.ErrClosed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	return nil
}

package kv

import "context"

// Store defines the interface for a persistent key-value store.
// Implementations of this interface can be swapped out,
// allowing for different storage backends (files, bolt, redis, in-memory).
type Store interface {
	// Put stores a key-value pair, replacing any previous value.
	// A concurrent Get never observes a partially written value.
	Put(ctx context.Context, key string, value []byte) error

	// Get retrieves the value associated with the given key.
	// Returns found=false and a nil error if the key does not exist.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Delete removes a key from the store.
	// Deleting a key that does not exist is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backing medium. The store is unusable afterwards.
	Close() error
}

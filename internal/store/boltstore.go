package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cockroachdb/errors"
	"github.com/heysubinoy/filekv/pkg/kv"
)

const boltFile = "filekv.db"

var recordsBucket = []byte("records")

// BoltStore keeps all records in a single bolt database file. Every
// operation runs in its own transaction.
type BoltStore struct {
	db *bolt.DB
}

// Compile-time check to ensure BoltStore implements kv.Store.
var _ kv.Store = (*BoltStore)(nil)

// NewBoltStore opens (or creates) <dir>/filekv.db.
func NewBoltStore(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}
	db, err := bolt.Open(filepath.Join(dir, boltFile), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt database")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create records bucket")
	}
	return &BoltStore{db: db}, nil
}

// Put stores value under key inside one write transaction.
func (s *BoltStore) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return kv.NewStorageError("put", key, kv.ReasonInvalidKey, kv.ErrInvalidKey)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		// bolt rejects nil values, an empty SET stores an empty slice.
		return tx.Bucket(recordsBucket).Put([]byte(key), append([]byte{}, value...))
	})
	if err != nil {
		return kv.NewStorageError("put", key, boltReason(err, kv.ReasonWriteFailed), err)
	}
	return nil
}

// Get copies the value out of the read transaction.
func (s *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, kv.NewStorageError("get", key, kv.ReasonInvalidKey, kv.ErrInvalidKey)
	}
	var (
		value []byte
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordsBucket).Get([]byte(key))
		if v != nil {
			found = true
			value = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, kv.NewStorageError("get", key, boltReason(err, kv.ReasonReadFailed), err)
	}
	return value, found, nil
}

// Delete removes key. bolt treats a missing key as a no-op.
func (s *BoltStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return kv.NewStorageError("delete", key, kv.ReasonInvalidKey, kv.ErrInvalidKey)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete([]byte(key))
	})
	if err != nil {
		return kv.NewStorageError("delete", key, boltReason(err, kv.ReasonDeleteFailed), err)
	}
	return nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func boltReason(err error, fallback string) string {
	switch {
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return kv.ReasonClosed
	case errors.Is(err, bolt.ErrKeyTooLarge), errors.Is(err, bolt.ErrKeyRequired):
		return kv.ReasonInvalidKey
	}
	return fallback
}

package store

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/heysubinoy/filekv/pkg/kv"
)

// KeyLockStore serializes mutations of the same key. Reads go straight to
// the wrapped store; backends only publish completed writes.
//
// A lock entry lives only while some mutation of its key holds or waits for
// it, so the table stays as small as the set of keys in flight.
type KeyLockStore struct {
	store kv.Store
	locks *haxmap.Map[string, *keyLock]
}

// keyLock is a table entry. refs counts holders and waiters; -1 marks an
// entry that is being removed and must not be reused.
type keyLock struct {
	mu   sync.Mutex
	refs atomic.Int32
}

// Compile-time check to ensure KeyLockStore implements kv.Store.
var _ kv.Store = (*KeyLockStore)(nil)

// NewKeyLockStore wraps store with a per-key mutation lock.
func NewKeyLockStore(store kv.Store) *KeyLockStore {
	return &KeyLockStore{
		store: store,
		locks: haxmap.New[string, *keyLock](),
	}
}

func (s *KeyLockStore) lock(key string) func() {
	for {
		l, _ := s.locks.GetOrCompute(key, func() *keyLock { return &keyLock{} })
		n := l.refs.Load()
		if n < 0 {
			// Retired entry still in the table; wait for its removal.
			runtime.Gosched()
			continue
		}
		if !l.refs.CompareAndSwap(n, n+1) {
			continue
		}
		l.mu.Lock()
		return func() { s.unlock(key, l) }
	}
}

func (s *KeyLockStore) unlock(key string, l *keyLock) {
	l.mu.Unlock()
	if l.refs.Add(-1) == 0 && l.refs.CompareAndSwap(0, -1) {
		s.locks.Del(key)
	}
}

// lockedKeys reports how many keys currently have a lock entry.
func (s *KeyLockStore) lockedKeys() int {
	return int(s.locks.Len())
}

// Put stores value under key while holding the key's lock.
func (s *KeyLockStore) Put(ctx context.Context, key string, value []byte) error {
	defer s.lock(key)()
	return s.store.Put(ctx, key, value)
}

// Get reads key from the wrapped store without locking.
func (s *KeyLockStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.store.Get(ctx, key)
}

// Delete removes key while holding the key's lock.
func (s *KeyLockStore) Delete(ctx context.Context, key string) error {
	defer s.lock(key)()
	return s.store.Delete(ctx, key)
}

// Close closes the wrapped store.
func (s *KeyLockStore) Close() error {
	return s.store.Close()
}

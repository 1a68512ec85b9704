package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/heysubinoy/filekv/pkg/kv"
)

// opMetrics holds counters for one store operation.
// Uses atomic operations for thread-safe updates without locks.
type opMetrics struct {
	count     atomic.Uint64
	errors    atomic.Uint64
	latencyNs atomic.Uint64 // cumulative
}

func (m *opMetrics) observe(start time.Time, err error) {
	m.count.Add(1)
	m.latencyNs.Add(uint64(time.Since(start).Nanoseconds()))
	if err != nil {
		m.errors.Add(1)
	}
}

func (m *opMetrics) snapshot() OpSnapshot {
	count := m.count.Load()
	snap := OpSnapshot{Count: count, Errors: m.errors.Load()}
	if count > 0 {
		snap.AvgLatency = time.Duration(m.latencyNs.Load() / count)
	}
	return snap
}

func (m *opMetrics) reset() {
	m.count.Store(0)
	m.errors.Store(0)
	m.latencyNs.Store(0)
}

// InstrumentedStore wraps any kv.Store implementation with timing metrics.
type InstrumentedStore struct {
	store kv.Store

	get, put, del opMetrics
	hits          atomic.Uint64
}

// Compile-time check to ensure InstrumentedStore implements kv.Store.
var _ kv.Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore wraps a store with instrumentation.
func NewInstrumentedStore(store kv.Store) *InstrumentedStore {
	return &InstrumentedStore{store: store}
}

// Get delegates to the wrapped store and records timing and hit rate.
func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, found, err := s.store.Get(ctx, key)
	s.get.observe(start, err)
	if found {
		s.hits.Add(1)
	}
	return value, found, err
}

// Put delegates to the wrapped store and records timing.
func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.store.Put(ctx, key, value)
	s.put.observe(start, err)
	return err
}

// Delete delegates to the wrapped store and records timing.
func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, key)
	s.del.observe(start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

// Snapshot returns a point-in-time view of the metrics.
func (s *InstrumentedStore) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Get:     s.get.snapshot(),
		Put:     s.put.snapshot(),
		Delete:  s.del.snapshot(),
		GetHits: s.hits.Load(),
	}
}

// ResetMetrics clears all metrics counters.
func (s *InstrumentedStore) ResetMetrics() {
	s.get.reset()
	s.put.reset()
	s.del.reset()
	s.hits.Store(0)
}

// OpSnapshot is a point-in-time view of one operation's metrics.
type OpSnapshot struct {
	Count      uint64
	Errors     uint64
	AvgLatency time.Duration
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	Get     OpSnapshot
	Put     OpSnapshot
	Delete  OpSnapshot
	GetHits uint64
}

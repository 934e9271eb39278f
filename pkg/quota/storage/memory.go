package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/quota"
)

// MemoryBackend implements quota.Store using in-memory storage.
// This is the default backend and provides fast access with no persistence.
// All data is lost when the process exits.
//
// MemoryBackend is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryBackend struct {
	// records maps composite key (namespace:key) to a private copy of the record.
	records map[string]*quota.Record

	// mu protects access to records.
	mu sync.RWMutex

	// maxEntries is the maximum number of records before eviction.
	maxEntries int

	closed bool
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxEntries is the maximum number of records to store.
	// The least recently written record is evicted when this limit is reached.
	// Default: 100,000
	MaxEntries int
}

// NewMemoryBackend creates a new in-memory storage backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a new in-memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}

	return &MemoryBackend{
		records:    make(map[string]*quota.Record),
		maxEntries: cfg.MaxEntries,
	}
}

// Load retrieves the record for a namespace and key.
func (m *MemoryBackend) Load(ctx context.Context, ns quota.Namespace, key string) (*quota.Record, error) {
	if err := checkKey(ns, key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errBackendClosed
	}

	return m.records[makeKey(ns, key)].Clone(), nil
}

// Save creates or overwrites a record.
func (m *MemoryBackend) Save(ctx context.Context, record *quota.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errBackendClosed
	}

	m.putLocked(record)
	return nil
}

// Update performs an atomic read-modify-write under the write lock.
func (m *MemoryBackend) Update(ctx context.Context, ns quota.Namespace, key string, fn quota.UpdateFunc) (*quota.Record, error) {
	if err := checkKey(ns, key); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errBackendClosed
	}

	current := m.records[makeKey(ns, key)]
	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current.Clone(), nil
	}

	if err := checkUpdated(next, ns, key); err != nil {
		return nil, err
	}
	m.putLocked(next)
	return next.Clone(), nil
}

// Delete removes a record.
func (m *MemoryBackend) Delete(ctx context.Context, ns quota.Namespace, key string) error {
	if err := checkKey(ns, key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errBackendClosed
	}

	delete(m.records, makeKey(ns, key))
	return nil
}

// List returns all records in a namespace.
func (m *MemoryBackend) List(ctx context.Context, ns quota.Namespace) ([]*quota.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errBackendClosed
	}

	var records []*quota.Record
	for _, record := range m.records {
		if record.Namespace == ns {
			records = append(records, record.Clone())
		}
	}
	return records, nil
}

// Cleanup removes records whose window started before the cutoff.
func (m *MemoryBackend) Cleanup(ctx context.Context, ns quota.Namespace, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errBackendClosed
	}

	deleted := 0
	for key, record := range m.records {
		if record.Namespace == ns && record.WindowStart.Before(before) {
			delete(m.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// Ping reports whether the backend is open.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return errBackendClosed
	}
	return nil
}

// Close marks the backend closed and drops all records.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = make(map[string]*quota.Record)
	return nil
}

// Size returns the current number of stored records.
// This is useful for monitoring and testing.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// putLocked stores a copy of record, evicting if at capacity.
// Caller must hold write lock.
func (m *MemoryBackend) putLocked(record *quota.Record) {
	key := makeKey(record.Namespace, record.Key)
	if _, exists := m.records[key]; !exists && len(m.records) >= m.maxEntries {
		m.evictOldestLocked()
	}
	m.records[key] = record.Clone()
}

// evictOldestLocked evicts the least recently written record.
// Caller must hold write lock.
func (m *MemoryBackend) evictOldestLocked() {
	var (
		oldestKey   string
		oldestTime  time.Time
		foundOldest bool
	)

	for key, record := range m.records {
		if !foundOldest || record.LastRequest.Before(oldestTime) {
			oldestKey = key
			oldestTime = record.LastRequest
			foundOldest = true
		}
	}

	if foundOldest {
		delete(m.records, oldestKey)
	}
}

// makeKey creates a composite key from namespace and identity key.
func makeKey(ns quota.Namespace, key string) string {
	return fmt.Sprintf("%s:%s", ns, key)
}

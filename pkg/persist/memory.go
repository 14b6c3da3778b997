package persist

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryOption configures the Memory store.
type MemoryOption func(*Memory)

// WithMemoryMaxSize bounds the total size of stored record data in bytes.
// The oldest records by StoredAt are evicted to make room. Zero or less
// means unbounded.
func WithMemoryMaxSize(n int64) MemoryOption {
	return func(m *Memory) {
		m.index.limit = n
	}
}

// Memory is a process-local Store. Records are copied on the way in and out.
// It keeps a StoredAt-ordered index so Sweep only touches expired records
// and eviction finds the oldest record first.
type Memory struct {
	items  map[string]Record
	index  *budget
	now    func() time.Time
	mu     sync.Mutex
	closed bool
}

// NewMemory creates an empty in-process store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		items: make(map[string]Record),
		index: newBudget(0),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a copy of the record stored under key.
func (m *Memory) Get(_ context.Context, key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Record{}, ErrClosed
	}

	rec, ok := m.items[key]
	if !ok {
		return Record{}, ErrNotFound
	}

	rec.Data = bytes.Clone(rec.Data)
	return rec, nil
}

// Set stores a copy of the record. A zero StoredAt is set to now.
// A record larger than the size budget is rejected with ErrTooLarge.
func (m *Memory) Set(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if !m.index.fits(rec.Size()) {
		return ErrTooLarge
	}

	if rec.StoredAt.IsZero() {
		rec.StoredAt = m.now()
	}
	rec.Data = bytes.Clone(rec.Data)

	for _, victim := range m.index.put(rec.Key, rec.Size(), rec.StoredAt) {
		delete(m.items, victim)
	}
	m.items[rec.Key] = rec

	return nil
}

// Delete removes a key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.index.remove(key)
	delete(m.items, key)
	return nil
}

// Clear removes all records.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.items = make(map[string]Record)
	m.index.reset()
	return nil
}

// Sweep removes records stored before now-maxAge, oldest first.
func (m *Memory) Sweep(_ context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	keys := m.index.olderThan(m.now().Add(-maxAge))
	for _, key := range keys {
		delete(m.items, key)
	}
	return len(keys), nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.len()
}

// Size returns the total size of stored record data in bytes.
func (m *Memory) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.size()
}

// Close marks the store as closed. Close is idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Store = (*Memory)(nil)

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Stats is a point-in-time view of the memory tier counters.
type Stats struct {
	Entries   int
	SizeBytes int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Memory is an in-memory cache with TTL and generation based invalidation
// and a size budget enforced by evicting the oldest entries first.
//
// Eviction order follows CreatedAt (insertion recency), not access recency:
// reads never reorder entries. The list is kept sorted by CreatedAt with the
// oldest entry at the front, so making room is a walk from the front.
type Memory[V any] struct {
	items     map[string]*list.Element
	order     *list.List
	opts      *memoryOptions
	gen       *Generation
	sizer     Sizer[V]
	onEvict   func(key string, value V)
	done      chan struct{}
	wg        sync.WaitGroup
	size      int64
	hits      uint64
	misses    uint64
	evictions uint64
	mu        sync.Mutex
	closed    bool
}

// NewMemory creates a new in-memory cache.
//
// Example:
//
//	c := cache.NewMemory[string](
//	    cache.WithDefaultTTL(5 * time.Minute),
//	    cache.WithMaxSize(64 << 20),
//	)
//	defer c.Close()
func NewMemory[V any](opts ...MemoryOption) *Memory[V] {
	o := defaultMemoryOptions()
	for _, opt := range opts {
		opt(o)
	}

	gen := o.generation
	if gen == nil {
		gen = NewGeneration()
	}

	m := &Memory[V]{
		items: make(map[string]*list.Element),
		order: list.New(),
		opts:  o,
		gen:   gen,
		sizer: JSONSizer[V](),
		done:  make(chan struct{}),
	}

	if o.cleanupInterval > 0 {
		m.wg.Add(1)
		go m.janitor()
	}

	return m
}

// SetEvictCallback sets a callback function that is called when entries
// leave the cache. This includes size eviction, invalid entry cleanup,
// manual deletion, and clearing. The callback runs with the cache locked
// and must not call back into the cache.
func (m *Memory[V]) SetEvictCallback(fn func(key string, value V)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

// SetSizer replaces the function used to size entries stored without
// an explicit size hint.
func (m *Memory[V]) SetSizer(fn Sizer[V]) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizer = fn
}

// Generation returns the generation counter the cache validates against.
func (m *Memory[V]) Generation() *Generation {
	return m.gen
}

// Get retrieves a value by key.
// Returns ErrNotFound if the key does not exist or the entry is invalid.
func (m *Memory[V]) Get(ctx context.Context, key string) (V, error) {
	e, err := m.GetEntry(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	return e.Value, nil
}

// GetEntry retrieves the entry stored under key with its bookkeeping.
// Invalid entries are deleted and reported as ErrNotFound.
func (m *Memory[V]) GetEntry(_ context.Context, key string) (Entry[V], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		m.misses++
		return Entry[V]{}, ErrNotFound
	}

	e := elem.Value.(*Entry[V])
	if !e.Valid(m.opts.now(), m.gen.Current()) {
		m.removeElement(elem)
		m.misses++
		return Entry[V]{}, ErrNotFound
	}

	m.hits++
	return *e, nil
}

// Set stores a value with the given TTL, sized by the configured Sizer.
// TTL semantics: positive = expires after duration, zero = use default TTL,
// negative = never expires by time.
func (m *Memory[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	return m.SetEntry(ctx, Entry[V]{Key: key, Value: value, TTL: ttl})
}

// SetSized stores a value with an explicit size hint in bytes.
func (m *Memory[V]) SetSized(ctx context.Context, key string, value V, ttl time.Duration, size int64) error {
	return m.SetEntry(ctx, Entry[V]{Key: key, Value: value, TTL: ttl, SizeBytes: size})
}

// SetEntry stores a fully described entry. Zero fields are filled in:
// CreatedAt defaults to now, TTL to the default TTL, Version to the current
// generation and SizeBytes to the Sizer estimate.
//
// If the entry alone exceeds the size budget it is rejected with
// ErrEntryTooLarge and the cache is left untouched.
func (m *Memory[V]) SetEntry(_ context.Context, e Entry[V]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.opts.now()
	}
	if e.TTL == 0 {
		e.TTL = m.opts.defaultTTL
	}
	if e.Version == 0 {
		e.Version = m.gen.Current()
	}
	if e.SizeBytes <= 0 {
		e.SizeBytes = max(m.sizer(e.Value), 1)
	}

	if m.opts.maxSize > 0 && e.SizeBytes > m.opts.maxSize {
		return ErrEntryTooLarge
	}

	// Replacing a key is not an eviction: detach the old entry silently.
	if elem, ok := m.items[e.Key]; ok {
		old := elem.Value.(*Entry[V])
		m.order.Remove(elem)
		delete(m.items, old.Key)
		m.size -= old.SizeBytes
	}

	m.makeRoom(e.SizeBytes)
	m.insertSorted(&e)

	return nil
}

// Delete removes a key from the cache. Deleting a missing key is not an error.
func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}

	return nil
}

// Has checks whether a key exists and is valid.
func (m *Memory[V]) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return false, nil
	}

	e := elem.Value.(*Entry[V])
	if !e.Valid(m.opts.now(), m.gen.Current()) {
		m.removeElement(elem)
		return false, nil
	}

	return true, nil
}

// Clear removes all entries from the cache.
func (m *Memory[V]) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if m.onEvict != nil {
		for _, elem := range m.items {
			e := elem.Value.(*Entry[V])
			m.onEvict(e.Key, e.Value)
		}
	}

	m.items = make(map[string]*list.Element)
	m.order.Init()
	m.size = 0

	return nil
}

// Len returns the number of stored entries, including not yet collected
// invalid ones.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Size returns the total size in bytes of stored entries.
func (m *Memory[V]) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Stats returns the current counters.
func (m *Memory[V]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Entries:   len(m.items),
		SizeBytes: m.size,
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
	}
}

// Close stops the background janitor goroutine and marks the cache as closed.
// Close is idempotent.
func (m *Memory[V]) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

// janitor periodically removes invalid entries.
func (m *Memory[V]) janitor() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.purgeInvalid()
			m.mu.Unlock()
		}
	}
}

// makeRoom evicts entries until an entry of the given size fits in both
// the size and count budgets. Invalid entries go first, then the oldest.
// Caller must hold the mutex.
func (m *Memory[V]) makeRoom(size int64) {
	if !m.overBudget(size) {
		return
	}

	m.purgeInvalid()

	for m.overBudget(size) {
		front := m.order.Front()
		if front == nil {
			return
		}
		m.removeElement(front)
		m.evictions++
	}
}

// overBudget reports whether inserting size bytes would break a limit.
// Caller must hold the mutex.
func (m *Memory[V]) overBudget(size int64) bool {
	if m.opts.maxSize > 0 && m.size+size > m.opts.maxSize {
		return true
	}
	return m.opts.maxEntries > 0 && len(m.items) >= m.opts.maxEntries
}

// purgeInvalid removes every expired or outdated entry.
// Caller must hold the mutex.
func (m *Memory[V]) purgeInvalid() {
	now := m.opts.now()
	version := m.gen.Current()
	for elem := m.order.Front(); elem != nil; {
		next := elem.Next()
		if e := elem.Value.(*Entry[V]); !e.Valid(now, version) {
			m.removeElement(elem)
		}
		elem = next
	}
}

// insertSorted places the entry so the list stays ordered by CreatedAt.
// New entries are almost always the newest, so the walk starts at the back.
// Caller must hold the mutex.
func (m *Memory[V]) insertSorted(e *Entry[V]) {
	var elem *list.Element
	mark := m.order.Back()
	for mark != nil && mark.Value.(*Entry[V]).CreatedAt.After(e.CreatedAt) {
		mark = mark.Prev()
	}
	if mark == nil {
		elem = m.order.PushFront(e)
	} else {
		elem = m.order.InsertAfter(e, mark)
	}
	m.items[e.Key] = elem
	m.size += e.SizeBytes
}

// removeElement removes a specific element and triggers the eviction callback.
// Caller must hold the mutex.
func (m *Memory[V]) removeElement(elem *list.Element) {
	m.order.Remove(elem)
	e := elem.Value.(*Entry[V])
	delete(m.items, e.Key)
	m.size -= e.SizeBytes

	if m.onEvict != nil {
		m.onEvict(e.Key, e.Value)
	}
}

package persist

import (
	"container/list"
	"time"
)

type budgetEntry struct {
	storedAt time.Time
	key      string
	size     int64
}

// budget tracks record sizes in StoredAt order and picks eviction victims,
// oldest first, so the total stays within limit. A limit of zero or less
// only tracks.
type budget struct {
	entries map[string]*list.Element
	order   *list.List
	total   int64
	limit   int64
}

func newBudget(limit int64) *budget {
	return &budget{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		limit:   limit,
	}
}

// fits reports whether a record of size can be stored at all.
func (b *budget) fits(size int64) bool {
	return b.limit <= 0 || size <= b.limit
}

// put records key and returns the keys evicted to make room for it.
// The caller must check fits first.
func (b *budget) put(key string, size int64, storedAt time.Time) []string {
	b.remove(key)

	var victims []string
	for b.limit > 0 && b.total+size > b.limit {
		front := b.order.Front()
		if front == nil {
			break
		}
		victims = append(victims, front.Value.(*budgetEntry).key)
		b.removeElement(front)
	}

	e := &budgetEntry{key: key, size: size, storedAt: storedAt}
	mark := b.order.Back()
	for mark != nil && mark.Value.(*budgetEntry).storedAt.After(storedAt) {
		mark = mark.Prev()
	}
	if mark == nil {
		b.entries[key] = b.order.PushFront(e)
	} else {
		b.entries[key] = b.order.InsertAfter(e, mark)
	}
	b.total += size

	return victims
}

func (b *budget) remove(key string) {
	if elem, ok := b.entries[key]; ok {
		b.removeElement(elem)
	}
}

// olderThan drops and returns the keys stored before cutoff.
func (b *budget) olderThan(cutoff time.Time) []string {
	var keys []string
	for elem := b.order.Front(); elem != nil; {
		e := elem.Value.(*budgetEntry)
		if !e.storedAt.Before(cutoff) {
			break
		}
		next := elem.Next()
		keys = append(keys, e.key)
		b.removeElement(elem)
		elem = next
	}
	return keys
}

func (b *budget) reset() {
	b.entries = make(map[string]*list.Element)
	b.order.Init()
	b.total = 0
}

func (b *budget) len() int {
	return len(b.entries)
}

func (b *budget) size() int64 {
	return b.total
}

func (b *budget) removeElement(elem *list.Element) {
	e := elem.Value.(*budgetEntry)
	b.order.Remove(elem)
	delete(b.entries, e.key)
	b.total -= e.size
}

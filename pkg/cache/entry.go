package cache

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"
)

// Entry is a snapshot of a cached value together with its bookkeeping.
//
// An entry is valid while now-CreatedAt <= TTL and Version matches the
// current generation. A negative TTL disables time-based expiry.
type Entry[V any] struct {
	CreatedAt time.Time
	Value     V
	Key       string
	TTL       time.Duration
	Version   uint64
	SizeBytes int64
}

// Expired reports whether the entry outlived its TTL at the given time.
func (e Entry[V]) Expired(now time.Time) bool {
	if e.TTL < 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > e.TTL
}

// Valid reports whether the entry is neither expired nor written under
// a stale generation.
func (e Entry[V]) Valid(now time.Time, version uint64) bool {
	return e.Version == version && !e.Expired(now)
}

// Age returns how long ago the entry was created.
func (e Entry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Generation is a monotonically increasing version counter.
// Bumping it invalidates every entry stamped with an older version
// without enumerating them.
type Generation struct {
	v atomic.Uint64
}

// NewGeneration returns a generation counter starting at 1.
func NewGeneration() *Generation {
	g := &Generation{}
	g.v.Store(1)
	return g
}

// Current returns the active version.
func (g *Generation) Current() uint64 {
	return g.v.Load()
}

// Bump advances the generation and returns the new version.
func (g *Generation) Bump() uint64 {
	return g.v.Add(1)
}

// Marshaler serializes and deserializes cache values for tiers that
// require a byte representation (persistent stores).
type Marshaler[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSONMarshaler returns the default JSON marshaler.
func JSONMarshaler[V any]() Marshaler[V] {
	return jsonMarshaler[V]{}
}

type jsonMarshaler[V any] struct{}

func (jsonMarshaler[V]) Marshal(v V) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrMarshal, err)
	}
	return data, nil
}

func (jsonMarshaler[V]) Unmarshal(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Join(ErrUnmarshal, err)
	}
	return v, nil
}

// Sizer estimates the size in bytes of a value.
type Sizer[V any] func(v V) int64

// JSONSizer sizes values by the length of their JSON encoding.
// Values that cannot be encoded count as one byte.
func JSONSizer[V any]() Sizer[V] {
	return func(v V) int64 {
		data, err := json.Marshal(v)
		if err != nil || len(data) == 0 {
			return 1
		}
		return int64(len(data))
	}
}
